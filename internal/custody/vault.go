// Package custody keeps the server-held wallets: key encryption at rest,
// wallet generation and lazy provisioning for users that have none.
package custody

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey means the vault key is not 32 bytes of hex
	ErrInvalidKey = errors.New("encryption key must be 64 hex characters")
	// ErrLegacyFormat is returned for ciphertexts without an IV prefix
	ErrLegacyFormat = errors.New("legacy encryption format is not supported")
	// ErrCorrupt covers malformed hex, bad block sizes and bad padding
	ErrCorrupt = errors.New("encrypted value is corrupt")
)

// Vault encrypts custodial private keys with AES-256-CBC.
// Ciphertexts are stored as hex(iv) + ":" + hex(ciphertext).
type Vault struct {
	key []byte
}

// NewVault builds a vault from a 64 character hex key
func NewVault(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return &Vault{key: key}, nil
}

// Encrypt seals plaintext under a fresh random IV
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt
func (v *Vault) Decrypt(encrypted string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", ErrLegacyFormat
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrCorrupt
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrCorrupt
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrCorrupt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrCorrupt
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrCorrupt
		}
	}
	return b[:len(b)-n], nil
}
