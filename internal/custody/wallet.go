package custody

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidPrivateKey means a decrypted key is not 0x followed by 64 hex chars
var ErrInvalidPrivateKey = errors.New("invalid private key format")

// Wallet is a newly generated custodial wallet
type Wallet struct {
	Address      string
	EncryptedKey string
}

// GenerateWallet creates a secp256k1 key pair and returns its address with the sealed key
func (v *Vault) GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	sealed, err := v.Encrypt(hexutil.Encode(crypto.FromECDSA(key)))
	if err != nil {
		return nil, err
	}
	return &Wallet{
		Address:      crypto.PubkeyToAddress(key.PublicKey).Hex(),
		EncryptedKey: sealed,
	}, nil
}

// PrivateKey decrypts a stored key and parses it
func (v *Vault) PrivateKey(encrypted string) (*ecdsa.PrivateKey, error) {
	plain, err := v.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	if !strings.HasPrefix(plain, "0x") || len(plain) != 66 {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(plain[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// Address returns the wallet address controlled by key
func Address(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}
