package chain

import (
	"errors"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// GasReserve is kept back from a contribution to pay for gas, 0.001 ETH
var GasReserve = big.NewInt(1_000_000_000_000_000)

// ValidAddress reports whether s is a 0x-prefixed 20 byte hex address
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Checksum returns the EIP-55 form of a valid address
func Checksum(s string) string {
	return common.HexToAddress(s).Hex()
}

// ParseEther converts a decimal ETH amount such as "0.25" to wei
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.New("invalid ETH amount")
	}
	if d.IsNegative() {
		return nil, errors.New("ETH amount must not be negative")
	}
	wei := d.Shift(18)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, errors.New("ETH amount has more than 18 decimals")
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal ETH string without trailing zeros
func FormatEther(wei *big.Int) string {
	return EtherDecimal(wei).String()
}

// EtherDecimal converts wei to an ETH decimal
func EtherDecimal(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// withGasBuffer adds 20% headroom to a gas estimate
func withGasBuffer(gas uint64) uint64 {
	return gas * 120 / 100
}
