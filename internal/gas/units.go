// Package gas converts between wei, gwei and ether and prices ether in USD.
//
// Amounts on the wire arrive as decimal or 0x-hex strings of the smallest
// unit. Parsing is lenient: anything unparseable or negative reads as zero,
// which keeps risk scoring total on partial data.
package gas

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

var (
	weiPerEther = decimal.NewFromInt(params.Ether)
	weiPerGwei  = decimal.NewFromInt(params.GWei)
)

// Gwei returns n gwei expressed in wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}

// ParseETH converts a decimal ether amount (e.g. "1.5") to wei.
func ParseETH(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid ether amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid ether amount %q: negative", amount)
	}
	return d.Mul(weiPerEther).Truncate(0).BigInt(), nil
}

// ParseAmount reads a wei amount given as a decimal integer or a 0x-hex string.
// Leading decimal digits are honoured the way parseInt would ("12abc" is 12).
func ParseAmount(s string) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return new(big.Int)
		}
		return v
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return new(big.Int)
	}
	v, _ := new(big.Int).SetString(s[:end], 10)
	return v
}

// NonNegative returns v, or zero when v is nil or negative.
func NonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

// WeiToETH converts wei to an ether decimal.
func WeiToETH(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEther)
}

// WeiToGwei converts wei to whole gwei, truncating.
func WeiToGwei(wei *big.Int) int64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerGwei).IntPart()
}

// FormatETH renders wei as ether with a fixed number of decimal places.
func FormatETH(wei *big.Int, places int32) string {
	return WeiToETH(wei).StringFixed(places)
}
