package txbuilder

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"
)

var plainDecimal = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// ParseUnits converts a human decimal amount into base units for a token with
// the given precision. Only plain non-negative decimal notation is accepted and
// the conversion is exact: extra fractional digits are rejected, not rounded.
// Results that do not fit in a uint256 are rejected as well.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}
	if !plainDecimal.MatchString(s) {
		return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, amount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	base := scaled.BigInt()
	if !fitsUint256(base) {
		return nil, fmt.Errorf("%w: %q exceeds the largest token amount", ErrInvalidAmount, amount)
	}
	return base, nil
}

func fitsUint256(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(abi.MaxUint256) <= 0
}

// FormatUnits is the inverse of ParseUnits.
func FormatUnits(base *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(base, -int32(decimals)).String()
}
