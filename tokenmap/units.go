package tokenmap

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ToBaseUnits converts a human readable decimal string to its smallest unit,
// ToBaseUnits("12.345", 6) == "12345000". More fractional digits than
// decimals is an error, nothing is rounded.
func ToBaseUnits(amount string, decimals uint8) (string, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, hasDot := strings.Cut(amount, ".")
	if hasDot && frac == "" {
		return "", fmt.Errorf("%w: %q has a trailing dot", ErrInvalidAmount, amount)
	}
	if whole == "" {
		whole = "0"
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return "", fmt.Errorf("%w: %q is not an unsigned decimal", ErrInvalidAmount, amount)
	}
	if len(frac) > int(decimals) {
		return "", fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, amount, decimals)
	}

	frac += strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return v.String(), nil
}

// FromBaseUnits is the inverse of ToBaseUnits, trailing fractional zeros are dropped
func FromBaseUnits(base string, decimals uint8) (string, error) {
	base = strings.TrimSpace(base)
	if !digitsOnly(base) || base == "" {
		return "", fmt.Errorf("%w: %q is not an unsigned integer", ErrInvalidAmount, base)
	}
	v, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, base)
	}

	s := v.String()
	if decimals == 0 {
		return s, nil
	}
	if len(s) <= int(decimals) {
		s = strings.Repeat("0", int(decimals)-len(s)+1) + s
	}
	cut := len(s) - int(decimals)
	whole, frac := s[:cut], strings.TrimRight(s[cut:], "0")
	if frac == "" {
		return whole, nil
	}
	return whole + "." + frac, nil
}

// BaseUnits parses the result of ToBaseUnits into a big.Int
func BaseUnits(amount string, decimals uint8) (*big.Int, error) {
	s, err := ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	v, _ := new(big.Int).SetString(s, 10)
	return v, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
