package linklockr

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// NativeDecimals is the minor-unit exponent of the native chain currency
// (wei per ETH).
const NativeDecimals = 18

// TokenDecimals is the minor-unit exponent of the stable-value token used on
// the permit payment path (USDC).
const TokenDecimals = 6

// maxAmountBits bounds normalized amounts to the uint256 width the contract
// accepts.
const maxAmountBits = 256

// maxAmountDigits is the decimal-digit ceiling of a uint256
// (2^256 ≈ 1.16e77). Scale factors are bounded by it before any
// exponentiation; a hostile exponent must not allocate.
const maxAmountDigits = 78

// NormalizePrice converts a wire price into an exact integer minor-unit
// amount.
//
// Decimal-form prices (containing '.', 'e' or 'E') are whole-currency
// amounts scaled by 10^decimals. Everything else is treated as already in
// minor units. Conversion is exact: a price with more fractional digits than
// the minor unit can represent is rejected, never truncated, unless the
// excess digits are all zeros. Negative and >256-bit results are rejected.
func NormalizePrice(p Price, decimals int) (*big.Int, error) {
	raw := strings.TrimSpace(p.String())
	if raw == "" {
		return nil, NewRelayError(ErrCodeInvalidRequest, "price is empty", nil)
	}
	if strings.HasPrefix(raw, "-") {
		return nil, NewRelayError(ErrCodeInvalidRequest, "price must not be negative", nil)
	}
	raw = strings.TrimPrefix(raw, "+")

	var (
		n   *big.Int
		err error
	)
	if p.IsDecimalForm() {
		n, err = parseDecimal(raw, decimals)
	} else {
		n, err = parseMinorUnits(raw)
	}
	if err != nil {
		return nil, err
	}
	if n.BitLen() > maxAmountBits {
		return nil, NewRelayError(ErrCodeInvalidRequest, "price exceeds uint256", nil)
	}
	return n, nil
}

// parseMinorUnits parses an integer string already denominated in minor
// units.
func parseMinorUnits(raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid price: %q", raw), nil)
	}
	return n, nil
}

// parseDecimal parses a whole-currency decimal string, optionally in
// scientific notation, into minor units without going through floats.
func parseDecimal(raw string, decimals int) (*big.Int, error) {
	mantissa := raw
	exp := 0
	if i := strings.IndexAny(raw, "eE"); i >= 0 {
		var err error
		exp, err = strconv.Atoi(raw[i+1:])
		if err != nil {
			return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid price exponent: %q", raw), nil)
		}
		mantissa = raw[:i]
	}

	intPart := mantissa
	fracPart := ""
	if i := strings.Index(mantissa, "."); i >= 0 {
		intPart = mantissa[:i]
		fracPart = mantissa[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid price: %q", raw), nil)
	}
	digits := intPart + fracPart
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid price: %q", raw), nil)
		}
	}

	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid price: %q", raw), nil)
	}
	if n.Sign() == 0 {
		// Zero is zero at any scale; skip the shift entirely.
		return n, nil
	}

	// raw == digits * 10^(exp - len(fracPart)); scale into minor units.
	shift := decimals - len(fracPart) + exp
	if shift >= 0 {
		// Bound the scale factor before exponentiating: any result with
		// more decimal digits than a uint256 holds is over the cap, and a
		// hostile exponent would otherwise allocate 10^shift first.
		if len(strings.TrimLeft(digits, "0"))+shift > maxAmountDigits {
			return nil, NewRelayError(ErrCodeInvalidRequest, "price exceeds uint256", nil)
		}
		return n.Mul(n, pow10(shift)), nil
	}

	// More fractional digits than the minor unit resolves. Only exact if
	// the excess digits are zeros. A shift past the whole mantissa can
	// never divide evenly, so the divisor stays bounded by the input.
	if -shift > len(digits) {
		return nil, NewRelayError(ErrCodeInvalidRequest,
			fmt.Sprintf("price %q has more than %d decimal places", raw, decimals), nil)
	}
	div := pow10(-shift)
	q, r := new(big.Int).QuoRem(n, div, new(big.Int))
	if r.Sign() != 0 {
		return nil, NewRelayError(ErrCodeInvalidRequest,
			fmt.Sprintf("price %q has more than %d decimal places", raw, decimals), nil)
	}
	return q, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
