/*
This file contains common utility functions for converting between SDK math types, strings
and floats, used wherever amounts cross a text boundary (Postgres, YAML, HTTP, metrics).
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrOutOfRange       = errors.New("value is out of range")
)

// IntToFloat64 converts an SDK Int to float64, scaling it down by 10^precision.
func IntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	factor := sdkmath.NewIntWithDecimal(1, precision)
	resultFloat, err := sdkmath.LegacyNewDecFromInt(amount).QuoInt(factor).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}
	return resultFloat, nil
}

// ParseInt parses a base-10 integer amount. Empty input is an error.
func ParseInt(s string) (sdkmath.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sdkmath.Int{}, ErrAmountNil
	}
	amount, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %q is not an integer", ErrConversionFailed, s)
	}
	return amount, nil
}

// ParseNonNegativeInt is ParseInt that also rejects negative amounts.
func ParseNonNegativeInt(s string) (sdkmath.Int, error) {
	amount, err := ParseInt(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrAmountNegative, amount)
	}
	return amount, nil
}

// ParseDec parses an 18-decimal fixed point value such as "0.25".
func ParseDec(s string) (sdkmath.LegacyDec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sdkmath.LegacyDec{}, ErrAmountNil
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	return d, nil
}

// ParsePercentage accepts a fraction ("0.25") or a percent string ("25%") and
// returns the fraction, which must lie in [0, 1].
func ParsePercentage(s string) (sdkmath.LegacyDec, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	d, err := ParseDec(s)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if percent {
		d = d.QuoInt64(100)
	}
	if d.IsNegative() || d.GT(sdkmath.LegacyOneDec()) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s is outside [0, 1]", ErrOutOfRange, d)
	}
	return d, nil
}
