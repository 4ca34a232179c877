// Package amount parses and serializes arbitrary-precision base-unit integers.
//
// Base-unit amounts travel through the system as canonical base-10 integer
// strings: no exponent, no decimal point, no leading zeros. Floating point is
// never used; values routinely exceed the 64-bit range.
package amount

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// FormatError reports input that could not be interpreted as an amount. Read
// paths never see it; NormalizeToIntegerString degrades to "0" instead.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unparseable amount %q", e.Input)
}

// NormalizeToIntegerString converts a heterogeneous numeric representation to
// a canonical integer string. Plain integers pass through, decimal fractions
// are truncated (never rounded), scientific notation is expanded by shifting
// the decimal point. Unparseable input degrades to "0": this runs on hot read
// paths where a bad cell must not take the page down.
func NormalizeToIntegerString(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "0"
	}

	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}

	mantissa := s
	exp := 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa = s[:i]
		e, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return "0"
		}
		exp = e
	}

	intPart := mantissa
	fracPart := ""
	if i := strings.IndexByte(mantissa, '.'); i >= 0 {
		intPart = mantissa[:i]
		fracPart = mantissa[i+1:]
	}

	digits := intPart + fracPart
	if digits == "" || !allDigits(digits) {
		return "0"
	}

	// The decimal point sits after len(intPart) digits; the exponent shifts it.
	point := len(intPart) + exp

	var out string
	switch {
	case point <= 0:
		// |value| < 1 truncates toward zero.
		return "0"
	case point >= len(digits):
		out = digits + strings.Repeat("0", point-len(digits))
	default:
		out = digits[:point]
	}

	out = strings.TrimLeft(out, "0")
	if out == "" {
		return "0"
	}
	if neg {
		return "-" + out
	}
	return out
}

// ToBaseUnits scales a human-readable decimal amount to base units at the
// given decimal exponent. Excess fractional precision is truncated, never
// rounded.
func ToBaseUnits(human string, decimals int) (string, error) {
	s := strings.TrimSpace(human)
	if s == "" {
		return "0", nil
	}
	if decimals < 0 {
		return "", &FormatError{Input: human}
	}

	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return "", &FormatError{Input: human}
	}
	if (intPart != "" && !allDigits(intPart)) || (fracPart != "" && !allDigits(fracPart)) {
		return "", &FormatError{Input: human}
	}

	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	} else {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	}

	out := strings.TrimLeft(intPart+fracPart, "0")
	if out == "" {
		return "0", nil
	}
	if neg {
		return "-" + out, nil
	}
	return out, nil
}

// FromBaseUnits renders a base-unit integer as a trimmed decimal string with
// at most maxFrac fractional digits. Display only; never feed the result back
// into arithmetic.
func FromBaseUnits(base string, decimals, maxFrac int) string {
	s := NormalizeToIntegerString(base)

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	if decimals <= 0 {
		if neg && s != "0" {
			return "-" + s
		}
		return s
	}

	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}

	intPart := s[:len(s)-decimals]
	fracPart := s[len(s)-decimals:]
	if maxFrac >= 0 && len(fracPart) > maxFrac {
		fracPart = fracPart[:maxFrac]
	}
	fracPart = strings.TrimRight(fracPart, "0")

	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg && out != "0" {
		return "-" + out
	}
	return out
}

// Cmp compares two amounts numerically, normalizing both sides first.
// Every amount comparison in the repository funnels through here.
func Cmp(a, b string) int {
	x := mustBig(a)
	y := mustBig(b)
	return x.Cmp(y)
}

// IsCanonicalPositive reports whether s is a canonical positive integer
// string, the only form accepted on write paths.
func IsCanonicalPositive(s string) bool {
	if s == "" || !allDigits(s) {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	return s != "0"
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(NormalizeToIntegerString(s), 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
