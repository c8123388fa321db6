package vault

import (
	"math"
	"strconv"
	"strings"
)

// ParseDecimalAmount converts a non-negative decimal string (e.g. "0.5")
// into the asset's smallest integer unit with the given number of
// decimals. The conversion is exact: no floating point is involved, extra
// fractional digits are truncated toward zero, and overflow is an error.
func ParseDecimalAmount(value string, decimals int) (int64, error) {
	if value == "" {
		return 0, validationErr("amount", "empty")
	}
	if strings.HasPrefix(value, "-") || strings.HasPrefix(value, "+") {
		return 0, validationErr("amount", "must be an unsigned decimal")
	}

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return 0, validationErr("amount", "must contain only digits and at most one point")
	}

	// Truncate toward zero, never round up: charging a fraction of a
	// base unit more than the listed price drifts over many purchases.
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return 0, validationErr("amount", "must be greater than zero")
	}

	units, err := strconv.ParseUint(combined, 10, 64)
	if err != nil || units > math.MaxInt64 {
		return 0, validationErr("amount", "exceeds the representable range")
	}
	return int64(units), nil
}

// FormatDecimalAmount renders base units as a decimal string with the
// given number of decimals, trimming trailing fractional zeros. It is
// the inverse of ParseDecimalAmount for exact inputs.
func FormatDecimalAmount(units int64, decimals int) string {
	if decimals == 0 {
		return strconv.FormatInt(units, 10)
	}
	digits := strconv.FormatInt(units, 10)
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
