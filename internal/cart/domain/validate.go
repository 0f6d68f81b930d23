package domain

import (
	"math"
	"regexp"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// ValidQuantity reports whether qty is positive and within stock.
func ValidQuantity(qty, stock int) bool {
	return qty > 0 && qty <= stock
}

// ParseQuantity converts an untyped numeric input (e.g. a decoded JSON number)
// to a quantity. Non-integers and values <= 0 are rejected, never rounded.
func ParseQuantity(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, newError(KindValidation, "quantity", ErrInvalidQuantity, "must be an integer")
	}
	if v <= 0 {
		return 0, newError(KindValidation, "quantity", ErrInvalidQuantity, "must be positive")
	}
	if v > math.MaxInt32 {
		return 0, newError(KindValidation, "quantity", ErrInvalidQuantity, "too large")
	}
	return int(v), nil
}
