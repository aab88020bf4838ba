package exchange

import (
	"fmt"
	"unicode/utf8"
)

// Password length bounds, in characters, inclusive.
const (
	MinPasswordLength = 4
	MaxPasswordLength = 50
)

// ValidatePassword applies the bundle password policy.
func ValidatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return fmt.Errorf("%w: must be %d to %d characters, got %d",
			ErrInvalidPassword, MinPasswordLength, MaxPasswordLength, n)
	}
	return nil
}
