package password

import (
	"unicode"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// MinLength is the minimum accepted password length
const MinLength = 8

// ValidateStrength requires MinLength characters with at least one upper
// case letter, one lower case letter and one digit.
func ValidateStrength(password string) error {
	if len([]rune(password)) < MinLength {
		return auth.ErrWeakPassword
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if !upper || !lower || !digit {
		return auth.ErrWeakPassword
	}
	return nil
}
