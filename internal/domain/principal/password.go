package principal

import (
	"strings"
	"unicode"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 12

// MaxPasswordLength guards the bcrypt 72-byte input limit; bcrypt would
// silently truncate anything longer.
const MaxPasswordLength = 72

// passwordPunctuation is the accepted special-character class.
const passwordPunctuation = `!@#$%^&*()_+-=[]{};':",./<>?~\|` + "`"

// ValidatePassword enforces the set-time password policy: length, one
// uppercase, one lowercase, one digit, one punctuation character. It is
// applied on create, admin reset, and self-change.
func ValidatePassword(candidate string) error {
	if len(candidate) < MinPasswordLength {
		return domainerrors.NewWeakPassword("Password must be at least 12 characters long")
	}
	if len(candidate) > MaxPasswordLength {
		return domainerrors.NewWeakPassword("Password must be at most 72 characters long")
	}

	var hasUpper, hasLower, hasDigit, hasPunct bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordPunctuation, r):
			hasPunct = true
		}
	}

	switch {
	case !hasUpper:
		return domainerrors.NewWeakPassword("Password must contain at least one uppercase letter")
	case !hasLower:
		return domainerrors.NewWeakPassword("Password must contain at least one lowercase letter")
	case !hasDigit:
		return domainerrors.NewWeakPassword("Password must contain at least one digit")
	case !hasPunct:
		return domainerrors.NewWeakPassword("Password must contain at least one special character")
	}

	return nil
}
