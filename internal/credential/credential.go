// Package credential hashes and checks account passwords and the manager PIN.
package credential

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// IsHash reports whether stored is a bcrypt hash rather than a legacy
// plain-text value.
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// Verify checks input against a bcrypt hash. Blank input never matches.
func Verify(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !IsHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

// VerifyLegacy accepts either a bcrypt hash or a plain-text value left over
// from before passwords were hashed. upgrade is true when stored should be
// replaced with a hash of input.
func VerifyLegacy(stored string, input string) (ok bool, upgrade bool) {
	if IsHash(stored) {
		return Verify(stored, input), false
	}
	if stored == "" || strings.TrimSpace(input) == "" {
		return false, false
	}
	match := subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
	return match, match
}
