// Package security reports weak, reused and stale secrets in a vault.
package security

import "unicode/utf8"

// PasswordStrength represents the strength level of a password.
type PasswordStrength int

const (
	// PasswordWeak indicates an insecure password (fewer than 8 characters).
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable password.
	PasswordFair
	// PasswordGood indicates a good password.
	PasswordGood
	// PasswordStrong indicates a strong password.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Points returns the score points for this strength level.
// Used in the strength component: Weak=0, Fair=8, Good=17, Strong=25.
func (s PasswordStrength) Points() int {
	switch s {
	case PasswordWeak:
		return 0
	case PasswordFair:
		return 8
	case PasswordGood:
		return 17
	case PasswordStrong:
		return 25
	default:
		return 0
	}
}

// CalculateStrength evaluates a password by length, counted in characters.
// NIST SP 800-63B recommends length over composition rules, so character
// classes are not scored. A password made of a single repeated character
// is always weak.
func CalculateStrength(value string) PasswordStrength {
	if isRepeated(value) {
		return PasswordWeak
	}
	length := utf8.RuneCountInString(value)

	switch {
	case length >= 20:
		return PasswordStrong
	case length >= 14:
		return PasswordGood
	case length >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}

// isRepeated reports whether s consists of one rune repeated.
func isRepeated(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return true
	}
	for _, r := range s[size:] {
		if r != first {
			return false
		}
	}
	return true
}
