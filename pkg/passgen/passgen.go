// Package passgen generates random passwords from crypto/rand.
package passgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Character set constants
const (
	CharsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	CharsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharsetDigits    = "0123456789"
	CharsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// Length bounds.
const (
	MinLength     = 8
	MaxLength     = 128
	DefaultLength = 20
	MaxCount      = 100

	maxExcludeLength = 256
)

// ErrEmptyCharset means every character class was disabled or excluded.
var ErrEmptyCharset = errors.New("passgen: character set is empty: enable at least one character type")

// Options selects the generated password's length and alphabet.
type Options struct {
	Length    int
	Uppercase bool
	Lowercase bool
	Digits    bool
	Symbols   bool
	// Exclude lists characters never to emit, e.g. "0O1lI".
	Exclude string
}

// DefaultOptions returns a 20-character password drawing on every class.
func DefaultOptions() Options {
	return Options{
		Length:    DefaultLength,
		Uppercase: true,
		Lowercase: true,
		Digits:    true,
		Symbols:   true,
	}
}

// Validate checks the length and exclude bounds.
func (o Options) Validate() error {
	if o.Length < MinLength {
		return fmt.Errorf("passgen: length must be at least %d characters", MinLength)
	}
	if o.Length > MaxLength {
		return fmt.Errorf("passgen: length must be at most %d characters", MaxLength)
	}
	if len(o.Exclude) > maxExcludeLength {
		return fmt.Errorf("passgen: exclude string must be at most %d characters", maxExcludeLength)
	}
	return nil
}

// classes returns the enabled character classes with excluded characters
// removed. Classes left empty by Exclude are dropped.
func (o Options) classes() []string {
	var out []string
	for _, c := range []struct {
		on  bool
		set string
	}{
		{o.Lowercase, CharsetLowercase},
		{o.Uppercase, CharsetUppercase},
		{o.Digits, CharsetDigits},
		{o.Symbols, CharsetSymbols},
	} {
		if !c.on {
			continue
		}
		if set := removeChars(c.set, o.Exclude); set != "" {
			out = append(out, set)
		}
	}
	return out
}

// Charset returns the full alphabet the options draw from.
func (o Options) Charset() string {
	return strings.Join(o.classes(), "")
}

// Generate returns one password. Every enabled class appears at least once.
func Generate(o Options) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	classes := o.classes()
	if len(classes) == 0 {
		return "", ErrEmptyCharset
	}
	charset := strings.Join(classes, "")

	password := make([]byte, o.Length)
	for i := range password {
		set := charset
		if i < len(classes) {
			set = classes[i]
		}
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		password[i] = c
	}
	if err := shuffle(password); err != nil {
		return "", err
	}
	return string(password), nil
}

// GenerateN returns count passwords.
func GenerateN(o Options, count int) ([]string, error) {
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("passgen: count must be between 1 and %d", MaxCount)
	}
	out := make([]string, count)
	for i := range out {
		p, err := Generate(o)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// removeChars removes specified characters from a string
func removeChars(s, chars string) string {
	if chars == "" {
		return s
	}
	excludeSet := make(map[rune]bool)
	for _, c := range chars {
		excludeSet[c] = true
	}

	var result strings.Builder
	for _, c := range s {
		if !excludeSet[c] {
			result.WriteRune(c)
		}
	}
	return result.String()
}

func randIndex(n int) (int, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("passgen: failed to generate random number: %w", err)
	}
	return int(idx.Int64()), nil
}

func pick(set string) (byte, error) {
	i, err := randIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
