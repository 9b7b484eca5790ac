package passgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, DefaultLength, o.Length)
	assert.True(t, o.Uppercase && o.Lowercase && o.Digits && o.Symbols)
	assert.NoError(t, o.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"minimum length", Options{Length: MinLength}, false},
		{"maximum length", Options{Length: MaxLength}, false},
		{"too short", Options{Length: MinLength - 1}, true},
		{"too long", Options{Length: MaxLength + 1}, true},
		{"exclude too long", Options{Length: 20, Exclude: strings.Repeat("a", 257)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	o := DefaultOptions()
	for i := 0; i < 50; i++ {
		p, err := Generate(o)
		require.NoError(t, err)
		require.Len(t, p, DefaultLength)
		assert.True(t, strings.ContainsAny(p, CharsetLowercase), "missing lowercase in %q", p)
		assert.True(t, strings.ContainsAny(p, CharsetUppercase), "missing uppercase in %q", p)
		assert.True(t, strings.ContainsAny(p, CharsetDigits), "missing digit in %q", p)
		assert.True(t, strings.ContainsAny(p, CharsetSymbols), "missing symbol in %q", p)
	}
}

func TestGenerateSingleClass(t *testing.T) {
	p, err := Generate(Options{Length: 32, Digits: true})
	require.NoError(t, err)
	for _, c := range p {
		assert.Contains(t, CharsetDigits, string(c))
	}
}

func TestGenerateExclude(t *testing.T) {
	o := DefaultOptions()
	o.Exclude = "0O1lI"
	for i := 0; i < 20; i++ {
		p, err := Generate(o)
		require.NoError(t, err)
		assert.False(t, strings.ContainsAny(p, o.Exclude), "excluded char in %q", p)
	}
}

func TestGenerateEmptyCharset(t *testing.T) {
	_, err := Generate(Options{Length: 20})
	assert.ErrorIs(t, err, ErrEmptyCharset)

	_, err = Generate(Options{Length: 20, Digits: true, Exclude: CharsetDigits})
	assert.ErrorIs(t, err, ErrEmptyCharset)
}

func TestGenerateIsRandom(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p, err := Generate(DefaultOptions())
		require.NoError(t, err)
		assert.False(t, seen[p], "duplicate password generated")
		seen[p] = true
	}
}

func TestGenerateN(t *testing.T) {
	ps, err := GenerateN(DefaultOptions(), 5)
	require.NoError(t, err)
	assert.Len(t, ps, 5)

	_, err = GenerateN(DefaultOptions(), 0)
	assert.Error(t, err)
	_, err = GenerateN(DefaultOptions(), MaxCount+1)
	assert.Error(t, err)
}

func TestCharset(t *testing.T) {
	o := Options{Lowercase: true, Digits: true, Exclude: "abc0"}
	assert.Equal(t, "defghijklmnopqrstuvwxyz123456789", o.Charset())
}
