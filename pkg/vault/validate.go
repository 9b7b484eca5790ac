package vault

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Default limits, overridable through Options.
const (
	DefaultMaxTitle     = 256
	DefaultMaxUsername  = 256
	DefaultMaxSecret    = 64 * 1024 // bytes
	DefaultMaxNotes     = 64 * 1024 // bytes
	DefaultMaxTags      = 20
	DefaultMaxTagLength = 64

	DefaultHistoryLimit = 5
	MinHistoryLimit     = 1
	MaxHistoryLimit     = 20

	// MinPassphraseLength is deliberately low; strength is reported, not enforced.
	MinPassphraseLength = 1
)

// Limits bounds entry fields. Title and username are measured in
// characters, secret and notes in bytes.
type Limits struct {
	MaxTitle     int
	MaxUsername  int
	MaxSecret    int
	MaxNotes     int
	MaxTags      int
	MaxTagLength int
	HistoryLimit int
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTitle:     DefaultMaxTitle,
		MaxUsername:  DefaultMaxUsername,
		MaxSecret:    DefaultMaxSecret,
		MaxNotes:     DefaultMaxNotes,
		MaxTags:      DefaultMaxTags,
		MaxTagLength: DefaultMaxTagLength,
		HistoryLimit: DefaultHistoryLimit,
	}
}

func (l Limits) historyLimit() int {
	switch {
	case l.HistoryLimit < MinHistoryLimit:
		return MinHistoryLimit
	case l.HistoryLimit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return l.HistoryLimit
	}
}

// normalizeTags trims, drops empties, deduplicates (case-insensitively,
// keeping the first spelling) and sorts.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func validatePassphrase(passphrase string) error {
	if len(passphrase) < MinPassphraseLength {
		return invalid("passphrase", "must not be empty")
	}
	return nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// validateEntry checks e against the limits. Tags must already be normalized.
func validateEntry(e *Entry, lim Limits) error {
	if !e.Type.Valid() {
		return invalid("type", "unknown entry type %q", e.Type)
	}
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if n := utf8.RuneCountInString(e.Title); n > lim.MaxTitle {
		return invalid("title", "%d characters exceeds limit of %d", n, lim.MaxTitle)
	}
	if hasControl(e.Title) {
		return invalid("title", "contains control characters")
	}
	if n := utf8.RuneCountInString(e.Username); n > lim.MaxUsername {
		return invalid("username", "%d characters exceeds limit of %d", n, lim.MaxUsername)
	}
	if len(e.Secret) > lim.MaxSecret {
		return invalid("secret", "%d bytes exceeds limit of %d", len(e.Secret), lim.MaxSecret)
	}
	if len(e.Notes) > lim.MaxNotes {
		return invalid("notes", "%d bytes exceeds limit of %d", len(e.Notes), lim.MaxNotes)
	}
	if len(e.Tags) > lim.MaxTags {
		return invalid("tags", "%d tags exceeds limit of %d", len(e.Tags), lim.MaxTags)
	}
	for _, t := range e.Tags {
		if n := utf8.RuneCountInString(t); n > lim.MaxTagLength {
			return invalid("tags", "tag %q is %d characters, limit is %d", t, n, lim.MaxTagLength)
		}
		if hasControl(t) {
			return invalid("tags", "tag contains control characters")
		}
	}

	switch e.Type {
	case EntryNote:
		if e.Username != "" {
			return invalid("username", "note entries have no username")
		}
	case EntryPassword:
		// username and secret are both optional
	}

	if e.UpdatedAt.Before(e.CreatedAt) {
		return invalid("updated_at", "is before created_at")
	}
	return nil
}

// validateDocument checks structural invariants of a decoded payload. Field
// limits are not applied here: they are configuration and may have changed
// since the file was written.
func validateDocument(doc *Document) error {
	seen := make(map[string]bool, len(doc.Entries))
	for i, e := range doc.Entries {
		if e == nil {
			return invalid("entries", "entry %d is null", i)
		}
		if _, err := uuid.Parse(e.ID); err != nil {
			return invalid("id", "entry %d has malformed id %q", i, e.ID)
		}
		if seen[e.ID] {
			return invalid("id", "duplicate id %s", e.ID)
		}
		seen[e.ID] = true
		if !e.Type.Valid() {
			return invalid("type", "entry %s has unknown type %q", e.ID, e.Type)
		}
	}
	return nil
}
