package vault

import (
	"sort"
	"strings"
	"time"
)

// EntryType distinguishes credentials from free-form notes.
type EntryType string

const (
	EntryPassword EntryType = "password"
	EntryNote     EntryType = "note"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryPassword, EntryNote:
		return true
	default:
		return false
	}
}

// keepsHistory reports whether secret changes are recorded for this type.
func (t EntryType) keepsHistory() bool {
	switch t {
	case EntryPassword:
		return true
	case EntryNote:
		return false
	default:
		return false
	}
}

// HistoryItem is a previous secret and the time it was replaced.
type HistoryItem struct {
	Secret    string    `json:"secret"`
	ChangedAt time.Time `json:"changed_at"`
}

// Entry is a single vault record. For password entries Secret holds the
// password; for note entries it holds the note body.
type Entry struct {
	ID                 string        `json:"id"`
	Type               EntryType     `json:"type"`
	Title              string        `json:"title"`
	Username           string        `json:"username"`
	Secret             string        `json:"secret"`
	Notes              string        `json:"notes"`
	Tags               []string      `json:"tags"`
	Pinned             bool          `json:"pinned"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	LastSecretChangeAt time.Time     `json:"last_secret_change_at"`
	SecretHistory      []HistoryItem `json:"secret_history"`
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Tags = append([]string{}, e.Tags...)
	c.SecretHistory = append([]HistoryItem{}, e.SecretHistory...)
	return &c
}

// HasTag reports whether the entry carries tag (case-insensitive).
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// release drops references to secret material so it can be collected.
// Go strings are immutable, so this is the most that can be done for them.
func (e *Entry) release() {
	e.Secret = ""
	e.Notes = ""
	e.Username = ""
	for i := range e.SecretHistory {
		e.SecretHistory[i].Secret = ""
	}
	e.SecretHistory = nil
}

// pushHistory records old as a previous secret, drops any history item equal
// to the new current secret and evicts the oldest items beyond limit.
func (e *Entry) pushHistory(old string, at time.Time, limit int) {
	if old != "" {
		e.SecretHistory = append(e.SecretHistory, HistoryItem{Secret: old, ChangedAt: at})
	}
	kept := e.SecretHistory[:0]
	for _, h := range e.SecretHistory {
		if h.Secret != e.Secret {
			kept = append(kept, h)
		}
	}
	e.SecretHistory = kept
	if limit > 0 && len(e.SecretHistory) > limit {
		e.SecretHistory = append([]HistoryItem{}, e.SecretHistory[len(e.SecretHistory)-limit:]...)
	}
}

// EntryInput carries the caller-supplied fields of a new entry.
type EntryInput struct {
	Type     EntryType
	Title    string
	Username string
	Secret   string
	Notes    string
	Tags     []string
	Pinned   bool
}

// EntryUpdate lists the fields to change; nil fields are left alone.
type EntryUpdate struct {
	Type     *EntryType
	Title    *string
	Username *string
	Secret   *string
	Notes    *string
	Tags     *[]string
	Pinned   *bool
}

// ProtoEntry is an entry produced by an importer. A zero CreatedAt means
// "now".
type ProtoEntry struct {
	EntryInput
	CreatedAt time.Time
}

// Query filters entries. Empty fields match everything.
type Query struct {
	// Text is matched case-insensitively against title, username, notes
	// and tags. Secrets are never searched.
	Text       string
	Tag        string
	Type       EntryType
	PinnedOnly bool
}

func (q Query) matches(e *Entry) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.PinnedOnly && !e.Pinned {
		return false
	}
	if q.Tag != "" && !e.HasTag(q.Tag) {
		return false
	}
	if q.Text == "" {
		return true
	}
	needle := strings.ToLower(q.Text)
	if strings.Contains(strings.ToLower(e.Title), needle) ||
		strings.Contains(strings.ToLower(e.Username), needle) ||
		strings.Contains(strings.ToLower(e.Notes), needle) {
		return true
	}
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// sortEntries orders entries canonically: created_at, then id.
func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// clampTime returns now unless it is before floor, in which case floor.
func clampTime(now, floor time.Time) time.Time {
	if now.Before(floor) {
		return floor
	}
	return now
}
