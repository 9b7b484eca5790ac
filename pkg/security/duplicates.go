package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/sealbox/pkg/vault"
)

// DuplicateGroup represents a group of entries sharing the same password.
type DuplicateGroup struct {
	// EntryIDs contains the ids of the entries with the shared value.
	EntryIDs []string `json:"entry_ids"`
	// Titles holds the matching entry titles, in EntryIDs order.
	Titles []string `json:"titles"`
	// Count is the number of entries in the group.
	Count int `json:"count"`
}

// FindDuplicates scans password entries for shared secrets.
// Values are compared by HMAC-SHA256 under the calculator's session-local
// key, so no plain digest of a secret is ever held. Groups are sorted by
// count, most duplicated first.
func (c *Calculator) FindDuplicates(entries []*vault.Entry) []DuplicateGroup {
	byHash := make(map[string]*DuplicateGroup)
	var order []string
	for _, e := range entries {
		if !auditable(e) {
			continue
		}
		value := normalizeValue(e.Secret)
		if value == "" {
			continue
		}
		hash := computeValueHash(value, c.hmacKey)
		g, ok := byHash[hash]
		if !ok {
			g = &DuplicateGroup{}
			byHash[hash] = g
			order = append(order, hash)
		}
		g.EntryIDs = append(g.EntryIDs, e.ID)
		g.Titles = append(g.Titles, e.Title)
		g.Count++
	}

	var groups []DuplicateGroup
	for _, h := range order {
		if g := byHash[h]; g.Count > 1 {
			groups = append(groups, *g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})
	return groups
}

// computeValueHash computes HMAC-SHA256 of a value with the session key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeValue trims surrounding whitespace and applies Unicode NFC, so
// visually identical passwords typed on different systems compare equal.
func normalizeValue(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// FindWeakPasswords returns an issue for every password entry whose secret
// is rated weak.
func (c *Calculator) FindWeakPasswords(entries []*vault.Entry) []SecurityIssue {
	var issues []SecurityIssue
	for _, e := range entries {
		if !auditable(e) || e.Secret == "" {
			continue
		}
		if CalculateStrength(e.Secret) == PasswordWeak {
			issues = append(issues, SecurityIssue{
				Type:        IssueWeakPassword,
				Severity:    SeverityWarning,
				EntryID:     e.ID,
				Title:       e.Title,
				Description: "Password has insufficient strength (" + formatLength(e.Secret) + ")",
				Suggestion:  "Use a longer password (14+ characters)",
			})
		}
	}
	return issues
}

// auditable reports whether e holds a password to check. Note bodies are
// not credentials.
func auditable(e *vault.Entry) bool {
	switch e.Type {
	case vault.EntryPassword:
		return true
	case vault.EntryNote:
		return false
	default:
		return false
	}
}
