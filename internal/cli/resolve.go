package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forest6511/sealbox/pkg/vault"
)

// minPrefix is the shortest id prefix accepted as a reference.
const minPrefix = 4

// resolveEntry finds the entry a reference names: a full id, a unique id
// prefix, or a unique case-insensitive title.
func resolveEntry(v *vault.Vault, ref string) (*vault.Entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &vault.ValidationError{Field: "entry", Reason: "empty entry reference"}
	}
	if e, err := v.Entry(ref); err == nil {
		return e, nil
	}
	entries, err := v.Entries()
	if err != nil {
		return nil, err
	}

	var byPrefix, byTitle []*vault.Entry
	for _, e := range entries {
		if len(ref) >= minPrefix && strings.HasPrefix(e.ID, strings.ToLower(ref)) {
			byPrefix = append(byPrefix, e)
		}
		if strings.EqualFold(e.Title, ref) {
			byTitle = append(byTitle, e)
		}
	}
	for _, candidates := range [][]*vault.Entry{byPrefix, byTitle} {
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], nil
		default:
			return nil, ambiguous(ref, candidates)
		}
	}
	return nil, fmt.Errorf("%w: %s", vault.ErrEntryNotFound, ref)
}

func ambiguous(ref string, candidates []*vault.Entry) error {
	ids := make([]string, len(candidates))
	for i, e := range candidates {
		ids[i] = shortID(e.ID) + " (" + e.Title + ")"
	}
	return &vault.ValidationError{
		Field:  "entry",
		Reason: fmt.Sprintf("%q matches %d entries: %s; use the id", ref, len(candidates), strings.Join(ids, ", ")),
	}
}

// expandRefs resolves several references. A reference containing glob
// characters (*?[) matches titles case-insensitively and must match at
// least one entry. The result keeps first-match order without duplicates.
func expandRefs(v *vault.Vault, refs []string) ([]*vault.Entry, error) {
	seen := make(map[string]bool)
	var out []*vault.Entry
	add := func(e *vault.Entry) {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}

	for _, ref := range refs {
		if !strings.ContainsAny(ref, "*?[") {
			e, err := resolveEntry(v, ref)
			if err != nil {
				return nil, err
			}
			add(e)
			continue
		}
		matches, err := matchTitles(v, ref)
		if err != nil {
			return nil, err
		}
		for _, e := range matches {
			add(e)
		}
	}
	return out, nil
}

func matchTitles(v *vault.Vault, pattern string) ([]*vault.Entry, error) {
	// Validate pattern syntax
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, &vault.ValidationError{Field: "pattern", Reason: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
	}
	entries, err := v.Entries()
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(pattern)
	var matches []*vault.Entry
	for _, e := range entries {
		if ok, _ := filepath.Match(lower, strings.ToLower(e.Title)); ok {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no titles match %q", vault.ErrEntryNotFound, pattern)
	}
	return matches, nil
}
