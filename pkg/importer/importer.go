// Package importer turns third-party password manager exports into vault
// proto-entries. Supported: generic CSV, KeePass CSV, Bitwarden JSON and
// CSV, LastPass CSV and 1Password CSV.
//
// Parsers never touch a vault. The caller hands ImportResult.Entries to
// vault.ImportEntries, which validates them all-or-nothing.
package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/sealbox/pkg/vault"
)

// Source represents the source export format.
type Source string

const (
	SourceGeneric      Source = "csv"
	SourceKeePass      Source = "keepass"
	SourceBitwarden    Source = "bitwarden"
	SourceBitwardenCSV Source = "bitwarden-csv"
	SourceLastPass     Source = "lastpass"
	Source1Password    Source = "1password"
)

// ErrUnknownFormat is returned by Detect when the data matches no parser.
var ErrUnknownFormat = errors.New("importer: unrecognized export format")

// ImportResult contains the results of an import operation.
type ImportResult struct {
	// Entries are the successfully parsed proto-entries, in file order.
	Entries []vault.ProtoEntry

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []SkippedItem
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

func newResult() *ImportResult {
	return &ImportResult{
		Entries:  make([]vault.ProtoEntry, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}
}

func (r *ImportResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ImportResult) skip(name, reason string) {
	r.Skipped = append(r.Skipped, SkippedItem{OriginalName: name, Reason: reason})
}

// Parser is the interface for export format parsers.
type Parser interface {
	// Parse parses the input data and returns proto-entries.
	Parse(data []byte, opts ParseOptions) (*ImportResult, error)

	// Source returns the source type for this parser.
	Source() Source
}

// ParseOptions contains options for parsing.
type ParseOptions struct {
	// ColumnMap adds or overrides generic CSV column mappings, keyed by
	// lowercase header name. Values are title, username, password, notes
	// or tags.
	ColumnMap map[string]string
}

// FallbackTitle names an item that has no title: the URL's hostname when
// there is one, otherwise "Imported item N".
func FallbackTitle(url string, counter int) string {
	if url != "" {
		if hostname := extractHostname(url); hostname != "" {
			return hostname
		}
	}
	return fmt.Sprintf("Imported item %d", counter)
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	// Simple hostname extraction without full URL parsing
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")

	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimPrefix(urlStr, "www.")
}

// DecodeHTMLEntities decodes common HTML entities found in LastPass exports.
func DecodeHTMLEntities(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	return s
}

// NormalizeValue normalizes a value for comparison (e.g., in duplicate detection).
// Trims whitespace and normalizes Unicode.
func NormalizeValue(s string) string {
	s = strings.TrimSpace(s)
	s = norm.NFC.String(s)
	return s
}

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// joinNotes joins non-empty parts with a blank line, the layout every
// importer uses for URLs and extra fields.
func joinNotes(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if !IsEmptyOrWhitespace(p) {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// labeled returns "label: value", or "" for an empty value.
func labeled(label, value string) string {
	if value == "" {
		return ""
	}
	return label + ": " + value
}

// splitTags splits a tag cell on the first delimiter present.
func splitTags(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := []string{s}
	for _, delim := range []string{",", ";", "|"} {
		if strings.Contains(s, delim) {
			parts = strings.Split(s, delim)
			break
		}
	}
	tags := make([]string, 0, len(parts))
	for _, t := range parts {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// parseTime accepts the timestamp layouts found in exports. A zero time
// means unknown.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// proto builds a proto-entry with NFC-normalized text fields.
func proto(typ vault.EntryType, title, username, secret, notes string, tags []string) vault.ProtoEntry {
	for i := range tags {
		tags[i] = norm.NFC.String(tags[i])
	}
	if typ == vault.EntryNote {
		username = ""
	}
	return vault.ProtoEntry{EntryInput: vault.EntryInput{
		Type:     typ,
		Title:    norm.NFC.String(strings.TrimSpace(title)),
		Username: norm.NFC.String(username),
		Secret:   secret,
		Notes:    norm.NFC.String(notes),
		Tags:     tags,
	}}
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case SourceGeneric:
		return &GenericCSVParser{}, nil
	case SourceKeePass:
		return &KeePassParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceBitwardenCSV:
		return &BitwardenCSVParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	case Source1Password:
		return &OnePasswordParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(SourceGeneric),
		string(SourceKeePass),
		string(SourceBitwarden),
		string(SourceBitwardenCSV),
		string(SourceLastPass),
		string(Source1Password),
	}
}

// Detect guesses the export format: Bitwarden JSON by its "items" array,
// CSV formats by their header columns.
func Detect(data []byte) (Source, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var probe struct {
			Items json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && len(probe.Items) > 0 {
			return SourceBitwarden, nil
		}
		return "", ErrUnknownFormat
	}

	header, err := readHeader(data)
	if err != nil {
		return "", ErrUnknownFormat
	}
	has := func(cols ...string) bool {
		for _, c := range cols {
			if _, ok := header[c]; !ok {
				return false
			}
		}
		return true
	}
	switch {
	case has("group", "title", "username"):
		return SourceKeePass, nil
	case has("folder", "type", "name"):
		return SourceBitwardenCSV, nil
	case has("url", "username", "password", "extra"):
		return SourceLastPass, nil
	case has("title", "website", "username"):
		return Source1Password, nil
	case has("title"), has("name"):
		return SourceGeneric, nil
	}
	return "", ErrUnknownFormat
}

// Parse detects the format of data and parses it.
func Parse(data []byte, opts ParseOptions) (Source, *ImportResult, error) {
	source, err := Detect(data)
	if err != nil {
		return "", nil, err
	}
	p, err := GetParser(source)
	if err != nil {
		return "", nil, err
	}
	res, err := p.Parse(data, opts)
	return source, res, err
}
