package importer

import (
	"fmt"

	"github.com/forest6511/sealbox/pkg/vault"
)

// KeePassParser parses KeePass / KeePassXC CSV exports:
// Group,Title,Username,Password,URL,Notes[,TOTP,Icon,Last Modified,Created]
type KeePassParser struct{}

// KeePass CSV column names (lowercased).
const (
	kpColGroup    = "group"
	kpColTitle    = "title"
	kpColUsername = "username"
	kpColPassword = "password"
	kpColURL      = "url"
	kpColNotes    = "notes"
	kpColTOTP     = "totp"
	kpColCreated  = "created"
)

// Source returns the source type for this parser.
func (p *KeePassParser) Source() Source {
	return SourceKeePass
}

// Parse parses KeePass CSV data. The group becomes a tag; "Root", the
// implicit top group, is dropped.
func (p *KeePassParser) Parse(data []byte, _ ParseOptions) (*ImportResult, error) {
	table, err := openCSV(data)
	if err != nil {
		return nil, err
	}
	if err := table.require(kpColTitle); err != nil {
		return nil, err
	}

	result := newResult()
	table.each(result, func(r csvRow) {
		title := r.get(kpColTitle)
		if title == "" {
			result.skip(fmt.Sprintf("row %d", r.num), "missing title")
			return
		}
		var tags []string
		if g := r.get(kpColGroup); g != "" && g != "Root" {
			tags = append(tags, g)
		}
		notes := joinNotes(labeled("URL", r.get(kpColURL)), labeled("TOTP", r.get(kpColTOTP)), r.get(kpColNotes))

		e := proto(vault.EntryPassword, title, r.get(kpColUsername), r.get(kpColPassword), notes, tags)
		e.CreatedAt = parseTime(r.get(kpColCreated))
		result.Entries = append(result.Entries, e)
	})
	return result, nil
}
