package importer

import (
	"github.com/forest6511/sealbox/pkg/vault"
)

// LastPassParser parses LastPass CSV export files:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// LastPass CSV column names (header-based parsing).
const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
	lpColGrouping = "grouping"
	lpColFav      = "fav"
)

// secureNoteURL is the placeholder URL LastPass writes for secure notes.
const secureNoteURL = "http://sn"

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data. Rows with the secure-note URL become
// note entries. Cells may be HTML-encoded.
func (p *LastPassParser) Parse(data []byte, _ ParseOptions) (*ImportResult, error) {
	table, err := openCSV(data)
	if err != nil {
		return nil, err
	}
	if err := table.require(lpColName); err != nil {
		return nil, err
	}

	result := newResult()
	itemCounter := 1
	table.each(result, func(r csvRow) {
		get := func(col string) string { return DecodeHTMLEntities(r.get(col)) }

		name := get(lpColName)
		url := get(lpColURL)
		username := get(lpColUsername)
		password := get(lpColPassword)
		totp := get(lpColTOTP)
		extra := get(lpColExtra)

		if username == "" && password == "" && totp == "" && extra == "" {
			result.warnf("row %d: skipped: no useful data", r.num)
			result.skip(name, "no useful data")
			return
		}

		if IsEmptyOrWhitespace(name) {
			fallbackURL := url
			if url == secureNoteURL {
				fallbackURL = ""
			}
			name = FallbackTitle(fallbackURL, itemCounter)
			itemCounter++
		}

		// Nested groups are kept as one tag, e.g. "Work\Email".
		var tags []string
		if grouping := get(lpColGrouping); grouping != "" {
			tags = append(tags, grouping)
		}

		var e vault.ProtoEntry
		if url == secureNoteURL {
			e = proto(vault.EntryNote, name, "", extra, "", tags)
		} else {
			e = proto(vault.EntryPassword, name, username, password,
				joinNotes(labeled("URL", url), labeled("TOTP", totp), extra), tags)
		}
		e.Pinned = truthy(get(lpColFav))
		result.Entries = append(result.Entries, e)
	})
	return result, nil
}
