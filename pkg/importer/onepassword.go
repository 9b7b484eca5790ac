package importer

import (
	"strings"

	"github.com/forest6511/sealbox/pkg/vault"
)

// OnePasswordParser parses 1Password CSV export files:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
// Older exports also carry a Type column.
type OnePasswordParser struct{}

// 1Password CSV column names (lowercased).
const (
	op1ColTitle    = "title"
	op1ColWebsite  = "website"
	op1ColURL      = "url"
	op1ColUsername = "username"
	op1ColPassword = "password"
	op1ColOTPAuth  = "otpauth"
	op1ColFavorite = "favorite"
	op1ColArchived = "archived"
	op1ColTags     = "tags"
	op1ColNotes    = "notes"
	op1ColType     = "type"
)

// archivedTag marks items that were archived in 1Password.
const archivedTag = "archived"

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte, _ ParseOptions) (*ImportResult, error) {
	table, err := openCSV(data)
	if err != nil {
		return nil, err
	}
	if err := table.require(op1ColTitle); err != nil {
		return nil, err
	}

	result := newResult()
	itemCounter := 1
	table.each(result, func(r csvRow) {
		title := r.get(op1ColTitle)
		website := r.get(op1ColWebsite)
		if website == "" {
			website = r.get(op1ColURL)
		}
		username := r.get(op1ColUsername)
		password := r.get(op1ColPassword)
		otpAuth := r.get(op1ColOTPAuth)
		notes := r.get(op1ColNotes)

		if username == "" && password == "" && otpAuth == "" && notes == "" {
			result.warnf("row %d: skipped: no useful data", r.num)
			result.skip(title, "no useful data")
			return
		}

		if IsEmptyOrWhitespace(title) {
			title = FallbackTitle(website, itemCounter)
			itemCounter++
		}

		tags := splitTags(r.get(op1ColTags))
		if typ := r.get(op1ColType); typ != "" {
			tags = append(tags, typ)
		}
		if truthy(r.get(op1ColArchived)) {
			tags = append(tags, archivedTag)
		}

		typ := vault.EntryPassword
		if username == "" && password == "" && otpAuth == "" && website == "" &&
			strings.EqualFold(r.get(op1ColType), "secure note") {
			typ = vault.EntryNote
		}

		var e vault.ProtoEntry
		if typ == vault.EntryNote {
			e = proto(typ, title, "", notes, "", tags)
		} else {
			e = proto(typ, title, username, password,
				joinNotes(labeled("Website", website), labeled("OTP", otpAuth), notes), tags)
		}
		e.Pinned = truthy(r.get(op1ColFavorite))
		result.Entries = append(result.Entries, e)
	})
	return result, nil
}
