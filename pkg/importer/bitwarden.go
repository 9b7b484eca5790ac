package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forest6511/sealbox/pkg/vault"
)

// BitwardenParser parses Bitwarden JSON export files (type codes 1-4).
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

// Bitwarden custom field types.
const (
	bitwardenFieldText    = 0
	bitwardenFieldHidden  = 1
	bitwardenFieldBoolean = 2
)

// bitwardenExport represents the top-level Bitwarden export structure.
type bitwardenExport struct {
	Encrypted   bool              `json:"encrypted"`
	Items       []bitwardenItem   `json:"items"`
	Folders     []bitwardenFolder `json:"folders"`
	Collections []bitwardenFolder `json:"collections"`
}

// bitwardenFolder represents a Bitwarden folder or collection.
type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// bitwardenItem represents a Bitwarden vault item.
type bitwardenItem struct {
	Type          int                    `json:"type"`
	Name          string                 `json:"name"`
	Notes         string                 `json:"notes"`
	Favorite      bool                   `json:"favorite"`
	FolderID      *string                `json:"folderId"`
	CollectionIDs []string               `json:"collectionIds"`
	CreationDate  string                 `json:"creationDate"`
	Login         *bitwardenLogin        `json:"login"`
	Card          *bitwardenCard         `json:"card"`
	Identity      *bitwardenIdentity     `json:"identity"`
	Fields        []bitwardenCustomField `json:"fields"`
}

// bitwardenLogin represents Bitwarden login data.
type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

// bitwardenURI represents a Bitwarden URI entry.
type bitwardenURI struct {
	URI string `json:"uri"`
}

// bitwardenCard represents Bitwarden card data.
type bitwardenCard struct {
	CardholderName string `json:"cardholderName"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
	Brand          string `json:"brand"`
}

// bitwardenIdentity represents Bitwarden identity data.
type bitwardenIdentity struct {
	Title          string `json:"title"`
	FirstName      string `json:"firstName"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName"`
	Username       string `json:"username"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address1       string `json:"address1"`
	Address2       string `json:"address2"`
	Address3       string `json:"address3"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	SSN            string `json:"ssn"`
	PassportNumber string `json:"passportNumber"`
	LicenseNumber  string `json:"licenseNumber"`
}

// bitwardenCustomField represents a Bitwarden custom field.
type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data. Logins become password entries; secure
// notes, cards and identities become note entries whose body holds the
// item's fields.
func (p *BitwardenParser) Parse(data []byte, _ ParseOptions) (*ImportResult, error) {
	var export bitwardenExport
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &export); err != nil {
		return nil, fmt.Errorf("failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("encrypted Bitwarden exports are not supported; export as unencrypted JSON")
	}

	// Build folder lookup map
	names := make(map[string]string, len(export.Folders)+len(export.Collections))
	for _, f := range export.Folders {
		names[f.ID] = f.Name
	}
	for _, c := range export.Collections {
		names[c.ID] = c.Name
	}

	result := newResult()
	itemCounter := 1
	for i := range export.Items {
		item := &export.Items[i]
		entry, warning := p.parseItem(item, names, &itemCounter)
		if warning != "" {
			result.warnf("item %d (%s): %s", i+1, item.Name, warning)
		}
		if entry != nil {
			result.Entries = append(result.Entries, *entry)
		} else if warning == "" {
			result.skip(item.Name, "no useful data")
		}
	}
	return result, nil
}

// parseItem parses a single Bitwarden item.
func (p *BitwardenParser) parseItem(item *bitwardenItem, names map[string]string, itemCounter *int) (*vault.ProtoEntry, string) {
	var typ vault.EntryType
	var username, secret, url string
	var details []string

	switch item.Type {
	case bitwardenTypeLogin:
		typ = vault.EntryPassword
		if item.Login != nil {
			username, secret = item.Login.Username, item.Login.Password
			for i, u := range item.Login.URIs {
				if u.URI == "" {
					continue
				}
				if i == 0 {
					url = u.URI
				}
				details = append(details, labeled("URL", u.URI))
			}
			details = append(details, labeled("TOTP", item.Login.TOTP))
		}
		if username == "" && secret == "" && item.Notes == "" && len(item.Fields) == 0 {
			return nil, ""
		}
	case bitwardenTypeSecureNote:
		typ = vault.EntryNote
		secret = item.Notes
	case bitwardenTypeCard:
		typ = vault.EntryNote
		secret = cardBody(item.Card)
	case bitwardenTypeIdentity:
		typ = vault.EntryNote
		secret = identityBody(item.Identity)
	default:
		return nil, fmt.Sprintf("unsupported item type: %d", item.Type)
	}

	for _, cf := range item.Fields {
		name := cf.Name
		if name == "" {
			name = "Custom field"
		}
		switch cf.Type {
		case bitwardenFieldHidden, bitwardenFieldText, bitwardenFieldBoolean:
			details = append(details, labeled(name, cf.Value))
		}
	}

	notes := item.Notes
	if typ == vault.EntryNote && item.Type == bitwardenTypeSecureNote {
		notes = ""
	}
	if typ == vault.EntryNote && secret == "" && notes == "" && len(nonEmpty(details)) == 0 {
		return nil, ""
	}

	title := item.Name
	if IsEmptyOrWhitespace(title) {
		title = FallbackTitle(url, *itemCounter)
		*itemCounter++
	}

	var tags []string
	if item.FolderID != nil {
		if name, ok := names[*item.FolderID]; ok && name != "" {
			tags = append(tags, name)
		}
	}
	// Collection names are tags too (org exports)
	for _, id := range item.CollectionIDs {
		if name, ok := names[id]; ok && name != "" {
			tags = append(tags, name)
		}
	}

	e := proto(typ, title, username, secret, joinNotes(strings.Join(nonEmpty(details), "\n"), notes), tags)
	e.Pinned = item.Favorite
	e.CreatedAt = parseTime(item.CreationDate)
	return &e, ""
}

func nonEmpty(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func cardBody(c *bitwardenCard) string {
	if c == nil {
		return ""
	}
	exp := ""
	if c.ExpMonth != "" || c.ExpYear != "" {
		exp = c.ExpMonth + "/" + c.ExpYear
	}
	return strings.Join(nonEmpty([]string{
		labeled("Cardholder", c.CardholderName),
		labeled("Brand", c.Brand),
		labeled("Number", c.Number),
		labeled("Expires", exp),
		labeled("CVV", c.Code),
	}), "\n")
}

func identityBody(id *bitwardenIdentity) string {
	if id == nil {
		return ""
	}
	name := strings.Join(strings.Fields(strings.Join([]string{id.Title, id.FirstName, id.MiddleName, id.LastName}, " ")), " ")
	address := strings.Join(nonEmpty([]string{id.Address1, id.Address2, id.Address3, id.City, id.State, id.PostalCode, id.Country}), ", ")
	return strings.Join(nonEmpty([]string{
		labeled("Name", name),
		labeled("Username", id.Username),
		labeled("Company", id.Company),
		labeled("Email", id.Email),
		labeled("Phone", id.Phone),
		labeled("Address", address),
		labeled("SSN", id.SSN),
		labeled("Passport", id.PassportNumber),
		labeled("License", id.LicenseNumber),
	}), "\n")
}

// BitwardenCSVParser parses Bitwarden CSV exports:
// folder,favorite,type,name,notes,fields,reprompt,login_uri,login_username,login_password,login_totp
type BitwardenCSVParser struct{}

// Bitwarden CSV column names.
const (
	bwColFolder   = "folder"
	bwColFavorite = "favorite"
	bwColType     = "type"
	bwColName     = "name"
	bwColNotes    = "notes"
	bwColFields   = "fields"
	bwColURI      = "login_uri"
	bwColUsername = "login_username"
	bwColPassword = "login_password"
	bwColTOTP     = "login_totp"
)

// Source returns the source type for this parser.
func (p *BitwardenCSVParser) Source() Source {
	return SourceBitwardenCSV
}

// Parse parses Bitwarden CSV data. Only login and note rows exist in this
// format.
func (p *BitwardenCSVParser) Parse(data []byte, _ ParseOptions) (*ImportResult, error) {
	table, err := openCSV(data)
	if err != nil {
		return nil, err
	}
	if err := table.require(bwColName, bwColType); err != nil {
		return nil, err
	}

	result := newResult()
	itemCounter := 1
	table.each(result, func(r csvRow) {
		name := r.get(bwColName)
		uri := r.get(bwColURI)
		// fields cell is "name: value" lines already
		extra := joinNotes(labeled("URL", uri), labeled("TOTP", r.get(bwColTOTP)), r.get(bwColFields))

		var e vault.ProtoEntry
		switch r.get(bwColType) {
		case "login":
			username, password := r.get(bwColUsername), r.get(bwColPassword)
			if username == "" && password == "" && r.get(bwColNotes) == "" {
				result.skip(name, "no useful data")
				return
			}
			if name == "" {
				name = FallbackTitle(uri, itemCounter)
				itemCounter++
			}
			e = proto(vault.EntryPassword, name, username, password, joinNotes(extra, r.get(bwColNotes)), nil)
		case "note":
			if name == "" {
				name = FallbackTitle("", itemCounter)
				itemCounter++
			}
			e = proto(vault.EntryNote, name, "", r.get(bwColNotes), extra, nil)
		default:
			result.warnf("row %d: unsupported item type %q", r.num, r.get(bwColType))
			return
		}
		if folder := r.get(bwColFolder); folder != "" {
			e.Tags = []string{folder}
		}
		e.Pinned = truthy(r.get(bwColFavorite))
		result.Entries = append(result.Entries, e)
	})
	return result, nil
}
