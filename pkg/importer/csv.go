package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/forest6511/sealbox/pkg/vault"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvTable is a header-indexed CSV reader shared by the CSV parsers.
type csvTable struct {
	header []string
	index  map[string]int // lowercase header -> column
	reader *csv.Reader
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab in
// the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func openCSV(data []byte) (*csvTable, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.LazyQuotes = true // Handle malformed exports
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("importer: empty CSV file")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	t := &csvTable{header: header, index: make(map[string]int, len(header)), reader: reader}
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(col))
		if _, dup := t.index[key]; !dup {
			t.index[key] = i
		}
	}
	return t, nil
}

func readHeader(data []byte) (map[string]int, error) {
	t, err := openCSV(data)
	if err != nil {
		return nil, err
	}
	return t.index, nil
}

func (t *csvTable) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.index[c]; !ok {
			return fmt.Errorf("missing required column: %s", c)
		}
	}
	return nil
}

// csvRow gives access to one record by lowercase column name.
type csvRow struct {
	num   int
	cells []string
	table *csvTable
}

func (r csvRow) get(col string) string {
	if idx, ok := r.table.index[col]; ok && idx < len(r.cells) {
		return strings.TrimSpace(r.cells[idx])
	}
	return ""
}

// each calls fn for every well-formed row. Malformed rows and rows with
// the wrong column count become warnings.
func (t *csvTable) each(res *ImportResult, fn func(r csvRow)) {
	rowNum := 1 // header is row 1
	for {
		rowNum++
		cells, err := t.reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			res.warnf("row %d: failed to parse: %v", rowNum, err)
			continue
		}
		if len(cells) == 1 && strings.TrimSpace(cells[0]) == "" {
			continue
		}
		if len(cells) != len(t.header) {
			res.warnf("row %d: column count mismatch (expected %d, got %d)",
				rowNum, len(t.header), len(cells))
			continue
		}
		fn(csvRow{num: rowNum, cells: cells, table: t})
	}
}

// Generic CSV targets.
const (
	targetTitle    = "title"
	targetUsername = "username"
	targetPassword = "password"
	targetNotes    = "notes"
	targetTags     = "tags"
	targetURL      = "url"
)

var defaultColumnMap = map[string]string{
	"title":    targetTitle,
	"name":     targetTitle,
	"username": targetUsername,
	"user":     targetUsername,
	"login":    targetUsername,
	"password": targetPassword,
	"pass":     targetPassword,
	"notes":    targetNotes,
	"note":     targetNotes,
	"comment":  targetNotes,
	"comments": targetNotes,
	"url":      targetURL,
	"website":  targetURL,
	"tags":     targetTags,
	"tag":      targetTags,
}

// GenericCSVParser parses CSV files with a flexible header. Known columns
// map to entry fields; any other non-empty column is kept in the notes as
// "Column: value".
type GenericCSVParser struct{}

// Source returns the source type for this parser.
func (p *GenericCSVParser) Source() Source {
	return SourceGeneric
}

// Parse parses generic CSV data.
func (p *GenericCSVParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	table, err := openCSV(data)
	if err != nil {
		return nil, err
	}
	columns := make(map[string]string, len(defaultColumnMap)+len(opts.ColumnMap))
	for k, v := range defaultColumnMap {
		columns[k] = v
	}
	for k, v := range opts.ColumnMap {
		columns[strings.ToLower(k)] = v
	}

	result := newResult()
	table.each(result, func(r csvRow) {
		var title, username, password, tags string
		var notes, extra []string
		for i, col := range table.header {
			val := strings.TrimSpace(r.cells[i])
			if val == "" {
				continue
			}
			setOnce := func(dst *string) {
				if *dst == "" {
					*dst = val
				}
			}
			switch columns[strings.ToLower(strings.TrimSpace(col))] {
			case targetTitle:
				setOnce(&title)
			case targetUsername:
				setOnce(&username)
			case targetPassword:
				setOnce(&password)
			case targetTags:
				setOnce(&tags)
			case targetNotes:
				notes = append(notes, val)
			case targetURL:
				extra = append(extra, labeled("URL", val))
			default:
				extra = append(extra, labeled(strings.TrimSpace(col), val))
			}
		}
		if title == "" {
			result.skip(fmt.Sprintf("row %d", r.num), "missing title/name field")
			return
		}
		body := joinNotes(strings.Join(notes, "\n"), strings.Join(extra, "\n"))
		result.Entries = append(result.Entries,
			proto(vault.EntryPassword, title, username, password, body, splitTags(tags)))
	})
	return result, nil
}
