package vault

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Schema version constants
const (
	// SchemaVersion1 is the original layout with a metadata block and a
	// plaintext "password" field.
	SchemaVersion1 = "1.0"
	// SchemaVersion2 adds tags and pinned.
	SchemaVersion2 = "2"
	// SchemaVersion3 adds password history and last_password_change.
	SchemaVersion3 = "3"
	// SchemaVersion4 hoists metadata and renames password fields to secret.
	SchemaVersion4 = "4"
	// CurrentSchemaVersion is the version written by this build.
	CurrentSchemaVersion = SchemaVersion4
)

type migrationStep struct {
	from, to string
	apply    func(doc map[string]any) (map[string]any, error)
}

// migrations is ordered; each step takes a document at `from` to `to`.
var migrations = []migrationStep{
	{SchemaVersion1, SchemaVersion2, migrateToV2},
	{SchemaVersion2, SchemaVersion3, migrateToV3},
	{SchemaVersion3, SchemaVersion4, migrateToV4},
}

var errNoVersion = errors.New("no schema version found")

// detectVersion reads the schema version of a raw payload. Pre-4 documents
// carry it in metadata.version; later ones at the top level.
func detectVersion(doc map[string]any) (string, error) {
	if v, ok := doc["schema_version"]; ok {
		return versionString(v)
	}
	if md, ok := doc["metadata"].(map[string]any); ok {
		if v, ok := md["version"]; ok {
			return versionString(v)
		}
	}
	return "", errNoVersion
}

// versionString normalizes a stored version. A JSON number 1.0 decodes as
// 1, which names the same schema as "1.0".
func versionString(v any) (string, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", fmt.Errorf("schema version has type %T", v)
	}
	if s == "1" {
		return SchemaVersion1, nil
	}
	return s, nil
}

// Migrate brings a raw payload to CurrentSchemaVersion and returns the
// version it started at. Running it on a current document is a no-op.
func Migrate(doc map[string]any) (map[string]any, string, error) {
	from, err := detectVersion(doc)
	if err != nil {
		return nil, "", &MigrationError{From: "unknown", Err: err}
	}
	if from == CurrentSchemaVersion {
		return doc, from, nil
	}

	start := -1
	for i, step := range migrations {
		if step.from == from {
			start = i
			break
		}
	}
	if start < 0 {
		if n, err := strconv.ParseFloat(from, 64); err == nil {
			cur, _ := strconv.ParseFloat(CurrentSchemaVersion, 64)
			if n > cur {
				return nil, from, fmt.Errorf("%w: file is version %s, newest supported is %s",
					ErrUnsupportedSchema, from, CurrentSchemaVersion)
			}
		}
		return nil, from, &MigrationError{From: from, Err: errors.New("unknown schema version")}
	}

	cur := doc
	for _, step := range migrations[start:] {
		next, err := step.apply(deepCopy(cur).(map[string]any))
		if err != nil {
			return nil, from, &MigrationError{From: step.from, To: step.to, Err: err}
		}
		cur = next
	}
	return cur, from, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	default:
		return v
	}
}

// eachEntry calls fn for every entry object of doc.
func eachEntry(doc map[string]any, fn func(e map[string]any) error) error {
	raw, ok := doc["entries"]
	if !ok || raw == nil {
		doc["entries"] = []any{}
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("entries is %T, want array", raw)
	}
	for i, item := range list {
		e, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("entry %d is %T, want object", i, item)
		}
		if err := fn(e); err != nil {
			id, _ := e["id"].(string)
			return fmt.Errorf("entry %d (%s): %w", i, id, err)
		}
	}
	return nil
}

func setMetadataVersion(doc map[string]any, v string) error {
	md, ok := doc["metadata"].(map[string]any)
	if !ok {
		return errors.New("metadata block missing")
	}
	md["version"] = v
	return nil
}

func migrateToV2(doc map[string]any) (map[string]any, error) {
	err := eachEntry(doc, func(e map[string]any) error {
		if _, ok := e["tags"]; !ok {
			e["tags"] = []any{}
		}
		if _, ok := e["pinned"]; !ok {
			e["pinned"] = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, setMetadataVersion(doc, SchemaVersion2)
}

func migrateToV3(doc map[string]any) (map[string]any, error) {
	err := eachEntry(doc, func(e map[string]any) error {
		if _, ok := e["password_history"]; !ok {
			e["password_history"] = []any{}
		}
		if _, ok := e["last_password_change"]; ok {
			return nil
		}
		if ts, ok := e["updated_at"].(string); ok && ts != "" {
			e["last_password_change"] = ts
			return nil
		}
		if ts, ok := e["created_at"].(string); ok && ts != "" {
			e["last_password_change"] = ts
			return nil
		}
		return errors.New("no timestamp to derive last_password_change from")
	})
	if err != nil {
		return nil, err
	}
	return doc, setMetadataVersion(doc, SchemaVersion3)
}

func migrateToV4(doc map[string]any) (map[string]any, error) {
	md, ok := doc["metadata"].(map[string]any)
	if !ok {
		return nil, errors.New("metadata block missing")
	}
	created, err := normalizeTimestamp(md["created_at"])
	if err != nil {
		return nil, fmt.Errorf("metadata.created_at: %w", err)
	}
	delete(doc, "metadata")
	doc["schema_version"] = SchemaVersion4
	doc["created_at"] = created

	err = eachEntry(doc, func(e map[string]any) error {
		rename(e, "password", "secret")
		rename(e, "last_password_change", "last_secret_change_at")
		rename(e, "password_history", "secret_history")

		if t, _ := e["type"].(string); t == "" {
			e["type"] = string(EntryPassword)
		}
		for _, k := range []string{"title", "username", "secret", "notes"} {
			if _, ok := e[k]; !ok {
				e[k] = ""
			}
		}

		if hist, ok := e["secret_history"].([]any); ok {
			for i, h := range hist {
				item, ok := h.(map[string]any)
				if !ok {
					return fmt.Errorf("password_history[%d] is %T, want object", i, h)
				}
				rename(item, "password", "secret")
				ts, err := normalizeTimestamp(item["changed_at"])
				if err != nil {
					return fmt.Errorf("password_history[%d].changed_at: %w", i, err)
				}
				item["changed_at"] = ts
			}
		}

		for _, k := range []string{"created_at", "updated_at", "last_secret_change_at"} {
			ts, err := normalizeTimestamp(e[k])
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			e[k] = ts
		}

		if e["type"] == string(EntryNote) && e["secret"] == "" {
			e["secret"] = e["notes"]
			e["notes"] = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func rename(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
	}
}

// Timestamps written by the original program may lack a zone; those are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func normalizeTimestamp(v any) (string, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", errors.New("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return "", fmt.Errorf("unparsable timestamp %q", s)
}
