package vault

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func loadRawFixture(t *testing.T, name string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal(loadFixture(t, name), &raw); err != nil {
		t.Fatalf("fixture %s is not JSON: %v", name, err)
	}
	return raw
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want string
	}{
		{"metadata string", map[string]any{"metadata": map[string]any{"version": "1.0"}}, "1.0"},
		{"top level", map[string]any{"schema_version": "4"}, "4"},
		{"numeric", map[string]any{"schema_version": float64(3)}, "3"},
		{"numeric 1.0", map[string]any{"metadata": map[string]any{"version": 1.0}}, SchemaVersion1},
		{"string 1", map[string]any{"metadata": map[string]any{"version": "1"}}, SchemaVersion1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detectVersion(tt.doc)
			if err != nil {
				t.Fatalf("detectVersion() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("detectVersion() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := detectVersion(map[string]any{"entries": []any{}}); err == nil {
		t.Error("detectVersion() without a version should fail")
	}
}

func TestMigrateV1ToCurrent(t *testing.T) {
	raw := loadRawFixture(t, "payload_v1.json")

	doc, from, err := Migrate(raw)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if from != SchemaVersion1 {
		t.Errorf("from = %q, want %q", from, SchemaVersion1)
	}
	if doc["schema_version"] != CurrentSchemaVersion {
		t.Errorf("schema_version = %v, want %s", doc["schema_version"], CurrentSchemaVersion)
	}
	if _, ok := doc["metadata"]; ok {
		t.Error("metadata block should be hoisted away")
	}
	if doc["created_at"] != "2024-05-01T10:00:00Z" {
		t.Errorf("created_at = %v", doc["created_at"])
	}

	entries := doc["entries"].([]any)
	mail := entries[0].(map[string]any)
	if mail["secret"] != "p1" {
		t.Errorf("secret = %v, want p1", mail["secret"])
	}
	if _, ok := mail["password"]; ok {
		t.Error("password field should be renamed")
	}
	if mail["notes"] != "work account" {
		t.Errorf("notes = %v", mail["notes"])
	}
	if mail["pinned"] != false {
		t.Errorf("pinned = %v, want false", mail["pinned"])
	}
	if tags, ok := mail["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tags = %v, want []", mail["tags"])
	}
	if hist, ok := mail["secret_history"].([]any); !ok || len(hist) != 0 {
		t.Errorf("secret_history = %v, want []", mail["secret_history"])
	}
	if mail["last_secret_change_at"] != "2024-05-02T08:00:00Z" {
		t.Errorf("last_secret_change_at = %v, want updated_at", mail["last_secret_change_at"])
	}

	note := entries[1].(map[string]any)
	if note["secret"] != "router code 1234" || note["notes"] != "" {
		t.Errorf("note body should move to secret, got secret=%v notes=%v", note["secret"], note["notes"])
	}
	if note["created_at"] != "2024-05-01T10:06:00Z" {
		t.Errorf("naive timestamp should be read as UTC, got %v", note["created_at"])
	}
}

func TestMigrateNumericV1Version(t *testing.T) {
	var raw map[string]any
	payload := `{"metadata": {"version": 1.0, "created_at": "2024-05-01T10:00:00Z"}, "entries": []}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatal(err)
	}
	doc, from, err := Migrate(raw)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if from != SchemaVersion1 {
		t.Errorf("from = %q, want %q", from, SchemaVersion1)
	}
	if doc["schema_version"] != CurrentSchemaVersion {
		t.Errorf("schema_version = %v, want %s", doc["schema_version"], CurrentSchemaVersion)
	}
}

func TestMigrateV3History(t *testing.T) {
	doc, err := DecodePayload(loadFixture(t, "payload_v3.json"))
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if doc.MigratedFrom != SchemaVersion3 {
		t.Errorf("MigratedFrom = %q, want %q", doc.MigratedFrom, SchemaVersion3)
	}
	if len(doc.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(doc.Entries))
	}
	e := doc.Entries[0]
	want := []HistoryItem{
		{Secret: "first-pass", ChangedAt: time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)},
		{Secret: "second-pass", ChangedAt: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
	}
	if !reflect.DeepEqual(e.SecretHistory, want) {
		t.Errorf("SecretHistory = %+v, want %+v", e.SecretHistory, want)
	}
	if !e.Pinned || !reflect.DeepEqual(e.Tags, []string{"finance", "important"}) {
		t.Errorf("tags/pinned lost: %v %v", e.Tags, e.Pinned)
	}
	if !e.LastSecretChangeAt.Equal(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("LastSecretChangeAt = %v", e.LastSecretChangeAt)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	data := loadFixture(t, "payload_v1.json")

	first, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	second, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("decoding the same legacy payload twice gave different documents")
	}

	// Re-migrating a current document changes nothing.
	raw := loadRawFixture(t, "payload_v1.json")
	once, _, err := Migrate(raw)
	if err != nil {
		t.Fatal(err)
	}
	twice, from, err := Migrate(deepCopy(once).(map[string]any))
	if err != nil {
		t.Fatal(err)
	}
	if from != CurrentSchemaVersion || !reflect.DeepEqual(once, twice) {
		t.Error("migrating a current document should be a no-op")
	}
}

func TestMigrateDoesNotMutateInput(t *testing.T) {
	raw := loadRawFixture(t, "payload_v1.json")
	before := deepCopy(raw)

	if _, _, err := Migrate(raw); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(raw, before) {
		t.Error("Migrate modified its input")
	}
}

func TestMigrateVersionErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     map[string]any
		wantErr error
	}{
		{"future version", loadRawFixture(t, "payload_future.json"), ErrUnsupportedSchema},
		{"unknown lower version", map[string]any{"metadata": map[string]any{"version": "0.5"}}, ErrMigrationFailed},
		{"garbage version", map[string]any{"schema_version": "abc"}, ErrMigrationFailed},
		{"missing version", map[string]any{"entries": []any{}}, ErrMigrationFailed},
		{"boolean version", map[string]any{"schema_version": true}, ErrMigrationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Migrate(tt.doc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Migrate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationStepFailure(t *testing.T) {
	doc := map[string]any{
		"metadata": map[string]any{"version": "2", "created_at": "2024-01-01T00:00:00Z"},
		"entries": []any{
			map[string]any{"id": "5b1f0a52-8f0e-4c3a-9d57-0f6f6d7c2a11", "type": "password", "title": "x"},
		},
	}

	_, _, err := Migrate(doc)
	var me *MigrationError
	if !errors.As(err, &me) {
		t.Fatalf("Migrate() error = %v, want *MigrationError", err)
	}
	if me.From != SchemaVersion2 || me.To != SchemaVersion3 {
		t.Errorf("MigrationError = %s -> %s, want 2 -> 3", me.From, me.To)
	}
	if !errors.Is(err, ErrMigrationFailed) {
		t.Error("MigrationError should match ErrMigrationFailed")
	}
}

func TestMigrationStepsIndividually(t *testing.T) {
	t.Run("v2 adds tags and pinned", func(t *testing.T) {
		doc := loadRawFixture(t, "payload_v1.json")
		out, err := migrateToV2(doc)
		if err != nil {
			t.Fatal(err)
		}
		e := out["entries"].([]any)[0].(map[string]any)
		if _, ok := e["tags"]; !ok {
			t.Error("tags missing")
		}
		if e["pinned"] != false {
			t.Error("pinned missing")
		}
		if out["metadata"].(map[string]any)["version"] != SchemaVersion2 {
			t.Error("version not bumped")
		}
	})

	t.Run("v3 falls back to created_at", func(t *testing.T) {
		doc := map[string]any{
			"metadata": map[string]any{"version": "2"},
			"entries":  []any{map[string]any{"created_at": "2024-01-01T00:00:00Z"}},
		}
		out, err := migrateToV3(doc)
		if err != nil {
			t.Fatal(err)
		}
		e := out["entries"].([]any)[0].(map[string]any)
		if e["last_password_change"] != "2024-01-01T00:00:00Z" {
			t.Errorf("last_password_change = %v", e["last_password_change"])
		}
	})

	t.Run("v4 requires metadata", func(t *testing.T) {
		if _, err := migrateToV4(map[string]any{"entries": []any{}}); err == nil {
			t.Error("expected error without metadata")
		}
	})

	t.Run("v4 rejects bad timestamps", func(t *testing.T) {
		doc := map[string]any{
			"metadata": map[string]any{"version": "3", "created_at": "yesterday"},
			"entries":  []any{},
		}
		if _, err := migrateToV4(doc); err == nil {
			t.Error("expected error for unparsable created_at")
		}
	})
}
