package vault

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/sealbox/pkg/crypto"
)

func sampleDocument() *Document {
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Document{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     t0,
		Entries: []*Entry{
			{
				ID: "b0000000-0000-4000-8000-000000000002", Type: EntryNote, Title: "later",
				Secret: "note body", Tags: []string{"z", "a"},
				CreatedAt: t0.Add(time.Hour), UpdatedAt: t0.Add(time.Hour), LastSecretChangeAt: t0.Add(time.Hour),
				SecretHistory: []HistoryItem{},
			},
			{
				ID: "a0000000-0000-4000-8000-000000000001", Type: EntryPassword, Title: "earlier",
				Username: "u", Secret: "s", Tags: []string{},
				CreatedAt: t0, UpdatedAt: t0, LastSecretChangeAt: t0,
				SecretHistory: []HistoryItem{{Secret: "old", ChangedAt: t0}},
			},
		},
	}
}

func TestEncodePayloadIsCanonical(t *testing.T) {
	doc := sampleDocument()
	first, err := EncodePayload(doc)
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	doc.Entries[0], doc.Entries[1] = doc.Entries[1], doc.Entries[0]
	second, err := EncodePayload(doc)
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("entry order should not affect the encoding")
	}

	decoded, err := DecodePayload(first)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if decoded.Entries[0].Title != "earlier" {
		t.Errorf("entries not sorted by created_at: first is %q", decoded.Entries[0].Title)
	}
	if got := decoded.Entries[1].Tags; len(got) != 2 || got[0] != "a" {
		t.Errorf("tags not sorted: %v", got)
	}
	if decoded.SchemaVersion != CurrentSchemaVersion || decoded.MigratedFrom != "" {
		t.Errorf("unexpected version info: %q / %q", decoded.SchemaVersion, decoded.MigratedFrom)
	}
}

func TestEncodePayloadDoesNotMutate(t *testing.T) {
	doc := sampleDocument()
	if _, err := EncodePayload(doc); err != nil {
		t.Fatal(err)
	}
	if doc.Entries[0].Title != "later" || doc.Entries[0].Tags[0] != "z" {
		t.Error("EncodePayload modified its input")
	}
}

func TestDecodePayloadRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", `{{{`, ErrVaultCorrupted},
		{"array", `[]`, ErrVaultCorrupted},
		{"duplicate ids", `{"schema_version":"4","created_at":"2025-01-01T00:00:00Z","entries":[
			{"id":"a0000000-0000-4000-8000-000000000001","type":"password","title":"x","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","last_secret_change_at":"2025-01-01T00:00:00Z"},
			{"id":"a0000000-0000-4000-8000-000000000001","type":"password","title":"y","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","last_secret_change_at":"2025-01-01T00:00:00Z"}]}`, ErrVaultCorrupted},
		{"unknown type", `{"schema_version":"4","created_at":"2025-01-01T00:00:00Z","entries":[
			{"id":"a0000000-0000-4000-8000-000000000001","type":"card","title":"x","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","last_secret_change_at":"2025-01-01T00:00:00Z"}]}`, ErrVaultCorrupted},
		{"future schema", `{"schema_version":"5","created_at":"2025-01-01T00:00:00Z","entries":[]}`, ErrUnsupportedSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload([]byte(tt.payload)); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodePayload() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	params := crypto.TestParams()
	env := &Envelope{
		KDF:           params,
		Nonce:         bytes.Repeat([]byte{1}, crypto.NonceLength),
		Ciphertext:    bytes.Repeat([]byte{2}, 40),
		IntegrityHash: ComputeIntegrityHash([]byte("payload")),
	}

	data, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if raw["format"] != FormatName || raw["schema_version"] != CurrentSchemaVersion {
		t.Errorf("unexpected header: %v %v", raw["format"], raw["schema_version"])
	}

	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if got.Legacy {
		t.Error("modern envelope reported as legacy")
	}
	if !bytes.Equal(got.KDF.Salt, params.Salt) || got.KDF.KDFCost != params.KDFCost {
		t.Errorf("KDF params changed: %+v", got.KDF)
	}
	if !bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
		t.Error("cipher fields changed")
	}
	if got.IntegrityHash != env.IntegrityHash {
		t.Error("integrity hash changed")
	}
}

func TestDecodeLegacyEnvelope(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString
	legacy := map[string]any{
		"salt": b64(bytes.Repeat([]byte{7}, crypto.SaltLength)),
		"data": map[string]string{
			"nonce":      b64(bytes.Repeat([]byte{1}, crypto.NonceLength)),
			"ciphertext": b64(bytes.Repeat([]byte{2}, 32)),
		},
	}
	data, _ := json.Marshal(legacy)

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if !env.Legacy || env.IntegrityHash != "" || env.SchemaVersion != SchemaVersion1 {
		t.Errorf("unexpected legacy envelope: %+v", env)
	}
	want := crypto.KDFCost{TimeCost: 3, MemoryKiB: 65536, Parallelism: 1}
	if env.KDF.KDFCost != want {
		t.Errorf("legacy KDF cost = %+v, want %+v", env.KDF.KDFCost, want)
	}
}

func TestDecodeEnvelopeCorrupted(t *testing.T) {
	params := crypto.TestParams()
	good, err := EncodeEnvelope(&Envelope{
		KDF:        params,
		Nonce:      bytes.Repeat([]byte{1}, crypto.NonceLength),
		Ciphertext: bytes.Repeat([]byte{2}, 40),
	})
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func(m map[string]any)) []byte {
		var m map[string]any
		_ = json.Unmarshal(good, &m)
		f(m)
		out, _ := json.Marshal(m)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not json", []byte("not a vault")},
		{"no format", []byte(`{"hello":"world"}`)},
		{"wrong format", mutate(func(m map[string]any) { m["format"] = "other" })},
		{"missing cipher", mutate(func(m map[string]any) { delete(m, "cipher") })},
		{"bad salt base64", mutate(func(m map[string]any) { m["kdf_params"].(map[string]any)["salt"] = "%%%" })},
		{"short nonce", mutate(func(m map[string]any) {
			m["cipher"].(map[string]any)["nonce"] = base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		})},
		{"truncated ciphertext", mutate(func(m map[string]any) {
			m["cipher"].(map[string]any)["ciphertext"] = base64.StdEncoding.EncodeToString([]byte{1})
		})},
		{"unknown cipher", mutate(func(m map[string]any) { m["cipher"].(map[string]any)["algorithm"] = "chacha20" })},
		{"memory out of range", mutate(func(m map[string]any) { m["kdf_params"].(map[string]any)["memory_cost_kb"] = 1 << 30 })},
		{"unknown kdf", mutate(func(m map[string]any) { m["kdf_params"].(map[string]any)["algorithm"] = "pbkdf2" })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tt.data)
			if !errors.Is(err, ErrVaultCorrupted) {
				t.Errorf("DecodeEnvelope() error = %v, want %v", err, ErrVaultCorrupted)
			}
			if errors.Is(err, ErrAuthenticationFailed) {
				t.Error("corruption must not be reported as authentication failure")
			}
		})
	}

	if strings.Contains(string(good), "integrity_hash") {
		t.Error("empty integrity hash should be omitted")
	}
}
