package vault

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forest6511/sealbox/pkg/crypto"
)

// FormatName identifies sealbox vault files.
const FormatName = "sealbox-vault"

// Fixed derivation cost of files written before parameters were stored.
const (
	legacyTimeCost    = 3
	legacyMemoryKiB   = 64 * 1024
	legacyParallelism = 1
)

// Document is the decrypted payload.
type Document struct {
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Entries       []*Entry  `json:"entries"`

	// MigratedFrom is the schema the payload was read at, if it differed
	// from the current one.
	MigratedFrom string `json:"-"`
}

// Envelope is the outer, unencrypted part of a vault file.
type Envelope struct {
	SchemaVersion string
	KDF           crypto.KDFParams
	Nonce         []byte
	Ciphertext    []byte
	IntegrityHash string
	// Legacy is set for files in the original {salt, data} layout.
	Legacy bool
}

type kdfJSON struct {
	Algorithm   string `json:"algorithm"`
	TimeCost    uint32 `json:"time_cost"`
	MemoryKiB   uint32 `json:"memory_cost_kb"`
	Parallelism uint8  `json:"parallelism"`
	Salt        string `json:"salt"`
}

type cipherJSON struct {
	Algorithm  string `json:"algorithm,omitempty"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type envelopeJSON struct {
	Format        string      `json:"format"`
	SchemaVersion string      `json:"schema_version"`
	KDF           *kdfJSON    `json:"kdf_params"`
	Cipher        *cipherJSON `json:"cipher"`
	IntegrityHash string      `json:"integrity_hash,omitempty"`
}

type legacyEnvelopeJSON struct {
	Salt string      `json:"salt"`
	Data *cipherJSON `json:"data"`
}

// EncodeEnvelope serializes env in the current file format.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	out := envelopeJSON{
		Format:        FormatName,
		SchemaVersion: CurrentSchemaVersion,
		KDF: &kdfJSON{
			Algorithm:   env.KDF.Algorithm,
			TimeCost:    env.KDF.TimeCost,
			MemoryKiB:   env.KDF.MemoryKiB,
			Parallelism: env.KDF.Parallelism,
			Salt:        base64.StdEncoding.EncodeToString(env.KDF.Salt),
		},
		Cipher: &cipherJSON{
			Algorithm:  crypto.CipherAlgorithm,
			Nonce:      base64.StdEncoding.EncodeToString(env.Nonce),
			Ciphertext: base64.StdEncoding.EncodeToString(env.Ciphertext),
		},
		IntegrityHash: env.IntegrityHash,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeEnvelope parses a vault file. Anything malformed, including
// out-of-range KDF parameters, yields ErrVaultCorrupted.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrVaultCorrupted, err)
	}
	if _, ok := probe["format"]; !ok {
		if _, ok := probe["salt"]; ok {
			return decodeLegacyEnvelope(data)
		}
		return nil, fmt.Errorf("%w: missing format marker", ErrVaultCorrupted)
	}

	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	if raw.Format != FormatName {
		return nil, fmt.Errorf("%w: unknown format %q", ErrVaultCorrupted, raw.Format)
	}
	if raw.KDF == nil || raw.Cipher == nil {
		return nil, fmt.Errorf("%w: missing kdf_params or cipher", ErrVaultCorrupted)
	}
	if raw.Cipher.Algorithm != crypto.CipherAlgorithm {
		return nil, fmt.Errorf("%w: unsupported cipher %q", ErrVaultCorrupted, raw.Cipher.Algorithm)
	}

	salt, err := decodeB64("kdf_params.salt", raw.KDF.Salt)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		SchemaVersion: raw.SchemaVersion,
		KDF: crypto.KDFParams{
			Algorithm: raw.KDF.Algorithm,
			KDFCost: crypto.KDFCost{
				TimeCost:    raw.KDF.TimeCost,
				MemoryKiB:   raw.KDF.MemoryKiB,
				Parallelism: raw.KDF.Parallelism,
			},
			Salt: salt,
		},
		IntegrityHash: raw.IntegrityHash,
	}
	if err := decodeCipher(env, raw.Cipher); err != nil {
		return nil, err
	}
	if err := env.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return env, nil
}

func decodeLegacyEnvelope(data []byte) (*Envelope, error) {
	var raw legacyEnvelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("%w: legacy file without data", ErrVaultCorrupted)
	}
	salt, err := decodeB64("salt", raw.Salt)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		SchemaVersion: SchemaVersion1,
		KDF: crypto.KDFParams{
			Algorithm: crypto.KDFAlgorithm,
			KDFCost: crypto.KDFCost{
				TimeCost:    legacyTimeCost,
				MemoryKiB:   legacyMemoryKiB,
				Parallelism: legacyParallelism,
			},
			Salt: salt,
		},
		Legacy: true,
	}
	if err := decodeCipher(env, raw.Data); err != nil {
		return nil, err
	}
	if err := env.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return env, nil
}

func decodeCipher(env *Envelope, c *cipherJSON) error {
	var err error
	if env.Nonce, err = decodeB64("nonce", c.Nonce); err != nil {
		return err
	}
	if len(env.Nonce) != crypto.NonceLength {
		return fmt.Errorf("%w: nonce is %d bytes", ErrVaultCorrupted, len(env.Nonce))
	}
	if env.Ciphertext, err = decodeB64("ciphertext", c.Ciphertext); err != nil {
		return err
	}
	if len(env.Ciphertext) < crypto.TagLength {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrVaultCorrupted)
	}
	return nil
}

func decodeB64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", ErrVaultCorrupted, field)
	}
	return b, nil
}

// EncodePayload serializes doc canonically at the current schema version:
// entries sorted by created_at then id, tags sorted, times in UTC.
func EncodePayload(doc *Document) ([]byte, error) {
	out := Document{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     doc.CreatedAt.UTC(),
		Entries:       make([]*Entry, 0, len(doc.Entries)),
	}
	for _, e := range doc.Entries {
		c := e.Clone()
		c.Tags = normalizeTags(c.Tags)
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		c.LastSecretChangeAt = c.LastSecretChangeAt.UTC()
		for i := range c.SecretHistory {
			c.SecretHistory[i].ChangedAt = c.SecretHistory[i].ChangedAt.UTC()
		}
		out.Entries = append(out.Entries, c)
	}
	sortEntries(out.Entries)

	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses a decrypted payload of any supported schema version,
// migrating it to the current one.
func DecodePayload(data []byte) (*Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrVaultCorrupted, err)
	}

	migrated, from, err := Migrate(raw)
	if err != nil {
		return nil, err
	}

	current := data
	if from != CurrentSchemaVersion {
		if current, err = json.Marshal(migrated); err != nil {
			return nil, &MigrationError{From: from, To: CurrentSchemaVersion, Err: err}
		}
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(current))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	if err := validateDocument(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	for _, e := range doc.Entries {
		if e.Tags == nil {
			e.Tags = []string{}
		}
		if e.SecretHistory == nil {
			e.SecretHistory = []HistoryItem{}
		}
	}
	if from != CurrentSchemaVersion {
		doc.MigratedFrom = from
	}
	return &doc, nil
}
