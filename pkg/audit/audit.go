// Package audit records vault operations in an append-only JSONL log whose
// records are linked by an HMAC chain, so deletion, reordering or editing of
// records is detectable.
//
// The HMAC key is derived from the vault key with HKDF. When the passphrase
// changes, records written under the old key can no longer have their HMAC
// checked, but their chain links still are.
package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/sealbox/pkg/fsutil"
)

// Operation types
const (
	OpVaultCreate      = "vault.create"
	OpVaultOpen        = "vault.open"
	OpVaultSave        = "vault.save"
	OpVaultLock        = "vault.lock"
	OpVaultExport      = "vault.export"
	OpVaultImport      = "vault.import"
	OpPassphraseChange = "vault.passphrase_change"
	OpEntryAdd         = "entry.add"
	OpEntryUpdate      = "entry.update"
	OpEntryDelete      = "entry.delete"
	OpBackupRestore    = "backup.restore"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	eventVersion = 1
	genesis      = "genesis"
	hkdfInfo     = "sealbox-audit-v1"
	stateFile    = "audit.meta"
	fileMode     = 0600
	dirMode      = 0700
)

// ErrKeyNotSet is returned when logging or verifying before SetKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	// Entry is an HMAC of the entry id, never the id or title itself.
	Entry     string         `json:"entry,omitempty"`
	SessionID string         `json:"session"`
	KeyID     string         `json:"key_id"`
	Result    string         `json:"result"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Context   map[string]any `json:"ctx,omitempty"`
	Chain     Chain          `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends events to monthly files under a directory.
type Logger struct {
	dir       string
	mu        sync.Mutex
	key       []byte
	keyID     string
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
}

// NewLogger creates a logger writing under dir. Nothing is written until
// SetKey is called.
func NewLogger(dir string) *Logger {
	return &Logger{
		dir:       dir,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// SetKey derives the HMAC key from the vault key and loads the chain state.
func (l *Logger) SetKey(vaultKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, vaultKey, nil, []byte(hkdfInfo)), key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.wipeKey()
	l.key = key
	l.keyID = keyID(key)

	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// ClearKey wipes the HMAC key. Subsequent Log calls fail until SetKey.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wipeKey()
}

func (l *Logger) wipeKey() {
	for i := range l.key {
		l.key[i] = 0
	}
	l.key = nil
	l.keyID = ""
}

func keyID(key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("key-id"))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// Log appends one event.
func (l *Logger) Log(op, result, entryID string, errInfo *ErrorInfo, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.dir, dirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	now := l.now().UTC()
	event := Event{
		Version:   eventVersion,
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		SessionID: l.sessionID,
		KeyID:     l.keyID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}
	if entryID != "" {
		mac := hmac.New(sha256.New, l.key)
		mac.Write([]byte(entryID))
		event.Entry = hex.EncodeToString(mac.Sum(nil))
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = sign(l.key, &event)

	if err := l.appendEvent(&event, now); err != nil {
		return err
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, entryID string) error {
	return l.Log(op, ResultSuccess, entryID, nil, nil)
}

// LogError records a failed operation.
func (l *Logger) LogError(op, entryID, code, msg string) error {
	return l.Log(op, ResultError, entryID, &ErrorInfo{Code: code, Message: msg}, nil)
}

// recordData is the canonical byte form that the HMAC covers.
func recordData(e *Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s|", e.Version, e.ID, e.Timestamp,
		e.Operation, e.Entry, e.SessionID, e.KeyID, e.Result)
	if e.Error != nil {
		fmt.Fprintf(&b, "%s|%s", e.Error.Code, e.Error.Message)
	}
	b.WriteByte('|')
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, e.Context[k])
	}
	fmt.Fprintf(&b, "%d|%s", e.Chain.Sequence, e.Chain.PrevHash)
	return []byte(b.String())
}

func sign(key []byte, e *Event) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(recordData(e))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) appendEvent(e *Event, now time.Time) error {
	path := filepath.Join(l.dir, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return f.Sync()
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, stateFile))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.sequence = st.Sequence
	l.prevHash = st.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := fsutil.AtomicWrite(filepath.Join(l.dir, stateFile), data, fileMode); err != nil && !errors.Is(err, fsutil.ErrNotDurable) {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult summarizes a chain check.
type VerifyResult struct {
	Valid        bool `json:"valid"`
	RecordsTotal int  `json:"records_total"`
	// RecordsForeignKey counts records signed under an earlier passphrase;
	// their links are checked but their HMACs cannot be.
	RecordsForeignKey int      `json:"records_foreign_key"`
	Errors            []string `json:"errors,omitempty"`
}

// Verify walks every log file in order and checks sequence numbers, chain
// links and, for records signed with the current key, HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return nil, ErrKeyNotSet
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	expectedPrev := genesis
	var expectedSeq int64 = 1
	for i := range events {
		e := &events[i]
		result.RecordsTotal++

		if e.Chain.Sequence != expectedSeq {
			fail("sequence gap at record %s: expected %d, got %d", e.ID, expectedSeq, e.Chain.Sequence)
		}
		if e.Chain.PrevHash != expectedPrev {
			fail("chain broken at record %s", e.ID)
		}
		if e.KeyID == l.keyID {
			if !hmac.Equal([]byte(e.Chain.HMAC), []byte(sign(l.key, e))) {
				fail("HMAC mismatch at record %s: possible tampering", e.ID)
			}
		} else {
			result.RecordsForeignKey++
		}

		expectedPrev = e.Chain.HMAC
		expectedSeq = e.Chain.Sequence + 1
	}
	return result, nil
}

// ListEvents returns events newer than since (zero means all), keeping only
// the last limit when limit > 0.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err == nil && ts.After(since) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for n, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("audit: %s line %d: %w", filepath.Base(file), n+1, err)
			}
			events = append(events, e)
		}
	}
	return events, nil
}
