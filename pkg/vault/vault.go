// Package vault implements the sealbox vault engine: an encrypted,
// single-file store of password and note entries.
//
// A vault file is a JSON envelope carrying the Argon2id parameters, the
// AES-256-GCM nonce and ciphertext, and a SHA-256 integrity hash of the
// plaintext payload. The payload is versioned and migrated forward on load.
//
// A Vault moves between three states:
//
//	Closed --Create/Open--> Open --Lock--> Closed
//	Closed --Open fails---> Error --Open/Lock--> ...
//
// All methods are safe for concurrent use.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/sealbox/pkg/audit"
	"github.com/forest6511/sealbox/pkg/crypto"
	"github.com/forest6511/sealbox/pkg/fsutil"
)

// Constants
const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only

	// Disk capacity thresholds
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

// State is the lifecycle state of a Vault.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// BackupObserver is notified after every successful save.
type BackupObserver interface {
	AfterSave(ctx context.Context, vaultPath string) error
}

// SaveResult describes a completed save. BackupErr is set when the file was
// written but the follow-up backup failed.
type SaveResult struct {
	Path      string
	BackupErr error
}

// ImportMode selects how Import treats the current entries.
type ImportMode int

const (
	// ImportReplace discards the current entries in favor of the source's.
	ImportReplace ImportMode = iota
	// ImportMerge only plans; nothing changes until ApplyImport.
	ImportMerge
)

// ImportPlan is the outcome of Import. For ImportMerge, Add holds source
// entries whose ids are new and Conflicts those whose ids already exist.
type ImportPlan struct {
	Add       []*Entry
	Conflicts []*Entry
	Applied   bool
}

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// Option configures a Vault.
type Option func(*Vault)

// WithLimits sets field limits and the history cap.
func WithLimits(l Limits) Option {
	return func(v *Vault) { v.limits = l }
}

// WithLogger sets the logger. Secrets are never passed to it.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithBackup registers an observer called after each save.
func WithBackup(b BackupObserver) Option {
	return func(v *Vault) { v.backup = b }
}

// WithAudit sets the audit log.
func WithAudit(a *audit.Logger) Option {
	return func(v *Vault) { v.audit = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.clock = now }
}

// Vault is the engine. The zero value is not usable; call New.
type Vault struct {
	mu sync.Mutex

	state     State
	lastErr   error
	path      string
	key       []byte
	params    crypto.KDFParams
	createdAt time.Time
	entries   map[string]*Entry
	legacy    bool
	dirty     bool

	limits Limits
	logger *slog.Logger
	backup BackupObserver
	audit  *audit.Logger
	clock  func() time.Time

	// swapped in tests
	writeFile func(path string, data []byte, perm os.FileMode) error
	diskSpace func(path string) (*DiskSpaceInfo, error)
}

// New creates a closed vault engine.
func New(opts ...Option) *Vault {
	v := &Vault{
		limits:    DefaultLimits(),
		logger:    slog.New(slog.DiscardHandler),
		clock:     time.Now,
		writeFile: fsutil.AtomicWrite,
		diskSpace: CheckDiskSpace,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// now returns the current UTC time without a monotonic reading.
func (v *Vault) now() time.Time {
	return v.clock().UTC().Round(0)
}

// State returns the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the error that put the vault in StateError.
func (v *Vault) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// IsLocked returns whether no vault is open.
func (v *Vault) IsLocked() bool {
	return v.State() != StateOpen
}

// Path returns the path of the open (or last opened) vault file.
func (v *Vault) Path() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.path
}

// Legacy reports whether the open file had no integrity hash. The hash is
// added on the next save.
func (v *Vault) Legacy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.legacy
}

// Dirty reports unsaved changes.
func (v *Vault) Dirty() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dirty
}

// Params returns a copy of the open vault's KDF parameters.
func (v *Vault) Params() (crypto.KDFParams, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return crypto.KDFParams{}, err
	}
	return v.params.Clone(), nil
}

// CreatedAt returns the vault creation time.
func (v *Vault) CreatedAt() (time.Time, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return time.Time{}, err
	}
	return v.createdAt, nil
}

func (v *Vault) requireOpen() error {
	if v.state != StateOpen {
		return ErrVaultLocked
	}
	return nil
}

// Create writes a new empty vault at path and opens it. The salt is always
// freshly generated; only the cost of params is used.
func (v *Vault) Create(path, passphrase string, params crypto.KDFParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateOpen {
		return ErrVaultAlreadyOpen
	}
	if err := validatePassphrase(passphrase); err != nil {
		return err
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultAlreadyExists, path)
	}
	fresh, err := crypto.NewKDFParams(params.KDFCost)
	if err != nil {
		return invalid("kdf_params", "%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return ioErr("create", filepath.Dir(path), err)
	}
	v.cleanTemp(path)

	key, err := crypto.DeriveKey([]byte(passphrase), fresh)
	if err != nil {
		return invalid("kdf_params", "%v", err)
	}
	createdAt := v.now()
	data, err := seal(key, fresh, &Document{CreatedAt: createdAt})
	if err != nil {
		crypto.SecureWipe(key)
		return err
	}
	if err := v.checkDiskSpaceForWrite(path, len(data)); err != nil {
		crypto.SecureWipe(key)
		return ioErr("create", path, err)
	}
	if err := fsutil.WriteExclusive(path, data, FileMode); err != nil {
		switch {
		case errors.Is(err, fsutil.ErrNotDurable):
			v.logger.Warn("vault created but directory sync failed", "path", path, "error", err)
		case errors.Is(err, fs.ErrExist):
			crypto.SecureWipe(key)
			return fmt.Errorf("%w: %s", ErrVaultAlreadyExists, path)
		default:
			crypto.SecureWipe(key)
			return ioErr("create", path, err)
		}
	}

	v.install(path, key, fresh, &Document{CreatedAt: createdAt}, false)
	v.logger.Info("vault created", "path", path)
	v.auditLog(audit.OpVaultCreate, "")
	return nil
}

// Open decrypts the vault at path. A wrong passphrase and a tampered
// ciphertext are indistinguishable and both yield ErrAuthenticationFailed.
func (v *Vault) Open(path, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateOpen {
		return ErrVaultAlreadyOpen
	}
	if err := validatePassphrase(passphrase); err != nil {
		return err
	}

	f, err := readVaultFile(path, passphrase)
	if err != nil {
		v.state = StateError
		v.lastErr = err
		v.path = path
		v.logger.Warn("vault open failed", "path", path, "kind", Kind(err).String())
		return err
	}
	v.checkPermissions(path)
	v.cleanTemp(path)

	legacy := f.env.IntegrityHash == ""
	v.install(path, f.key, f.env.KDF, f.doc, legacy)
	if f.doc.MigratedFrom != "" {
		v.dirty = true
		v.logger.Info("vault payload migrated", "path", path,
			"from", f.doc.MigratedFrom, "to", CurrentSchemaVersion)
	}
	if legacy {
		v.dirty = true
		v.logger.Warn("vault file has no integrity hash, one will be added on next save", "path", path)
	}
	v.logger.Debug("vault opened", "path", path, "entries", len(v.entries))
	v.auditLog(audit.OpVaultOpen, "")
	return nil
}

func (v *Vault) install(path string, key []byte, params crypto.KDFParams, doc *Document, legacy bool) {
	v.path = path
	v.key = key
	v.params = params.Clone()
	v.createdAt = doc.CreatedAt
	v.entries = make(map[string]*Entry, len(doc.Entries))
	for _, e := range doc.Entries {
		v.entries[e.ID] = e
	}
	v.legacy = legacy
	v.dirty = false
	v.lastErr = nil
	v.state = StateOpen
	if v.audit != nil {
		if err := v.audit.SetKey(key); err != nil {
			v.logger.Warn("audit key setup failed", "error", err)
		}
	}
}

// checkPermissions warns about files readable by group or others.
func (v *Vault) checkPermissions(path string) {
	if info, err := os.Stat(path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			v.logger.Warn("vault file has insecure permissions",
				"path", path, "mode", fmt.Sprintf("%04o", perm), "expected", "0600")
		}
	}
}

// cleanTemp removes temp files that an interrupted save left beside path.
func (v *Vault) cleanTemp(path string) {
	dir := filepath.Dir(path)
	if err := fsutil.CleanTemp(dir); err != nil {
		v.logger.Warn("failed to remove stale temp files", "dir", dir, "error", err)
	}
}

type vaultFile struct {
	env *Envelope
	key []byte
	doc *Document
}

func readVaultFile(path, passphrase string) (*vaultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr("read", path, err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey([]byte(passphrase), env.KDF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	payload, err := crypto.Decrypt(key, env.Ciphertext, env.Nonce)
	if err != nil {
		crypto.SecureWipe(key)
		return nil, ErrAuthenticationFailed
	}
	defer crypto.SecureWipe(payload)

	if err := VerifyIntegrity(payload, env.IntegrityHash); err != nil {
		crypto.SecureWipe(key)
		return nil, err
	}
	doc, err := DecodePayload(payload)
	if err != nil {
		crypto.SecureWipe(key)
		return nil, err
	}
	return &vaultFile{env: env, key: key, doc: doc}, nil
}

// ReadVaultFile decrypts a vault file under its own parameters without
// touching any engine state.
func ReadVaultFile(path, passphrase string) (*Document, error) {
	if err := validatePassphrase(passphrase); err != nil {
		return nil, err
	}
	f, err := readVaultFile(path, passphrase)
	if err != nil {
		return nil, err
	}
	crypto.SecureWipe(f.key)
	return f.doc, nil
}

// seal produces the complete file bytes for doc.
func seal(key []byte, params crypto.KDFParams, doc *Document) ([]byte, error) {
	payload, err := EncodePayload(doc)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(payload)

	hash := ComputeIntegrityHash(payload)
	ciphertext, nonce, err := crypto.Encrypt(key, payload)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encrypt payload: %w", err)
	}
	return EncodeEnvelope(&Envelope{
		KDF:           params,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		IntegrityHash: hash,
	})
}

func (v *Vault) document() *Document {
	doc := &Document{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     v.createdAt,
		Entries:       make([]*Entry, 0, len(v.entries)),
	}
	for _, e := range v.entries {
		doc.Entries = append(doc.Entries, e)
	}
	return doc
}

// Save writes the vault back to its file. See SaveContext.
func (v *Vault) Save() (*SaveResult, error) {
	return v.SaveContext(context.Background())
}

// SaveContext encrypts the current state under the cached key with a fresh
// nonce, atomically replaces the file and then notifies the backup observer.
// A backup failure does not fail the save.
func (v *Vault) SaveContext(ctx context.Context) (*SaveResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	data, err := seal(v.key, v.params, v.document())
	if err != nil {
		return nil, err
	}
	if err := v.checkDiskSpaceForWrite(v.path, len(data)); err != nil {
		return nil, ioErr("save", v.path, err)
	}
	if err := v.writeFile(v.path, data, FileMode); err != nil {
		if !errors.Is(err, fsutil.ErrNotDurable) {
			v.logger.Error("vault save failed", "path", v.path, "error", err)
			return nil, ioErr("save", v.path, err)
		}
		v.logger.Warn("vault saved but directory sync failed", "path", v.path, "error", err)
	}
	v.dirty = false
	v.legacy = false
	v.logger.Debug("vault saved", "path", v.path, "entries", len(v.entries))
	v.auditLog(audit.OpVaultSave, "")

	res := &SaveResult{Path: v.path}
	if v.backup != nil {
		if err := v.backup.AfterSave(ctx, v.path); err != nil {
			res.BackupErr = err
			v.logger.Warn("backup after save failed", "path", v.path, "error", err)
		}
	}
	return res, nil
}

// checkDiskSpaceForWrite fails when the volume cannot hold twice the file
// (old and new copies coexist during the rename) and warns when it is
// nearly full. Failure to stat the volume is not fatal.
func (v *Vault) checkDiskSpaceForWrite(path string, dataSize int) error {
	info, err := v.diskSpace(path)
	if err != nil {
		v.logger.Warn("failed to check disk space", "error", err)
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}
	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk, info.Available/(1024*1024), required/(1024*1024))
	}
	if info.UsedPct >= DiskWarningPercent {
		v.logger.Warn("disk is nearly full", "used_pct", info.UsedPct)
	}
	return nil
}

// AddEntry validates and inserts a new entry. The returned entry is a copy.
func (v *Vault) AddEntry(in EntryInput) (*Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	e := newEntry(in, v.now())
	if err := validateEntry(e, v.limits); err != nil {
		return nil, err
	}
	v.entries[e.ID] = e
	v.dirty = true
	v.auditLog(audit.OpEntryAdd, e.ID)
	return e.Clone(), nil
}

func newEntry(in EntryInput, now time.Time) *Entry {
	typ := in.Type
	if typ == "" {
		typ = EntryPassword
	}
	return &Entry{
		ID:                 uuid.NewString(),
		Type:               typ,
		Title:              in.Title,
		Username:           in.Username,
		Secret:             in.Secret,
		Notes:              in.Notes,
		Tags:               normalizeTags(in.Tags),
		Pinned:             in.Pinned,
		CreatedAt:          now,
		UpdatedAt:          now,
		LastSecretChangeAt: now,
		SecretHistory:      []HistoryItem{},
	}
}

// UpdateEntry applies upd to the entry with the given id. The update is
// validated as a whole on a copy; on error the stored entry is unchanged.
// An update that changes nothing is a no-op and does not touch updated_at.
func (v *Vault) UpdateEntry(id string, upd EntryUpdate) (*Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	cur, ok := v.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	next := cur.Clone()
	changed := false
	set := func(dst *string, src *string) {
		if src != nil && *src != *dst {
			*dst = *src
			changed = true
		}
	}

	// History belongs to one variant; a type switch starts it over.
	if upd.Type != nil && *upd.Type != next.Type {
		next.Type = *upd.Type
		next.SecretHistory = []HistoryItem{}
		changed = true
	}
	set(&next.Title, upd.Title)
	set(&next.Username, upd.Username)
	set(&next.Notes, upd.Notes)
	if upd.Tags != nil {
		if tags := normalizeTags(*upd.Tags); !slices.Equal(tags, next.Tags) {
			next.Tags = tags
			changed = true
		}
	}
	if upd.Pinned != nil && *upd.Pinned != next.Pinned {
		next.Pinned = *upd.Pinned
		changed = true
	}

	now := clampTime(v.now(), cur.UpdatedAt)
	if upd.Secret != nil && *upd.Secret != cur.Secret {
		old := next.Secret
		next.Secret = *upd.Secret
		next.LastSecretChangeAt = clampTime(now, cur.LastSecretChangeAt)
		if cur.Type == next.Type && next.Type.keepsHistory() {
			next.pushHistory(old, now, v.limits.historyLimit())
		}
		changed = true
	}
	if !changed {
		return cur.Clone(), nil
	}
	next.UpdatedAt = now

	if err := validateEntry(next, v.limits); err != nil {
		return nil, err
	}
	v.entries[id] = next
	cur.release()
	v.dirty = true
	v.auditLog(audit.OpEntryUpdate, id)
	return next.Clone(), nil
}

// DeleteEntry removes an entry.
func (v *Vault) DeleteEntry(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return err
	}
	e, ok := v.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(v.entries, id)
	e.release()
	v.dirty = true
	v.auditLog(audit.OpEntryDelete, id)
	return nil
}

// Entry returns a copy of one entry.
func (v *Vault) Entry(id string) (*Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	e, ok := v.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e.Clone(), nil
}

// Entries returns copies of all entries in canonical order.
func (v *Vault) Entries() ([]*Entry, error) {
	return v.Find(Query{})
}

// Find returns copies of entries matching q in canonical order.
func (v *Vault) Find(q Query) ([]*Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(v.entries))
	for _, e := range v.entries {
		if q.matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	return out, nil
}

// Tags returns every tag in use with its entry count.
func (v *Vault) Tags() (map[string]int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, e := range v.entries {
		for _, t := range e.Tags {
			counts[t]++
		}
	}
	return counts, nil
}

// Export writes the in-memory vault to target with the same key and
// parameters and a fresh nonce. It never overwrites an existing file.
func (v *Vault) Export(target string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return err
	}
	if _, err := os.Lstat(target); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultAlreadyExists, target)
	}
	data, err := seal(v.key, v.params, v.document())
	if err != nil {
		return err
	}
	if err := fsutil.WriteExclusive(target, data, FileMode); err != nil {
		switch {
		case errors.Is(err, fsutil.ErrNotDurable):
			v.logger.Warn("vault exported but directory sync failed", "target", target, "error", err)
		case errors.Is(err, fs.ErrExist):
			return fmt.Errorf("%w: %s", ErrVaultAlreadyExists, target)
		default:
			return ioErr("export", target, err)
		}
	}
	v.logger.Info("vault exported", "target", target, "entries", len(v.entries))
	v.auditLog(audit.OpVaultExport, "")
	return nil
}

// Import reads another vault file. With ImportReplace the current entries
// are replaced immediately; with ImportMerge a plan is returned and nothing
// changes until ApplyImport.
func (v *Vault) Import(source, passphrase string, mode ImportMode) (*ImportPlan, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	switch mode {
	case ImportReplace, ImportMerge:
	default:
		return nil, invalid("mode", "unknown import mode %d", mode)
	}
	if err := validatePassphrase(passphrase); err != nil {
		return nil, err
	}
	f, err := readVaultFile(source, passphrase)
	if err != nil {
		return nil, err
	}
	crypto.SecureWipe(f.key)

	plan := &ImportPlan{}
	switch mode {
	case ImportReplace:
		for _, e := range v.entries {
			e.release()
		}
		v.entries = make(map[string]*Entry, len(f.doc.Entries))
		for _, e := range f.doc.Entries {
			v.entries[e.ID] = e
			plan.Add = append(plan.Add, e.Clone())
		}
		plan.Applied = true
		v.dirty = true
		v.auditLogCtx(audit.OpVaultImport, map[string]any{"mode": "replace", "count": len(plan.Add)})
	case ImportMerge:
		for _, e := range f.doc.Entries {
			if _, exists := v.entries[e.ID]; exists {
				plan.Conflicts = append(plan.Conflicts, e)
			} else {
				plan.Add = append(plan.Add, e)
			}
		}
	}
	return plan, nil
}

// ApplyImport inserts entries from a merge plan, replacing any entry with
// the same id. All entries are validated before any is inserted.
func (v *Vault) ApplyImport(entries []*Entry) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return 0, err
	}
	staged := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		c := e.Clone()
		c.Tags = normalizeTags(c.Tags)
		if _, err := uuid.Parse(c.ID); err != nil {
			return 0, invalid("id", "malformed id %q", c.ID)
		}
		if err := validateEntry(c, v.limits); err != nil {
			return 0, err
		}
		staged = append(staged, c)
	}
	for _, c := range staged {
		if old, ok := v.entries[c.ID]; ok {
			old.release()
		}
		v.entries[c.ID] = c
	}
	if len(staged) > 0 {
		v.dirty = true
		v.auditLogCtx(audit.OpVaultImport, map[string]any{"mode": "merge", "count": len(staged)})
	}
	return len(staged), nil
}

// ImportEntries turns importer output into entries. Either every proto-entry
// is valid and all are inserted, or none are.
func (v *Vault) ImportEntries(protos []ProtoEntry) ([]*Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	now := v.now()
	staged := make([]*Entry, 0, len(protos))
	for i, p := range protos {
		e := newEntry(p.EntryInput, now)
		if !p.CreatedAt.IsZero() && p.CreatedAt.Before(now) {
			e.CreatedAt = p.CreatedAt.UTC().Round(0)
			e.LastSecretChangeAt = e.CreatedAt
		}
		if err := validateEntry(e, v.limits); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, invalid(ve.Field, "item %d (%q): %s", i+1, p.Title, ve.Reason)
			}
			return nil, err
		}
		staged = append(staged, e)
	}

	out := make([]*Entry, 0, len(staged))
	for _, e := range staged {
		v.entries[e.ID] = e
		out = append(out, e.Clone())
	}
	if len(staged) > 0 {
		v.dirty = true
		v.auditLogCtx(audit.OpVaultImport, map[string]any{"mode": "external", "count": len(staged)})
	}
	return out, nil
}

// ChangePassphrase re-keys the vault with a new salt and the cost of
// params. The file is rewritten on the next save.
func (v *Vault) ChangePassphrase(newPassphrase string, params crypto.KDFParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return err
	}
	if err := validatePassphrase(newPassphrase); err != nil {
		return err
	}
	fresh, err := crypto.NewKDFParams(params.KDFCost)
	if err != nil {
		return invalid("kdf_params", "%v", err)
	}
	key, err := crypto.DeriveKey([]byte(newPassphrase), fresh)
	if err != nil {
		return invalid("kdf_params", "%v", err)
	}

	v.auditLog(audit.OpPassphraseChange, "")
	crypto.SecureWipe(v.key)
	v.key = key
	v.params = fresh
	v.dirty = true
	if v.audit != nil {
		if err := v.audit.SetKey(key); err != nil {
			v.logger.Warn("audit key setup failed", "error", err)
		}
	}
	v.logger.Info("vault passphrase changed", "time_cost", fresh.TimeCost,
		"memory_cost_kb", fresh.MemoryKiB, "parallelism", fresh.Parallelism)
	return nil
}

// Lock wipes the key, drops all entries and returns to StateClosed.
// Unsaved changes are discarded. Lock on a closed vault is a no-op.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateOpen {
		v.auditLog(audit.OpVaultLock, "")
		if v.dirty {
			v.logger.Warn("vault locked with unsaved changes", "path", v.path)
		}
	}
	if v.audit != nil {
		v.audit.ClearKey()
	}
	if v.key != nil {
		crypto.SecureWipe(v.key)
		v.key = nil
	}
	for _, e := range v.entries {
		e.release()
	}
	v.entries = nil
	v.params = crypto.KDFParams{}
	v.createdAt = time.Time{}
	v.legacy = false
	v.dirty = false
	v.lastErr = nil
	v.state = StateClosed
}

// ErrNoAudit is returned by the audit accessors when no audit log is set.
var ErrNoAudit = errors.New("vault: no audit log configured")

// AuditVerify checks the audit chain under the open vault's key.
func (v *Vault) AuditVerify() (*audit.VerifyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if v.audit == nil {
		return nil, ErrNoAudit
	}
	return v.audit.Verify()
}

// AuditEvents returns the last limit audit events newer than since.
func (v *Vault) AuditEvents(limit int, since time.Time) ([]audit.Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if v.audit == nil {
		return nil, ErrNoAudit
	}
	return v.audit.ListEvents(limit, since)
}

// RecordAudit appends an event for an operation done outside the engine,
// such as a restore from backup.
func (v *Vault) RecordAudit(op string, ctx map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateOpen {
		return
	}
	v.auditLogCtx(op, ctx)
}

func (v *Vault) auditLog(op, entryID string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogSuccess(op, entryID); err != nil {
		v.logger.Debug("audit log write failed", "op", op, "error", err)
	}
}

func (v *Vault) auditLogCtx(op string, ctx map[string]any) {
	if v.audit == nil {
		return
	}
	if err := v.audit.Log(op, audit.ResultSuccess, "", nil, ctx); err != nil {
		v.logger.Debug("audit log write failed", "op", op, "error", err)
	}
}
