// Package backup keeps timestamped copies of a vault file.
//
// Features:
//   - Copy-on-save through the vault.BackupObserver hook
//   - Retention: only the newest KeepCount backups survive a prune
//   - Frequency policy: on every change, daily or weekly
//   - Restore with a safety copy of the file being replaced
//
// Backups are byte-for-byte copies of the encrypted vault file, so they are
// protected by the same passphrase and need no extra key material.
//
// Naming: <stem>-<YYYYMMDDTHHMMSS.nnnnnnnnnZ>[-N]<ext> inside the backup
// directory, where N disambiguates copies made within the same nanosecond.
// The backup ID is the file base name.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/forest6511/sealbox/pkg/fsutil"
	"github.com/forest6511/sealbox/pkg/vault"
)

// Frequency controls how often AfterSave makes a copy.
type Frequency string

const (
	OnChange Frequency = "on_change"
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
)

const (
	// DefaultKeepCount is the retention used when KeepCount is not positive.
	DefaultKeepCount = 5
	// DefaultDirName is the backup directory created next to the vault.
	DefaultDirName = "backups"

	timestampLayout = "20060102T150405.000000000Z"
	fileMode        = 0600
	dirMode         = 0700
)

// Config is the backup policy.
type Config struct {
	Enabled   bool
	Dir       string // empty: <vault dir>/backups
	KeepCount int
	Frequency Frequency
}

// Backup describes one backup file.
type Backup struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Restored Backup
	// SafetyCopy is the backup of the file that was replaced; nil when no
	// vault file existed.
	SafetyCopy *Backup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager creates, lists, prunes and restores backups.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// swapped in tests
	copyFile func(src, dst string) error
}

var _ vault.BackupObserver = (*Manager)(nil)

// New creates a Manager for cfg.
func New(cfg Config, opts ...Option) *Manager {
	if cfg.KeepCount <= 0 {
		cfg.KeepCount = DefaultKeepCount
	}
	m := &Manager{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	m.copyFile = m.copyExclusive
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the policy in effect.
func (m *Manager) Config() Config {
	return m.cfg
}

// Dir returns the backup directory for vaultPath.
func (m *Manager) Dir(vaultPath string) string {
	if m.cfg.Dir != "" {
		return m.cfg.Dir
	}
	return filepath.Join(filepath.Dir(vaultPath), DefaultDirName)
}

func splitName(vaultPath string) (stem, ext string) {
	base := filepath.Base(vaultPath)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

// parseName extracts the timestamp from a backup name of vaultPath.
func parseName(vaultPath, name string) (time.Time, bool) {
	stem, ext := splitName(vaultPath)
	rest, ok := strings.CutPrefix(name, stem+"-")
	if !ok {
		return time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, ext)
	if !ok || len(rest) < len(timestampLayout) {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, rest[:len(timestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	if suffix := rest[len(timestampLayout):]; suffix != "" {
		n, ok := strings.CutPrefix(suffix, "-")
		if !ok {
			return time.Time{}, false
		}
		if _, err := strconv.Atoi(n); err != nil {
			return time.Time{}, false
		}
	}
	return ts, true
}

// Create copies the vault file into the backup directory.
func (m *Manager) Create(vaultPath string) (*Backup, error) {
	info, err := os.Stat(vaultPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultPath)
		}
		return nil, fmt.Errorf("backup: failed to stat vault: %w", err)
	}
	dir := m.Dir(vaultPath)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}

	ts := m.now().UTC()
	stem, ext := splitName(vaultPath)
	base := stem + "-" + ts.Format(timestampLayout)
	for n := 0; ; n++ {
		name := base + ext
		if n > 0 {
			name = base + "-" + strconv.Itoa(n) + ext
		}
		dst := filepath.Join(dir, name)
		err := m.copyFile(vaultPath, dst)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("backup: failed to copy vault: %w", err)
		}
		m.logger.Info("backup created", "id", name, "dir", dir)
		return &Backup{ID: name, Path: dst, CreatedAt: ts, Size: info.Size()}, nil
	}
}

func (m *Manager) copyExclusive(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := fsutil.WriteExclusive(dst, data, fileMode); err != nil {
		if !errors.Is(err, fsutil.ErrNotDurable) {
			return err
		}
		m.logger.Warn("backup written but directory sync failed", "path", dst, "error", err)
	}
	return nil
}

// List returns the backups of vaultPath, newest first. A missing backup
// directory yields an empty list.
func (m *Manager) List(vaultPath string) ([]Backup, error) {
	dir := m.Dir(vaultPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Backup{}, nil
		}
		return nil, fmt.Errorf("backup: failed to read backup directory: %w", err)
	}

	out := make([]Backup, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ts, ok := parseName(vaultPath, e.Name())
		if !ok {
			continue
		}
		b := Backup{ID: e.Name(), Path: filepath.Join(dir, e.Name()), CreatedAt: ts}
		if info, err := e.Info(); err == nil {
			b.Size = info.Size()
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Prune deletes all but the newest KeepCount backups and returns how many
// were removed.
func (m *Manager) Prune(vaultPath string) (int, error) {
	return m.prune(vaultPath, "")
}

// prune skips keep, which is neither counted nor deleted.
func (m *Manager) prune(vaultPath, keep string) (int, error) {
	backups, err := m.List(vaultPath)
	if err != nil {
		return 0, err
	}
	kept, deleted := 0, 0
	var errs []error
	for _, b := range backups {
		if b.ID == keep {
			continue
		}
		if kept < m.cfg.KeepCount {
			kept++
			continue
		}
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		deleted++
		m.logger.Debug("backup pruned", "id", b.ID)
	}
	if len(errs) > 0 {
		return deleted, fmt.Errorf("backup: failed to prune: %w", errors.Join(errs...))
	}
	return deleted, nil
}

// Find returns the backup with the given ID.
func (m *Manager) Find(vaultPath, id string) (*Backup, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackupID, id)
	}
	if _, ok := parseName(vaultPath, id); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackupID, id)
	}
	backups, err := m.List(vaultPath)
	if err != nil {
		return nil, err
	}
	for i := range backups {
		if backups[i].ID == id {
			return &backups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
}

// Restore replaces the vault file with the backup named id. The current
// file, if any, is first backed up; that safety copy is exempt from the
// prune that follows. The backup must decode as a vault envelope.
func (m *Manager) Restore(vaultPath, id string) (*RestoreResult, error) {
	b, err := m.Find(vaultPath, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup: %w", err)
	}
	if _, err := vault.DecodeEnvelope(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptBackup, id, err)
	}

	res := &RestoreResult{Restored: *b}
	if _, err := os.Stat(vaultPath); err == nil {
		safety, err := m.Create(vaultPath)
		if err != nil {
			return nil, fmt.Errorf("backup: safety copy failed, vault untouched: %w", err)
		}
		res.SafetyCopy = safety
	}

	if err := fsutil.AtomicWrite(vaultPath, data, fileMode); err != nil {
		if !errors.Is(err, fsutil.ErrNotDurable) {
			return nil, fmt.Errorf("backup: failed to restore vault file: %w", err)
		}
		m.logger.Warn("vault restored but directory sync failed", "path", vaultPath, "error", err)
	}
	m.logger.Info("vault restored from backup", "id", id, "path", vaultPath)

	if res.SafetyCopy != nil {
		if _, err := m.prune(vaultPath, res.SafetyCopy.ID); err != nil {
			m.logger.Warn("prune after restore failed", "error", err)
		}
	}
	return res, nil
}

// ShouldBackup reports whether a backup is due given the time of the last
// one. A zero last means no backup exists yet.
func (m *Manager) ShouldBackup(last time.Time) bool {
	if m.cfg.Frequency == OnChange {
		return true
	}
	if last.IsZero() {
		return true
	}
	elapsed := m.now().Sub(last)
	switch m.cfg.Frequency {
	case Weekly:
		return elapsed >= 7*24*time.Hour
	default:
		return elapsed >= 24*time.Hour
	}
}

// TotalSize returns the combined size of all backups of vaultPath.
func (m *Manager) TotalSize(vaultPath string) (int64, error) {
	backups, err := m.List(vaultPath)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total, nil
}

// AfterSave implements vault.BackupObserver. It makes a copy when the
// policy says one is due, retrying the copy once, then prunes.
func (m *Manager) AfterSave(ctx context.Context, vaultPath string) error {
	if !m.cfg.Enabled {
		return nil
	}
	backups, err := m.List(vaultPath)
	if err != nil {
		return err
	}
	var last time.Time
	if len(backups) > 0 {
		last = backups[0].CreatedAt
	}
	if !m.ShouldBackup(last) {
		m.logger.Debug("backup not due", "frequency", string(m.cfg.Frequency), "last", last)
		return nil
	}

	b, err := m.Create(vaultPath)
	if err != nil {
		m.logger.Warn("backup failed, retrying", "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if b, err = m.Create(vaultPath); err != nil {
			return err
		}
	}

	deleted, err := m.Prune(vaultPath)
	if err != nil {
		return err
	}
	m.logger.Debug("auto-backup completed", "id", b.ID, "pruned", deleted)
	return nil
}
