package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/sealbox/pkg/crypto"
	"github.com/forest6511/sealbox/pkg/vault"
)

// stepClock advances by one second on every call.
type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// writeVaultFile writes a structurally valid envelope with arbitrary
// ciphertext; backups never decrypt.
func writeVaultFile(t *testing.T, path string, fill byte) []byte {
	t.Helper()
	data, err := vault.EncodeEnvelope(&vault.Envelope{
		KDF:        crypto.TestParams(),
		Nonce:      bytes.Repeat([]byte{fill}, crypto.NonceLength),
		Ciphertext: bytes.Repeat([]byte{fill}, 64),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return data
}

func setup(t *testing.T, cfg Config) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.sbx")
	writeVaultFile(t, path, 1)
	return New(cfg, WithClock(newClock().Now)), path
}

func TestCreate(t *testing.T) {
	m, path := setup(t, Config{Enabled: true, KeepCount: 5, Frequency: OnChange})

	b, err := m.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if want := "main-20250301T120001.000000000Z.sbx"; b.ID != want {
		t.Errorf("ID = %q, want %q", b.ID, want)
	}
	if filepath.Dir(b.Path) != filepath.Join(filepath.Dir(path), DefaultDirName) {
		t.Errorf("backup written to %s, want default dir", b.Path)
	}

	orig, _ := os.ReadFile(path)
	copied, err := os.ReadFile(b.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(orig, copied) {
		t.Error("backup is not a byte-for-byte copy")
	}
	if info, _ := os.Stat(b.Path); os.PathSeparator == '/' && info.Mode().Perm() != 0600 {
		t.Errorf("backup mode = %04o, want 0600", info.Mode().Perm())
	}
	if b.Size != int64(len(orig)) {
		t.Errorf("Size = %d, want %d", b.Size, len(orig))
	}
}

func TestCreateMissingVault(t *testing.T) {
	m := New(Config{})
	_, err := m.Create(filepath.Join(t.TempDir(), "absent.sbx"))
	if !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("Create() error = %v, want %v", err, ErrVaultNotFound)
	}
}

func TestCreateSameInstant(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 5, time.UTC)
	path := filepath.Join(t.TempDir(), "main.sbx")
	writeVaultFile(t, path, 1)
	m := New(Config{}, WithClock(func() time.Time { return fixed }))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		b, err := m.Create(path)
		if err != nil {
			t.Fatalf("Create #%d failed: %v", i, err)
		}
		if seen[b.ID] {
			t.Fatalf("duplicate backup id %s", b.ID)
		}
		seen[b.ID] = true
	}
	if !seen["main-20250301T120000.000000005Z-2.sbx"] {
		t.Errorf("expected counter suffix, got %v", seen)
	}
	list, _ := m.List(path)
	if len(list) != 3 {
		t.Errorf("List() = %d backups, want 3", len(list))
	}
}

func TestCustomDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "elsewhere")
	m, path := setup(t, Config{Dir: dir})

	b, err := m.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(b.Path) != dir {
		t.Errorf("backup in %s, want %s", filepath.Dir(b.Path), dir)
	}
}

func TestListIgnoresOtherFiles(t *testing.T) {
	m, path := setup(t, Config{})
	if _, err := m.Create(path); err != nil {
		t.Fatal(err)
	}
	dir := m.Dir(path)
	for _, name := range []string{
		"other-20250301T120000.000000000Z.sbx",
		"main-notatimestamp.sbx",
		"main-20250301T120000.000000000Z.txt",
		"main-20250301T120000.000000000Z-x.sbx",
		"notes.md",
	} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600)
	}
	os.Mkdir(filepath.Join(dir, "main-20250301T120000.000000000Z.sbx.d"), 0700)

	list, err := m.List(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("List() = %+v, want only the real backup", list)
	}
}

func TestListEmpty(t *testing.T) {
	m, path := setup(t, Config{})
	list, err := m.List(path)
	if err != nil {
		t.Fatalf("List() with no backup dir: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() = %v, want empty", list)
	}
}

func TestRetention(t *testing.T) {
	const keep = 3
	m, path := setup(t, Config{Enabled: true, KeepCount: keep, Frequency: OnChange})

	var ids []string
	for i := 0; i < keep+5; i++ {
		writeVaultFile(t, path, byte(i))
		if err := m.AfterSave(context.Background(), path); err != nil {
			t.Fatalf("AfterSave #%d failed: %v", i, err)
		}
		list, _ := m.List(path)
		ids = append(ids, list[0].ID)
	}

	list, err := m.List(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != keep {
		t.Fatalf("%d backups remain, want %d", len(list), keep)
	}
	for i, b := range list {
		if want := ids[len(ids)-1-i]; b.ID != want {
			t.Errorf("list[%d] = %s, want %s", i, b.ID, want)
		}
	}

	// newest backup holds the last save
	last, _ := os.ReadFile(list[0].Path)
	current, _ := os.ReadFile(path)
	if !bytes.Equal(last, current) {
		t.Error("newest backup does not match the last save")
	}
}

func TestPrune(t *testing.T) {
	m, path := setup(t, Config{KeepCount: 2})
	for i := 0; i < 5; i++ {
		if _, err := m.Create(path); err != nil {
			t.Fatal(err)
		}
	}
	n, err := m.Prune(path)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() deleted %d, want 3", n)
	}
	if n, _ := m.Prune(path); n != 0 {
		t.Errorf("second Prune() deleted %d, want 0", n)
	}
}

func TestRestore(t *testing.T) {
	m, path := setup(t, Config{KeepCount: 2})
	original, _ := os.ReadFile(path)
	old, err := m.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	current := writeVaultFile(t, path, 9)

	res, err := m.Restore(path, old.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	restored, _ := os.ReadFile(path)
	if !bytes.Equal(restored, original) {
		t.Error("vault file does not hold the restored backup")
	}
	if res.SafetyCopy == nil {
		t.Fatal("no safety copy made")
	}
	safety, err := os.ReadFile(res.SafetyCopy.Path)
	if err != nil {
		t.Fatalf("safety copy missing: %v", err)
	}
	if !bytes.Equal(safety, current) {
		t.Error("safety copy does not hold the replaced file")
	}
	if res.Restored.ID != old.ID {
		t.Errorf("Restored.ID = %s", res.Restored.ID)
	}
}

func TestRestoreKeepsSafetyCopyWhenPruning(t *testing.T) {
	m, path := setup(t, Config{KeepCount: 1})
	first, _ := m.Create(path)
	if _, err := m.Create(path); err != nil {
		t.Fatal(err)
	}

	res, err := m.Restore(path, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(res.SafetyCopy.Path); err != nil {
		t.Errorf("safety copy pruned: %v", err)
	}
}

func TestRestoreWithoutVaultFile(t *testing.T) {
	m, path := setup(t, Config{})
	b, err := m.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(path)

	res, err := m.Restore(path, b.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if res.SafetyCopy != nil {
		t.Error("no safety copy expected when there was no vault file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("vault file not restored")
	}
}

func TestRestoreErrors(t *testing.T) {
	m, path := setup(t, Config{})
	b, err := m.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(m.Dir(path), "main-20240101T000000.000000000Z.sbx")
	os.WriteFile(corrupt, []byte("garbage"), 0600)
	before, _ := os.ReadFile(path)

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"traversal", "../main.sbx", ErrInvalidBackupID},
		{"empty", "", ErrInvalidBackupID},
		{"foreign name", "other-20250301T120001.000000000Z.sbx", ErrInvalidBackupID},
		{"absent", strings.Replace(b.ID, "120001", "130000", 1), ErrBackupNotFound},
		{"corrupt", filepath.Base(corrupt), ErrCorruptBackup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Restore(path, tt.id); !errors.Is(err, tt.wantErr) {
				t.Errorf("Restore(%q) error = %v, want %v", tt.id, err, tt.wantErr)
			}
		})
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("failed restore changed the vault file")
	}
}

func TestShouldBackup(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		freq Frequency
		last time.Time
		want bool
	}{
		{OnChange, now, true},
		{Daily, time.Time{}, true},
		{Daily, now.Add(-23 * time.Hour), false},
		{Daily, now.Add(-24 * time.Hour), true},
		{Weekly, now.Add(-6 * 24 * time.Hour), false},
		{Weekly, now.Add(-7 * 24 * time.Hour), true},
		{"hourly", now.Add(-2 * time.Hour), false},
		{"hourly", now.Add(-25 * time.Hour), true},
	}
	for _, tt := range tests {
		m := New(Config{Frequency: tt.freq}, WithClock(clock))
		if got := m.ShouldBackup(tt.last); got != tt.want {
			t.Errorf("ShouldBackup(%s, %v ago) = %v, want %v", tt.freq, now.Sub(tt.last), got, tt.want)
		}
	}
}

func TestAfterSaveFrequency(t *testing.T) {
	m, path := setup(t, Config{Enabled: true, Frequency: Daily})
	for i := 0; i < 3; i++ {
		if err := m.AfterSave(context.Background(), path); err != nil {
			t.Fatal(err)
		}
	}
	list, _ := m.List(path)
	if len(list) != 1 {
		t.Errorf("daily policy made %d backups within seconds, want 1", len(list))
	}
}

func TestAfterSaveDisabled(t *testing.T) {
	m, path := setup(t, Config{Enabled: false})
	if err := m.AfterSave(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if list, _ := m.List(path); len(list) != 0 {
		t.Error("disabled manager made a backup")
	}
}

func TestAfterSaveRetriesOnce(t *testing.T) {
	m, path := setup(t, Config{Enabled: true, Frequency: OnChange})
	calls := 0
	copyOnce := m.copyFile
	m.copyFile = func(src, dst string) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return copyOnce(src, dst)
	}

	if err := m.AfterSave(context.Background(), path); err != nil {
		t.Fatalf("AfterSave should succeed on retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("copy attempted %d times, want 2", calls)
	}

	m.copyFile = func(string, string) error { return errors.New("disk gone") }
	if err := m.AfterSave(context.Background(), path); err == nil {
		t.Error("AfterSave should fail when both attempts fail")
	}
}

func TestTotalSize(t *testing.T) {
	m, path := setup(t, Config{})
	info, _ := os.Stat(path)
	for i := 0; i < 3; i++ {
		m.Create(path)
	}
	total, err := m.TotalSize(path)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3*info.Size() {
		t.Errorf("TotalSize() = %d, want %d", total, 3*info.Size())
	}
}

func TestVaultSaveTriggersBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.sbx")
	m := New(Config{Enabled: true, KeepCount: 2, Frequency: OnChange}, WithClock(newClock().Now))
	v := vault.New(vault.WithBackup(m))
	if err := v.Create(path, "pw", crypto.TestParams()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := v.AddEntry(vault.EntryInput{Title: "e"}); err != nil {
			t.Fatal(err)
		}
		res, err := v.Save()
		if err != nil {
			t.Fatal(err)
		}
		if res.BackupErr != nil {
			t.Fatalf("backup failed: %v", res.BackupErr)
		}
	}
	v.Lock()

	list, _ := m.List(path)
	if len(list) != 2 {
		t.Fatalf("%d backups, want 2", len(list))
	}
	doc, err := vault.ReadVaultFile(list[0].Path, "pw")
	if err != nil {
		t.Fatalf("newest backup does not open: %v", err)
	}
	if len(doc.Entries) != 4 {
		t.Errorf("newest backup has %d entries, want 4", len(doc.Entries))
	}
}
