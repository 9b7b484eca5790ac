package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	data := []byte(`{"format":"sealbox-vault"}`)

	require.NoError(t, AtomicWrite(path, data, 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0600))

	require.NoError(t, AtomicWrite(path, []byte("new"), 0600))

	content, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(content))
}

func TestAtomicWrite_NoTmpLeftOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	require.NoError(t, AtomicWrite(path, []byte("data"), 0600))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "only the target file should exist")
}

func TestAtomicWrite_FailedRenameKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))

	rename = func(string, string) error { return errors.New("simulated crash") }
	t.Cleanup(func() { rename = os.Rename })

	err := AtomicWrite(path, []byte("replacement"), 0600)
	require.Error(t, err)

	content, _ := os.ReadFile(path)
	assert.Equal(t, "original", string(content))
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "temp file should be removed")
}

func TestAtomicWrite_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "vault.json")
	assert.Error(t, AtomicWrite(path, []byte("x"), 0600))
}

func TestWriteExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.json")

	require.NoError(t, WriteExclusive(path, []byte("first"), 0600))
	content, _ := os.ReadFile(path)
	assert.Equal(t, "first", string(content))

	err := WriteExclusive(path, []byte("second"), 0600)
	assert.ErrorIs(t, err, ErrExists)
	content, _ = os.ReadFile(path)
	assert.Equal(t, "first", string(content))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1)
}

func TestAtomicWrite_DirSyncFailureIsNotDurable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0600))

	syncDir = func(string) error { return errors.New("simulated fsync failure") }
	t.Cleanup(func() { syncDir = FsyncDir })

	err := AtomicWrite(path, []byte("new"), 0600)
	require.ErrorIs(t, err, ErrNotDurable)

	content, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(content), "file is replaced even though the dir sync failed")

	err = WriteExclusive(filepath.Join(dir, "other.json"), []byte("x"), 0600)
	require.ErrorIs(t, err, ErrNotDurable)
	assert.FileExists(t, filepath.Join(dir, "other.json"))
}

func TestCleanTemp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".sealbox-tmp-123"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.json"), []byte("x"), 0600))

	require.NoError(t, CleanTemp(dir))

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.json", entries[0].Name())
}
