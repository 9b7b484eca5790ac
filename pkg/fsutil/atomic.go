// Package fsutil provides crash-safe file writes.
//
// A reader of the target path always observes either the complete old
// content or the complete new content, never a mix.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const tmpPattern = ".sealbox-tmp-*"

// ErrExists is returned by WriteExclusive when the target already exists.
var ErrExists = fs.ErrExist

// ErrNotDurable is returned when the new content is in place but the
// directory fsync failed, so the rename may not survive a power loss.
// Callers may treat it as a warning.
var ErrNotDurable = errors.New("fsutil: directory sync failed after rename")

// Swapped in tests to simulate a crash between write and rename, or a
// failing directory sync.
var (
	rename  = os.Rename
	syncDir = FsyncDir
)

// AtomicWrite writes data to a temporary file in the target directory,
// fsyncs it, renames it over path and fsyncs the directory.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	tmpPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	if err := rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic write rename: %w", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

// WriteExclusive is AtomicWrite that refuses to replace an existing file.
// The temp file is hard-linked into place, which fails if path exists.
func WriteExclusive(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("write %s: %w", path, ErrExists)
	}
	tmpPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("write %s: %w", path, ErrExists)
		}
		return fmt.Errorf("exclusive write link: %w", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

func writeTemp(path string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), tmpPattern)
	if err != nil {
		return "", fmt.Errorf("atomic write create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return "", fmt.Errorf("atomic write chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("atomic write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("atomic write fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("atomic write close: %w", err)
	}

	success = true
	return tmpPath, nil
}

// CleanTemp removes temp files left in dir by an interrupted write.
func CleanTemp(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, tmpPattern))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
