//go:build windows

package fsutil

// FsyncDir is a no-op on Windows, where directory handles cannot be flushed
// and MoveFileEx already commits the rename.
func FsyncDir(dirPath string) error {
	return nil
}
