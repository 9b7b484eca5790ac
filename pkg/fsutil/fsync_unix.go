//go:build !windows

package fsutil

import (
	"fmt"
	"os"
)

// FsyncDir fsyncs a directory so a preceding rename is durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("fsync dir open: %w", err)
	}
	defer d.Close()
	return d.Sync()
}
