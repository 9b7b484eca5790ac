package backup

import "errors"

// Backup/Restore errors
var (
	// ErrBackupNotFound indicates no backup with the given ID exists.
	ErrBackupNotFound = errors.New("backup: not found")

	// ErrInvalidBackupID indicates the ID is not a backup name for this vault.
	ErrInvalidBackupID = errors.New("backup: invalid backup id")

	// ErrVaultNotFound indicates there is no vault file to back up.
	ErrVaultNotFound = errors.New("backup: vault file not found")

	// ErrCorruptBackup indicates the backup is not a readable vault file.
	ErrCorruptBackup = errors.New("backup: backup file is not a valid vault")
)
