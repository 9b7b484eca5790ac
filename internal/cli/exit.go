package cli

import (
	"errors"
	"fmt"

	"github.com/forest6511/sealbox/pkg/backup"
	"github.com/forest6511/sealbox/pkg/vault"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitOther          = 1
	ExitAuthentication = 2
	ExitIntegrity      = 3
	ExitSchema         = 4
	ExitMigration      = 5
	ExitIO             = 6
	ExitValidation     = 7
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch vault.Kind(err) {
	case vault.KindNone:
		return ExitOK
	case vault.KindAuthentication:
		return ExitAuthentication
	case vault.KindIntegrity:
		return ExitIntegrity
	case vault.KindUnsupportedSchema:
		return ExitSchema
	case vault.KindMigration:
		return ExitMigration
	case vault.KindIO:
		return ExitIO
	case vault.KindValidation:
		return ExitValidation
	default:
		return ExitOther
	}
}

// hint adds a short explanation for the common failure classes.
func hint(err error) string {
	if errors.Is(err, backup.ErrBackupNotFound) {
		return "run 'sealbox backup list' to see available backups"
	}
	switch vault.Kind(err) {
	case vault.KindAuthentication:
		return "wrong passphrase, or the file was modified"
	case vault.KindIntegrity:
		return "the vault decrypted but its contents fail the integrity check; restore a backup"
	case vault.KindUnsupportedSchema:
		return "the vault was written by a newer sealbox"
	case vault.KindCorrupted:
		return "the file is not a readable sealbox vault; restore a backup"
	case vault.KindLocked:
		return "open the vault first"
	default:
		return ""
	}
}

func (a *App) printError(err error) {
	fmt.Fprintln(a.Err, errorColor.Sprint("Error: ")+err.Error())
	if h := hint(err); h != "" {
		fmt.Fprintln(a.Err, "  "+h)
	}
}
