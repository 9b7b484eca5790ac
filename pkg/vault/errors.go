package vault

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/forest6511/sealbox/pkg/crypto"
)

// Error classes. Callers test with errors.Is; the typed errors below match
// the class they belong to.
var (
	ErrAuthenticationFailed = errors.New("vault: wrong passphrase or corrupted ciphertext")
	ErrIntegrityMismatch    = errors.New("vault: integrity hash mismatch")
	ErrUnsupportedSchema    = errors.New("vault: schema version is newer than this build supports")
	ErrMigrationFailed      = errors.New("vault: schema migration failed")
	ErrIO                   = errors.New("vault: i/o error")
	ErrValidationFailed     = errors.New("vault: validation failed")
)

// Engine state errors.
var (
	ErrVaultLocked        = errors.New("vault: vault is locked")
	ErrVaultAlreadyOpen   = errors.New("vault: a vault is already open")
	ErrVaultAlreadyExists = errors.New("vault: file already exists at this path")
	ErrEntryNotFound      = errors.New("vault: entry not found")
	ErrVaultCorrupted     = errors.New("vault: vault file is corrupted")
	ErrInsufficientDisk   = errors.New("vault: insufficient disk space")
)

// MigrationError reports a failed step of the schema migration chain.
type MigrationError struct {
	From string
	To   string
	Err  error
}

func (e *MigrationError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("vault: cannot migrate from schema %q: %v", e.From, e.Err)
	}
	return fmt.Sprintf("vault: migration %s -> %s failed: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigrationFailed }

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("vault: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioErr(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vault: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind is the coarse class of an error, used for exit codes and
// user-facing messages.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuthentication
	KindIntegrity
	KindUnsupportedSchema
	KindMigration
	KindIO
	KindValidation
	KindCorrupted
	KindLocked
	KindNotFound
	KindExists
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuthentication:
		return "authentication"
	case KindIntegrity:
		return "integrity"
	case KindUnsupportedSchema:
		return "unsupported schema"
	case KindMigration:
		return "migration"
	case KindIO:
		return "i/o"
	case KindValidation:
		return "validation"
	case KindCorrupted:
		return "corrupted"
	case KindLocked:
		return "locked"
	case KindNotFound:
		return "not found"
	case KindExists:
		return "already exists"
	default:
		return "other"
	}
}

// Kind classifies err. Order matters: a MigrationError wrapping an I/O
// failure is still a migration failure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthentication
	case errors.Is(err, ErrIntegrityMismatch):
		return KindIntegrity
	case errors.Is(err, ErrUnsupportedSchema):
		return KindUnsupportedSchema
	case errors.Is(err, ErrMigrationFailed):
		return KindMigration
	case errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, ErrVaultCorrupted), errors.Is(err, crypto.ErrInvalidKDFParams):
		return KindCorrupted
	case errors.Is(err, ErrVaultLocked):
		return KindLocked
	case errors.Is(err, ErrEntryNotFound):
		return KindNotFound
	case errors.Is(err, ErrVaultAlreadyExists), errors.Is(err, ErrVaultAlreadyOpen):
		return KindExists
	case errors.Is(err, ErrIO), errors.Is(err, ErrInsufficientDisk):
		return KindIO
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindIO
	}
	return KindOther
}
