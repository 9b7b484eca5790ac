package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/forest6511/sealbox/pkg/crypto"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"auth", ErrAuthenticationFailed, KindAuthentication},
		{"integrity", fmt.Errorf("open: %w", ErrIntegrityMismatch), KindIntegrity},
		{"schema", fmt.Errorf("%w: v9", ErrUnsupportedSchema), KindUnsupportedSchema},
		{"migration", &MigrationError{From: "2", To: "3", Err: errors.New("boom")}, KindMigration},
		{"io", ioErr("save", "/x", fs.ErrPermission), KindIO},
		{"disk", fmt.Errorf("%w: 1 MB", ErrInsufficientDisk), KindIO},
		{"path error", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, KindIO},
		{"validation", invalid("title", "must not be empty"), KindValidation},
		{"corrupted", fmt.Errorf("%w: bad json", ErrVaultCorrupted), KindCorrupted},
		{"kdf params", crypto.ErrInvalidKDFParams, KindCorrupted},
		{"locked", ErrVaultLocked, KindLocked},
		{"not found", fmt.Errorf("%w: id", ErrEntryNotFound), KindNotFound},
		{"exists", ErrVaultAlreadyExists, KindExists},
		{"other", errors.New("something"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrors(t *testing.T) {
	ioe := ioErr("read", "/tmp/v", fs.ErrNotExist)
	if !errors.Is(ioe, ErrIO) || !errors.Is(ioe, fs.ErrNotExist) {
		t.Error("IOError should match ErrIO and unwrap to the OS error")
	}

	var ve *ValidationError
	if err := invalid("tags", "too many"); !errors.As(err, &ve) || ve.Field != "tags" {
		t.Errorf("invalid() = %v, want *ValidationError for tags", err)
	}

	me := &MigrationError{From: "0.5", Err: errors.New("unknown schema version")}
	if !errors.Is(me, ErrMigrationFailed) {
		t.Error("MigrationError should match ErrMigrationFailed")
	}
	if me.Error() == "" {
		t.Error("empty error message")
	}
}
