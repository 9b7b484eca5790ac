// Package logging builds the process slog.Logger.
//
// Every handler it returns redacts attributes whose key names a secret
// (password, passphrase, secret, key, token) and scrubs "password=..."
// fragments from string values, so a careless log call cannot leak
// credentials to the log file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/forest6511/sealbox/pkg/config"
)

// Redacted replaces sensitive values.
const Redacted = "***REDACTED***"

// DefaultMaxFileSize is the size at which a log file is rotated on open.
const DefaultMaxFileSize = 10 * 1024 * 1024

// sensitiveKeys are matched against the lowercased final segment of an
// attribute key.
var sensitiveKeys = []string{"password", "passphrase", "secret", "key", "token", "credential"}

var sensitiveValue = regexp.MustCompile(`(?i)((?:master_)?(?:password|passphrase|secret)"?\s*[=:]\s*)("[^"]*"|\S+)`)

// Options configures New.
type Options struct {
	Level  slog.Level
	JSON   bool
	Output io.Writer
}

// New returns a logger writing to opts.Output (stderr if nil).
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: Redact,
	}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, ho))
	}
	return slog.New(slog.NewTextHandler(out, ho))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Setup builds the logger described by cfg. A relative cfg.File is
// resolved against dir. The returned closer releases the log file and is
// never nil.
func Setup(cfg config.LogConfig, dir string) (*slog.Logger, io.Closer, error) {
	opts := Options{Level: ParseLevel(cfg.Level), JSON: cfg.Format == "json"}
	if cfg.File == "" {
		return New(opts), io.NopCloser(nil), nil
	}

	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	f, err := OpenFile(path, DefaultMaxFileSize)
	if err != nil {
		return nil, nil, err
	}
	opts.Output = f
	return New(opts), f, nil
}

// OpenFile opens path for appending with owner-only permissions. A file
// already larger than maxSize is first moved to path+".1", replacing any
// older rotation.
func OpenFile(path string, maxSize int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("logging: create dir: %w", err)
	}
	if info, err := os.Stat(path); err == nil && maxSize > 0 && info.Size() > maxSize {
		if err := os.Rename(path, path+".1"); err != nil {
			return nil, fmt.Errorf("logging: rotate: %w", err)
		}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("logging: stat: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("logging: open: %w", err)
	}
	return f, nil
}

// Redact is a slog ReplaceAttr hook.
func Redact(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); sensitiveValue.MatchString(s) {
			return slog.String(a.Key, sensitiveValue.ReplaceAllString(s, "${1}"+Redacted))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	if i := strings.LastIndexAny(k, "._-"); i >= 0 {
		// vault.key_id is an identifier, not key material
		if k[i+1:] == "id" {
			return false
		}
	}
	for _, s := range sensitiveKeys {
		if k == s || strings.HasSuffix(k, "_"+s) || strings.HasSuffix(k, "."+s) {
			return true
		}
	}
	return false
}
