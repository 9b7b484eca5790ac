// Package config provides the sealbox settings file.
//
// Settings live in settings.yaml under the user config directory
// ($XDG_CONFIG_HOME/sealbox, %APPDATA%\sealbox on Windows). Loading merges
// the file over defaults, applies SEALBOX_* environment overrides and clamps
// every value into its accepted range, so callers never see an invalid
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/sealbox/pkg/backup"
	"github.com/forest6511/sealbox/pkg/crypto"
	"github.com/forest6511/sealbox/pkg/fsutil"
	"github.com/forest6511/sealbox/pkg/passgen"
	"github.com/forest6511/sealbox/pkg/vault"
)

const (
	// FileName is the settings file inside the config directory.
	FileName = "settings.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SEALBOX_"
	// EnvConfigDir overrides the config directory itself.
	EnvConfigDir = EnvPrefix + "CONFIG_DIR"

	appName  = "sealbox"
	fileMode = 0600
	dirMode  = 0700
)

// Config represents the sealbox configuration.
type Config struct {
	// VaultPath is the vault used when a command gets no --vault flag.
	VaultPath              string          `yaml:"vault_path"`
	KDF                    KDFConfig       `yaml:"kdf"`
	HistoryLimit           int             `yaml:"history_limit"`
	Backup                 BackupConfig    `yaml:"backup"`
	Limits                 LimitsConfig    `yaml:"limits"`
	AutoLockMinutes        int             `yaml:"auto_lock_minutes"`
	ClipboardClearSeconds  int             `yaml:"clipboard_clear_seconds"`
	PasswordExpirationDays int             `yaml:"password_expiration_days"`
	Generator              GeneratorConfig `yaml:"generator"`
	Log                    LogConfig       `yaml:"log"`
}

// KDFConfig is the derivation cost for new vaults and passphrase changes.
type KDFConfig struct {
	TimeCost     uint32 `yaml:"time_cost"`
	MemoryCostKB uint32 `yaml:"memory_cost_kb"`
	Parallelism  uint8  `yaml:"parallelism"`
}

// BackupConfig configures copy-on-save backups.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	KeepCount int    `yaml:"keep_count"`
	Frequency string `yaml:"frequency"` // on_change, daily, weekly
}

// LimitsConfig bounds entry fields.
type LimitsConfig struct {
	MaxTitle     int `yaml:"max_title"`
	MaxUsername  int `yaml:"max_username"`
	MaxSecret    int `yaml:"max_secret"`
	MaxNotes     int `yaml:"max_notes"`
	MaxTags      int `yaml:"max_tags"`
	MaxTagLength int `yaml:"max_tag_length"`
}

// GeneratorConfig drives the password generator.
type GeneratorConfig struct {
	Length    int  `yaml:"length"`
	Uppercase bool `yaml:"uppercase"`
	Lowercase bool `yaml:"lowercase"`
	Digits    bool `yaml:"digits"`
	Symbols   bool `yaml:"symbols"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`   // empty: stderr
}

// Default returns the default configuration.
func Default() *Config {
	kdf := crypto.DefaultKDFParams()
	lim := vault.DefaultLimits()
	gen := passgen.DefaultOptions()
	return &Config{
		KDF: KDFConfig{
			TimeCost:     kdf.TimeCost,
			MemoryCostKB: kdf.MemoryKiB,
			Parallelism:  kdf.Parallelism,
		},
		HistoryLimit: vault.DefaultHistoryLimit,
		Backup: BackupConfig{
			Enabled:   true,
			KeepCount: backup.DefaultKeepCount,
			Frequency: string(backup.OnChange),
		},
		Limits: LimitsConfig{
			MaxTitle:     lim.MaxTitle,
			MaxUsername:  lim.MaxUsername,
			MaxSecret:    lim.MaxSecret,
			MaxNotes:     lim.MaxNotes,
			MaxTags:      lim.MaxTags,
			MaxTagLength: lim.MaxTagLength,
		},
		AutoLockMinutes:        5,
		ClipboardClearSeconds:  30,
		PasswordExpirationDays: 90,
		Generator: GeneratorConfig{
			Length:    gen.Length,
			Uppercase: gen.Uppercase,
			Lowercase: gen.Lowercase,
			Digits:    gen.Digits,
			Symbols:   gen.Symbols,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Dir returns the config directory: $SEALBOX_CONFIG_DIR if set, otherwise
// the platform user config directory plus "sealbox".
func Dir() (string, error) {
	if d := os.Getenv(EnvConfigDir); d != "" {
		return d, nil
	}
	if runtime.GOOS != "windows" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve config dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}

// Path returns the settings file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load loads configuration from dir/settings.yaml.
// Returns defaults if the file doesn't exist. Environment overrides and
// clamping are applied either way.
func Load(dir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(dir))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No config file is OK, use defaults
	case err != nil:
		return nil, fmt.Errorf("config: read: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", Path(dir), err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Clamp()
	return cfg, nil
}

// Save clamps cfg and writes it to dir/settings.yaml atomically.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	cfg.Clamp()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	// settings are in place even when the dir sync fails
	if err := fsutil.AtomicWrite(Path(dir), data, fileMode); err != nil && !errors.Is(err, fsutil.ErrNotDurable) {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from SEALBOX_* variables. A malformed number or
// boolean is an error naming the variable.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: invalid integer %q", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: invalid boolean %q", EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}
	uint32Var := func(name string, dst *uint32) {
		n := int(*dst)
		num(name, &n)
		if n < 0 {
			n = 0
		}
		*dst = uint32(n)
	}

	str("VAULT", &c.VaultPath)
	uint32Var("KDF_TIME_COST", &c.KDF.TimeCost)
	uint32Var("KDF_MEMORY_COST_KB", &c.KDF.MemoryCostKB)
	par := int(c.KDF.Parallelism)
	num("KDF_PARALLELISM", &par)
	c.KDF.Parallelism = uint8(clamp(par, crypto.MinParallelism, crypto.MaxParallelism))
	num("HISTORY_LIMIT", &c.HistoryLimit)
	boolean("BACKUP_ENABLED", &c.Backup.Enabled)
	str("BACKUP_DIR", &c.Backup.Dir)
	num("BACKUP_KEEP_COUNT", &c.Backup.KeepCount)
	str("BACKUP_FREQUENCY", &c.Backup.Frequency)
	num("AUTO_LOCK_MINUTES", &c.AutoLockMinutes)
	num("CLIPBOARD_CLEAR_SECONDS", &c.ClipboardClearSeconds)
	num("PASSWORD_EXPIRATION_DAYS", &c.PasswordExpirationDays)
	num("GENERATOR_LENGTH", &c.Generator.Length)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// orDefault replaces a non-positive v with def, then caps it at hi.
func orDefault(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	return min(v, hi)
}

// Clamp forces every value into its accepted range.
func (c *Config) Clamp() {
	c.KDF.TimeCost = uint32(clamp(int(c.KDF.TimeCost), crypto.MinTimeCost, crypto.MaxTimeCost))
	c.KDF.MemoryCostKB = uint32(clamp(int(c.KDF.MemoryCostKB), crypto.MinMemoryKiB, crypto.MaxMemoryKiB))
	c.KDF.Parallelism = uint8(clamp(int(c.KDF.Parallelism), crypto.MinParallelism, crypto.MaxParallelism))

	c.HistoryLimit = clamp(c.HistoryLimit, vault.MinHistoryLimit, vault.MaxHistoryLimit)

	c.Backup.KeepCount = clamp(c.Backup.KeepCount, 1, 100)
	switch backup.Frequency(strings.ToLower(strings.TrimSpace(c.Backup.Frequency))) {
	case backup.OnChange, backup.Daily, backup.Weekly:
		c.Backup.Frequency = strings.ToLower(strings.TrimSpace(c.Backup.Frequency))
	default:
		c.Backup.Frequency = string(backup.OnChange)
	}

	def := vault.DefaultLimits()
	c.Limits.MaxTitle = orDefault(c.Limits.MaxTitle, def.MaxTitle, 4096)
	c.Limits.MaxUsername = orDefault(c.Limits.MaxUsername, def.MaxUsername, 4096)
	c.Limits.MaxSecret = orDefault(c.Limits.MaxSecret, def.MaxSecret, 1<<20)
	c.Limits.MaxNotes = orDefault(c.Limits.MaxNotes, def.MaxNotes, 1<<20)
	c.Limits.MaxTags = orDefault(c.Limits.MaxTags, def.MaxTags, 100)
	c.Limits.MaxTagLength = orDefault(c.Limits.MaxTagLength, def.MaxTagLength, 256)

	c.AutoLockMinutes = clamp(c.AutoLockMinutes, 0, 1440)
	c.ClipboardClearSeconds = clamp(c.ClipboardClearSeconds, 10, 600)
	c.PasswordExpirationDays = clamp(c.PasswordExpirationDays, 0, 3650)

	c.Generator.Length = clamp(c.Generator.Length, passgen.MinLength, passgen.MaxLength)
	g := &c.Generator
	if !g.Uppercase && !g.Lowercase && !g.Digits && !g.Symbols {
		g.Uppercase, g.Lowercase, g.Digits, g.Symbols = true, true, true, true
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = "warn"
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		c.Log.Format = strings.ToLower(c.Log.Format)
	default:
		c.Log.Format = "text"
	}
}

// KDFCost returns the derivation cost for new vaults.
func (c *Config) KDFCost() crypto.KDFCost {
	return crypto.KDFCost{
		TimeCost:    c.KDF.TimeCost,
		MemoryKiB:   c.KDF.MemoryCostKB,
		Parallelism: c.KDF.Parallelism,
	}
}

// VaultLimits returns the engine limits.
func (c *Config) VaultLimits() vault.Limits {
	return vault.Limits{
		MaxTitle:     c.Limits.MaxTitle,
		MaxUsername:  c.Limits.MaxUsername,
		MaxSecret:    c.Limits.MaxSecret,
		MaxNotes:     c.Limits.MaxNotes,
		MaxTags:      c.Limits.MaxTags,
		MaxTagLength: c.Limits.MaxTagLength,
		HistoryLimit: c.HistoryLimit,
	}
}

// BackupPolicy returns the backup manager configuration.
func (c *Config) BackupPolicy() backup.Config {
	return backup.Config{
		Enabled:   c.Backup.Enabled,
		Dir:       c.Backup.Dir,
		KeepCount: c.Backup.KeepCount,
		Frequency: backup.Frequency(c.Backup.Frequency),
	}
}

// GeneratorOptions returns the password generator options.
func (c *Config) GeneratorOptions() passgen.Options {
	return passgen.Options{
		Length:    c.Generator.Length,
		Uppercase: c.Generator.Uppercase,
		Lowercase: c.Generator.Lowercase,
		Digits:    c.Generator.Digits,
		Symbols:   c.Generator.Symbols,
	}
}
