package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/sealbox/pkg/backup"
	"github.com/forest6511/sealbox/pkg/crypto"
	"github.com/forest6511/sealbox/pkg/vault"
)

func writeSettings(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(Path(dir), []byte(content), 0600))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(3), cfg.KDF.TimeCost)
	assert.Equal(t, uint32(65536), cfg.KDF.MemoryCostKB)
	assert.Equal(t, uint8(4), cfg.KDF.Parallelism)
	assert.Equal(t, 5, cfg.HistoryLimit)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, 5, cfg.Backup.KeepCount)
	assert.Equal(t, "on_change", cfg.Backup.Frequency)
	assert.Equal(t, 5, cfg.AutoLockMinutes)
	assert.Equal(t, 30, cfg.ClipboardClearSeconds)
	assert.Equal(t, 90, cfg.PasswordExpirationDays)
	assert.Equal(t, 20, cfg.Generator.Length)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	// Defaults survive clamping unchanged
	clamped := Default()
	clamped.Clamp()
	assert.Equal(t, cfg, clamped)
}

func TestLoad_NotExists(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Exists(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `
vault_path: /data/main.sbx
history_limit: 10
backup:
  enabled: false
  keep_count: 7
  frequency: weekly
generator:
  length: 32
  symbols: false
log:
  level: debug
  format: json
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/data/main.sbx", cfg.VaultPath)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, 7, cfg.Backup.KeepCount)
	assert.Equal(t, "weekly", cfg.Backup.Frequency)
	assert.Equal(t, 32, cfg.Generator.Length)
	assert.False(t, cfg.Generator.Symbols)
	assert.True(t, cfg.Generator.Digits, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched section keeps defaults
	assert.Equal(t, 30, cfg.ClipboardClearSeconds)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "history_limit: [not a number\n")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_Clamps(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `
kdf:
  time_cost: 99
  memory_cost_kb: 10
  parallelism: 0
history_limit: 50
backup:
  keep_count: 0
  frequency: hourly
limits:
  max_title: -1
  max_tags: 1000
auto_lock_minutes: 5000
clipboard_clear_seconds: 1
password_expiration_days: -3
generator:
  length: 4
  uppercase: false
  lowercase: false
  digits: false
  symbols: false
log:
  level: loud
  format: xml
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(crypto.MaxTimeCost), cfg.KDF.TimeCost)
	assert.Equal(t, uint32(crypto.MinMemoryKiB), cfg.KDF.MemoryCostKB)
	assert.Equal(t, uint8(crypto.MinParallelism), cfg.KDF.Parallelism)
	assert.Equal(t, vault.MaxHistoryLimit, cfg.HistoryLimit)
	assert.Equal(t, 1, cfg.Backup.KeepCount)
	assert.Equal(t, "on_change", cfg.Backup.Frequency)
	assert.Equal(t, vault.DefaultMaxTitle, cfg.Limits.MaxTitle)
	assert.Equal(t, 100, cfg.Limits.MaxTags)
	assert.Equal(t, 1440, cfg.AutoLockMinutes)
	assert.Equal(t, 10, cfg.ClipboardClearSeconds)
	assert.Equal(t, 0, cfg.PasswordExpirationDays)
	assert.Equal(t, 8, cfg.Generator.Length)
	g := cfg.Generator
	assert.True(t, g.Uppercase && g.Lowercase && g.Digits && g.Symbols, "all classes re-enabled")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "history_limit: 3\n")
	t.Setenv("SEALBOX_HISTORY_LIMIT", "8")
	t.Setenv("SEALBOX_BACKUP_ENABLED", "false")
	t.Setenv("SEALBOX_BACKUP_FREQUENCY", "Daily")
	t.Setenv("SEALBOX_LOG_LEVEL", "info")
	t.Setenv("SEALBOX_VAULT", "/tmp/x.sbx")
	t.Setenv("SEALBOX_KDF_PARALLELISM", "64")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.HistoryLimit)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, "daily", cfg.Backup.Frequency)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/tmp/x.sbx", cfg.VaultPath)
	assert.Equal(t, uint8(crypto.MaxParallelism), cfg.KDF.Parallelism)
}

func TestLoad_EnvInvalid(t *testing.T) {
	t.Setenv("SEALBOX_HISTORY_LIMIT", "many")
	t.Setenv("SEALBOX_BACKUP_ENABLED", "perhaps")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEALBOX_HISTORY_LIMIT")
	assert.Contains(t, err.Error(), "SEALBOX_BACKUP_ENABLED")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sealbox")
	cfg := Default()
	cfg.HistoryLimit = 12
	cfg.Backup.Dir = "/backups"
	cfg.Log.File = "sealbox.log"
	require.NoError(t, Save(dir, cfg))

	info, err := os.Stat(Path(dir))
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveClamps(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.HistoryLimit = 0
	require.NoError(t, Save(dir, cfg))
	assert.Equal(t, vault.MinHistoryLimit, cfg.HistoryLimit)
}

func TestDir(t *testing.T) {
	t.Setenv(EnvConfigDir, "/custom/dir")
	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, "/custom/dir", dir)

	t.Setenv(EnvConfigDir, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	dir, err = Dir()
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, filepath.Join("/xdg", "sealbox"), dir)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.HistoryLimit = 7
	cfg.Backup.Frequency = "weekly"
	cfg.Generator.Symbols = false

	cost := cfg.KDFCost()
	assert.Equal(t, crypto.DefaultKDFParams(), cost)

	lim := cfg.VaultLimits()
	assert.Equal(t, 7, lim.HistoryLimit)
	assert.Equal(t, vault.DefaultMaxSecret, lim.MaxSecret)

	pol := cfg.BackupPolicy()
	assert.Equal(t, backup.Weekly, pol.Frequency)
	assert.True(t, pol.Enabled)

	gen := cfg.GeneratorOptions()
	assert.Equal(t, 20, gen.Length)
	assert.False(t, gen.Symbols)
	assert.NoError(t, gen.Validate())
}
