// Package cli implements the sealbox command line.
//
// Every command runs against an App, which carries the loaded settings, the
// I/O streams and, inside the interactive shell, the open vault. One-shot
// commands open the vault, act, save if anything changed and lock again
// before returning.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/internal/logging"
	"github.com/forest6511/sealbox/pkg/audit"
	"github.com/forest6511/sealbox/pkg/backup"
	"github.com/forest6511/sealbox/pkg/config"
	"github.com/forest6511/sealbox/pkg/crypto"
	"github.com/forest6511/sealbox/pkg/vault"
)

// Environment variables read by the CLI.
const (
	EnvPassphrase       = config.EnvPrefix + "PASSPHRASE"
	EnvNewPassphrase    = config.EnvPrefix + "NEW_PASSPHRASE"
	EnvImportPassphrase = config.EnvPrefix + "IMPORT_PASSPHRASE"
)

// DefaultVaultName is the vault file used when no path is configured.
const DefaultVaultName = "vault.sbx"

// App holds what commands share.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    *slog.Logger

	In        io.Reader
	Out       io.Writer
	Err       io.Writer
	Prompter  Prompter
	Clipboard Clipboard
	Getenv    func(string) string

	vaultFlag string
	vault     *vault.Vault
	vaultPath string
	session   *crypto.Session
	inShell   bool
	// pending clipboard clears, waited on in one-shot mode
	clears []<-chan struct{}
}

// NewApp creates an App on the process streams.
func NewApp(cfg *config.Config, cfgDir string, logger *slog.Logger) *App {
	return &App{
		Config:    cfg,
		ConfigDir: cfgDir,
		Logger:    logger,
		In:        os.Stdin,
		Out:       os.Stdout,
		Err:       os.Stderr,
		Prompter:  NewTermPrompter(os.Stdin, os.Stderr),
		Clipboard: SystemClipboard{},
		Getenv:    os.Getenv,
	}
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	cfgDir, err := config.Dir()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: ")+err.Error())
		return 1
	}
	cfg, err := config.Load(cfgDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: ")+err.Error())
		return 1
	}
	logger, closer, err := logging.Setup(cfg.Log, cfgDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: ")+err.Error())
		return 1
	}
	defer closer.Close()

	app := NewApp(cfg, cfgDir, logger)
	defer app.Close()
	return app.Run(ctx, os.Args[1:])
}

// Run executes one command line and returns its exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	root := NewRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.waitClears(ctx)
	if err != nil {
		a.printError(err)
		return ExitCode(err)
	}
	return 0
}

// Close locks any open vault and wipes the session key.
func (a *App) Close() {
	if a.vault != nil {
		a.vault.Lock()
	}
	if a.session != nil {
		a.session.Close()
	}
}

// NewRootCmd builds the command tree bound to a.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "sealbox",
		Short: "sealbox is a local, single-file encrypted password vault",
		Long: `sealbox keeps passwords and notes in one encrypted file.

The file is sealed with AES-256-GCM under a key derived from your passphrase
with Argon2id. Set SEALBOX_PASSPHRASE to run commands non-interactively.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	root.PersistentFlags().StringVar(&a.vaultFlag, "vault", "",
		"vault file (default: $SEALBOX_VAULT, vault_path setting, or <config dir>/"+DefaultVaultName+")")

	root.AddCommand(
		newCreateCmd(a),
		newOpenCmd(a),
		newAddCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newHistoryCmd(a),
		newSaveCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newImportFromCmd(a),
		newLockCmd(a),
		newBackupCmd(a),
		newAuditCmd(a),
		newSecurityCmd(a),
		newGenerateCmd(a),
		newPasswdCmd(a),
		newShellCmd(a),
		newConfigCmd(a),
		newCompletionCmd(a),
	)
	return root
}

// resolveVaultPath picks the vault file: --vault, then the configured path
// (which already includes $SEALBOX_VAULT), then the default.
func (a *App) resolveVaultPath(arg string) (string, error) {
	p := arg
	if p == "" {
		p = a.vaultFlag
	}
	if p == "" && a.vault != nil && a.vaultPath != "" {
		p = a.vaultPath
	}
	if p == "" {
		p = a.Config.VaultPath
	}
	if p == "" {
		p = filepath.Join(a.ConfigDir, DefaultVaultName)
	}
	if strings.HasPrefix(p, "~"+string(filepath.Separator)) || p == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	return filepath.Abs(p)
}

// auditDir is the audit log directory belonging to a vault file.
func auditDir(vaultPath string) string {
	base := filepath.Base(vaultPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(vaultPath), stem+".audit")
}

func (a *App) backupManager() *backup.Manager {
	return backup.New(a.Config.BackupPolicy(), backup.WithLogger(a.Logger))
}

// newEngine builds a closed vault engine wired to the configured limits,
// backups and audit log.
func (a *App) newEngine(path string) *vault.Vault {
	return vault.New(
		vault.WithLimits(a.Config.VaultLimits()),
		vault.WithLogger(a.Logger.With("vault", filepath.Base(path))),
		vault.WithBackup(a.backupManager()),
		vault.WithAudit(audit.NewLogger(auditDir(path))),
	)
}

func (a *App) kdfParams() (crypto.KDFParams, error) {
	return crypto.NewKDFParams(a.Config.KDFCost())
}

// openVault returns an open vault. In the shell the current vault is reused
// (and reopened after a lock); otherwise a new engine is opened and the
// caller must call the returned release func.
func (a *App) openVault(cmd *cobra.Command) (*vault.Vault, func(), error) {
	if a.inShell && a.vault != nil {
		if a.vault.IsLocked() {
			if err := a.unlock(a.vault, a.vaultPath); err != nil {
				return nil, nil, err
			}
		}
		return a.vault, func() {}, nil
	}

	path, err := a.resolveVaultPath("")
	if err != nil {
		return nil, nil, err
	}
	v := a.newEngine(path)
	if err := a.unlock(v, path); err != nil {
		return nil, nil, err
	}
	return v, v.Lock, nil
}

func (a *App) unlock(v *vault.Vault, path string) error {
	pass, err := a.passphrase(EnvPassphrase, fmt.Sprintf("Passphrase for %s: ", filepath.Base(path)), false)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := v.Open(path, pass); err != nil {
		return err
	}
	a.Logger.Debug("vault opened", "path", path, "elapsed", time.Since(start))
	if v.Legacy() {
		a.warnf("%s uses an older file format; it will be upgraded on the next save", filepath.Base(path))
	}
	return nil
}

// withVault runs fn against an open vault. When mutating and outside the
// shell, a dirty vault is saved before it is locked.
func (a *App) withVault(cmd *cobra.Command, mutating bool, fn func(v *vault.Vault) error) error {
	v, release, err := a.openVault(cmd)
	if err != nil {
		return err
	}
	defer release()

	if err := fn(v); err != nil {
		return err
	}
	if mutating && !a.inShell && v.Dirty() {
		return a.save(cmd.Context(), v)
	}
	return nil
}

// save writes v and reports a failed follow-up backup as a warning.
func (a *App) save(ctx context.Context, v *vault.Vault) error {
	res, err := v.SaveContext(ctx)
	if err != nil {
		return err
	}
	if res.BackupErr != nil {
		a.warnf("vault saved, but the backup failed: %v", res.BackupErr)
	}
	return nil
}

// passphrase reads a passphrase from env, or prompts for it. With confirm
// the prompt is repeated and both answers must match.
func (a *App) passphrase(env, prompt string, confirm bool) (string, error) {
	if p := a.Getenv(env); p != "" {
		return p, nil
	}
	p, err := a.Prompter.Secret(prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if confirm {
		again, err := a.Prompter.Secret("Confirm passphrase: ")
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		if p != again {
			return "", &vault.ValidationError{Field: "passphrase", Reason: "passphrases do not match"}
		}
	}
	return p, nil
}

func (a *App) sessionKey() (*crypto.Session, error) {
	if a.session == nil {
		s, err := crypto.NewSession()
		if err != nil {
			return nil, err
		}
		a.session = s
	}
	return a.session, nil
}
