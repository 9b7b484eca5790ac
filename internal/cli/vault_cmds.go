package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/vault"
)

func newCreateCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create [path]",
		Short: "Create a new empty vault",
		Long: `Create a new vault file protected by a passphrase.

The Argon2id cost comes from the kdf settings. The command refuses to
overwrite an existing file.

Examples:
  # Create the default vault
  sealbox create

  # Create a vault at a specific path
  sealbox create ~/secrets/work.sbx`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			path, err := a.resolveVaultPath(arg)
			if err != nil {
				return err
			}
			if a.inShell && a.vault != nil && a.vault.Dirty() {
				return errUnsaved
			}
			params, err := a.kdfParams()
			if err != nil {
				return err
			}
			pass, err := a.passphrase(EnvPassphrase, "New passphrase: ", true)
			if err != nil {
				return err
			}

			v := a.newEngine(path)
			if err := v.Create(path, pass, params); err != nil {
				return err
			}
			a.successf("Vault created at %s", path)
			if a.inShell {
				a.adopt(v, path)
				return nil
			}
			v.Lock()
			return nil
		},
	}
}

func newOpenCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "open [path]",
		Short: "Open a vault and show its summary",
		Long: `Unlock a vault. Inside the shell the vault stays open for the
following commands; otherwise the passphrase is checked and a summary shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			path, err := a.resolveVaultPath(arg)
			if err != nil {
				return err
			}
			if a.inShell && a.vault != nil && a.vault.Dirty() {
				return errUnsaved
			}

			v := a.newEngine(path)
			if err := a.unlock(v, path); err != nil {
				return err
			}
			if err := a.printSummary(v); err != nil {
				v.Lock()
				return err
			}
			if a.inShell {
				a.adopt(v, path)
				return nil
			}
			v.Lock()
			return nil
		},
	}
}

// adopt makes v the shell's current vault, locking the previous one.
func (a *App) adopt(v *vault.Vault, path string) {
	if a.vault != nil && a.vault != v {
		a.vault.Lock()
	}
	a.vault = v
	a.vaultPath = path
}

func (a *App) printSummary(v *vault.Vault) error {
	entries, err := v.Entries()
	if err != nil {
		return err
	}
	created, err := v.CreatedAt()
	if err != nil {
		return err
	}
	params, err := v.Params()
	if err != nil {
		return err
	}
	var notes int
	for _, e := range entries {
		if e.Type == vault.EntryNote {
			notes++
		}
	}
	a.printf("%s %s\n", headerColor.Sprint("Vault:"), v.Path())
	a.printf("  Entries: %d (%d passwords, %d notes)\n", len(entries), len(entries)-notes, notes)
	a.printf("  Created: %s\n", formatTime(created))
	a.printf("  KDF:     argon2id t=%d m=%dKiB p=%d\n", params.TimeCost, params.MemoryKiB, params.Parallelism)
	return nil
}

var errUnsaved = &vault.ValidationError{
	Field:  "vault",
	Reason: "the open vault has unsaved changes; run save first, or lock --discard",
}

func newSaveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Write the vault to disk",
		Long: `Write the open vault to disk. Outside the shell every change is saved
automatically, so save there rewrites the file, which upgrades an older
file format and re-encrypts under a fresh nonce.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, release, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			defer release()
			if err := a.save(cmd.Context(), v); err != nil {
				return err
			}
			a.successf("Vault saved")
			return nil
		},
	}
}

func newLockCmd(a *App) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock the open vault",
		Long: `Wipe the key and entries from memory. Inside the shell, locking with
unsaved changes is refused unless --discard is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.vault == nil || a.vault.IsLocked() {
				a.println("No vault is open.")
				return nil
			}
			if a.vault.Dirty() && !discard {
				return errUnsaved
			}
			a.vault.Lock()
			a.successf("Vault locked")
			return nil
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "Discard unsaved changes")
	return cmd
}

func newPasswdCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the vault passphrase",
		Long: `Re-key the vault under a new passphrase with a fresh salt. The current
kdf settings are applied, so this also upgrades the derivation cost.

The new passphrase is read from SEALBOX_NEW_PASSPHRASE when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := a.kdfParams()
			if err != nil {
				return err
			}
			v, release, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			defer release()

			next, err := a.passphrase(EnvNewPassphrase, "New passphrase: ", true)
			if err != nil {
				return err
			}
			if err := v.ChangePassphrase(next, params); err != nil {
				return err
			}
			if err := a.save(cmd.Context(), v); err != nil {
				return err
			}
			a.successf("Passphrase changed")
			return nil
		},
	}
}

func newExportCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write a copy of the vault to another file",
		Long: `Export the open vault, unsaved changes included, to a new file under the
same passphrase. An existing file is never overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				if err := v.Export(target); err != nil {
					return err
				}
				a.successf("Exported to %s", target)
				return nil
			})
		},
	}
}

func newImportCmd(a *App) *cobra.Command {
	var (
		replace   bool
		merge     bool
		overwrite bool
		yes       bool
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import entries from another sealbox vault",
		Long: `Import entries from another vault file. The source passphrase is read
from SEALBOX_IMPORT_PASSPHRASE when set.

--merge (the default) adds entries whose ids are new and skips those that
already exist unless --overwrite is given. --replace discards every current
entry in favor of the source's.

Examples:
  # Merge a second vault into the current one
  sealbox import ~/old.sbx

  # Replace everything, without asking
  sealbox import ~/old.sbx --replace --yes

  # Show what a merge would do without changing anything
  sealbox import ~/old.sbx --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if replace && merge {
				return &vault.ValidationError{Field: "mode", Reason: "--replace and --merge are mutually exclusive"}
			}
			if replace && overwrite {
				return &vault.ValidationError{Field: "mode", Reason: "--overwrite only applies to --merge"}
			}
			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, !dryRun, func(v *vault.Vault) error {
				pass, err := a.passphrase(EnvImportPassphrase,
					fmt.Sprintf("Passphrase for %s: ", filepath.Base(source)), false)
				if err != nil {
					return err
				}
				if dryRun {
					return a.previewImport(v, source, pass, replace, overwrite)
				}
				if replace {
					if !yes && !a.confirm("Replace every entry in this vault?") {
						return errCanceled
					}
					plan, err := v.Import(source, pass, vault.ImportReplace)
					if err != nil {
						return err
					}
					a.successf("Replaced vault contents with %d entries", len(plan.Add))
					return nil
				}

				plan, err := v.Import(source, pass, vault.ImportMerge)
				if err != nil {
					return err
				}
				apply := plan.Add
				if overwrite {
					apply = append(apply, plan.Conflicts...)
				}
				n, err := v.ApplyImport(apply)
				if err != nil {
					return err
				}
				a.successf("Imported %d entries", n)
				if !overwrite && len(plan.Conflicts) > 0 {
					a.warnf("%d entries already exist and were skipped (use --overwrite)", len(plan.Conflicts))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace all current entries")
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge entries (default)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "With --merge, overwrite entries that already exist")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be imported without changing the vault")
	return cmd
}

// previewImport reads source and reports what an import would change.
func (a *App) previewImport(v *vault.Vault, source, pass string, replace, overwrite bool) error {
	doc, err := vault.ReadVaultFile(source, pass)
	if err != nil {
		return err
	}
	if replace {
		current, err := v.Entries()
		if err != nil {
			return err
		}
		a.printf("Would replace %d entries with %d from %s\n", len(current), len(doc.Entries), filepath.Base(source))
		return nil
	}

	var add, conflicts int
	for _, e := range doc.Entries {
		if _, err := v.Entry(e.ID); err == nil {
			conflicts++
			a.printf("  %s %s (exists)\n", shortID(e.ID), e.Title)
		} else {
			add++
			a.printf("  %s %s\n", shortID(e.ID), e.Title)
		}
	}
	if overwrite {
		a.printf("Would import %d entries (%d overwriting existing ones)\n", add+conflicts, conflicts)
	} else {
		a.printf("Would import %d entries, skipping %d that already exist\n", add, conflicts)
	}
	return nil
}

var errCanceled = errors.New("canceled")
