package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/audit"
)

func newBackupCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage vault backups",
		Long: `Backups are plain copies of the encrypted vault file, named
<name>-<timestamp>.sbx, kept in the backup directory (default: a "backups"
directory next to the vault). With backup.enabled, a copy is made after
saves according to backup.frequency and old copies beyond backup.keep_count
are pruned.`,
	}
	cmd.AddCommand(
		newBackupListCmd(a),
		newBackupCreateCmd(a),
		newBackupRestoreCmd(a),
		newBackupPruneCmd(a),
	)
	return cmd
}

func newBackupListCmd(a *App) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveVaultPath("")
			if err != nil {
				return err
			}
			m := a.backupManager()
			backups, err := m.List(path)
			if err != nil {
				return err
			}
			if jsonOut {
				return a.printJSON(backups)
			}
			if len(backups) == 0 {
				a.printf("No backups in %s\n", m.Dir(path))
				return nil
			}
			total, err := m.TotalSize(path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, headerColor.Sprint("ID\tCREATED\tSIZE"))
			for _, b := range backups {
				fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, formatTime(b.CreatedAt), formatSize(b.Size))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			a.println(dimColor.Sprintf("%d backups, %s total, in %s", len(backups), formatSize(total), m.Dir(path)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newBackupCreateCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Copy the vault file now",
		Long: `Copy the vault file as it is on disk. Unsaved changes in the shell are
not included; run save first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveVaultPath("")
			if err != nil {
				return err
			}
			if a.inShell && a.vault != nil && a.vault.Dirty() {
				a.warnf("the open vault has unsaved changes that this backup will not include")
			}
			m := a.backupManager()
			b, err := m.Create(path)
			if err != nil {
				return err
			}
			deleted, err := m.Prune(path)
			if err != nil {
				a.warnf("prune failed: %v", err)
			}
			a.successf("Backup created: %s (%s)", b.ID, formatSize(b.Size))
			if deleted > 0 {
				a.printf("Pruned %d old backups\n", deleted)
			}
			return nil
		},
	}
}

func newBackupRestoreCmd(a *App) *cobra.Command {
	var (
		yes     bool
		discard bool
	)
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the vault file with a backup",
		Long: `Restore the vault file from a backup. The current file is first copied
to a new backup, so a restore can itself be undone.

Examples:
  sealbox backup list
  sealbox backup restore vault-20250101T120000.000000000Z.sbx`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.completeBackupIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveVaultPath("")
			if err != nil {
				return err
			}
			open := a.inShell && a.vault != nil && !a.vault.IsLocked()
			if open && a.vault.Dirty() && !discard {
				return errUnsaved
			}
			if !yes && !a.confirm(fmt.Sprintf("Replace %s with backup %s?", path, args[0])) {
				return errCanceled
			}

			res, err := a.backupManager().Restore(path, args[0])
			if err != nil {
				return err
			}
			if open {
				a.vault.RecordAudit(audit.OpBackupRestore, map[string]any{"backup": res.Restored.ID})
				a.vault.Lock()
			}
			a.successf("Restored %s", res.Restored.ID)
			if res.SafetyCopy != nil {
				a.printf("The previous file was saved as backup %s\n", res.SafetyCopy.ID)
			}
			if open {
				a.println("The vault was locked; run open to load the restored file.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&discard, "discard", false, "Discard unsaved changes in the open vault")
	return cmd
}

func newBackupPruneCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete backups beyond backup.keep_count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveVaultPath("")
			if err != nil {
				return err
			}
			m := a.backupManager()
			deleted, err := m.Prune(path)
			if err != nil {
				return err
			}
			a.successf("Pruned %d backups (keeping %d)", deleted, m.Config().KeepCount)
			return nil
		},
	}
}
