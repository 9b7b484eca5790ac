package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/importer"
	"github.com/forest6511/sealbox/pkg/vault"
)

// maxImportSize bounds the export files import-from reads.
const maxImportSize = 64 << 20

func newImportFromCmd(a *App) *cobra.Command {
	var (
		columns map[string]string
		tag     string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "import-from <format> <path>",
		Short: "Import entries from another password manager's export",
		Long: fmt.Sprintf(`Import a plain-text export from another password manager. Formats:
%s, or auto to detect the format.

Fields without a sealbox counterpart (URLs, TOTP seeds, custom fields) are
kept in the entry notes as "Label: value" lines. Either every item is
imported or none is.

Examples:
  # Detect the format
  sealbox import-from auto ~/Downloads/export.csv

  # Bitwarden JSON, tagging everything
  sealbox import-from bitwarden bitwarden.json --tag imported

  # Generic CSV with a custom column
  sealbox import-from csv sites.csv --column site=title --column secret=password

  # Preview only
  sealbox import-from lastpass lastpass.csv --dry-run`, strings.Join(importer.ValidSources(), ", ")),
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeImportFormat,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readImportFile(args[1])
			if err != nil {
				return err
			}
			opts := importer.ParseOptions{ColumnMap: columns}

			var source importer.Source
			var result *importer.ImportResult
			if strings.EqualFold(args[0], "auto") {
				source, result, err = importer.Parse(data, opts)
			} else {
				source = importer.Source(strings.ToLower(args[0]))
				var p importer.Parser
				if p, err = importer.GetParser(source); err != nil {
					return &vault.ValidationError{Field: "format",
						Reason: fmt.Sprintf("unknown format %q: must be auto or one of %s", args[0], strings.Join(importer.ValidSources(), ", "))}
				}
				result, err = p.Parse(data, opts)
			}
			if err != nil {
				if errors.Is(err, importer.ErrUnknownFormat) {
					return &vault.ValidationError{Field: "format", Reason: "could not detect the export format; name it explicitly"}
				}
				return &vault.ValidationError{Field: "file", Reason: fmt.Sprintf("failed to parse %s export: %v", source, err)}
			}

			for _, w := range result.Warnings {
				a.warnf("%s", w)
			}
			for _, s := range result.Skipped {
				fmt.Fprintf(a.Err, "Skipped: %s (%s)\n", s.OriginalName, s.Reason)
			}
			if tag != "" {
				for i := range result.Entries {
					result.Entries[i].Tags = append(result.Entries[i].Tags, tag)
				}
			}
			a.Logger.Info("export parsed", "format", string(source), "entries", len(result.Entries),
				"skipped", len(result.Skipped), "warnings", len(result.Warnings))

			if len(result.Entries) == 0 {
				a.println("No entries found in file")
				return nil
			}
			if dryRun {
				a.printf("Found %d entries in %s format (dry run, nothing imported):\n", len(result.Entries), source)
				for _, e := range result.Entries {
					a.printf("  %-8s %s\n", e.Type, e.Title)
				}
				return nil
			}

			return a.withVault(cmd, true, func(v *vault.Vault) error {
				added, err := v.ImportEntries(result.Entries)
				if err != nil {
					return err
				}
				a.successf("Imported %d entries from %s", len(added), source)
				return nil
			})
		},
	}
	cmd.Flags().StringToStringVar(&columns, "column", nil, "Map a CSV header to title, username, password, notes, tags or url (header=field)")
	cmd.Flags().StringVar(&tag, "tag", "", "Add a tag to every imported entry")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and list entries without importing")
	return cmd
}

func readImportFile(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, &vault.IOError{Op: "import", Path: abs, Err: err}
	}
	// Security check: reject symlinks
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, &vault.ValidationError{Field: "file", Reason: "refusing to read symlink " + abs}
	}
	if info.Size() > maxImportSize {
		return nil, &vault.ValidationError{Field: "file", Reason: fmt.Sprintf("file is larger than %s", formatSize(maxImportSize))}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &vault.IOError{Op: "import", Path: abs, Err: err}
	}
	return data, nil
}
