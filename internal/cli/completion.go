package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/importer"
)

func newCompletionCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate completion script for your shell",
		Long: `To load completions:

Bash:
  $ source <(sealbox completion bash)

Zsh:
  $ sealbox completion zsh > ~/.zsh/completions/_sealbox
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ sealbox completion fish > ~/.config/fish/completions/sealbox.fish

PowerShell:
  PS> sealbox completion powershell >> $PROFILE

Entry titles are never completed, since that would need the passphrase.`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(a.Out)
			case "zsh":
				return root.GenZshCompletion(a.Out)
			case "fish":
				return root.GenFishCompletion(a.Out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(a.Out)
			}
			return nil
		},
	}
}

// completeImportFormat completes the first import-from argument; the second
// is a file.
func completeImportFormat(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveDefault
	}
	var out []string
	for _, s := range append([]string{"auto"}, importer.ValidSources()...) {
		if strings.HasPrefix(s, toComplete) {
			out = append(out, s)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// completeBackupIDs lists backup ids. Backups are plain files, so no
// passphrase is needed.
func (a *App) completeBackupIDs(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	path, err := a.resolveVaultPath("")
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	backups, err := a.backupManager().List(path)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var ids []string
	for _, b := range backups {
		if strings.HasPrefix(b.ID, toComplete) {
			ids = append(ids, b.ID)
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}
