package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/sealbox/pkg/config"
)

func newConfigCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize settings",
		Long: fmt.Sprintf(`Settings live in %s in the config directory
($%s, else $XDG_CONFIG_HOME/sealbox or ~/.config/sealbox). Any setting can
be overridden with a %s* environment variable, e.g. %sAUTO_LOCK_MINUTES=10.`,
			config.FileName, config.EnvConfigDir, config.EnvPrefix, config.EnvPrefix),
	}
	cmd.AddCommand(newConfigShowCmd(a), newConfigInitCmd(a))
	return cmd
}

func newConfigShowCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.Config)
			if err != nil {
				return err
			}
			path := config.Path(a.ConfigDir)
			if _, err := os.Stat(path); err != nil {
				path += " (not created; defaults)"
			}
			a.println(dimColor.Sprint("# " + path))
			a.printf("%s", out)
			return nil
		},
	}
}

func newConfigInitCmd(a *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(a.ConfigDir)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("settings file already exists: %s (use --force to overwrite)", path)
			}
			if err := config.Save(a.ConfigDir, config.Default()); err != nil {
				return err
			}
			a.successf("Settings written to %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing settings file")
	return cmd
}
