package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/passgen"
	"github.com/forest6511/sealbox/pkg/vault"
)

func newGenerateCmd(a *App) *cobra.Command {
	var (
		length      int
		count       int
		noSymbols   bool
		noNumbers   bool
		noUppercase bool
		noLowercase bool
		exclude     string
		copyFirst   bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate secure random passwords",
		Long: `Generate cryptographically secure random passwords. Defaults come from
the generator settings; every enabled character type appears at least once.

Examples:
  # Generate one password with the configured defaults
  sealbox generate

  # Generate a 32-character password without symbols
  sealbox generate -l 32 --no-symbols

  # Generate 5 passwords
  sealbox generate -n 5

  # Generate and copy to clipboard
  sealbox generate -c

  # Generate password excluding ambiguous characters
  sealbox generate --exclude "0O1lI"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.Config.GeneratorOptions()
			if cmd.Flags().Changed("length") {
				opts.Length = length
			}
			opts.Symbols = opts.Symbols && !noSymbols
			opts.Digits = opts.Digits && !noNumbers
			opts.Uppercase = opts.Uppercase && !noUppercase
			opts.Lowercase = opts.Lowercase && !noLowercase
			opts.Exclude = exclude

			if count < 1 || count > passgen.MaxCount {
				return &vault.ValidationError{Field: "count", Reason: fmt.Sprintf("must be between 1 and %d", passgen.MaxCount)}
			}
			passwords, err := passgen.GenerateN(opts, count)
			if err != nil {
				if errors.Is(err, passgen.ErrEmptyCharset) || opts.Validate() != nil {
					return &vault.ValidationError{Field: "generator", Reason: err.Error()}
				}
				return fmt.Errorf("failed to generate password: %w", err)
			}

			for _, p := range passwords {
				a.println(p)
			}
			if copyFirst {
				if err := a.copySecret(passwords[0]); err != nil {
					a.warnf("failed to copy to clipboard: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", passgen.DefaultLength,
		fmt.Sprintf("Password length (%d-%d, default: generator.length setting)", passgen.MinLength, passgen.MaxLength))
	cmd.Flags().IntVarP(&count, "count", "n", 1, fmt.Sprintf("Number of passwords to generate (1-%d)", passgen.MaxCount))
	cmd.Flags().BoolVar(&noSymbols, "no-symbols", false, "Exclude symbols")
	cmd.Flags().BoolVar(&noNumbers, "no-numbers", false, "Exclude numbers")
	cmd.Flags().BoolVar(&noUppercase, "no-uppercase", false, "Exclude uppercase letters")
	cmd.Flags().BoolVar(&noLowercase, "no-lowercase", false, "Exclude lowercase letters")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Characters to exclude")
	cmd.Flags().BoolVarP(&copyFirst, "copy", "c", false, "Copy the first password to the clipboard")
	return cmd
}
