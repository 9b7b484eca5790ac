package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/security"
	"github.com/forest6511/sealbox/pkg/vault"
)

func newSecurityCmd(a *App) *cobra.Command {
	var (
		verbose bool
		jsonOut bool
		days    int
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Analyze vault security health",
		Long: `Analyze the passwords in the vault and get recommendations.

The security score (0-100) is calculated from:
  - Password Strength (0-25): average strength of passwords
  - Uniqueness (0-25): share of passwords not reused elsewhere
  - Freshness (0-25): share of passwords younger than the expiration age

Notes are not analyzed. Passwords are compared through a per-run keyed
hash, never in clear text.

Example:
  sealbox security              # Show security score and issues
  sealbox security --verbose    # Also show suggestions
  sealbox security --days 180   # Treat passwords older than 180 days as expired
  sealbox security --json       # Output in JSON format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.Config.PasswordExpirationDays
			}
			if days < 0 {
				return &vault.ValidationError{Field: "days", Reason: "must not be negative"}
			}
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				calc, err := security.NewCalculator(v)
				if err != nil {
					return err
				}
				defer calc.Close()
				calc.WithExpirationDays(days).
					WithLimits(security.Limits{WeakLimit: limit, DuplicateLimit: limit, ExpiredLimit: limit})

				score, err := calc.CalculateScore()
				if err != nil {
					return fmt.Errorf("failed to calculate security score: %w", err)
				}
				if jsonOut {
					return a.printJSON(score)
				}
				a.printSecurity(score, verbose)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show suggestions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	cmd.Flags().IntVar(&days, "days", 0, "Password age in days that counts as expired, 0 to disable (default: password_expiration_days setting)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum issues listed per kind (0: all)")
	return cmd
}

func (a *App) printSecurity(score *security.SecurityScore, verbose bool) {
	rating, c := "Needs Attention", errorColor
	switch {
	case score.Overall >= 90:
		rating, c = "Excellent", successColor
	case score.Overall >= 70:
		rating, c = "Good", successColor
	case score.Overall >= 50:
		rating, c = "Fair", warnColor
	}
	a.printf("Security Score: %s (%s)\n", c.Sprintf("%d/100", score.Overall), rating)
	a.printf("%d passwords checked\n\n", score.Checked)

	a.println("Components:")
	a.printf("  Password Strength: %2d/25 %s\n", score.Components.StrengthScore, progressBar(score.Components.StrengthScore, 25))
	a.printf("  Uniqueness:        %2d/25 %s\n", score.Components.UniquenessScore, progressBar(score.Components.UniquenessScore, 25))
	a.printf("  Freshness:         %2d/25 %s\n", score.Components.FreshnessScore, progressBar(score.Components.FreshnessScore, 25))
	a.println()

	if len(score.Issues) > 0 {
		a.println(warnColor.Sprintf("Issues (%d):", len(score.Issues)))
		for i, issue := range score.Issues {
			var subject string
			switch {
			case issue.Title != "":
				subject = fmt.Sprintf(" %q", issue.Title)
			case len(issue.EntryIDs) > 0:
				ids := make([]string, len(issue.EntryIDs))
				for j, id := range issue.EntryIDs {
					ids[j] = shortID(id)
				}
				subject = " " + strings.Join(ids, ", ")
			}
			a.printf("  %d. [%s]%s: %s\n", i+1, strings.ToUpper(string(issue.Type)), subject, issue.Description)
		}
		a.println()
	}
	if score.Limited {
		a.println(dimColor.Sprint("Some issues were not listed; raise --limit to see them all."))
	}

	if verbose && len(score.Suggestions) > 0 {
		a.println("Suggestions:")
		for _, s := range score.Suggestions {
			a.printf("  - %s\n", s)
		}
	}
}

// progressBar creates a simple ASCII progress bar.
func progressBar(value, maxVal int) string {
	const width = 20
	filled := value * width / maxVal
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
