package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/vault"
)

func newAuditCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the vault's audit log",
		Long: `Every vault operation is appended to an HMAC-chained audit log kept in
<name>.audit next to the vault file. Entry ids are stored only as keyed
hashes. Reading or verifying the log requires the vault passphrase.`,
	}
	cmd.AddCommand(newAuditVerifyCmd(a), newAuditListCmd(a))
	return cmd
}

func newAuditVerifyCmd(a *App) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify audit log HMAC chain integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				result, err := v.AuditVerify()
				if err != nil {
					return fmt.Errorf("failed to verify audit log: %w", err)
				}
				if jsonOut {
					if err := a.printJSON(result); err != nil {
						return err
					}
				} else if result.Valid {
					a.successf("Audit log verified: %d records, chain intact", result.RecordsTotal)
					if result.RecordsForeignKey > 0 {
						a.printf("  %d records predate the last passphrase change; only their links were checked\n",
							result.RecordsForeignKey)
					}
				} else {
					a.println(errorColor.Sprint("✗ Audit log verification FAILED"))
					a.printf("  Records total: %d\n", result.RecordsTotal)
					a.println("  Errors:")
					for _, e := range result.Errors {
						a.printf("    - %s\n", e)
					}
				}
				if !result.Valid {
					return fmt.Errorf("%w: audit log chain is broken", vault.ErrIntegrityMismatch)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newAuditListCmd(a *App) *cobra.Command {
	var (
		limit   int
		since   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit log entries",
		Long: `List audit events, oldest first.

Examples:
  sealbox audit list --limit 20
  sealbox audit list --since 7d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				d, err := parseDuration(since)
				if err != nil {
					return &vault.ValidationError{Field: "since", Reason: err.Error()}
				}
				from = time.Now().Add(-d)
			}
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				events, err := v.AuditEvents(limit, from)
				if err != nil {
					return fmt.Errorf("failed to list audit events: %w", err)
				}
				if jsonOut {
					return a.printJSON(events)
				}
				if len(events) == 0 {
					a.println("No audit events found")
					return nil
				}
				for _, e := range events {
					// Format: TIMESTAMP OPERATION RESULT [ENTRY] [CTX]
					line := fmt.Sprintf("%s %s %s", e.Timestamp, e.Operation, e.Result)
					if e.Entry != "" {
						line += " entry:" + truncate(e.Entry, 17)
					}
					if e.Error != nil {
						line += " error:" + e.Error.Code
					}
					if len(e.Context) > 0 {
						parts := make([]string, 0, len(e.Context))
						for k, val := range e.Context {
							parts = append(parts, fmt.Sprintf("%s=%v", k, val))
						}
						slices.Sort(parts)
						line += " " + dimColor.Sprint(strings.Join(parts, " "))
					}
					a.println(line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to show")
	cmd.Flags().StringVar(&since, "since", "", "Show events since duration (e.g., 24h, 7d)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// parseDuration accepts time.ParseDuration syntax plus d (day), w (week),
// m (30 days) and y (365 days) suffixes.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var day = 24 * time.Hour
	var mult time.Duration
	switch unit {
	case 'd':
		mult = day
	case 'w':
		mult = 7 * day
	case 'm':
		mult = 30 * day
	case 'y':
		mult = 365 * day
	default:
		// Try standard time.ParseDuration
		return time.ParseDuration(s)
	}

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil || value < 0 {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	return time.Duration(value) * mult, nil
}
