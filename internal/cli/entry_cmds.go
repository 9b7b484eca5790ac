package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/passgen"
	"github.com/forest6511/sealbox/pkg/vault"
)

// entryFlags are the field flags shared by add and update.
type entryFlags struct {
	typ      string
	title    string
	username string
	notes    string
	body     string
	tags     []string
	pin      bool
	generate bool
	length   int
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.typ, "type", "", "Entry type: password or note")
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "Entry title")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&f.notes, "notes", "n", "", "Notes")
	cmd.Flags().StringVar(&f.body, "body", "", "Note body (note entries)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Tag (repeatable or comma-separated)")
	cmd.Flags().BoolVar(&f.pin, "pin", false, "Pin the entry")
	cmd.Flags().BoolVarP(&f.generate, "generate", "g", false, "Generate the password")
	cmd.Flags().IntVarP(&f.length, "length", "l", 0, "Generated password length (default: generator.length setting)")
}

func parseEntryType(s string) (vault.EntryType, error) {
	t := vault.EntryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &vault.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown entry type %q (password or note)", s)}
	}
	return t, nil
}

func (a *App) generatePassword(length int) (string, error) {
	opts := a.Config.GeneratorOptions()
	if length > 0 {
		opts.Length = length
	}
	if err := opts.Validate(); err != nil {
		return "", &vault.ValidationError{Field: "length", Reason: err.Error()}
	}
	return passgen.Generate(opts)
}

// readSecret prompts for a password twice.
func (a *App) readSecret(prompt string) (string, error) {
	s, err := a.Prompter.Secret(prompt)
	if err != nil {
		return "", err
	}
	again, err := a.Prompter.Secret("Repeat: ")
	if err != nil {
		return "", err
	}
	if s != again {
		return "", &vault.ValidationError{Field: "secret", Reason: "values do not match"}
	}
	return s, nil
}

func newAddCmd(a *App) *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a password or note entry",
		Long: `Add an entry. The password is prompted for unless --generate is given;
a note body comes from --body or a prompt.

Examples:
  # Add a login, prompting for the password
  sealbox add -t GitHub -u octocat --tag work

  # Add a login with a generated password and copy nothing
  sealbox add -t "Mail" -u me@example.com --generate --length 32

  # Add a secure note
  sealbox add --type note -t "Wifi" --body "ssid: home, key: hunter2"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := vault.EntryPassword
			if f.typ != "" {
				t, err := parseEntryType(f.typ)
				if err != nil {
					return err
				}
				typ = t
			}
			title := f.title
			if title == "" {
				var err error
				if title, err = a.Prompter.Line("Title: "); err != nil {
					return err
				}
			}

			var secret string
			var generated bool
			switch {
			case typ == vault.EntryNote && f.generate:
				return &vault.ValidationError{Field: "generate", Reason: "notes have no password to generate"}
			case typ == vault.EntryNote:
				secret = f.body
				if secret == "" {
					var err error
					if secret, err = a.Prompter.Line("Note: "); err != nil {
						return err
					}
				}
			case f.generate:
				var err error
				if secret, err = a.generatePassword(f.length); err != nil {
					return err
				}
				generated = true
			default:
				var err error
				if secret, err = a.readSecret("Password: "); err != nil {
					return err
				}
			}

			return a.withVault(cmd, true, func(v *vault.Vault) error {
				e, err := v.AddEntry(vault.EntryInput{
					Type:     typ,
					Title:    title,
					Username: f.username,
					Secret:   secret,
					Notes:    f.notes,
					Tags:     f.tags,
					Pinned:   f.pin,
				})
				if err != nil {
					return err
				}
				a.successf("Added %s %q (%s)", e.Type, e.Title, shortID(e.ID))
				if generated {
					a.println("Generated password:", secret)
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newUpdateCmd(a *App) *cobra.Command {
	var (
		f        entryFlags
		password bool
		unpin    bool
	)
	cmd := &cobra.Command{
		Use:   "update <entry>",
		Short: "Change fields of an entry",
		Long: `Update an entry named by id, id prefix, or title. Only the given flags
change; --tag replaces the whole tag list. A changed password moves the old
one into the entry's history.

Examples:
  # Rotate a password
  sealbox update GitHub --generate

  # Enter a new password by hand
  sealbox update GitHub --password

  # Retag and pin
  sealbox update 3f2a --tag work --tag git --pin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if f.pin && unpin {
				return &vault.ValidationError{Field: "pinned", Reason: "--pin and --unpin are mutually exclusive"}
			}
			return a.withVault(cmd, true, func(v *vault.Vault) error {
				e, err := resolveEntry(v, args[0])
				if err != nil {
					return err
				}

				var upd vault.EntryUpdate
				typ := e.Type
				if flags.Changed("type") {
					if typ, err = parseEntryType(f.typ); err != nil {
						return err
					}
					upd.Type = &typ
				}
				if flags.Changed("title") {
					upd.Title = &f.title
				}
				if flags.Changed("username") {
					upd.Username = &f.username
				}
				if flags.Changed("notes") {
					upd.Notes = &f.notes
				}
				if flags.Changed("tag") {
					upd.Tags = &f.tags
				}
				switch {
				case f.pin:
					upd.Pinned = &f.pin
				case unpin:
					pinned := false
					upd.Pinned = &pinned
				}

				var generated string
				switch {
				case flags.Changed("body"):
					if typ != vault.EntryNote {
						return &vault.ValidationError{Field: "body", Reason: "--body applies to note entries"}
					}
					upd.Secret = &f.body
				case f.generate:
					if typ == vault.EntryNote {
						return &vault.ValidationError{Field: "generate", Reason: "notes have no password to generate"}
					}
					if generated, err = a.generatePassword(f.length); err != nil {
						return err
					}
					upd.Secret = &generated
				case password:
					s, err := a.readSecret("New password: ")
					if err != nil {
						return err
					}
					upd.Secret = &s
				}

				updated, err := v.UpdateEntry(e.ID, upd)
				if err != nil {
					return err
				}
				a.successf("Updated %q (%s)", updated.Title, shortID(updated.ID))
				if generated != "" {
					a.println("Generated password:", generated)
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&password, "password", "p", false, "Prompt for a new password")
	cmd.Flags().BoolVar(&unpin, "unpin", false, "Unpin the entry")
	return cmd
}

func newDeleteCmd(a *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <entry>...",
		Short: "Delete entries",
		Long: `Delete entries named by id, id prefix, title, or a title glob.

Examples:
  # Delete one entry
  sealbox delete GitHub

  # Delete every entry whose title starts with "old-"
  sealbox delete 'old-*' --yes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, true, func(v *vault.Vault) error {
				entries, err := expandRefs(v, args)
				if err != nil {
					return err
				}
				if !yes {
					for _, e := range entries {
						a.printf("  %s  %s\n", shortID(e.ID), e.Title)
					}
					if !a.confirm(fmt.Sprintf("Delete %d entries?", len(entries))) {
						return errCanceled
					}
				}
				for _, e := range entries {
					if err := v.DeleteEntry(e.ID); err != nil {
						return err
					}
				}
				a.successf("Deleted %d entries", len(entries))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// entryView is the JSON shape of an entry. Secret is set only on request.
type entryView struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	Title              string    `json:"title"`
	Username           string    `json:"username,omitempty"`
	Secret             string    `json:"secret,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	Tags               []string  `json:"tags"`
	Pinned             bool      `json:"pinned"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	LastSecretChangeAt time.Time `json:"last_secret_change_at"`
	HistoryCount       int       `json:"history_count"`
}

func viewOf(e *vault.Entry, reveal bool) entryView {
	ev := entryView{
		ID:                 e.ID,
		Type:               string(e.Type),
		Title:              e.Title,
		Username:           e.Username,
		Notes:              e.Notes,
		Tags:               e.Tags,
		Pinned:             e.Pinned,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
		LastSecretChangeAt: e.LastSecretChangeAt,
		HistoryCount:       len(e.SecretHistory),
	}
	if reveal {
		ev.Secret = e.Secret
	}
	if ev.Tags == nil {
		ev.Tags = []string{}
	}
	return ev
}

func newListCmd(a *App) *cobra.Command {
	var (
		tag     string
		typ     string
		pinned  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:     "list [search]",
		Aliases: []string{"ls"},
		Short:   "List entries",
		Long: `List entries, optionally filtered. The search text matches titles,
usernames, notes and tags, never secrets.

Examples:
  sealbox list
  sealbox list git --tag work
  sealbox list --type note --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := vault.Query{Tag: tag, PinnedOnly: pinned}
			if len(args) == 1 {
				q.Text = args[0]
			}
			if typ != "" {
				t, err := parseEntryType(typ)
				if err != nil {
					return err
				}
				q.Type = t
			}
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				entries, err := v.Find(q)
				if err != nil {
					return err
				}
				if jsonOut {
					views := make([]entryView, len(entries))
					for i, e := range entries {
						views[i] = viewOf(e, false)
					}
					return a.printJSON(views)
				}
				if len(entries) == 0 {
					a.println("No entries found.")
					return nil
				}
				printEntryTable(a.Out, entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only entries with this tag")
	cmd.Flags().StringVar(&typ, "type", "", "Only entries of this type: password or note")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "Only pinned entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printEntryTable(out io.Writer, entries []*vault.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, headerColor.Sprint("ID\tTYPE\tTITLE\tUSERNAME\tTAGS\tUPDATED"))
	for _, e := range entries {
		title := truncate(e.Title, 40)
		if e.Pinned {
			title = "* " + title
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(e.ID), e.Type, title, truncate(e.Username, 30),
			strings.Join(e.Tags, ","), formatTime(e.UpdatedAt))
	}
	w.Flush()
}

func newShowCmd(a *App) *cobra.Command {
	var (
		reveal  bool
		copySec bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "show <entry>",
		Short: "Show one entry",
		Long: `Show an entry named by id, id prefix, or title. The secret is masked
unless --reveal is given. --copy puts it on the clipboard instead; the
clipboard is cleared after clipboard_clear_seconds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				e, err := resolveEntry(v, args[0])
				if err != nil {
					return err
				}
				if copySec {
					if err := a.copySecret(e.Secret); err != nil {
						return err
					}
				}
				if jsonOut {
					return a.printJSON(viewOf(e, reveal))
				}
				a.printEntry(e, reveal)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&reveal, "reveal", "r", false, "Show the secret in clear text")
	cmd.Flags().BoolVarP(&copySec, "copy", "c", false, "Copy the secret to the clipboard")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func (a *App) printEntry(e *vault.Entry, reveal bool) {
	label := func(s string) string { return headerColor.Sprintf("%-10s", s+":") }
	secret := mask(e.Secret)
	if reveal {
		secret = e.Secret
	}

	a.printf("%s %s\n", label("Title"), e.Title)
	a.printf("%s %s\n", label("ID"), e.ID)
	a.printf("%s %s\n", label("Type"), e.Type)
	if e.Type == vault.EntryNote {
		a.printf("%s %s\n", label("Note"), secret)
	} else {
		if e.Username != "" {
			a.printf("%s %s\n", label("Username"), e.Username)
		}
		a.printf("%s %s\n", label("Password"), secret)
	}
	if len(e.Tags) > 0 {
		a.printf("%s %s\n", label("Tags"), strings.Join(e.Tags, ", "))
	}
	if e.Pinned {
		a.printf("%s yes\n", label("Pinned"))
	}
	a.printf("%s %s\n", label("Created"), formatTime(e.CreatedAt))
	a.printf("%s %s\n", label("Updated"), formatTime(e.UpdatedAt))
	if e.Type == vault.EntryPassword {
		a.printf("%s %s (%d previous)\n", label("Changed"), formatTime(e.LastSecretChangeAt), len(e.SecretHistory))
	}
	if e.Notes != "" {
		a.printf("%s\n%s\n", label("Notes"), e.Notes)
	}
}

func newHistoryCmd(a *App) *cobra.Command {
	var (
		reveal  bool
		copyIdx int
	)
	cmd := &cobra.Command{
		Use:   "history <entry>",
		Short: "Show previous passwords of an entry",
		Long: `List the previous passwords of an entry, newest first. Values are masked
unless --reveal is given; --copy N copies the Nth one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, false, func(v *vault.Vault) error {
				e, err := resolveEntry(v, args[0])
				if err != nil {
					return err
				}
				if e.Type == vault.EntryNote {
					return &vault.ValidationError{Field: "type", Reason: "note entries keep no history"}
				}
				n := len(e.SecretHistory)
				if n == 0 {
					a.printf("No previous passwords for %q.\n", e.Title)
					return nil
				}
				if cmd.Flags().Changed("copy") {
					if copyIdx < 1 || copyIdx > n {
						return &vault.ValidationError{Field: "copy", Reason: fmt.Sprintf("choose 1..%d", n)}
					}
					return a.copySecret(e.SecretHistory[n-copyIdx].Secret)
				}

				w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, headerColor.Sprint("#\tREPLACED\tPASSWORD"))
				for i := n - 1; i >= 0; i-- {
					h := e.SecretHistory[i]
					value := mask(h.Secret)
					if reveal {
						value = h.Secret
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", n-i, formatTime(h.ChangedAt), value)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&reveal, "reveal", "r", false, "Show values in clear text")
	cmd.Flags().IntVarP(&copyIdx, "copy", "c", 0, "Copy the Nth previous password")
	return cmd
}
