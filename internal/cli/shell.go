package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/sealbox/pkg/vault"
)

func newShellCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "shell [path]",
		Short: "Open a vault and run commands against it interactively",
		Long: `Start an interactive session. The vault is unlocked once and stays open
until lock, exit, or auto_lock_minutes without input. Changes are kept in
memory until save; the prompt shows * while there are unsaved changes.

Auto-lock saves pending changes before locking. exit refuses to leave with
unsaved changes; use exit --force to discard them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.inShell {
				return &vault.ValidationError{Field: "shell", Reason: "already in the shell"}
			}
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			path, err := a.resolveVaultPath(arg)
			if err != nil {
				return err
			}
			v := a.newEngine(path)
			if err := a.unlock(v, path); err != nil {
				return err
			}
			a.inShell = true
			a.adopt(v, path)
			defer func() {
				a.inShell = false
				a.vault.Lock()
				a.vault = nil
			}()
			return a.runShell(cmd.Context())
		},
	}
}

// shell holds the state of one interactive session.
type shell struct {
	a *App
	// mu serializes commands with the auto-lock timer
	mu    sync.Mutex
	timer *time.Timer
}

func (a *App) runShell(ctx context.Context) error {
	sh := &shell{a: a}
	if d := time.Duration(a.Config.AutoLockMinutes) * time.Minute; d > 0 {
		sh.timer = time.AfterFunc(d, sh.autoLock)
		defer sh.timer.Stop()
	}
	a.println(dimColor.Sprint(`Type "help" for commands, "exit" to leave.`))

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := a.Prompter.Line(sh.prompt())
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				sh.leaveOnEOF()
				return nil
			}
			return err
		}

		args, err := splitArgs(line)
		if err != nil {
			a.printError(&vault.ValidationError{Field: "input", Reason: err.Error()})
			continue
		}
		if len(args) == 0 {
			continue
		}
		if done := sh.exec(ctx, args); done {
			return nil
		}
	}
}

func (sh *shell) prompt() string {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v := sh.a.vault
	switch {
	case v == nil || v.IsLocked():
		return "sealbox (locked)> "
	case v.Dirty():
		return "sealbox*> "
	default:
		return "sealbox> "
	}
}

// exec runs one command line and reports whether the session should end.
func (sh *shell) exec(ctx context.Context, args []string) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.timer != nil {
		sh.timer.Stop()
		defer sh.timer.Reset(time.Duration(sh.a.Config.AutoLockMinutes) * time.Minute)
	}

	a := sh.a
	switch args[0] {
	case "exit", "quit":
		force := len(args) > 1 && (args[1] == "--force" || args[1] == "-f")
		if a.vault != nil && a.vault.Dirty() && !force {
			a.printError(&vault.ValidationError{
				Field:  "vault",
				Reason: "unsaved changes; run save first, or exit --force to discard them",
			})
			return false
		}
		return true
	case "shell":
		a.printError(&vault.ValidationError{Field: "shell", Reason: "already in the shell"})
		return false
	}

	root := NewRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		a.printError(err)
	}
	return false
}

func (sh *shell) autoLock() {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a := sh.a
	v := a.vault
	if v == nil || v.IsLocked() {
		return
	}
	if v.Dirty() {
		if err := a.save(context.Background(), v); err != nil {
			// keep the vault open rather than lose the changes
			a.Logger.Error("auto-lock save failed", "error", err)
			a.warnf("auto-lock skipped: saving pending changes failed: %v", err)
			return
		}
	}
	v.Lock()
	a.Logger.Info("vault auto-locked", "idle_minutes", a.Config.AutoLockMinutes)
	fmt.Fprintln(a.Err)
	fmt.Fprintln(a.Err, warnColor.Sprint("Vault locked after inactivity."))
}

func (sh *shell) leaveOnEOF() {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if v := sh.a.vault; v != nil && v.Dirty() {
		sh.a.warnf("input closed; unsaved changes were discarded")
	}
}

// splitArgs splits a command line into words. Single quotes keep text
// literally; double quotes allow backslash escapes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
