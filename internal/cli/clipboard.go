package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/forest6511/sealbox/pkg/crypto"
)

// Clipboard is the system clipboard.
type Clipboard interface {
	Write(text string) error
	Read() (string, error)
}

// SystemClipboard shells out to the platform clipboard tools.
type SystemClipboard struct{}

var errNoClipboardTool = errors.New("clipboard tool not found: install xclip or xsel")

func clipboardCommand(write bool) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		if write {
			return exec.Command("pbcopy"), nil
		}
		return exec.Command("pbpaste"), nil
	case "linux", "freebsd", "openbsd":
		// Try xclip first, then xsel
		if _, err := exec.LookPath("xclip"); err == nil {
			if write {
				return exec.Command("xclip", "-selection", "clipboard"), nil
			}
			return exec.Command("xclip", "-selection", "clipboard", "-o"), nil
		}
		if _, err := exec.LookPath("xsel"); err == nil {
			if write {
				return exec.Command("xsel", "--clipboard", "--input"), nil
			}
			return exec.Command("xsel", "--clipboard", "--output"), nil
		}
		return nil, errNoClipboardTool
	case "windows":
		if write {
			return exec.Command("clip"), nil
		}
		return exec.Command("powershell", "-NoProfile", "-Command", "Get-Clipboard"), nil
	default:
		return nil, fmt.Errorf("clipboard not supported on %s", runtime.GOOS)
	}
}

// Write implements Clipboard.
func (SystemClipboard) Write(text string) error {
	cmd, err := clipboardCommand(true)
	if err != nil {
		return err
	}
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// Read implements Clipboard.
func (SystemClipboard) Read() (string, error) {
	cmd, err := clipboardCommand(false)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimRight(out.String(), "\r\n"), nil
}

// copySecret puts value on the clipboard and clears it after the configured
// delay, unless something else has been copied since. While waiting, only a
// session-sealed copy of the value is kept.
func (a *App) copySecret(value string) error {
	session, err := a.sessionKey()
	if err != nil {
		return err
	}
	sealed, err := session.Seal([]byte(value))
	if err != nil {
		return err
	}
	if err := a.Clipboard.Write(value); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}

	delay := time.Duration(a.Config.ClipboardClearSeconds) * time.Second
	done := make(chan struct{})
	a.clears = append(a.clears, done)
	time.AfterFunc(delay, func() {
		defer close(done)
		a.clearClipboard(session, sealed)
	})
	a.Logger.Debug("secret copied to clipboard", "clear_after", delay)
	fmt.Fprintf(a.Err, "Copied to clipboard; it will be cleared in %s.\n", delay)
	return nil
}

func (a *App) clearClipboard(session *crypto.Session, sealed []byte) {
	want, err := session.Open(sealed)
	if err != nil {
		// session closed: the process is exiting
		return
	}
	defer crypto.SecureWipe(want)

	current, err := a.Clipboard.Read()
	if err != nil {
		a.Logger.Warn("clipboard read failed", "error", err)
		return
	}
	if current != string(want) {
		return
	}
	if err := a.Clipboard.Write(""); err != nil {
		a.Logger.Warn("clipboard clear failed", "error", err)
		return
	}
	a.Logger.Debug("clipboard cleared")
}

// waitClears blocks until pending clipboard clears have run. Inside the
// shell it returns at once; the clears still pending are waited for when
// the shell ends.
func (a *App) waitClears(ctx context.Context) {
	if a.inShell || len(a.clears) == 0 {
		return
	}
	fmt.Fprintln(a.Err, dimColor.Sprint("Waiting to clear the clipboard (Ctrl-C to skip)..."))
	for _, done := range a.clears {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	a.clears = nil
}
