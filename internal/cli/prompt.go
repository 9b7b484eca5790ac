package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user for input.
type Prompter interface {
	// Secret reads a value without echo when attached to a terminal.
	Secret(prompt string) (string, error)
	// Line reads one line of plain input.
	Line(prompt string) (string, error)
}

// TermPrompter prompts on a terminal, falling back to line reads when the
// input is piped.
type TermPrompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

// NewTermPrompter returns a prompter reading from in and writing prompts to
// out.
func NewTermPrompter(in io.Reader, out io.Writer) *TermPrompter {
	return &TermPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *TermPrompter) terminalFd() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// Secret implements Prompter.
func (p *TermPrompter) Secret(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if fd, ok := p.terminalFd(); ok {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out) // Add newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	// Fallback for piped input
	return p.readLine()
}

// Line implements Prompter.
func (p *TermPrompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	return p.readLine()
}

// readLine reads a single line, trimming the trailing newline
func (p *TermPrompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if err != nil && line == "" {
		return "", io.ErrUnexpectedEOF
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func (a *App) confirm(question string) bool {
	answer, err := a.Prompter.Line(question + " [y/N]: ")
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
