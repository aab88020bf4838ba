package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/blackwell-systems/agswitch/internal/exchange"
)

// termPrompt reads passwords and answers from the command's input. On a
// terminal passwords are read without echo; otherwise one line per answer
// is read, which is how scripts and tests drive it.
type termPrompt struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newTermPrompt(in io.Reader, out io.Writer) *termPrompt {
	return &termPrompt{in: in, out: out, reader: bufio.NewReader(in)}
}

// terminalFd returns the input's descriptor when it is a terminal.
func (p *termPrompt) terminalFd() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return 0, false
	}
	return int(f.Fd()), true
}

// ReadPassword returns exchange.ErrCancelled on end of input or when ctx
// is cancelled while waiting.
func (p *termPrompt) ReadPassword(ctx context.Context, prompt string) (string, error) {
	fd, tty := p.terminalFd()
	if !tty {
		return p.ReadLine(ctx, prompt)
	}

	state, err := term.GetState(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read terminal state: %w", err)
	}
	fmt.Fprint(p.out, prompt)

	type result struct {
		pw  []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pw, err := term.ReadPassword(fd)
		ch <- result{pw, err}
	}()

	select {
	case <-ctx.Done():
		term.Restore(fd, state)
		fmt.Fprintln(p.out)
		return "", exchange.ErrCancelled
	case r := <-ch:
		fmt.Fprintln(p.out)
		if errors.Is(r.err, io.EOF) {
			return "", exchange.ErrCancelled
		}
		if r.err != nil {
			return "", fmt.Errorf("failed to read password: %w", r.err)
		}
		return string(r.pw), nil
	}
}

// ReadLine prints prompt and returns one line without its line ending.
func (p *termPrompt) ReadLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", exchange.ErrCancelled
	case r := <-ch:
		if r.err != nil {
			if !errors.Is(r.err, io.EOF) {
				return "", fmt.Errorf("failed to read input: %w", r.err)
			}
			if r.line == "" {
				return "", exchange.ErrCancelled
			}
		}
		return strings.TrimRight(r.line, "\r\n"), nil
	}
}

// Confirm asks a yes/no question; anything but y or yes is a no.
func (p *termPrompt) Confirm(ctx context.Context, question string) bool {
	answer, err := p.ReadLine(ctx, question+" [y/N]: ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// pathDialog picks bundle paths from a flag, falling back to asking.
type pathDialog struct {
	path   string
	prompt *termPrompt
}

// SaveFile returns the --output path (a directory gets the suggested name
// appended) or asks, offering suggestedName in the working directory.
func (d *pathDialog) SaveFile(ctx context.Context, suggestedName string) (string, error) {
	if d.path != "" {
		if info, err := os.Stat(d.path); err == nil && info.IsDir() {
			return filepath.Join(d.path, suggestedName), nil
		}
		return d.path, nil
	}

	answer, err := d.prompt.ReadLine(ctx, fmt.Sprintf("Save bundle as [%s]: ", suggestedName))
	if errors.Is(err, exchange.ErrCancelled) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return suggestedName, nil
	}
	return expandHome(answer), nil
}

// OpenFile returns the --file path or asks for one. An empty answer is a
// cancelled selection.
func (d *pathDialog) OpenFile(ctx context.Context, extension string) (string, error) {
	if d.path != "" {
		return d.path, nil
	}

	answer, err := d.prompt.ReadLine(ctx, fmt.Sprintf("Bundle to import (*%s): ", extension))
	if errors.Is(err, exchange.ErrCancelled) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return expandHome(strings.TrimSpace(answer)), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
