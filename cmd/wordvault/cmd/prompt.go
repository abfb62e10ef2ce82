package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jmcleod/wordvault/internal/util"
)

// prompter reads answers from the command's input. Secrets are read
// without echo when the input is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}
	return p
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// secret returns the answer as a byte slice the caller must wipe.
func (p *prompter) secret(label string) ([]byte, error) {
	if !p.tty {
		s, err := p.line(label)
		return []byte(s), err
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return b, nil
}

// words reads the ten secret words, separated by any whitespace.
func (p *prompter) words() ([]string, error) {
	b, err := p.secret("Secret words")
	if err != nil {
		return nil, err
	}
	words := strings.Fields(string(b))
	util.WipeBytes(b)
	return words, nil
}
