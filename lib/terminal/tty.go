// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package terminal prompts the human on the controlling terminal.
//
// Every prompt opens /dev/tty directly instead of reading stdin. A
// process whose stdin is a pipe, a heredoc, or an exec harness has no
// way to answer: the confirmation can only come from the keyboard of
// whoever owns the terminal session. When no controlling terminal
// exists the prompt fails with ErrNoTerminal rather than falling back
// to stdin, because a fallback would be the exact bypass this package
// exists to prevent.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/aiir-foundation/aiir/lib/secret"
)

// ErrNoTerminal reports that no controlling terminal is available.
var ErrNoTerminal = errors.New("no controlling terminal")

// ErrInterrupted reports that the human cancelled the prompt with
// Ctrl-C.
var ErrInterrupted = errors.New("interrupted")

// SecureInput is the capability to ask the human a question that a
// piped process cannot answer. Implementations must never read stdin.
type SecureInput interface {
	// ReadSecret prompts for a masked secret. Empty entry returns
	// secret.ErrEmpty.
	ReadSecret(prompt string) (*secret.Buffer, error)

	// ReadYesNo asks a yes/no question. Only an explicit y or Y
	// answers yes.
	ReadYesNo(prompt string) (bool, error)
}

// TTY is the controlling terminal, opened read-write so prompts and
// their echoes land on the terminal even when stderr is redirected.
type TTY struct {
	file *os.File
}

var _ SecureInput = (*TTY)(nil)

// Open opens the controlling terminal. It fails with ErrNoTerminal
// when the process has none, which is the expected state under any
// piped or scripted invocation.
func Open() (*TTY, error) {
	file, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTerminal, err)
	}
	return &TTY{file: file}, nil
}

// Close releases the terminal.
func (t *TTY) Close() error {
	return t.file.Close()
}

// ReadSecret prompts for a secret with masked echo: one star per
// keystroke, backspace erases, Ctrl-C cancels with ErrInterrupted.
// The terminal is switched to raw mode for the read and restored on
// every path, including cancellation and read errors. When the
// terminal refuses raw mode the read degrades to an echo-suppressed
// line read on the same tty, never to stdin.
func (t *TTY) ReadSecret(prompt string) (*secret.Buffer, error) {
	fmt.Fprint(t.file, prompt)

	fd := int(t.file.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return t.readSecretNoEcho(fd, err)
	}
	defer func() {
		term.Restore(fd, state)
		fmt.Fprint(t.file, "\n")
	}()

	typed, err := readMasked(t.file, t.file)
	if err != nil {
		return nil, err
	}
	return secret.NewFromBytes(typed)
}

// readSecretNoEcho is the degraded path for terminals that reject raw
// mode: no star echo, but the entry still stays off the screen and
// still comes from the tty.
func (t *TTY) readSecretNoEcho(fd int, rawErr error) (*secret.Buffer, error) {
	typed, err := term.ReadPassword(fd)
	if err != nil {
		return nil, fmt.Errorf("switching terminal to raw mode: %w", rawErr)
	}
	fmt.Fprint(t.file, "\n")
	if len(typed) == 0 {
		return nil, secret.ErrEmpty
	}
	return secret.NewFromBytes(typed)
}

// ReadYesNo prompts in normal line mode and reads one line from the
// terminal. Anything but y or Y, including an empty line or a closed
// terminal, answers no.
func (t *TTY) ReadYesNo(prompt string) (bool, error) {
	fmt.Fprint(t.file, prompt)
	line, err := readLine(t.file)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

// readMasked consumes one keystroke at a time from reader until enter,
// echoing a star per character to echo. Backspace (DEL or BS) erases
// the last character. Ctrl-C zeroes the partial entry and returns
// ErrInterrupted. The returned bytes are the caller's to zero; on any
// error the partial entry is already zeroed.
func readMasked(reader io.Reader, echo io.Writer) ([]byte, error) {
	var typed []byte
	var one [1]byte
	for {
		n, err := reader.Read(one[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			secret.Zero(typed)
			return nil, fmt.Errorf("reading from terminal: %w", err)
		}
		if n == 0 {
			continue
		}
		switch ch := one[0]; {
		case ch == '\r' || ch == '\n':
			if len(typed) == 0 {
				return nil, secret.ErrEmpty
			}
			return typed, nil
		case ch == 0x7f || ch == 0x08:
			if len(typed) > 0 {
				typed[len(typed)-1] = 0
				typed = typed[:len(typed)-1]
				fmt.Fprint(echo, "\b \b")
			}
		case ch == 0x03:
			secret.Zero(typed)
			return nil, ErrInterrupted
		case ch >= 0x20:
			typed = append(typed, ch)
			fmt.Fprint(echo, "*")
		}
	}
	if len(typed) == 0 {
		return nil, secret.ErrEmpty
	}
	return typed, nil
}

// readLine reads up to one newline without buffering past it, so a
// later prompt on the same terminal does not lose typeahead.
func readLine(reader io.Reader) (string, error) {
	var line []byte
	var one [1]byte
	for {
		n, err := reader.Read(one[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return string(line), nil
			}
			return "", fmt.Errorf("reading from terminal: %w", err)
		}
		if n == 0 {
			continue
		}
		if one[0] == '\n' {
			return string(line), nil
		}
		line = append(line, one[0])
	}
}
