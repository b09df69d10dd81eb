// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package confirm gates irreversible review actions behind human
// confirmation.
//
// The gate composes three things: the examiner must have a PIN
// configured, must not be locked out, and must type the correct PIN on
// the controlling terminal. There is no stdin fallback and no
// interactive fallback for an unconfigured PIN; an approval from a
// process without a human at a keyboard is exactly what the gate
// refuses.
package confirm

import (
	"errors"
	"fmt"
	"io"

	"github.com/aiir-foundation/aiir/lib/credential"
	"github.com/aiir-foundation/aiir/lib/lockout"
	"github.com/aiir-foundation/aiir/lib/secret"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

// ErrBadPin reports a failed PIN entry. The wrapped message carries
// how many attempts remain before lockout.
var ErrBadPin = errors.New("incorrect PIN")

// Result reports a satisfied confirmation. Pin is the verified PIN,
// kept because the verification ledger derives its signing key from
// it; the caller owns the buffer and must Close it.
type Result struct {
	// Mode is recorded in the approval log. It is always "pin" today;
	// the field matches the log schema, which still accepts historical
	// "interactive" records.
	Mode string
	Pin  *secret.Buffer
}

// Confirmer checks PIN confirmations for one examiner config.
type Confirmer struct {
	Credentials *credential.Store
	Lockout     *lockout.Tracker

	// Open supplies the secure input, letting tests script the
	// terminal. Nil opens the real controlling terminal.
	Open func() (terminal.SecureInput, error)
}

func (c *Confirmer) openInput() (terminal.SecureInput, func(), error) {
	open := c.Open
	if open == nil {
		open = func() (terminal.SecureInput, error) { return terminal.Open() }
	}
	input, err := open()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if closer, ok := input.(io.Closer); ok {
		cleanup = func() { closer.Close() }
	}
	return input, cleanup, nil
}

// Require demands PIN confirmation from the examiner. On success the
// lockout history is cleared and the verified PIN is returned for key
// derivation. Failures are ordered so that the cheapest refusal wins:
// no PIN configured, then locked out, then no terminal, then a wrong
// entry. A wrong or empty entry counts against the lockout window.
func (c *Confirmer) Require(examiner string) (Result, error) {
	if !c.Credentials.HasPin(examiner) {
		return Result{}, fmt.Errorf(
			"%w for examiner %q: approval requires PIN confirmation, run 'aiir config --setup-pin'",
			credential.ErrNoPin, examiner)
	}
	if err := c.Lockout.Check(examiner); err != nil {
		return Result{}, err
	}

	input, cleanup, err := c.openInput()
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	pin, err := input.ReadSecret("Enter PIN to confirm: ")
	if err != nil {
		if errors.Is(err, secret.ErrEmpty) {
			return Result{}, c.failed(examiner)
		}
		return Result{}, err
	}

	if !c.Credentials.Verify(examiner, pin) {
		pin.Close()
		return Result{}, c.failed(examiner)
	}

	if err := c.Lockout.Clear(examiner); err != nil {
		pin.Close()
		return Result{}, fmt.Errorf("clearing lockout state: %w", err)
	}
	return Result{Mode: "pin", Pin: pin}, nil
}

// failed records the failure and phrases the error by how many
// attempts remain. When this failure was the one that tripped the cap
// the error carries the computed lockout, so the examiner learns the
// wait immediately instead of on the next attempt.
func (c *Confirmer) failed(examiner string) error {
	if err := c.Lockout.RecordFailure(examiner); err != nil {
		return fmt.Errorf("recording failed attempt: %w", err)
	}
	if locked := c.Lockout.Check(examiner); locked != nil {
		return fmt.Errorf("%w: %w", ErrBadPin, locked)
	}
	remaining := lockout.MaxAttempts - c.Lockout.RecentFailures(examiner)
	return fmt.Errorf("%w, %d attempt(s) remaining", ErrBadPin, remaining)
}

// RequireTTY asks a y/N question on the controlling terminal. It is
// the gate for actions that need a human but not a credential, such as
// unlocking evidence. False without error means the human declined.
func (c *Confirmer) RequireTTY(prompt string) (bool, error) {
	input, cleanup, err := c.openInput()
	if err != nil {
		return false, err
	}
	defer cleanup()
	return input.ReadYesNo(prompt)
}
