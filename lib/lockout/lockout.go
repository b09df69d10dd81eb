// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockout throttles PIN guessing with a rolling failure window.
//
// Failures are persisted per examiner as unix timestamps in a JSON
// file, so restarting the process does not reset the count. Three
// failures inside fifteen minutes lock the examiner out until the
// oldest failure ages past the window. Corrupt or unreadable state
// fails open: availability of the review workflow outranks the
// throttle, and the PIN hash itself remains the real barrier.
package lockout

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aiir-foundation/aiir/lib/clock"
)

// MaxAttempts is the number of failures inside the window that trigger
// a lockout.
const MaxAttempts = 3

// Window is the rolling period failures are counted over.
const Window = 15 * time.Minute

// LockedOutError reports an examiner locked out by recent failures.
type LockedOutError struct {
	Examiner  string
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("PIN locked for %s after too many failed attempts, try again in %ds",
		e.Examiner, int(e.Remaining.Seconds()))
}

// Tracker persists failure timestamps and answers lockout checks.
type Tracker struct {
	// Path is the lockout state file, conventionally .pin_lockout next
	// to the examiner config.
	Path string

	// Clock supplies time. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives state warnings. Nil uses slog.Default.
	Logger *slog.Logger
}

func (t *Tracker) now() time.Time {
	if t.Clock != nil {
		return t.Clock.Now()
	}
	return clock.Real().Now()
}

func (t *Tracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Check returns a *LockedOutError when the examiner has reached the
// failure cap inside the window, nil otherwise. The remaining time is
// measured from the oldest failure still inside the window and never
// reported below one second.
func (t *Tracker) Check(examiner string) error {
	recent := t.recent(t.load(), examiner)
	if len(recent) < MaxAttempts {
		return nil
	}
	oldest := recent[0]
	for _, ts := range recent[1:] {
		if ts < oldest {
			oldest = ts
		}
	}
	remaining := Window - t.now().Sub(time.Unix(oldest, 0))
	if remaining < time.Second {
		remaining = time.Second
	}
	return &LockedOutError{Examiner: examiner, Remaining: remaining}
}

// RecordFailure appends a failure timestamp for the examiner and prunes
// entries that have aged out of the window.
func (t *Tracker) RecordFailure(examiner string) error {
	state := t.load()
	state[examiner] = append(t.recent(state, examiner), t.now().Unix())
	return t.save(state)
}

// Clear removes the examiner's failure history after a successful
// authentication.
func (t *Tracker) Clear(examiner string) error {
	state := t.load()
	if _, ok := state[examiner]; !ok {
		return nil
	}
	delete(state, examiner)
	return t.save(state)
}

// RecentFailures counts the examiner's failures inside the window.
func (t *Tracker) RecentFailures(examiner string) int {
	return len(t.recent(t.load(), examiner))
}

// recent filters an examiner's timestamps down to those inside the
// window, preserving order.
func (t *Tracker) recent(state map[string][]int64, examiner string) []int64 {
	cutoff := t.now().Add(-Window).Unix()
	var kept []int64
	for _, ts := range state[examiner] {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

// load reads the state file. Missing state is empty. Corrupt state is
// logged and treated as empty so a damaged file cannot brick approvals.
func (t *Tracker) load() map[string][]int64 {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger().Warn("could not read lockout state, starting fresh", "path", t.Path, "error", err)
		}
		return map[string][]int64{}
	}
	state := map[string][]int64{}
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger().Warn("corrupt lockout state, starting fresh", "path", t.Path, "error", err)
		return map[string][]int64{}
	}
	return state
}

// save writes the state atomically with owner-only permissions.
func (t *Tracker) save(state map[string][]int64) error {
	dir := filepath.Dir(t.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating lockout state directory %s: %w", dir, err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding lockout state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pin_lockout-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp lockout state: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("restricting lockout state permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing lockout state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing lockout state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing lockout state: %w", err)
	}
	if err := os.Rename(tmpPath, t.Path); err != nil {
		return fmt.Errorf("installing lockout state %s: %w", t.Path, err)
	}
	success = true
	return nil
}
