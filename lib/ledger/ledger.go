// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger maintains the HMAC verification ledger for approved
// items.
//
// The ledger lives under a system directory outside any case directory
// and outside the home directory, one JSONL file per case. Each entry
// carries an HMAC-SHA256 over the item's snapshot text, keyed by
// PBKDF2(PIN, salt). An agent that can edit every file in the case
// directory still cannot forge an entry, because the signing key exists
// only while the examiner's PIN is in memory.
//
// Reads tolerate individual corrupt lines, skipping them with a
// warning so one torn write cannot hide the rest of the evidence. The
// warning itself is part of the record a reviewer sees.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/credential"
	"github.com/aiir-foundation/aiir/lib/secret"
)

// DefaultDir is the conventional system location for verification
// ledgers. Commands inject it so tests can point elsewhere.
const DefaultDir = "/var/lib/aiir/verification"

// HMACVersion identifies the current signing scheme: HMAC-SHA256 over
// the snapshot text, key derived by PBKDF2-HMAC-SHA256 with the
// credential package's iteration count. Entries written before the
// field existed read as version 0 and are treated as 1.
const HMACVersion = 1

// Entry is one ledger line: the signed snapshot of an approved item.
type Entry struct {
	FindingID           string `json:"finding_id"`
	Type                string `json:"type"`
	HMAC                string `json:"hmac"`
	HMACVersion         int    `json:"hmac_version,omitempty"`
	DescriptionSnapshot string `json:"description_snapshot"`
	ApprovedBy          string `json:"approved_by"`
	ApprovedAt          string `json:"approved_at"`
	CaseID              string `json:"case_id"`
}

// VerifyResult reports one entry's signature check.
type VerifyResult struct {
	FindingID string
	Type      string
	Verified  bool
}

// Ledger is a handle on the system ledger directory.
type Ledger struct {
	Dir    string
	Logger *slog.Logger
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// DeriveKey derives the ledger signing key from a PIN and the
// examiner's credential salt. The key lives in locked memory and must
// be closed by the caller.
func DeriveKey(pin *secret.Buffer, salt []byte) (*secret.Buffer, error) {
	return secret.NewFromBytes(credential.DeriveHash(pin.Bytes(), salt))
}

// Sign computes the hex HMAC-SHA256 of snapshot text under key.
func Sign(key *secret.Buffer, snapshot string) string {
	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte(snapshot))
	return hex.EncodeToString(mac.Sum(nil))
}

// path maps a case ID to its ledger file, refusing IDs that could
// escape the ledger directory.
func (l *Ledger) path(caseID string) (string, error) {
	if err := casefile.ValidateCaseID(caseID); err != nil {
		return "", err
	}
	return filepath.Join(l.Dir, caseID+".jsonl"), nil
}

// Append adds one entry to the case's ledger file with fsync and
// owner-only permissions.
func (l *Ledger) Append(entry Entry) error {
	path, err := l.path(entry.CaseID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory %s: %w", l.Dir, err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding ledger entry: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening ledger %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing ledger entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing ledger: %w", err)
	}
	// Enforce even when the file predates this process.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting ledger permissions: %w", err)
	}
	return nil
}

// Read returns every entry in the case's ledger. A missing ledger is
// empty. Corrupt lines are skipped with a warning so the remaining
// entries still reach the reviewer.
func (l *Ledger) Read(caseID string) ([]Entry, error) {
	path, err := l.path(caseID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var entries []Entry
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			l.logger().Warn("skipping corrupt ledger line",
				"path", path, "line", i+1, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Cases lists the case IDs that have a ledger file, sorted. A missing
// ledger directory means no cases. PIN rotation walks this list so one
// rotation re-signs the examiner's entries everywhere.
func (l *Ledger) Cases() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ledger directory %s: %w", l.Dir, err)
	}
	var cases []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		cases = append(cases, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(cases)
	return cases, nil
}

// Verify checks the signature of every entry the examiner approved,
// in constant time per entry.
func (l *Ledger) Verify(caseID string, key *secret.Buffer, examiner string) ([]VerifyResult, error) {
	entries, err := l.Read(caseID)
	if err != nil {
		return nil, err
	}

	var results []VerifyResult
	for _, entry := range entries {
		if entry.ApprovedBy != examiner {
			continue
		}
		expected := Sign(key, entry.DescriptionSnapshot)
		results = append(results, VerifyResult{
			FindingID: entry.FindingID,
			Type:      entry.Type,
			Verified:  hmac.Equal([]byte(expected), []byte(entry.HMAC)),
		})
	}
	return results, nil
}

// Rehmac re-signs the examiner's entries after a PIN rotation. Every
// entry is verified under the old key before re-signing; entries that
// fail the old-key check are left untouched so a rotation cannot
// launder a forged entry into a valid one. Lines that do not parse
// pass through byte for byte. Returns how many entries were re-signed.
func (l *Ledger) Rehmac(caseID, examiner string, oldKey, newKey *secret.Buffer) (int, error) {
	path, err := l.path(caseID)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	count := 0
	var out []string
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			l.logger().Warn("keeping unparseable ledger line",
				"path", path, "line", i+1, "error", err)
			out = append(out, line)
			continue
		}
		if entry.ApprovedBy == examiner {
			expected := Sign(oldKey, entry.DescriptionSnapshot)
			if hmac.Equal([]byte(expected), []byte(entry.HMAC)) {
				entry.HMAC = Sign(newKey, entry.DescriptionSnapshot)
				entry.HMACVersion = HMACVersion
				encoded, err := json.Marshal(entry)
				if err != nil {
					return 0, fmt.Errorf("encoding ledger entry: %w", err)
				}
				out = append(out, string(encoded))
				count++
				continue
			}
		}
		out = append(out, line)
	}

	if count == 0 {
		return 0, nil
	}
	if err := l.rewrite(path, out); err != nil {
		return 0, err
	}
	return count, nil
}

// rewrite atomically replaces a ledger file with the given lines.
func (l *Ledger) rewrite(path string, lines []string) error {
	tmp, err := os.CreateTemp(l.Dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
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
		return fmt.Errorf("restricting temp ledger permissions: %w", err)
	}
	for _, line := range lines {
		if _, err := tmp.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("writing temp ledger: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("installing ledger %s: %w", path, err)
	}
	success = true
	return nil
}

// CopyToCase copies the case's ledger into the case directory for
// archival at case close. A missing ledger copies nothing.
func (l *Ledger) CopyToCase(caseID, caseDir string) error {
	path, err := l.path(caseID)
	if err != nil {
		return err
	}
	source, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening ledger %s: %w", path, err)
	}
	defer source.Close()

	destPath := filepath.Join(caseDir, "verification.jsonl")
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return fmt.Errorf("copying ledger to case: %w", err)
	}
	if err := dest.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", destPath, err)
	}
	return nil
}
