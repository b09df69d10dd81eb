// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package evidence manages the case evidence registry: registration
// with SHA-256 digests and read-only permissions, integrity
// verification against the recorded digests, directory lock state, a
// fsynced access log, and sealed export of the evidence tree into a
// single encrypted archive.
//
// Every action that touches evidence leaves an access log entry. The
// log is append-only JSONL; failures to write it are warned about but
// never block the action itself, because a registry that refuses to
// register is worse than a log with a gap.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aiir-foundation/aiir/lib/clock"
	"github.com/aiir-foundation/aiir/lib/identity"
)

// ErrOutsideCase is returned when an evidence path does not resolve to
// a location inside the case directory. Registering files elsewhere
// would let the registry vouch for content the case does not contain.
var ErrOutsideCase = errors.New("evidence path is outside the case directory")

// Entry is one registered evidence file.
type Entry struct {
	Path         string `json:"path"`
	SHA256       string `json:"sha256"`
	Description  string `json:"description"`
	RegisteredAt string `json:"registered_at"`
	RegisteredBy string `json:"registered_by"`
}

type registryFile struct {
	Files []Entry `json:"files"`
}

// AccessEntry is one line of the evidence access log.
type AccessEntry struct {
	TS       string `json:"ts"`
	Action   string `json:"action"`
	Detail   string `json:"detail"`
	Examiner string `json:"examiner"`
	OSUser   string `json:"os_user"`
	SHA256   string `json:"sha256,omitempty"`
}

// Registry is a handle on one case's evidence. CaseDir is the case
// directory; the evidence tree lives in its evidence/ subdirectory and
// the registry in evidence.json beside it.
type Registry struct {
	CaseDir  string
	Identity identity.Identity
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Registry) now() string {
	c := r.Clock
	if c == nil {
		c = clock.Real()
	}
	return c.Now().UTC().Format(time.RFC3339)
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.CaseDir, "evidence.json")
}

func (r *Registry) accessLogPath() string {
	return filepath.Join(r.CaseDir, "evidence_access.jsonl")
}

// Dir returns the evidence directory for the case.
func (r *Registry) Dir() string {
	return filepath.Join(r.CaseDir, "evidence")
}

// Register records an evidence file: resolves and validates the path,
// computes its SHA-256, makes the file read-only, and appends an entry
// to the registry. The chmod is best-effort; the digest is what the
// chain of custody rests on.
func (r *Registry) Register(path, description string) (Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return Entry{}, fmt.Errorf("evidence file: %w", err)
	}
	resolved, err := resolve(path)
	if err != nil {
		return Entry{}, fmt.Errorf("resolving evidence path: %w", err)
	}
	caseResolved, err := resolve(r.CaseDir)
	if err != nil {
		return Entry{}, fmt.Errorf("resolving case directory: %w", err)
	}
	if !within(resolved, caseResolved) {
		return Entry{}, fmt.Errorf("%w: %s is not under %s", ErrOutsideCase, resolved, caseResolved)
	}

	digest, err := hashFile(resolved)
	if err != nil {
		return Entry{}, err
	}

	if err := os.Chmod(resolved, 0o444); err != nil {
		r.logger().Warn("could not make evidence file read-only", "path", resolved, "error", err)
	}

	registry := r.loadRegistry()
	entry := Entry{
		Path:         resolved,
		SHA256:       digest,
		Description:  description,
		RegisteredAt: r.now(),
		RegisteredBy: r.Identity.Examiner,
	}
	registry.Files = append(registry.Files, entry)
	if err := r.saveRegistry(registry); err != nil {
		return Entry{}, err
	}

	r.logAccess("register", resolved, digest)
	return entry, nil
}

// List returns the registered entries and whether a registry file
// exists at all.
func (r *Registry) List() ([]Entry, bool) {
	if _, err := os.Stat(r.registryPath()); err != nil {
		return nil, false
	}
	return r.loadRegistry().Files, true
}

// AccessLog returns the access log entries, oldest first, and whether
// a log file exists at all. Corrupt lines are skipped with a warning.
func (r *Registry) AccessLog() ([]AccessEntry, bool) {
	data, err := os.ReadFile(r.accessLogPath())
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger().Warn("reading evidence access log", "error", err)
		}
		return nil, false
	}

	var entries []AccessEntry
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry AccessEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			r.logger().Warn("skipping corrupt access log line",
				"path", r.accessLogPath(), "line", i+1, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, true
}

// loadRegistry reads the registry, treating a missing or unreadable
// file as empty. Corruption is warned about so the next save does not
// overwrite it silently.
func (r *Registry) loadRegistry() registryFile {
	data, err := os.ReadFile(r.registryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger().Warn("reading evidence registry", "error", err)
		}
		return registryFile{}
	}
	var registry registryFile
	if err := json.Unmarshal(data, &registry); err != nil {
		r.logger().Warn("evidence registry unreadable, treating as empty",
			"path", r.registryPath(), "error", err)
		return registryFile{}
	}
	return registry
}

func (r *Registry) saveRegistry(registry registryFile) error {
	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding evidence registry: %w", err)
	}

	tmp, err := os.CreateTemp(r.CaseDir, "evidence-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing evidence registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing evidence registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing evidence registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.registryPath()); err != nil {
		return fmt.Errorf("installing evidence registry: %w", err)
	}
	success = true
	return nil
}

// logAccess appends one access log entry. Failures are warned, never
// returned.
func (r *Registry) logAccess(action, detail, sha string) {
	entry := AccessEntry{
		TS:       r.now(),
		Action:   action,
		Detail:   detail,
		Examiner: r.Identity.Examiner,
		OSUser:   r.Identity.OSUser,
		SHA256:   sha,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		r.logger().Warn("encoding evidence access entry", "error", err)
		return
	}

	file, err := os.OpenFile(r.accessLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		r.logger().Warn("writing evidence access log", "error", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		r.logger().Warn("writing evidence access log", "error", err)
		return
	}
	if err := file.Sync(); err != nil {
		r.logger().Warn("syncing evidence access log", "error", err)
	}
}

// resolve returns the absolute, symlink-free form of a path.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// within reports whether path is dir or inside dir.
func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator))
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening evidence file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
