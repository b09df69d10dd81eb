// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package casefile reads and writes the flat case directory: findings,
// timeline, TODOs, case metadata, and the append-only approval log.
//
// Data files are JSON arrays replaced atomically (temp file, fsync,
// rename). The approval log is JSONL, append plus fsync, never
// rewritten. Corrupt data files degrade to empty with a warning so a
// half-written file cannot brick a case; the approval log skips corrupt
// lines individually for the same reason. Mutating flows take the case
// lock around their read-modify-write cycle so two aiir processes
// cannot interleave a load and a save.
package casefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/aiir-foundation/aiir/lib/caseitem"
)

// ApprovalRecord is one line of approvals.jsonl: who decided what,
// when, under which identity source, and the content hash the decision
// covered.
type ApprovalRecord struct {
	TS             string `json:"ts"`
	ItemID         string `json:"item_id"`
	Action         string `json:"action"`
	OSUser         string `json:"os_user"`
	Examiner       string `json:"examiner"`
	ExaminerSource string `json:"examiner_source"`
	Mode           string `json:"mode"`
	Reason         string `json:"reason,omitempty"`
	ContentHash    string `json:"content_hash,omitempty"`
}

// Todo is a follow-up item created during review. Notes stays non-nil
// and CompletedAt stays a pointer so open TODOs serialize with an empty
// list and an explicit null, the shape the dashboard tooling reads.
type Todo struct {
	TodoID          string          `json:"todo_id"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	Priority        string          `json:"priority"`
	Assignee        string          `json:"assignee"`
	RelatedFindings []string        `json:"related_findings"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       string          `json:"created_at"`
	Notes           []caseitem.Note `json:"notes"`
	CompletedAt     *string         `json:"completed_at"`
}

// Meta is the CASE.yaml metadata this package consumes. Unknown keys
// are ignored on load and the file is never written here.
type Meta struct {
	CaseID   string `yaml:"case_id"`
	Name     string `yaml:"name"`
	Status   string `yaml:"status"`
	Examiner string `yaml:"examiner"`
	Created  string `yaml:"created"`
}

// Store is a handle on one case directory.
type Store struct {
	Dir    string
	Logger *slog.Logger
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Lock takes an exclusive advisory lock on the case, blocking until it
// is available. The returned release function must be called; callers
// hold the lock across a whole load-mutate-save cycle.
func (s *Store) Lock() (release func(), err error) {
	path := filepath.Join(s.Dir, ".aiir.lock")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening case lock %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("locking case %s: %w", s.Dir, err)
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}

// LoadFindings reads findings.json. Missing is empty; corrupt is
// logged and empty.
func (s *Store) LoadFindings() []caseitem.Finding {
	return loadArray[caseitem.Finding](s, "findings.json")
}

// SaveFindings replaces findings.json atomically.
func (s *Store) SaveFindings(findings []caseitem.Finding) error {
	return saveArray(s, "findings.json", findings)
}

// LoadTimeline reads timeline.json. Missing is empty; corrupt is
// logged and empty.
func (s *Store) LoadTimeline() []caseitem.TimelineEvent {
	return loadArray[caseitem.TimelineEvent](s, "timeline.json")
}

// SaveTimeline replaces timeline.json atomically.
func (s *Store) SaveTimeline(timeline []caseitem.TimelineEvent) error {
	return saveArray(s, "timeline.json", timeline)
}

// LoadTodos reads todos.json. Missing is empty; corrupt is logged and
// empty.
func (s *Store) LoadTodos() []Todo {
	return loadArray[Todo](s, "todos.json")
}

// SaveTodos replaces todos.json atomically.
func (s *Store) SaveTodos(todos []Todo) error {
	return saveArray(s, "todos.json", todos)
}

// CaseID returns the case identifier from CASE.yaml, falling back to
// the directory name when the metadata is missing or unreadable.
func (s *Store) CaseID() string {
	meta, err := s.Meta()
	if err != nil || meta.CaseID == "" {
		return filepath.Base(s.Dir)
	}
	return meta.CaseID
}

// Meta reads CASE.yaml. A missing file is zero metadata.
func (s *Store) Meta() (Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, "CASE.yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, nil
		}
		return Meta{}, fmt.Errorf("reading CASE.yaml: %w", err)
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parsing CASE.yaml: %w", err)
	}
	return meta, nil
}

// FindDraft locates a DRAFT item by ID across both loaded slices. The
// returned Item points into the slices, so edits through it land in
// the data that will be saved. False means no such item or not DRAFT;
// callers report which without distinguishing, because an approved
// item must be exactly as unapprovable as a missing one.
func FindDraft(id string, findings []caseitem.Finding, timeline []caseitem.TimelineEvent) (caseitem.Item, bool) {
	for i := range findings {
		if findings[i].ID == id && findings[i].Status == caseitem.StatusDraft {
			return caseitem.FromFinding(&findings[i]), true
		}
	}
	for i := range timeline {
		if timeline[i].ID == id && timeline[i].Status == caseitem.StatusDraft {
			return caseitem.FromEvent(&timeline[i]), true
		}
	}
	return caseitem.Item{}, false
}

// AppendApproval appends one record to approvals.jsonl and fsyncs it.
// The log is append-only: nothing in this package, or anywhere else,
// rewrites it.
func (s *Store) AppendApproval(record ApprovalRecord) error {
	path := filepath.Join(s.Dir, "approvals.jsonl")
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding approval record: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening approval log %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing approval log: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing approval log: %w", err)
	}
	return nil
}

// LoadApprovals reads approvals.jsonl, skipping corrupt lines with a
// warning. A skipped line loses one record, not the whole audit trail.
func (s *Store) LoadApprovals() []ApprovalRecord {
	path := filepath.Join(s.Dir, "approvals.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger().Warn("could not read approval log", "path", path, "error", err)
		}
		return nil
	}

	var records []ApprovalRecord
	corrupt := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var record ApprovalRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			corrupt++
			continue
		}
		records = append(records, record)
	}
	if corrupt > 0 {
		s.logger().Warn("skipped corrupt approval log lines", "path", path, "count", corrupt)
	}
	return records
}

// loadArray reads a JSON array file, degrading to empty on missing or
// corrupt data.
func loadArray[T any](s *Store, name string) []T {
	path := filepath.Join(s.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger().Warn("could not read case file", "path", path, "error", err)
		}
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger().Warn("corrupt case file, treating as empty", "path", path, "error", err)
		return nil
	}
	return items
}

// saveArray writes a JSON array file atomically: temp file in the case
// directory, fsync, rename.
func saveArray[T any](s *Store, name string, items []T) error {
	path := filepath.Join(s.Dir, name)
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.Dir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
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
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("installing %s: %w", name, err)
	}
	success = true
	return nil
}
