// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/caseitem"
	"github.com/aiir-foundation/aiir/lib/clock"
	"github.com/aiir-foundation/aiir/lib/confirm"
	"github.com/aiir-foundation/aiir/lib/credential"
	"github.com/aiir-foundation/aiir/lib/editor"
	"github.com/aiir-foundation/aiir/lib/identity"
	"github.com/aiir-foundation/aiir/lib/ledger"
	"github.com/aiir-foundation/aiir/lib/lockout"
	"github.com/aiir-foundation/aiir/lib/secret"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

const testPin = "2468"
const testCaseID = "CASE-2026-001"

// fakeInput scripts the secure input for both the confirmation gate
// and the ledger verification prompts.
type fakeInput struct {
	secrets []string
	prompts int
	closed  bool
}

func (f *fakeInput) ReadSecret(prompt string) (*secret.Buffer, error) {
	f.prompts++
	if len(f.secrets) == 0 {
		return nil, errors.New("input script exhausted")
	}
	next := f.secrets[0]
	f.secrets = f.secrets[1:]
	if next == "" {
		return nil, secret.ErrEmpty
	}
	return secret.NewFromBytes([]byte(next))
}

func (f *fakeInput) ReadYesNo(prompt string) (bool, error) {
	return false, errors.New("unexpected ReadYesNo")
}

func (f *fakeInput) Close() error {
	f.closed = true
	return nil
}

type fixture struct {
	session *Session
	store   *casefile.Store
	creds   *credential.Store
	input   *fakeInput
	out     *bytes.Buffer
	errs    *bytes.Buffer
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	creds := &credential.Store{Path: filepath.Join(root, "config.yaml")}
	pin, err := secret.NewFromBytes([]byte(testPin))
	if err != nil {
		t.Fatal(err)
	}
	if err := creds.SetPin("alice", pin); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	pin.Close()

	fake := clock.Fake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	tracker := &lockout.Tracker{
		Path:   filepath.Join(root, ".pin_lockout"),
		Clock:  fake,
		Logger: quietLogger(),
	}

	caseDir := filepath.Join(root, testCaseID)
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	store := &casefile.Store{Dir: caseDir, Logger: quietLogger()}

	input := &fakeInput{secrets: []string{testPin}}
	out := &bytes.Buffer{}
	errs := &bytes.Buffer{}

	session := &Session{
		Store: store,
		Confirmer: &confirm.Confirmer{
			Credentials: creds,
			Lockout:     tracker,
			Open:        func() (terminal.SecureInput, error) { return input, nil },
		},
		Ledger: &ledger.Ledger{
			Dir:    filepath.Join(root, "verification"),
			Logger: quietLogger(),
		},
		Salts:  creds,
		Editor: &editor.Editor{},
		Identity: identity.Identity{
			OSUser:   "alice",
			Examiner: "alice",
			Source:   identity.SourceConfig,
		},
		Clock:  fake,
		Open:   func() (terminal.SecureInput, error) { return input, nil },
		Out:    out,
		Err:    errs,
		Logger: quietLogger(),
	}
	return &fixture{session: session, store: store, creds: creds, input: input, out: out, errs: errs}
}

func (f *fixture) seedFindings(t *testing.T, findings ...caseitem.Finding) {
	t.Helper()
	if err := f.store.SaveFindings(findings); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) seedTimeline(t *testing.T, events ...caseitem.TimelineEvent) {
	t.Helper()
	if err := f.store.SaveTimeline(events); err != nil {
		t.Fatal(err)
	}
}

func draftFinding(id, title string) caseitem.Finding {
	return caseitem.Finding{
		ID:             id,
		Type:           "persistence",
		Title:          title,
		Observation:    "Scheduled task created at boot",
		Interpretation: "Persistence mechanism",
		Confidence:     "high",
		Status:         caseitem.StatusDraft,
		CreatedBy:      "agent",
		CreatedAt:      "2026-03-01T09:00:00Z",
	}
}

func draftEvent(id string) caseitem.TimelineEvent {
	return caseitem.TimelineEvent{
		ID:          id,
		Timestamp:   "2026-02-28T23:14:00Z",
		Description: "Outbound connection to 203.0.113.7",
		Source:      "netflow",
		Status:      caseitem.StatusDraft,
		CreatedBy:   "agent",
	}
}

func buffer(t *testing.T, text string) *secret.Buffer {
	t.Helper()
	b, err := secret.NewFromBytes([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestApproveItemsStampsAndLogs(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t,
		draftFinding("F-001", "Persistence via scheduled task"),
		draftFinding("F-002", "Credential dumping"))

	err := f.session.ApproveItems(context.Background(), []string{"F-001", "F-002"}, ApproveOptions{})
	if err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}

	for _, finding := range f.store.LoadFindings() {
		if finding.Status != caseitem.StatusApproved {
			t.Fatalf("%s status = %s, want APPROVED", finding.ID, finding.Status)
		}
		if len(finding.ContentHash) != 64 {
			t.Fatalf("%s content hash = %q", finding.ID, finding.ContentHash)
		}
		if finding.ApprovedBy != "alice" || finding.ApprovedAt == "" {
			t.Fatalf("%s missing approval stamps: %+v", finding.ID, finding)
		}
		if finding.ModifiedAt != finding.ApprovedAt {
			t.Fatalf("%s modified_at = %q, want %q", finding.ID, finding.ModifiedAt, finding.ApprovedAt)
		}
	}

	records := f.store.LoadApprovals()
	if len(records) != 2 {
		t.Fatalf("approval records = %d, want 2", len(records))
	}
	for _, record := range records {
		if record.Action != "APPROVED" || record.Mode != "pin" {
			t.Fatalf("record = %+v", record)
		}
		if record.ContentHash == "" || record.Examiner != "alice" || record.OSUser != "alice" {
			t.Fatalf("record = %+v", record)
		}
	}

	entries, err := f.session.Ledger.Read(testCaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}

	if f.input.prompts != 1 {
		t.Fatalf("PIN prompted %d times for one batch", f.input.prompts)
	}
	if !strings.Contains(f.out.String(), "2 item(s) to approve.") {
		t.Fatalf("output missing batch count:\n%s", f.out.String())
	}
	if !strings.Contains(f.out.String(), "Approved: F-001, F-002") {
		t.Fatalf("output missing approval message:\n%s", f.out.String())
	}
}

func TestApproveLedgerEntryVerifies(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "Persistence"))

	if err := f.session.ApproveItems(context.Background(), []string{"F-001"}, ApproveOptions{}); err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}

	entries, err := f.session.Ledger.Read(testCaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	want := "Scheduled task created at boot\nPersistence mechanism"
	if entries[0].DescriptionSnapshot != want {
		t.Fatalf("snapshot = %q, want %q", entries[0].DescriptionSnapshot, want)
	}
	if entries[0].Type != "finding" || entries[0].CaseID != testCaseID {
		t.Fatalf("entry = %+v", entries[0])
	}

	salt, err := f.creds.Salt("alice")
	if err != nil {
		t.Fatal(err)
	}
	key, err := ledger.DeriveKey(buffer(t, testPin), salt)
	if err != nil {
		t.Fatal(err)
	}
	defer key.Close()

	results, err := f.session.Ledger.Verify(testCaseID, key, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Verified {
		t.Fatalf("results = %+v", results)
	}
}

func TestApproveSkipsMissingAndDecided(t *testing.T) {
	f := newFixture(t)
	decided := draftFinding("F-001", "Already decided")
	decided.Status = caseitem.StatusApproved
	f.seedFindings(t, decided)

	err := f.session.ApproveItems(context.Background(), []string{"F-001", "F-404"}, ApproveOptions{})
	if err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}
	if got := strings.Count(f.errs.String(), "not found or not DRAFT"); got != 2 {
		t.Fatalf("warnings = %d, want 2:\n%s", got, f.errs.String())
	}
	if !strings.Contains(f.out.String(), "No items to approve.") {
		t.Fatalf("output missing no-items message:\n%s", f.out.String())
	}
	if f.input.prompts != 0 {
		t.Fatalf("PIN prompted %d times for an empty batch", f.input.prompts)
	}
}

func TestApproveWithNoteAndOverride(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "Persistence"))

	err := f.session.ApproveItems(context.Background(), []string{"F-001"}, ApproveOptions{
		Note:           "Cross-checked against the MFT",
		Interpretation: "Confirmed persistence mechanism",
	})
	if err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}

	finding := f.store.LoadFindings()[0]
	if finding.Interpretation != "Confirmed persistence mechanism" {
		t.Fatalf("interpretation = %q", finding.Interpretation)
	}
	mod, ok := finding.ExaminerModifications["interpretation"]
	if !ok {
		t.Fatal("interpretation override not recorded")
	}
	if mod.Original != "Persistence mechanism" || mod.ModifiedBy != "alice" {
		t.Fatalf("modification = %+v", mod)
	}
	if len(finding.ExaminerNotes) != 1 || finding.ExaminerNotes[0].Note != "Cross-checked against the MFT" {
		t.Fatalf("notes = %+v", finding.ExaminerNotes)
	}

	// Hash covers the overridden interpretation.
	want, err := caseitem.ContentHash(caseitem.FromFinding(&finding))
	if err != nil {
		t.Fatal(err)
	}
	if finding.ContentHash != want {
		t.Fatal("content hash predates the modifications")
	}
}

func TestApproveOverrideOnTimelineSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedTimeline(t, draftEvent("T-001"))

	err := f.session.ApproveItems(context.Background(), []string{"T-001"}, ApproveOptions{
		Interpretation: "Does not apply",
	})
	if err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}
	if !strings.Contains(f.errs.String(), "no interpretation field") {
		t.Fatalf("missing override warning:\n%s", f.errs.String())
	}
	event := f.store.LoadTimeline()[0]
	if event.Status != caseitem.StatusApproved {
		t.Fatalf("status = %s, want APPROVED", event.Status)
	}
	if len(event.ExaminerModifications) != 0 {
		t.Fatalf("modifications = %+v", event.ExaminerModifications)
	}
}

func TestApproveEditTracksChanges(t *testing.T) {
	f := newFixture(t)
	finding := draftFinding("F-001", "Persistence")
	staged, err := caseitem.ContentHash(caseitem.FromFinding(&finding))
	if err != nil {
		t.Fatal(err)
	}
	finding.ContentHash = staged
	f.seedFindings(t, finding)

	f.session.Editor = &editor.Editor{
		Run: func(ctx context.Context, path string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			edited := strings.Replace(string(data), "high", "medium", 1)
			return os.WriteFile(path, []byte(edited), 0o600)
		},
	}

	err = f.session.ApproveItems(context.Background(), []string{"F-001"}, ApproveOptions{Edit: true})
	if err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}

	saved := f.store.LoadFindings()[0]
	if saved.Confidence != "medium" {
		t.Fatalf("confidence = %q, want medium", saved.Confidence)
	}
	mod, ok := saved.ExaminerModifications["confidence"]
	if !ok || mod.Original != "high" || mod.Modified != "medium" {
		t.Fatalf("modification = %+v", mod)
	}
	if saved.ContentHash == staged {
		t.Fatal("content hash not recomputed after the edit")
	}
	if !strings.Contains(f.out.String(), "modified since staging") {
		t.Fatalf("missing staging hash notice:\n%s", f.out.String())
	}
}

func TestApproveWrongPinCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.input.secrets = []string{"9999"}
	f.seedFindings(t, draftFinding("F-001", "Persistence"))

	err := f.session.ApproveItems(context.Background(), []string{"F-001"}, ApproveOptions{})
	if !errors.Is(err, confirm.ErrBadPin) {
		t.Fatalf("err = %v, want ErrBadPin", err)
	}
	if f.store.LoadFindings()[0].Status != caseitem.StatusDraft {
		t.Fatal("finding changed state after a failed confirmation")
	}
	if records := f.store.LoadApprovals(); len(records) != 0 {
		t.Fatalf("approval records = %d, want 0", len(records))
	}
	entries, err := f.session.Ledger.Read(testCaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("ledger entries = %d, want 0", len(entries))
	}
}

func TestApproveLedgerFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "Persistence"))

	// A regular file where the ledger directory should be makes every
	// append fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	f.session.Ledger = &ledger.Ledger{
		Dir:    filepath.Join(blocked, "verification"),
		Logger: quietLogger(),
	}

	err := f.session.ApproveItems(context.Background(), []string{"F-001"}, ApproveOptions{})
	if err != nil {
		t.Fatalf("ApproveItems: %v", err)
	}
	if f.store.LoadFindings()[0].Status != caseitem.StatusApproved {
		t.Fatal("approval did not survive a ledger write failure")
	}
	if len(f.store.LoadApprovals()) != 1 {
		t.Fatal("approval log record missing")
	}
}

func TestRejectItemsRecordsReason(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "Persistence"))
	f.seedTimeline(t, draftEvent("T-001"))

	if err := f.session.RejectItems([]string{"F-001", "T-001"}, "duplicate of F-002"); err != nil {
		t.Fatalf("RejectItems: %v", err)
	}

	finding := f.store.LoadFindings()[0]
	if finding.Status != caseitem.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", finding.Status)
	}
	if finding.RejectionReason != "duplicate of F-002" || finding.RejectedBy != "alice" {
		t.Fatalf("finding = %+v", finding)
	}
	if f.store.LoadTimeline()[0].Status != caseitem.StatusRejected {
		t.Fatal("timeline event not rejected")
	}

	records := f.store.LoadApprovals()
	if len(records) != 2 {
		t.Fatalf("approval records = %d, want 2", len(records))
	}
	for _, record := range records {
		if record.Action != "REJECTED" || record.Reason != "duplicate of F-002" {
			t.Fatalf("record = %+v", record)
		}
		if record.ContentHash != "" {
			t.Fatalf("rejection carries a content hash: %+v", record)
		}
	}

	entries, err := f.session.Ledger.Read(testCaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("ledger entries = %d, want 0 for rejections", len(entries))
	}
	if !strings.Contains(f.out.String(), "Rejected: F-001, T-001 - reason: duplicate of F-002") {
		t.Fatalf("output missing rejection message:\n%s", f.out.String())
	}
}

func TestRejectWithoutReason(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "Persistence"))

	if err := f.session.RejectItems([]string{"F-001"}, ""); err != nil {
		t.Fatalf("RejectItems: %v", err)
	}
	finding := f.store.LoadFindings()[0]
	if finding.RejectionReason != "" {
		t.Fatalf("rejection reason = %q, want empty", finding.RejectionReason)
	}
	if !strings.Contains(f.out.String(), "Rejected: F-001\n") {
		t.Fatalf("output = %q", f.out.String())
	}
	if strings.Contains(f.out.String(), "reason:") {
		t.Fatalf("empty reason rendered:\n%s", f.out.String())
	}
}
