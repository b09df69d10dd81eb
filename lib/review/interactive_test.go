// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/caseitem"
	"github.com/aiir-foundation/aiir/lib/confirm"
)

func TestInteractiveApproveAll(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"), draftFinding("F-002", "Two"))
	// Explicit approve, then the empty-line default.
	f.session.In = strings.NewReader("a\n\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	for _, finding := range f.store.LoadFindings() {
		if finding.Status != caseitem.StatusApproved {
			t.Fatalf("%s status = %s, want APPROVED", finding.ID, finding.Status)
		}
	}
	out := f.out.String()
	if !strings.Contains(out, "Summary: 2 approve, 0 reject, 0 skip, 0 TODO(s) created") {
		t.Fatalf("output missing summary:\n%s", out)
	}
	if !strings.Contains(out, "Committed 2 disposition(s).") {
		t.Fatalf("output missing commit message:\n%s", out)
	}
	if f.input.prompts != 1 {
		t.Fatalf("PIN prompted %d times for one review", f.input.prompts)
	}
	entries, err := f.session.Ledger.Read(testCaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
}

func TestInteractiveRejectWithReason(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"))
	f.session.In = strings.NewReader("r\ntoo speculative\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	finding := f.store.LoadFindings()[0]
	if finding.Status != caseitem.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", finding.Status)
	}
	if finding.RejectionReason != "too speculative" {
		t.Fatalf("reason = %q", finding.RejectionReason)
	}
	records := f.store.LoadApprovals()
	if len(records) != 1 || records[0].Action != "REJECTED" || records[0].Reason != "too speculative" {
		t.Fatalf("records = %+v", records)
	}
}

func TestInteractiveNoteApproves(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"))
	f.session.In = strings.NewReader("n\nVerified against the image manually\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	finding := f.store.LoadFindings()[0]
	if finding.Status != caseitem.StatusApproved {
		t.Fatalf("status = %s, want APPROVED", finding.Status)
	}
	if len(finding.ExaminerNotes) != 1 || finding.ExaminerNotes[0].Note != "Verified against the image manually" {
		t.Fatalf("notes = %+v", finding.ExaminerNotes)
	}
	if !strings.Contains(f.out.String(), "-> APPROVE (with note)") {
		t.Fatalf("output missing note marker:\n%s", f.out.String())
	}
}

func TestInteractiveQuitCommitsDecisions(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t,
		draftFinding("F-001", "One"),
		draftFinding("F-002", "Two"),
		draftFinding("F-003", "Three"))
	f.session.In = strings.NewReader("a\nq\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	status := map[string]caseitem.Status{}
	for _, finding := range f.store.LoadFindings() {
		status[finding.ID] = finding.Status
	}
	if status["F-001"] != caseitem.StatusApproved {
		t.Fatalf("F-001 = %s, want APPROVED", status["F-001"])
	}
	if status["F-002"] != caseitem.StatusDraft || status["F-003"] != caseitem.StatusDraft {
		t.Fatalf("undecided items changed: %v", status)
	}
	out := f.out.String()
	if !strings.Contains(out, "Stopping review.") {
		t.Fatalf("output missing quit message:\n%s", out)
	}
	if !strings.Contains(out, "Committed 1 disposition(s).") {
		t.Fatalf("output missing commit message:\n%s", out)
	}
}

func TestInteractiveEOFSkipsRemaining(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"), draftFinding("F-002", "Two"))
	// One explicit skip, then EOF.
	f.session.In = strings.NewReader("s\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	for _, finding := range f.store.LoadFindings() {
		if finding.Status != caseitem.StatusDraft {
			t.Fatalf("%s status = %s, want DRAFT", finding.ID, finding.Status)
		}
	}
	if !strings.Contains(f.out.String(), "Nothing to commit.") {
		t.Fatalf("output missing nothing-to-commit:\n%s", f.out.String())
	}
	if len(f.store.LoadApprovals()) != 0 {
		t.Fatal("skip wrote approval records")
	}
}

func TestInteractiveInvalidChoiceReprompts(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"))
	f.session.In = strings.NewReader("x\na\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}
	if !strings.Contains(f.out.String(), "Invalid choice.") {
		t.Fatalf("output missing reprompt:\n%s", f.out.String())
	}
	if f.store.LoadFindings()[0].Status != caseitem.StatusApproved {
		t.Fatal("choice after reprompt not honored")
	}
}

func TestInteractiveTodoCreatesSequencedIDs(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"))
	seed := casefile.Todo{
		TodoID:      "TODO-alice-007",
		Description: "Earlier follow-up",
		Status:      "open",
		Priority:    "low",
		CreatedBy:   "alice",
		Notes:       []caseitem.Note{},
	}
	if err := f.store.SaveTodos([]casefile.Todo{seed}); err != nil {
		t.Fatal(err)
	}
	f.session.In = strings.NewReader("t\nPull the registry hives\nbob\nhigh\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	todos := f.store.LoadTodos()
	if len(todos) != 2 {
		t.Fatalf("todos = %d, want 2", len(todos))
	}
	todo := todos[1]
	if todo.TodoID != "TODO-alice-008" {
		t.Fatalf("todo id = %q, want TODO-alice-008", todo.TodoID)
	}
	if todo.Description != "Pull the registry hives" || todo.Assignee != "bob" || todo.Priority != "high" {
		t.Fatalf("todo = %+v", todo)
	}
	if len(todo.RelatedFindings) != 1 || todo.RelatedFindings[0] != "F-001" {
		t.Fatalf("related = %v", todo.RelatedFindings)
	}
	if todo.Status != "open" || todo.CreatedBy != "alice" {
		t.Fatalf("todo = %+v", todo)
	}

	if f.store.LoadFindings()[0].Status != caseitem.StatusDraft {
		t.Fatal("item left DRAFT was changed by a TODO")
	}
	out := f.out.String()
	if !strings.Contains(out, "Created TODO-alice-008: Pull the registry hives") {
		t.Fatalf("output missing creation message:\n%s", out)
	}
	if !strings.Contains(out, "Nothing to commit.") {
		t.Fatalf("output missing nothing-to-commit:\n%s", out)
	}
}

func TestInteractiveTodoDefaultsAtEOF(t *testing.T) {
	f := newFixture(t)
	f.seedFindings(t, draftFinding("F-001", "One"))
	// EOF at the description prompt.
	f.session.In = strings.NewReader("t\n")

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	todos := f.store.LoadTodos()
	if len(todos) != 1 {
		t.Fatalf("todos = %d, want 1", len(todos))
	}
	if todos[0].Description != "Follow up on F-001" {
		t.Fatalf("description = %q", todos[0].Description)
	}
	if todos[0].Priority != "medium" || todos[0].Assignee != "" {
		t.Fatalf("todo = %+v", todos[0])
	}
}

func TestInteractiveFilters(t *testing.T) {
	f := newFixture(t)
	mine := draftFinding("F-001", "Mine")
	mine.CreatedBy = "alice"
	other := draftFinding("F-002", "Other")
	other.CreatedBy = "bob"
	f.seedFindings(t, mine, other)
	f.seedTimeline(t, draftEvent("T-001"))
	f.session.In = strings.NewReader("a\n")

	err := f.session.Interactive(context.Background(), Filter{By: "bob", FindingsOnly: true})
	if err != nil {
		t.Fatalf("Interactive: %v", err)
	}

	if !strings.Contains(f.out.String(), "Reviewing 1 DRAFT item(s)") {
		t.Fatalf("filter did not narrow the walk:\n%s", f.out.String())
	}
	status := map[string]caseitem.Status{}
	for _, finding := range f.store.LoadFindings() {
		status[finding.ID] = finding.Status
	}
	if status["F-002"] != caseitem.StatusApproved {
		t.Fatalf("F-002 = %s, want APPROVED", status["F-002"])
	}
	if status["F-001"] != caseitem.StatusDraft {
		t.Fatalf("F-001 = %s, want DRAFT", status["F-001"])
	}
	if f.store.LoadTimeline()[0].Status != caseitem.StatusDraft {
		t.Fatal("timeline event visited despite findings-only filter")
	}
}

func TestInteractiveNoDrafts(t *testing.T) {
	f := newFixture(t)
	decided := draftFinding("F-001", "Done")
	decided.Status = caseitem.StatusApproved
	f.seedFindings(t, decided)

	if err := f.session.Interactive(context.Background(), Filter{}); err != nil {
		t.Fatalf("Interactive: %v", err)
	}
	if !strings.Contains(f.out.String(), "No staged items to review.") {
		t.Fatalf("output = %q", f.out.String())
	}
	if f.input.prompts != 0 {
		t.Fatal("PIN prompted with nothing to review")
	}
}

func TestInteractiveAuthFailsBeforeAnyItem(t *testing.T) {
	f := newFixture(t)
	f.input.secrets = []string{"9999"}
	f.seedFindings(t, draftFinding("F-001", "One"))
	f.session.In = strings.NewReader("a\n")

	err := f.session.Interactive(context.Background(), Filter{})
	if !errors.Is(err, confirm.ErrBadPin) {
		t.Fatalf("err = %v, want ErrBadPin", err)
	}
	if strings.Contains(f.out.String(), "[F-001]") {
		t.Fatalf("item displayed before confirmation:\n%s", f.out.String())
	}
	if f.store.LoadFindings()[0].Status != caseitem.StatusDraft {
		t.Fatal("finding changed state after a failed confirmation")
	}
}
