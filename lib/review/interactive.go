// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/caseitem"
)

// Filter narrows which DRAFT items an interactive review visits.
type Filter struct {
	// By keeps only items created by this examiner.
	By           string
	FindingsOnly bool
	TimelineOnly bool
}

type disposition struct {
	action string
	reason string
}

type todoRequest struct {
	description string
	assignee    string
	priority    string
	related     []string
}

// Interactive walks every DRAFT item and collects a decision for each:
// approve (optionally with edits or a note), reject, skip, or spin off
// a TODO. The PIN is confirmed once before the walk, so a failed entry
// cannot discard decisions already made, and everything decided is
// committed in a single pass at the end. Quitting commits what was
// decided so far.
func (s *Session) Interactive(ctx context.Context, filter Filter) error {
	release, err := s.Store.Lock()
	if err != nil {
		return err
	}
	defer release()

	findings := s.Store.LoadFindings()
	timeline := s.Store.LoadTimeline()

	var items []caseitem.Item
	if !filter.TimelineOnly {
		for i := range findings {
			if findings[i].Status == caseitem.StatusDraft {
				items = append(items, caseitem.FromFinding(&findings[i]))
			}
		}
	}
	if !filter.FindingsOnly {
		for i := range timeline {
			if timeline[i].Status == caseitem.StatusDraft {
				items = append(items, caseitem.FromEvent(&timeline[i]))
			}
		}
	}
	if filter.By != "" {
		var kept []caseitem.Item
		for _, item := range items {
			if createdBy(item) == filter.By {
				kept = append(kept, item)
			}
		}
		items = kept
	}
	if len(items) == 0 {
		fmt.Fprintln(s.out(), "No staged items to review.")
		return nil
	}

	fmt.Fprintf(s.out(), "Reviewing %d DRAFT item(s)...\n", len(items))

	res, err := s.Confirmer.Require(s.Identity.Examiner)
	if err != nil {
		return err
	}
	defer func() {
		if res.Pin != nil {
			res.Pin.Close()
		}
	}()

	reader := bufio.NewReader(s.in())
	dispositions := map[string]disposition{}
	var todos []todoRequest

walk:
	for _, item := range items {
		s.displayItem(item)
		switch s.promptChoice(reader) {
		case "approve":
			dispositions[item.ID()] = disposition{action: "approve"}
			fmt.Fprintln(s.out(), "  -> APPROVE")
		case "edit":
			if err := s.applyEdit(ctx, item); err != nil {
				fmt.Fprintf(s.errOut(), "  %v\n", err)
			}
			dispositions[item.ID()] = disposition{action: "approve"}
			fmt.Fprintln(s.out(), "  -> APPROVE (with edits)")
		case "note":
			if text := s.promptLine(reader, "  Note: "); text != "" {
				item.AddNote(text, s.Identity.Examiner, s.now())
			}
			dispositions[item.ID()] = disposition{action: "approve"}
			fmt.Fprintln(s.out(), "  -> APPROVE (with note)")
		case "reject":
			reason := s.promptLine(reader, "  Rejection reason (optional): ")
			dispositions[item.ID()] = disposition{action: "reject", reason: reason}
			fmt.Fprintln(s.out(), "  -> REJECT")
		case "todo":
			if todo := s.promptTodo(reader, item.ID()); todo.description != "" {
				todos = append(todos, todo)
			}
			dispositions[item.ID()] = disposition{action: "skip"}
			fmt.Fprintln(s.out(), "  -> skip (TODO created)")
		case "skip":
			dispositions[item.ID()] = disposition{action: "skip"}
			fmt.Fprintln(s.out(), "  -> skip (remains DRAFT)")
		case "quit":
			fmt.Fprintln(s.out(), "  Stopping review.")
			break walk
		}
	}

	var approveCount, rejectCount, skipCount int
	for _, d := range dispositions {
		switch d.action {
		case "approve":
			approveCount++
		case "reject":
			rejectCount++
		default:
			skipCount++
		}
	}

	bar := strings.Repeat("=", 60)
	fmt.Fprintf(s.out(), "\n%s\n", bar)
	fmt.Fprintf(s.out(), "  Summary: %d approve, %d reject, %d skip, %d TODO(s) created\n",
		approveCount, rejectCount, skipCount, len(todos))
	fmt.Fprintln(s.out(), bar)

	if approveCount == 0 && rejectCount == 0 {
		if len(todos) > 0 {
			if err := s.createTodos(todos); err != nil {
				return err
			}
		}
		fmt.Fprintln(s.out(), "Nothing to commit.")
		return nil
	}

	now := s.now()
	var approved []caseitem.Item
	for _, item := range items {
		if dispositions[item.ID()].action != "approve" {
			continue
		}
		if err := s.approveOne(item, res.Mode, now); err != nil {
			return err
		}
		approved = append(approved, item)
	}
	s.writeLedgerEntries(approved, res.Pin, now)

	for _, item := range items {
		d := dispositions[item.ID()]
		if d.action != "reject" {
			continue
		}
		item.Reject(s.Identity.Examiner, now, d.reason)
		if err := s.appendRecord(item.ID(), caseitem.StatusRejected, res.Mode, now, d.reason, ""); err != nil {
			return err
		}
	}

	if err := s.Store.SaveFindings(findings); err != nil {
		return err
	}
	if err := s.Store.SaveTimeline(timeline); err != nil {
		return err
	}

	if len(todos) > 0 {
		if err := s.createTodos(todos); err != nil {
			return err
		}
	}

	fmt.Fprintf(s.out(), "Committed %d disposition(s).\n", approveCount+rejectCount)
	return nil
}

func createdBy(item caseitem.Item) string {
	if item.Kind == caseitem.KindTimeline {
		return item.Event.CreatedBy
	}
	return item.Finding.CreatedBy
}

// promptChoice reads one review decision, reprompting on anything it
// does not recognize. An empty line approves; EOF skips.
func (s *Session) promptChoice(reader *bufio.Reader) string {
	for {
		line, ok := s.readLine(reader, "  [a]pprove  [e]dit  [n]ote  [r]eject  [t]odo  [s]kip  [q]uit: ")
		if !ok {
			return "skip"
		}
		switch strings.ToLower(line) {
		case "", "a":
			return "approve"
		case "e":
			return "edit"
		case "n":
			return "note"
		case "r":
			return "reject"
		case "t":
			return "todo"
		case "s":
			return "skip"
		case "q":
			return "quit"
		}
		fmt.Fprintln(s.out(), "  Invalid choice.")
	}
}

// promptTodo collects the follow-up fields. EOF mid-entry falls back
// to a canned follow-up on the item.
func (s *Session) promptTodo(reader *bufio.Reader, itemID string) todoRequest {
	fallback := todoRequest{
		description: "Follow up on " + itemID,
		priority:    "medium",
		related:     []string{itemID},
	}
	description, ok := s.readLine(reader, "  TODO description: ")
	if !ok {
		return fallback
	}
	assignee, ok := s.readLine(reader, "  Assign to [unassigned]: ")
	if !ok {
		return fallback
	}
	priority, ok := s.readLine(reader, "  Priority [medium]: ")
	if !ok {
		return fallback
	}
	if priority == "" {
		priority = "medium"
	}
	return todoRequest{
		description: description,
		assignee:    assignee,
		priority:    priority,
		related:     []string{itemID},
	}
}

// readLine prints a prompt and reads one trimmed line from the review
// input. ok is false at EOF.
func (s *Session) readLine(reader *bufio.Reader, prompt string) (string, bool) {
	fmt.Fprint(s.out(), prompt)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}

func (s *Session) promptLine(reader *bufio.Reader, prompt string) string {
	line, _ := s.readLine(reader, prompt)
	return line
}

// createTodos appends follow-up items with per-examiner sequence IDs,
// continuing from the highest existing number.
func (s *Session) createTodos(requests []todoRequest) error {
	todos := s.Store.LoadTodos()
	prefix := "TODO-" + s.Identity.Examiner + "-"
	for _, request := range requests {
		highest := 0
		for _, todo := range todos {
			if !strings.HasPrefix(todo.TodoID, prefix) {
				continue
			}
			if n, err := strconv.Atoi(todo.TodoID[len(prefix):]); err == nil && n > highest {
				highest = n
			}
		}
		id := fmt.Sprintf("%s%03d", prefix, highest+1)
		todos = append(todos, casefile.Todo{
			TodoID:          id,
			Description:     request.description,
			Status:          "open",
			Priority:        request.priority,
			Assignee:        request.assignee,
			RelatedFindings: request.related,
			CreatedBy:       s.Identity.Examiner,
			CreatedAt:       s.now(),
			Notes:           []caseitem.Note{},
		})
		fmt.Fprintf(s.out(), "  Created %s: %s\n", id, request.description)
	}
	return s.Store.SaveTodos(todos)
}
