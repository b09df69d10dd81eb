// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aiir-foundation/aiir/lib/caseitem"
	"github.com/aiir-foundation/aiir/lib/evidence"
)

// Summary prints the case overview: metadata, then status counts for
// findings, timeline events, registered evidence, and TODOs.
func (s *Session) Summary() error {
	meta, err := s.Store.Meta()
	if err != nil {
		return err
	}
	out := s.out()

	fmt.Fprintf(out, "Case: %s\n", s.caseID())
	fmt.Fprintf(out, "Name: %s\n", meta.Name)
	fmt.Fprintf(out, "Status: %s\n", orDefault(meta.Status, "unknown"))
	fmt.Fprintf(out, "Examiner: %s\n", orDefault(meta.Examiner, "?"))
	fmt.Fprintf(out, "Created: %s\n", orDefault(meta.Created, "?"))
	fmt.Fprintln(out)

	findings := s.Store.LoadFindings()
	var draftF, approvedF, rejectedF int
	for i := range findings {
		switch findings[i].Status {
		case caseitem.StatusDraft:
			draftF++
		case caseitem.StatusApproved:
			approvedF++
		case caseitem.StatusRejected:
			rejectedF++
		}
	}
	fmt.Fprintf(out, "Findings: %d total (%d draft, %d approved, %d rejected)\n",
		len(findings), draftF, approvedF, rejectedF)

	timeline := s.Store.LoadTimeline()
	var draftT, approvedT int
	for i := range timeline {
		switch timeline[i].Status {
		case caseitem.StatusDraft:
			draftT++
		case caseitem.StatusApproved:
			approvedT++
		}
	}
	fmt.Fprintf(out, "Timeline: %d events (%d draft, %d approved)\n",
		len(timeline), draftT, approvedT)

	registry := &evidence.Registry{CaseDir: s.Store.Dir, Logger: s.logger()}
	entries, _ := registry.List()
	fmt.Fprintf(out, "Evidence: %d registered files\n", len(entries))

	todos := s.Store.LoadTodos()
	var open, completed int
	for i := range todos {
		switch todos[i].Status {
		case "open":
			open++
		case "completed":
			completed++
		}
	}
	fmt.Fprintf(out, "TODOs: %d total (%d open, %d completed)\n",
		len(todos), open, completed)
	return nil
}

// FindingsReport prints the findings table, or full cards with
// examiner notes and modification diffs when detail is set.
func (s *Session) FindingsReport(detail bool) error {
	findings := s.Store.LoadFindings()
	if len(findings) == 0 {
		fmt.Fprintln(s.out(), "No findings recorded.")
		return nil
	}
	if detail {
		s.printFindingsDetail(findings)
		return nil
	}

	out := s.out()
	fmt.Fprintf(out, "%-20s %-40s %-12s %-10s\n", "ID", "Title", "Confidence", "Status")
	fmt.Fprintln(out, strings.Repeat("-", 84))
	for i := range findings {
		f := &findings[i]
		title := orDefault(f.Title, "Untitled")
		if len(title) > 37 {
			title = title[:37] + "..."
		}
		fmt.Fprintf(out, "%-20s %-40s %-12s %s\n",
			f.ID, title, orDefault(f.Confidence, "?"),
			s.styles().Status(fmt.Sprintf("%-10s", f.Status)))
	}
	return nil
}

func (s *Session) printFindingsDetail(findings []caseitem.Finding) {
	out := s.out()
	rule := strings.Repeat("=", 60)
	for i := range findings {
		f := &findings[i]
		fmt.Fprintf(out, "\n%s\n", rule)
		fmt.Fprintf(out, "  [%s] %s\n", f.ID, orDefault(f.Title, "Untitled"))
		fmt.Fprintln(out, rule)
		fmt.Fprintf(out, "  Status:       %s\n", s.styles().Status(string(f.Status)))
		if f.Type != "" {
			fmt.Fprintf(out, "  Type:         %s\n", f.Type)
		}
		if f.Confidence != "" {
			fmt.Fprintf(out, "  Confidence:   %s\n", f.Confidence)
		}
		if f.ConfidenceJustification != "" {
			fmt.Fprintf(out, "  Justification: %s\n", f.ConfidenceJustification)
		}
		if len(f.EvidenceIDs) > 0 {
			fmt.Fprintf(out, "  Evidence:     %s\n", strings.Join(f.EvidenceIDs, ", "))
		}
		fmt.Fprintf(out, "  Observation:  %s\n", f.Observation)
		fmt.Fprintf(out, "  Interpretation: %s\n", f.Interpretation)
		if f.ApprovedAt != "" {
			fmt.Fprintf(out, "  Approved:     %s by %s\n", f.ApprovedAt, f.ApprovedBy)
		}
		if f.RejectedAt != "" {
			fmt.Fprintf(out, "  Rejected:     %s by %s\n", f.RejectedAt, f.RejectedBy)
			if f.RejectionReason != "" {
				fmt.Fprintf(out, "  Reason:       %s\n", f.RejectionReason)
			}
		}
		for _, note := range f.ExaminerNotes {
			fmt.Fprintf(out, "  Note: [%s] %s\n", note.By, note.Note)
		}
		if len(f.ExaminerModifications) > 0 {
			fields := make([]string, 0, len(f.ExaminerModifications))
			for field := range f.ExaminerModifications {
				fields = append(fields, field)
			}
			sort.Strings(fields)

			fmt.Fprintf(out, "\n  Examiner modifications:\n")
			for _, field := range fields {
				m := f.ExaminerModifications[field]
				fmt.Fprintf(out, "  %s (%s by %s):\n%s\n",
					field, m.ModifiedAt, m.ModifiedBy, s.styles().Diff(m.Original, m.Modified))
			}
		}
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
