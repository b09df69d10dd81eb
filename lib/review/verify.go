// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/caseitem"
	"github.com/aiir-foundation/aiir/lib/ledger"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

// VerifyOptions narrows the ledger verification passes.
type VerifyOptions struct {
	// MineOnly limits HMAC verification to the session's examiner.
	MineOnly bool
}

// Verify runs the three-stage integrity report: content hashes against
// the approval log, approved items against the verification ledger,
// and ledger HMACs under each examiner's PIN-derived key. The first
// two stages need no credentials; the third prompts for a PIN per
// examiner on the secure input. Returns the number of integrity
// alerts so the command layer can exit non-zero on a dirty case.
func (s *Session) Verify(opts VerifyOptions) (int, error) {
	results, err := s.Store.VerifyApprovals()
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		fmt.Fprintln(s.out(), "No findings recorded.")
		return 0, nil
	}

	alerts := s.printHashTable(results)

	caseID := s.caseID()
	entries, err := s.Ledger.Read(caseID)
	if err != nil {
		return alerts, err
	}
	if len(entries) == 0 {
		fmt.Fprintf(s.out(), "\nVerification Ledger: no entries for case %s\n", caseID)
		return alerts, nil
	}

	alerts += s.printReconciliation(entries)
	alerts += s.printHMACVerification(caseID, entries, opts.MineOnly)
	return alerts, nil
}

// printHashTable renders the content-hash classification for every
// item and returns the tampered count.
func (s *Session) printHashTable(results []casefile.VerifyResult) int {
	out := s.out()
	fmt.Fprintln(out, "Content Hash Verification")
	fmt.Fprintf(out, "%-20s %-12s %-22s %s\n", "ID", "Status", "Verification", "Title")
	fmt.Fprintln(out, strings.Repeat("-", 80))

	var confirmed, tampered, unverified, draft int
	for _, result := range results {
		var display string
		switch result.Verification {
		case casefile.VerificationConfirmed:
			display = "confirmed"
			confirmed++
		case casefile.VerificationTampered:
			display = "TAMPERED"
			tampered++
		case casefile.VerificationNoRecord:
			display = "NO APPROVAL RECORD"
			unverified++
		default:
			display = "draft"
			draft++
		}
		fmt.Fprintf(out, "%-20s %s %s %s\n",
			result.Item.ID(),
			s.styles().Status(fmt.Sprintf("%-12s", result.Item.Status())),
			s.styles().Verification(fmt.Sprintf("%-22s", display)),
			result.Item.Title())
	}

	parts := []string{fmt.Sprintf("%d confirmed", confirmed)}
	if tampered > 0 {
		parts = append(parts, fmt.Sprintf("%d TAMPERED", tampered))
	}
	parts = append(parts,
		fmt.Sprintf("%d unverified", unverified),
		fmt.Sprintf("%d draft", draft))
	fmt.Fprintf(out, "\n%s\n", strings.Join(parts, ", "))

	if tampered > 0 {
		fmt.Fprintln(out, s.styles().Alert("ALERT: Content was modified after approval. Investigate immediately."))
	}
	if unverified > 0 {
		fmt.Fprintln(out, s.styles().Warn("WARNING: Some findings have status changes without approval records."))
	}
	return tampered
}

// printReconciliation cross-checks approved items against the ledger
// entries without needing a PIN. The item's current snapshot text must
// match what was signed; the HMAC itself is checked in the next stage.
func (s *Session) printReconciliation(entries []ledger.Entry) int {
	out := s.out()

	findings := s.Store.LoadFindings()
	timeline := s.Store.LoadTimeline()
	itemsByID := map[string]caseitem.Item{}
	for i := range findings {
		if findings[i].Status == caseitem.StatusApproved {
			itemsByID[findings[i].ID] = caseitem.FromFinding(&findings[i])
		}
	}
	for i := range timeline {
		if timeline[i].Status == caseitem.StatusApproved {
			itemsByID[timeline[i].ID] = caseitem.FromEvent(&timeline[i])
		}
	}

	// Last entry per ID wins, matching re-approval after rejection.
	entriesByID := map[string]ledger.Entry{}
	for _, entry := range entries {
		entriesByID[entry.FindingID] = entry
	}

	seen := map[string]bool{}
	var ids []string
	for id := range itemsByID {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range entriesByID {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	fmt.Fprintf(out, "\nVerification Ledger Reconciliation (%d entries)\n", len(entries))
	fmt.Fprintf(out, "%-20s %s\n", "ID", "Reconciliation")
	fmt.Fprintln(out, strings.Repeat("-", 50))

	alerts := 0
	for _, id := range ids {
		item, hasItem := itemsByID[id]
		entry, hasEntry := entriesByID[id]
		switch {
		case hasItem && !hasEntry:
			fmt.Fprintf(out, "%-20s %s\n", id, s.styles().Verification("APPROVED_NO_VERIFICATION"))
			alerts++
		case hasEntry && !hasItem:
			fmt.Fprintf(out, "%-20s %s\n", id, s.styles().Verification("VERIFICATION_NO_FINDING"))
			alerts++
		case item.Snapshot() != entry.DescriptionSnapshot:
			fmt.Fprintf(out, "%-20s %s\n", id, s.styles().Verification("DESCRIPTION_MISMATCH"))
			alerts++
		default:
			fmt.Fprintf(out, "%-20s %s\n", id, s.styles().Verification("VERIFIED"))
		}
	}

	if alerts > 0 {
		fmt.Fprintf(out, "\n%d alert(s) found. Run 'aiir review --findings --verify' with PIN for full HMAC check.\n", alerts)
	}
	return alerts
}

// printHMACVerification checks each examiner's ledger signatures,
// prompting for their PIN. A wrong PIN derives a wrong key and every
// entry reads as TAMPERED; the HMAC itself is the check, so nothing
// here consults the stored PIN hash or the lockout tracker.
func (s *Session) printHMACVerification(caseID string, entries []ledger.Entry, mineOnly bool) int {
	out := s.out()

	seen := map[string]bool{}
	var examiners []string
	for _, entry := range entries {
		if entry.ApprovedBy == "" || seen[entry.ApprovedBy] {
			continue
		}
		seen[entry.ApprovedBy] = true
		examiners = append(examiners, entry.ApprovedBy)
	}
	sort.Strings(examiners)
	if mineOnly {
		var kept []string
		for _, examiner := range examiners {
			if examiner == s.Identity.Examiner {
				kept = append(kept, examiner)
			}
		}
		examiners = kept
	}
	if len(examiners) == 0 {
		return 0
	}

	fmt.Fprintln(out, "\nHMAC Verification (PIN required)")
	fmt.Fprintf(out, "Examiners with ledger entries: %s\n", strings.Join(examiners, ", "))

	failures := 0
	for _, examiner := range examiners {
		fmt.Fprintf(out, "\n  Verifying entries for examiner '%s':\n", examiner)
		results, err := s.verifyExaminer(caseID, examiner)
		if err != nil {
			fmt.Fprintf(out, "  Skipped: %v\n", err)
			continue
		}

		confirmed, failed := 0, 0
		for _, result := range results {
			status := "CONFIRMED"
			if result.Verified {
				confirmed++
			} else {
				status = "TAMPERED"
				failed++
			}
			fmt.Fprintf(out, "    %-20s %s\n", result.FindingID, s.styles().Verification(status))
		}
		fmt.Fprintf(out, "  %d confirmed, %d failed\n", confirmed, failed)
		if failed > 0 {
			fmt.Fprintln(out, "  "+s.styles().Alert("ALERT: HMAC mismatch detected. Findings may have been tampered with."))
		}
		failures += failed
	}
	return failures
}

// verifyExaminer derives the examiner's ledger key from a fresh PIN
// entry and checks their entries.
func (s *Session) verifyExaminer(caseID, examiner string) ([]ledger.VerifyResult, error) {
	input, cleanup, err := s.openInput()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pin, err := input.ReadSecret(fmt.Sprintf("  Enter PIN for '%s': ", examiner))
	if err != nil {
		return nil, err
	}
	defer pin.Close()

	salt, err := s.Salts.Salt(examiner)
	if err != nil {
		return nil, err
	}
	key, err := ledger.DeriveKey(pin, salt)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	return s.Ledger.Verify(caseID, key, examiner)
}

func (s *Session) openInput() (terminal.SecureInput, func(), error) {
	open := s.Open
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
