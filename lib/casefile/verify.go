// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package casefile

import (
	"fmt"

	"github.com/aiir-foundation/aiir/lib/caseitem"
)

// Verification classifies an item against the approval log and the
// content hash recorded at decision time.
type Verification string

const (
	// VerificationConfirmed: the status matches the last approval
	// record and the recorded content hash still matches the content.
	VerificationConfirmed Verification = "confirmed"

	// VerificationTampered: the item was approved or rejected but its
	// substantive content no longer matches the recorded hash.
	VerificationTampered Verification = "tampered"

	// VerificationNoRecord: the item claims a decided status but the
	// approval log has no matching record.
	VerificationNoRecord Verification = "no approval record"

	// VerificationDraft: the item has not been decided.
	VerificationDraft Verification = "draft"
)

// VerifyResult pairs an item with its verification outcome.
type VerifyResult struct {
	Item         caseitem.Item
	Verification Verification
}

// VerifyApprovals cross-references every finding and timeline event
// against the approval log. For each decided item the last log record
// must carry the same action, and when a content hash was recorded at
// decision time the current content must still produce it. The hash
// the log recorded is the anchor, not the hash stored on the item:
// an editor who rewrites the item's content and its content_hash line
// together still trips against the append-only log. A decided status
// whose last record carries the other action counts as having no
// record: the log never vouches for a status it did not write.
func (s *Store) VerifyApprovals() ([]VerifyResult, error) {
	findings := s.LoadFindings()
	timeline := s.LoadTimeline()

	lastApproval := make(map[string]ApprovalRecord)
	for _, record := range s.LoadApprovals() {
		lastApproval[record.ItemID] = record
	}

	var results []VerifyResult
	for i := range findings {
		result, err := classify(caseitem.FromFinding(&findings[i]), lastApproval)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	for i := range timeline {
		result, err := classify(caseitem.FromEvent(&timeline[i]), lastApproval)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func classify(it caseitem.Item, lastApproval map[string]ApprovalRecord) (VerifyResult, error) {
	if it.Status() == caseitem.StatusDraft {
		return VerifyResult{Item: it, Verification: VerificationDraft}, nil
	}

	record, ok := lastApproval[it.ID()]
	if !ok || record.Action != string(it.Status()) {
		return VerifyResult{Item: it, Verification: VerificationNoRecord}, nil
	}

	// Records written before hashing shipped carry no hash; fall back
	// to the hash stored on the item so old cases still verify.
	expected := record.ContentHash
	if expected == "" {
		expected = it.StoredHash()
	}
	if expected != "" {
		current, err := caseitem.ContentHash(it)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("hashing %s: %w", it.ID(), err)
		}
		if current != expected {
			return VerifyResult{Item: it, Verification: VerificationTampered}, nil
		}
	}
	return VerifyResult{Item: it, Verification: VerificationConfirmed}, nil
}
