// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package caseitem defines the reviewable case record types (findings
// and timeline events) and the canonical content fingerprint over their
// substantive fields.
//
// The substantive field set is defined once, here, and consumed by
// every caller that fingerprints or edits an item: the content hash,
// the verification ledger snapshot, the editor round-trip, and field
// overrides. Centralizing the set prevents the hash and the ledger
// from drifting apart on which fields count as content.
package caseitem

// Kind distinguishes the two reviewable record kinds.
type Kind string

const (
	KindFinding  Kind = "finding"
	KindTimeline Kind = "timeline"
)

// Status is an item's review state. Transitions are one-way:
// DRAFT → APPROVED or DRAFT → REJECTED. Anything else is refused.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Note is a free-text examiner annotation. Notes never participate in
// the content hash; they are commentary, not content.
type Note struct {
	Note string `json:"note"`
	By   string `json:"by"`
	At   string `json:"at"`
}

// Modification records one field change made during review, keyed by
// field name in the item's ExaminerModifications map.
type Modification struct {
	Original   string `json:"original"`
	Modified   string `json:"modified"`
	ModifiedBy string `json:"modified_by"`
	ModifiedAt string `json:"modified_at"`
}

// Finding is a substantive forensic claim: an observation of evidence
// and the examiner's interpretation of it.
type Finding struct {
	ID                      string `json:"id"`
	Type                    string `json:"type,omitempty"`
	Title                   string `json:"title"`
	Observation             string `json:"observation,omitempty"`
	Interpretation          string `json:"interpretation,omitempty"`
	Confidence              string `json:"confidence,omitempty"`
	ConfidenceJustification string `json:"confidence_justification,omitempty"`

	Status      Status   `json:"status"`
	CreatedBy   string   `json:"created_by,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`

	ContentHash           string                  `json:"content_hash,omitempty"`
	ApprovedAt            string                  `json:"approved_at,omitempty"`
	ApprovedBy            string                  `json:"approved_by,omitempty"`
	RejectedAt            string                  `json:"rejected_at,omitempty"`
	RejectedBy            string                  `json:"rejected_by,omitempty"`
	RejectionReason       string                  `json:"rejection_reason,omitempty"`
	ExaminerNotes         []Note                  `json:"examiner_notes,omitempty"`
	ExaminerModifications map[string]Modification `json:"examiner_modifications,omitempty"`
	ModifiedAt            string                  `json:"modified_at,omitempty"`
}

// TimelineEvent is a factual event record placed on the case timeline.
type TimelineEvent struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`

	Status      Status   `json:"status"`
	CreatedBy   string   `json:"created_by,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`

	ContentHash           string                  `json:"content_hash,omitempty"`
	ApprovedAt            string                  `json:"approved_at,omitempty"`
	ApprovedBy            string                  `json:"approved_by,omitempty"`
	RejectedAt            string                  `json:"rejected_at,omitempty"`
	RejectedBy            string                  `json:"rejected_by,omitempty"`
	RejectionReason       string                  `json:"rejection_reason,omitempty"`
	ExaminerNotes         []Note                  `json:"examiner_notes,omitempty"`
	ExaminerModifications map[string]Modification `json:"examiner_modifications,omitempty"`
	ModifiedAt            string                  `json:"modified_at,omitempty"`
}

// Item is the tagged union of the two record kinds. Exactly one of
// Finding or Event is non-nil, matching Kind. Item is a view over the
// underlying record: mutations through Item methods modify the record
// in place, so an Item taken from a loaded slice edits that slice's
// element.
type Item struct {
	Kind    Kind
	Finding *Finding
	Event   *TimelineEvent
}

// FromFinding wraps a finding as an Item.
func FromFinding(f *Finding) Item {
	return Item{Kind: KindFinding, Finding: f}
}

// FromEvent wraps a timeline event as an Item.
func FromEvent(e *TimelineEvent) Item {
	return Item{Kind: KindTimeline, Event: e}
}

// ID returns the item's identifier.
func (it Item) ID() string {
	if it.Kind == KindTimeline {
		return it.Event.ID
	}
	return it.Finding.ID
}

// Status returns the item's review state.
func (it Item) Status() Status {
	if it.Kind == KindTimeline {
		return it.Event.Status
	}
	return it.Finding.Status
}

// Title returns the display title: a finding's title, or a timeline
// event's description.
func (it Item) Title() string {
	if it.Kind == KindTimeline {
		return it.Event.Description
	}
	return it.Finding.Title
}

// StoredHash returns the content hash recorded on the item, if any.
func (it Item) StoredHash() string {
	if it.Kind == KindTimeline {
		return it.Event.ContentHash
	}
	return it.Finding.ContentHash
}

// Approve transitions the item to APPROVED, recording the examiner,
// the timestamp, and the post-modification content hash. The caller is
// responsible for checking the item is still DRAFT.
func (it Item) Approve(examiner, at, contentHash string) {
	switch it.Kind {
	case KindTimeline:
		it.Event.ContentHash = contentHash
		it.Event.Status = StatusApproved
		it.Event.ApprovedAt = at
		it.Event.ApprovedBy = examiner
		it.Event.ModifiedAt = at
	default:
		it.Finding.ContentHash = contentHash
		it.Finding.Status = StatusApproved
		it.Finding.ApprovedAt = at
		it.Finding.ApprovedBy = examiner
		it.Finding.ModifiedAt = at
	}
}

// Reject transitions the item to REJECTED with an optional reason.
func (it Item) Reject(examiner, at, reason string) {
	switch it.Kind {
	case KindTimeline:
		it.Event.Status = StatusRejected
		it.Event.RejectedAt = at
		it.Event.RejectedBy = examiner
		if reason != "" {
			it.Event.RejectionReason = reason
		}
		it.Event.ModifiedAt = at
	default:
		it.Finding.Status = StatusRejected
		it.Finding.RejectedAt = at
		it.Finding.RejectedBy = examiner
		if reason != "" {
			it.Finding.RejectionReason = reason
		}
		it.Finding.ModifiedAt = at
	}
}

// AddNote appends a free-text examiner note.
func (it Item) AddNote(note, by, at string) {
	entry := Note{Note: note, By: by, At: at}
	if it.Kind == KindTimeline {
		it.Event.ExaminerNotes = append(it.Event.ExaminerNotes, entry)
		return
	}
	it.Finding.ExaminerNotes = append(it.Finding.ExaminerNotes, entry)
}

// RecordModification stores a field change in the item's modification
// map, keyed by field name. A later change to the same field replaces
// the earlier record, preserving the most recent original→modified
// pair the way the review flow expects.
func (it Item) RecordModification(field string, mod Modification) {
	if it.Kind == KindTimeline {
		if it.Event.ExaminerModifications == nil {
			it.Event.ExaminerModifications = make(map[string]Modification)
		}
		it.Event.ExaminerModifications[field] = mod
		return
	}
	if it.Finding.ExaminerModifications == nil {
		it.Finding.ExaminerModifications = make(map[string]Modification)
	}
	it.Finding.ExaminerModifications[field] = mod
}

// Modifications returns the item's recorded field changes, or nil.
func (it Item) Modifications() map[string]Modification {
	if it.Kind == KindTimeline {
		return it.Event.ExaminerModifications
	}
	return it.Finding.ExaminerModifications
}
