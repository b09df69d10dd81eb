// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package caseitem

import "fmt"

// HashFieldsVersion identifies the substantive field set below. Bump
// it when the set changes so archived hashes remain interpretable.
const HashFieldsVersion = 1

// Substantive fields, version 1. These are the fields that carry
// forensic content: they feed the content hash, they are what the
// editor exposes, and they are what a field override may target.
// Review bookkeeping (status, approval stamps, notes, provenance) is
// deliberately outside the set so that approving an item does not
// change the content it approves.
var (
	findingHashFields = []string{
		"id",
		"type",
		"title",
		"observation",
		"interpretation",
		"confidence",
		"confidence_justification",
	}
	timelineHashFields = []string{
		"id",
		"timestamp",
		"description",
		"source",
	}
)

// Editable fields per kind: the substantive set minus the identifier,
// which names the item rather than describing it.
var (
	findingEditableFields  = []string{"title", "observation", "interpretation", "confidence", "confidence_justification", "type"}
	timelineEditableFields = []string{"timestamp", "description", "source"}
)

// HashFields returns the substantive field names for a kind, in
// canonical order.
func HashFields(kind Kind) []string {
	if kind == KindTimeline {
		return timelineHashFields
	}
	return findingHashFields
}

// EditableFields returns the field names an examiner may change during
// review, in the order the editor presents them.
func EditableFields(kind Kind) []string {
	if kind == KindTimeline {
		return timelineEditableFields
	}
	return findingEditableFields
}

// Editable reports whether name is an editable field for the item's
// kind.
func (it Item) Editable(name string) bool {
	for _, f := range EditableFields(it.Kind) {
		if f == name {
			return true
		}
	}
	return false
}

// Field returns the named substantive field's value. The second return
// is false for names outside the substantive set.
func (it Item) Field(name string) (string, bool) {
	if it.Kind == KindTimeline {
		e := it.Event
		switch name {
		case "id":
			return e.ID, true
		case "timestamp":
			return e.Timestamp, true
		case "description":
			return e.Description, true
		case "source":
			return e.Source, true
		}
		return "", false
	}
	f := it.Finding
	switch name {
	case "id":
		return f.ID, true
	case "type":
		return f.Type, true
	case "title":
		return f.Title, true
	case "observation":
		return f.Observation, true
	case "interpretation":
		return f.Interpretation, true
	case "confidence":
		return f.Confidence, true
	case "confidence_justification":
		return f.ConfidenceJustification, true
	}
	return "", false
}

// SetField assigns the named field. Only editable fields may be set;
// anything else, including the identifier, is an error.
func (it Item) SetField(name, value string) error {
	if !it.Editable(name) {
		return fmt.Errorf("field %q is not editable on a %s", name, it.Kind)
	}
	if it.Kind == KindTimeline {
		e := it.Event
		switch name {
		case "timestamp":
			e.Timestamp = value
		case "description":
			e.Description = value
		case "source":
			e.Source = value
		}
		return nil
	}
	f := it.Finding
	switch name {
	case "type":
		f.Type = value
	case "title":
		f.Title = value
	case "observation":
		f.Observation = value
	case "interpretation":
		f.Interpretation = value
	case "confidence":
		f.Confidence = value
	case "confidence_justification":
		f.ConfidenceJustification = value
	}
	return nil
}
