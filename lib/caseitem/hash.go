// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package caseitem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aiir-foundation/aiir/lib/codec"
)

// ContentHash computes the canonical fingerprint of the item's
// substantive fields: the fields are collected into a map, encoded
// with the deterministic codec, and hashed with SHA-256. Empty
// optional fields are omitted so an unset field and a missing field
// fingerprint identically. Field order in the struct, review
// bookkeeping, and examiner notes cannot affect the result.
func ContentHash(it Item) (string, error) {
	content := make(map[string]string)
	for _, name := range HashFields(it.Kind) {
		value, ok := it.Field(name)
		if !ok || value == "" {
			continue
		}
		content[name] = value
	}
	encoded, err := codec.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encoding %s %s for hashing: %w", it.Kind, it.ID(), err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Snapshot returns the human-readable text the verification ledger
// signs and stores alongside the HMAC: for findings the observation
// and interpretation separated by a newline, for timeline events the
// description. This is what an auditor reads when a ledger entry is
// disputed, so it stays plain text rather than an encoded blob.
func (it Item) Snapshot() string {
	if it.Kind == KindTimeline {
		return it.Event.Description
	}
	return it.Finding.Observation + "\n" + it.Finding.Interpretation
}
