// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/credential"
	"github.com/aiir-foundation/aiir/lib/secret"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	return &Ledger{Dir: t.TempDir()}
}

func key(t *testing.T, material string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(material))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func signedEntry(key *secret.Buffer, id, snapshot, examiner string) Entry {
	return Entry{
		FindingID:           id,
		Type:                "finding",
		HMAC:                Sign(key, snapshot),
		HMACVersion:         HMACVersion,
		DescriptionSnapshot: snapshot,
		ApprovedBy:          examiner,
		ApprovedAt:          "2026-03-02T10:05:00Z",
		CaseID:              "CASE-2026-001",
	}
}

func TestAppendAndRead(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")

	entry := signedEntry(signing, "F-001", "observed\ninterpreted", "alice")
	if err := ledger.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := ledger.Read("CASE-2026-001")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("read %d entries, want 1", len(entries))
	}
	if entries[0] != entry {
		t.Fatalf("entry round-trip mismatch: %+v", entries[0])
	}
}

func TestAppendRestrictsPermissions(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")
	if err := ledger.Append(signedEntry(signing, "F-001", "text", "alice")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(ledger.Dir, "CASE-2026-001.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("ledger permissions = %o, want 0600", perm)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	ledger := testLedger(t)
	for _, bad := range []string{"", "..", "../escape", "a/b", `a\b`} {
		if _, err := ledger.Read(bad); !errors.Is(err, casefile.ErrInvalidCaseID) {
			t.Errorf("Read(%q) = %v, want ErrInvalidCaseID", bad, err)
		}
	}
	entry := Entry{CaseID: "../escape", FindingID: "F-001"}
	if err := ledger.Append(entry); !errors.Is(err, casefile.ErrInvalidCaseID) {
		t.Fatalf("Append = %v, want ErrInvalidCaseID", err)
	}
}

func TestReadMissingLedgerIsEmpty(t *testing.T) {
	ledger := testLedger(t)
	entries, err := ledger.Read("CASE-404")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if entries != nil {
		t.Fatalf("entries = %v, want nil", entries)
	}
}

func TestReadSkipsCorruptLines(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")
	if err := ledger.Append(signedEntry(signing, "F-001", "snapshot", "alice")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(ledger.Dir, "CASE-2026-001.jsonl")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.WriteString("{torn line\n"); err != nil {
		t.Fatal(err)
	}
	file.Close()
	if err := ledger.Append(signedEntry(signing, "F-002", "snapshot", "alice")); err != nil {
		t.Fatal(err)
	}

	entries, err := ledger.Read("CASE-2026-001")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].FindingID != "F-001" || entries[1].FindingID != "F-002" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")

	if err := ledger.Append(signedEntry(signing, "F-001", "genuine text", "alice")); err != nil {
		t.Fatal(err)
	}
	forged := signedEntry(signing, "F-002", "forged text", "alice")
	forged.HMAC = strings.Repeat("0", 64)
	if err := ledger.Append(forged); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Append(signedEntry(key(t, "other-key"), "F-003", "bobs text", "bob")); err != nil {
		t.Fatal(err)
	}

	results, err := ledger.Verify("CASE-2026-001", signing, "alice")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("verified %d entries, want 2 (bob's excluded)", len(results))
	}
	byID := map[string]bool{}
	for _, r := range results {
		byID[r.FindingID] = r.Verified
	}
	if !byID["F-001"] {
		t.Fatal("genuine entry failed verification")
	}
	if byID["F-002"] {
		t.Fatal("forged entry passed verification")
	}
}

func TestVerifyWrongKeyFailsAll(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")
	if err := ledger.Append(signedEntry(signing, "F-001", "text", "alice")); err != nil {
		t.Fatal(err)
	}

	results, err := ledger.Verify("CASE-2026-001", key(t, "wrong-key"), "alice")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || results[0].Verified {
		t.Fatalf("wrong key verified: %+v", results)
	}
}

func TestRehmacRotatesOnlyVerifiedEntries(t *testing.T) {
	ledger := testLedger(t)
	oldKey := key(t, "old-key")
	newKey := key(t, "new-key")

	if err := ledger.Append(signedEntry(oldKey, "F-001", "alices text", "alice")); err != nil {
		t.Fatal(err)
	}
	forged := signedEntry(oldKey, "F-002", "forged text", "alice")
	forged.HMAC = strings.Repeat("0", 64)
	if err := ledger.Append(forged); err != nil {
		t.Fatal(err)
	}
	bobs := signedEntry(key(t, "bobs-key"), "F-003", "bobs text", "bob")
	if err := ledger.Append(bobs); err != nil {
		t.Fatal(err)
	}

	count, err := ledger.Rehmac("CASE-2026-001", "alice", oldKey, newKey)
	if err != nil {
		t.Fatalf("Rehmac: %v", err)
	}
	if count != 1 {
		t.Fatalf("re-signed %d entries, want 1", count)
	}

	results, err := ledger.Verify("CASE-2026-001", newKey, "alice")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]bool{}
	for _, r := range results {
		byID[r.FindingID] = r.Verified
	}
	if !byID["F-001"] {
		t.Fatal("rotated entry fails under new key")
	}
	if byID["F-002"] {
		t.Fatal("forged entry became valid after rotation")
	}

	// Bob's entry is untouched by alice's rotation.
	entries, err := ledger.Read("CASE-2026-001")
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.FindingID == "F-003" && entry.HMAC != bobs.HMAC {
			t.Fatal("rotation rewrote another examiner's entry")
		}
	}
}

func TestRehmacPreservesUnparseableLines(t *testing.T) {
	ledger := testLedger(t)
	oldKey := key(t, "old-key")
	newKey := key(t, "new-key")

	if err := ledger.Append(signedEntry(oldKey, "F-001", "text", "alice")); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(ledger.Dir, "CASE-2026-001.jsonl")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.WriteString("{torn line\n"); err != nil {
		t.Fatal(err)
	}
	file.Close()

	count, err := ledger.Rehmac("CASE-2026-001", "alice", oldKey, newKey)
	if err != nil {
		t.Fatalf("Rehmac: %v", err)
	}
	if count != 1 {
		t.Fatalf("re-signed %d entries, want 1", count)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "{torn line") {
		t.Fatal("rotation dropped a line it could not parse")
	}
}

func TestRehmacMissingLedger(t *testing.T) {
	ledger := testLedger(t)
	count, err := ledger.Rehmac("CASE-404", "alice", key(t, "old"), key(t, "new"))
	if err != nil {
		t.Fatalf("Rehmac: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestCopyToCase(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")
	if err := ledger.Append(signedEntry(signing, "F-001", "text", "alice")); err != nil {
		t.Fatal(err)
	}

	caseDir := t.TempDir()
	if err := ledger.CopyToCase("CASE-2026-001", caseDir); err != nil {
		t.Fatalf("CopyToCase: %v", err)
	}

	original, err := os.ReadFile(filepath.Join(ledger.Dir, "CASE-2026-001.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	copied, err := os.ReadFile(filepath.Join(caseDir, "verification.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if string(original) != string(copied) {
		t.Fatal("copied ledger differs from source")
	}
}

func TestCopyToCaseMissingLedger(t *testing.T) {
	ledger := testLedger(t)
	caseDir := t.TempDir()
	if err := ledger.CopyToCase("CASE-404", caseDir); err != nil {
		t.Fatalf("CopyToCase: %v", err)
	}
	if _, err := os.Stat(filepath.Join(caseDir, "verification.jsonl")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("copy created a file for a missing ledger")
	}
}

func TestCasesListsLedgerFiles(t *testing.T) {
	ledger := testLedger(t)
	signing := key(t, "signing-key")

	if err := ledger.Append(signedEntry(signing, "F-001", "text", "alice")); err != nil {
		t.Fatal(err)
	}
	second := signedEntry(signing, "F-002", "text", "alice")
	second.CaseID = "CASE-2026-002"
	if err := ledger.Append(second); err != nil {
		t.Fatal(err)
	}
	// Stray files without the ledger suffix are not cases.
	if err := os.WriteFile(filepath.Join(ledger.Dir, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases, err := ledger.Cases()
	if err != nil {
		t.Fatalf("Cases: %v", err)
	}
	if len(cases) != 2 || cases[0] != "CASE-2026-001" || cases[1] != "CASE-2026-002" {
		t.Fatalf("Cases() = %v, want [CASE-2026-001 CASE-2026-002]", cases)
	}
}

func TestCasesMissingDirectory(t *testing.T) {
	ledger := &Ledger{Dir: filepath.Join(t.TempDir(), "absent")}
	cases, err := ledger.Cases()
	if err != nil {
		t.Fatalf("Cases: %v", err)
	}
	if len(cases) != 0 {
		t.Fatalf("Cases() = %v, want empty", cases)
	}
}

func TestDeriveKeyMatchesCredentialDerivation(t *testing.T) {
	pin := key(t, "1234")
	salt := []byte("0123456789abcdef0123456789abcdef")

	derived, err := DeriveKey(pin, salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	defer derived.Close()

	reference := credential.DeriveHash([]byte("1234"), salt)
	if string(derived.Bytes()) != string(reference) {
		t.Fatal("DeriveKey disagrees with credential.DeriveHash")
	}
}

func TestSignDeterministic(t *testing.T) {
	signing := key(t, "signing-key")
	a := Sign(signing, "snapshot text")
	b := Sign(signing, "snapshot text")
	if a != b {
		t.Fatal("Sign is not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(a))
	}
	if Sign(signing, "different text") == a {
		t.Fatal("different text produced the same signature")
	}
}
