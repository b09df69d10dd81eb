// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package review drives the draft review flows: batch approval and
// rejection by ID, the interactive walk over staged items, and the
// integrity report that cross-checks decided items against the
// approval log and the verification ledger.
//
// Every state transition here happens between one Lock/release pair on
// the case store and exactly one PIN confirmation, no matter how many
// items the batch carries. Modifications (edits, overrides, notes) are
// applied before the confirmation so the examiner approves what they
// will actually sign.
package review

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/caseitem"
	"github.com/aiir-foundation/aiir/lib/clock"
	"github.com/aiir-foundation/aiir/lib/confirm"
	"github.com/aiir-foundation/aiir/lib/display"
	"github.com/aiir-foundation/aiir/lib/editor"
	"github.com/aiir-foundation/aiir/lib/identity"
	"github.com/aiir-foundation/aiir/lib/ledger"
	"github.com/aiir-foundation/aiir/lib/secret"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

// SaltSource supplies the per-examiner credential salt that ledger key
// derivation needs. credential.Store satisfies it.
type SaltSource interface {
	Salt(examiner string) ([]byte, error)
}

// Session carries the collaborators for one review command invocation.
// In, Out and Err default to the process streams; choices typed during
// an interactive review come from In, while PIN entry always goes
// through the confirmer's secure input.
type Session struct {
	Store     *casefile.Store
	Confirmer *confirm.Confirmer
	Ledger    *ledger.Ledger
	Salts     SaltSource
	Editor    *editor.Editor
	Identity  identity.Identity
	Clock     clock.Clock

	// Open supplies the secure input for ledger verification PIN
	// prompts. Nil opens the controlling terminal.
	Open func() (terminal.SecureInput, error)

	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Logger *slog.Logger

	// sty is built lazily against Out so color detection sees the
	// real destination.
	sty *display.Styles
}

// ApproveOptions are the pre-confirmation modifications for a batch
// approval.
type ApproveOptions struct {
	// Edit opens each item's editable fields in the examiner's editor.
	Edit bool
	// Interpretation overrides the interpretation field.
	Interpretation string
	// Note appends an examiner note.
	Note string
}

func (s *Session) out() io.Writer {
	if s.Out != nil {
		return s.Out
	}
	return os.Stdout
}

func (s *Session) errOut() io.Writer {
	if s.Err != nil {
		return s.Err
	}
	return os.Stderr
}

func (s *Session) styles() *display.Styles {
	if s.sty == nil {
		s.sty = display.New(s.out())
	}
	return s.sty
}

func (s *Session) in() io.Reader {
	if s.In != nil {
		return s.In
	}
	return os.Stdin
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Session) editorOrDefault() *editor.Editor {
	if s.Editor != nil {
		return s.Editor
	}
	return &editor.Editor{}
}

func (s *Session) now() string {
	c := s.Clock
	if c == nil {
		c = clock.Real()
	}
	return c.Now().UTC().Format(time.RFC3339)
}

// ApproveItems approves the named DRAFT items in one confirmed batch.
// IDs that are missing or already decided are reported and skipped.
// Modifications from opts are applied before the single PIN
// confirmation; after it every item gets its content hash, APPROVED
// stamps, one approval log record, and one verification ledger entry.
func (s *Session) ApproveItems(ctx context.Context, ids []string, opts ApproveOptions) error {
	release, err := s.Store.Lock()
	if err != nil {
		return err
	}
	defer release()

	findings := s.Store.LoadFindings()
	timeline := s.Store.LoadTimeline()

	var toApprove []caseitem.Item
	for _, id := range ids {
		item, ok := casefile.FindDraft(id, findings, timeline)
		if !ok {
			fmt.Fprintf(s.errOut(), "  %s: not found or not DRAFT\n", id)
			continue
		}
		s.displayItem(item)
		toApprove = append(toApprove, item)
	}
	if len(toApprove) == 0 {
		fmt.Fprintln(s.out(), "No items to approve.")
		return nil
	}

	for _, item := range toApprove {
		if opts.Edit {
			if err := s.applyEdit(ctx, item); err != nil {
				fmt.Fprintf(s.errOut(), "  %v\n", err)
			}
		}
		if opts.Interpretation != "" {
			s.applyOverride(item, "interpretation", opts.Interpretation)
		}
		if opts.Note != "" {
			item.AddNote(opts.Note, s.Identity.Examiner, s.now())
		}
	}

	fmt.Fprintf(s.out(), "\n%d item(s) to approve.\n", len(toApprove))

	res, err := s.Confirmer.Require(s.Identity.Examiner)
	if err != nil {
		return err
	}
	defer func() {
		if res.Pin != nil {
			res.Pin.Close()
		}
	}()

	now := s.now()
	for _, item := range toApprove {
		if err := s.approveOne(item, res.Mode, now); err != nil {
			return err
		}
	}
	s.writeLedgerEntries(toApprove, res.Pin, now)

	if err := s.Store.SaveFindings(findings); err != nil {
		return err
	}
	if err := s.Store.SaveTimeline(timeline); err != nil {
		return err
	}

	approved := make([]string, 0, len(toApprove))
	for _, item := range toApprove {
		approved = append(approved, item.ID())
	}
	fmt.Fprintf(s.out(), "Approved: %s\n", strings.Join(approved, ", "))
	return nil
}

// RejectItems rejects the named DRAFT items in one confirmed batch,
// recording the optional reason on each item and its log record.
func (s *Session) RejectItems(ids []string, reason string) error {
	release, err := s.Store.Lock()
	if err != nil {
		return err
	}
	defer release()

	findings := s.Store.LoadFindings()
	timeline := s.Store.LoadTimeline()

	var toReject []caseitem.Item
	for _, id := range ids {
		item, ok := casefile.FindDraft(id, findings, timeline)
		if !ok {
			fmt.Fprintf(s.errOut(), "  %s: not found or not DRAFT\n", id)
			continue
		}
		s.displayItem(item)
		toReject = append(toReject, item)
	}
	if len(toReject) == 0 {
		fmt.Fprintln(s.out(), "No items to reject.")
		return nil
	}

	fmt.Fprintf(s.out(), "\n%d item(s) to reject.\n", len(toReject))
	if reason != "" {
		fmt.Fprintf(s.out(), "  Reason: %s\n", reason)
	}

	res, err := s.Confirmer.Require(s.Identity.Examiner)
	if err != nil {
		return err
	}
	// Rejections sign nothing, so the PIN is not needed past this point.
	if res.Pin != nil {
		res.Pin.Close()
	}

	now := s.now()
	for _, item := range toReject {
		item.Reject(s.Identity.Examiner, now, reason)
		if err := s.appendRecord(item.ID(), caseitem.StatusRejected, res.Mode, now, reason, ""); err != nil {
			return err
		}
	}

	if err := s.Store.SaveFindings(findings); err != nil {
		return err
	}
	if err := s.Store.SaveTimeline(timeline); err != nil {
		return err
	}

	rejected := make([]string, 0, len(toReject))
	for _, item := range toReject {
		rejected = append(rejected, item.ID())
	}
	message := "Rejected: " + strings.Join(rejected, ", ")
	if reason != "" {
		message += " - reason: " + reason
	}
	fmt.Fprintln(s.out(), message)
	return nil
}

// approveOne stamps one item APPROVED and writes its approval record.
// The content hash is computed after modifications; when it no longer
// matches the hash stored at staging time the examiner is told.
func (s *Session) approveOne(item caseitem.Item, mode, now string) error {
	stagingHash := item.StoredHash()
	hash, err := caseitem.ContentHash(item)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", item.ID(), err)
	}
	if stagingHash != "" && stagingHash != hash {
		fmt.Fprintf(s.out(), "  NOTE: %s was modified since staging (content hash changed).\n", item.ID())
	}
	item.Approve(s.Identity.Examiner, now, hash)
	return s.appendRecord(item.ID(), caseitem.StatusApproved, mode, now, "", hash)
}

func (s *Session) appendRecord(itemID string, action caseitem.Status, mode, now, reason, contentHash string) error {
	return s.Store.AppendApproval(casefile.ApprovalRecord{
		TS:             now,
		ItemID:         itemID,
		Action:         string(action),
		OSUser:         s.Identity.OSUser,
		Examiner:       s.Identity.Examiner,
		ExaminerSource: string(s.Identity.Source),
		Mode:           mode,
		Reason:         reason,
		ContentHash:    contentHash,
	})
}

// writeLedgerEntries signs each approved item's snapshot into the
// verification ledger with a key derived from the confirmed PIN.
// Ledger write failures are non-fatal; a missing entry surfaces in the
// reconciliation report.
func (s *Session) writeLedgerEntries(items []caseitem.Item, pin *secret.Buffer, now string) {
	if pin == nil || len(items) == 0 {
		return
	}
	salt, err := s.Salts.Salt(s.Identity.Examiner)
	if err != nil {
		s.logger().Warn("skipping verification ledger entries", "error", err)
		return
	}
	key, err := ledger.DeriveKey(pin, salt)
	if err != nil {
		s.logger().Warn("skipping verification ledger entries", "error", err)
		return
	}
	defer key.Close()

	caseID := s.caseID()
	for _, item := range items {
		snapshot := item.Snapshot()
		err := s.Ledger.Append(ledger.Entry{
			FindingID:           item.ID(),
			Type:                string(item.Kind),
			HMAC:                ledger.Sign(key, snapshot),
			HMACVersion:         ledger.HMACVersion,
			DescriptionSnapshot: snapshot,
			ApprovedBy:          s.Identity.Examiner,
			ApprovedAt:          now,
			CaseID:              caseID,
		})
		if err != nil {
			s.logger().Warn("verification ledger append failed",
				"item", item.ID(), "error", err)
		}
	}
}

// caseID resolves the ledger key for this case from CASE.yaml, falling
// back to the case directory name.
func (s *Session) caseID() string {
	return s.Store.CaseID()
}

// applyEdit round-trips the item's editable fields through the
// examiner's editor and records every change. Fields added in the
// editor that are not in the editable set are reported and dropped.
func (s *Session) applyEdit(ctx context.Context, item caseitem.Item) error {
	names := caseitem.EditableFields(item.Kind)
	fields := make(map[string]string, len(names))
	for _, name := range names {
		value, _ := item.Field(name)
		fields[name] = value
	}

	edited, err := s.editorOrDefault().EditFields(ctx, fields, names)
	if err != nil {
		return err
	}

	now := s.now()
	for _, name := range names {
		value, ok := edited[name]
		if !ok || value == fields[name] {
			continue
		}
		if err := item.SetField(name, value); err != nil {
			fmt.Fprintf(s.errOut(), "  %v\n", err)
			continue
		}
		item.RecordModification(name, caseitem.Modification{
			Original:   fields[name],
			Modified:   value,
			ModifiedBy: s.Identity.Examiner,
			ModifiedAt: now,
		})
	}

	var unknown []string
	for name := range edited {
		if !item.Editable(name) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		fmt.Fprintf(s.errOut(), "  ignoring unknown field %q\n", name)
	}
	return nil
}

// applyOverride sets one field directly and records the change. Items
// without the field, such as a timeline event offered an
// interpretation, are reported and left alone.
func (s *Session) applyOverride(item caseitem.Item, field, value string) {
	original, ok := item.Field(field)
	if !ok {
		fmt.Fprintf(s.errOut(), "  %s: no %s field, override skipped\n", item.ID(), field)
		return
	}
	if original == value {
		return
	}
	if err := item.SetField(field, value); err != nil {
		fmt.Fprintf(s.errOut(), "  %v\n", err)
		return
	}
	item.RecordModification(field, caseitem.Modification{
		Original:   original,
		Modified:   value,
		ModifiedBy: s.Identity.Examiner,
		ModifiedAt: s.now(),
	})
}

// displayItem prints the review card for one item.
func (s *Session) displayItem(item caseitem.Item) {
	out := s.out()
	rule := strings.Repeat("-", 60)

	fmt.Fprintf(out, "\n%s\n", rule)
	fmt.Fprintf(out, "  [%s]  %s\n", item.ID(), item.Title())

	var meta []string
	switch item.Kind {
	case caseitem.KindTimeline:
		if item.Event.CreatedBy != "" {
			meta = append(meta, "By: "+item.Event.CreatedBy)
		}
	default:
		f := item.Finding
		if f.CreatedBy != "" {
			meta = append(meta, "By: "+f.CreatedBy)
		}
		if f.Confidence != "" {
			meta = append(meta, "Confidence: "+f.Confidence)
		}
		if len(f.EvidenceIDs) > 0 {
			meta = append(meta, "Evidence: "+strings.Join(f.EvidenceIDs, ", "))
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(out, "  %s\n", strings.Join(meta, "  | "))
	}
	fmt.Fprintln(out, rule)

	switch item.Kind {
	case caseitem.KindTimeline:
		fmt.Fprintf(out, "  Timestamp: %s\n", item.Event.Timestamp)
		fmt.Fprintf(out, "  Description: %s\n", item.Event.Description)
		if len(item.Event.EvidenceIDs) > 0 {
			fmt.Fprintf(out, "  Evidence: %s\n", strings.Join(item.Event.EvidenceIDs, ", "))
		}
	default:
		fmt.Fprintf(out, "  Observation: %s\n", item.Finding.Observation)
		fmt.Fprintf(out, "  Interpretation: %s\n", item.Finding.Interpretation)
	}
	fmt.Fprintln(out)
}
