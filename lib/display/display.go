// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package display styles review output for terminals. Styles are bound
// to the destination writer: a terminal gets ANSI 256-color output, a
// pipe or redirected file gets plain text, and NO_COLOR is honored.
// Callers pad table cells before styling so column alignment is
// computed on the text, not on the escape sequences.
package display

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles renders status words, verification classifications, and
// modification diffs.
type Styles struct {
	approved lipgloss.Style
	rejected lipgloss.Style
	draft    lipgloss.Style
	alert    lipgloss.Style
	warn     lipgloss.Style
	good     lipgloss.Style
	faint    lipgloss.Style
	added    lipgloss.Style
	removed  lipgloss.Style
}

// New builds Styles for the writer. The color profile comes from the
// environment (EnvColorProfile honors NO_COLOR and CLICOLOR), degraded
// to plain text when the writer is not a terminal.
func New(w io.Writer) *Styles {
	output := termenv.NewOutput(w)
	profile := output.EnvColorProfile()

	// SetColorProfile pins the detected profile; the renderer would
	// otherwise re-detect from the process environment on first render
	// and ignore the writer-specific detection above.
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)

	return &Styles{
		approved: renderer.NewStyle().Foreground(lipgloss.Color("114")),
		rejected: renderer.NewStyle().Foreground(lipgloss.Color("196")),
		draft:    renderer.NewStyle().Foreground(lipgloss.Color("220")),
		alert:    renderer.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warn:     renderer.NewStyle().Foreground(lipgloss.Color("208")),
		good:     renderer.NewStyle().Foreground(lipgloss.Color("114")),
		faint:    renderer.NewStyle().Foreground(lipgloss.Color("245")),
		added:    renderer.NewStyle().Foreground(lipgloss.Color("114")),
		removed:  renderer.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Status colors an item status word. Padding in the input is preserved
// so pre-padded table cells keep their width.
func (s *Styles) Status(status string) string {
	switch strings.TrimSpace(status) {
	case "APPROVED":
		return s.approved.Render(status)
	case "REJECTED":
		return s.rejected.Render(status)
	case "DRAFT":
		return s.draft.Render(status)
	default:
		return status
	}
}

// Verification colors a verification classification word.
func (s *Styles) Verification(kind string) string {
	switch strings.TrimSpace(kind) {
	case "TAMPERED", "DESCRIPTION_MISMATCH", "VERIFICATION_NO_FINDING":
		return s.alert.Render(kind)
	case "NO APPROVAL RECORD", "APPROVED_NO_VERIFICATION":
		return s.warn.Render(kind)
	case "confirmed", "CONFIRMED", "VERIFIED":
		return s.good.Render(kind)
	case "draft":
		return s.faint.Render(kind)
	default:
		return kind
	}
}

// File colors an evidence file verification status word.
func (s *Styles) File(status string) string {
	switch strings.TrimSpace(status) {
	case "OK":
		return s.good.Render(status)
	case "MODIFIED":
		return s.alert.Render(status)
	case "MISSING", "ERROR":
		return s.warn.Render(status)
	default:
		return status
	}
}

// Alert styles an integrity alert line.
func (s *Styles) Alert(text string) string {
	return s.alert.Render(text)
}

// Warn styles a warning line.
func (s *Styles) Warn(text string) string {
	return s.warn.Render(text)
}

// Faint styles de-emphasized text.
func (s *Styles) Faint(text string) string {
	return s.faint.Render(text)
}

// Diff renders a field modification as removed and added lines, each
// prefixed and indented for placement under the field name.
func (s *Styles) Diff(original, modified string) string {
	var b strings.Builder
	b.WriteString(s.removed.Render("    - " + original))
	b.WriteString("\n")
	b.WriteString(s.added.Render("    + " + modified))
	return b.String()
}
