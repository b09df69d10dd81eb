// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
	"github.com/aiir-foundation/aiir/lib/review"
)

func approveCommand() *cli.Command {
	var (
		caseID         string
		examiner       string
		note           string
		interpretation string
		edit           bool
		byCreator      string
		findingsOnly   bool
		timelineOnly   bool
	)

	return &cli.Command{
		Name:    "approve",
		Summary: "Approve staged findings and timeline events",
		Description: `Approve DRAFT findings and timeline events after PIN confirmation.

With item IDs, the named items are displayed and approved as one
batch: modifications (--edit, --interpretation, --note) are applied
first, then a single PIN entry confirms the whole batch. Without IDs,
every DRAFT item is walked interactively with per-item approve,
reject, skip, and TODO choices.

The PIN prompt reads from the controlling terminal, never from stdin,
so a scripted pipeline cannot approve findings on its own.`,
		Usage: "aiir approve [ids...] [flags]",
		Examples: []cli.Example{
			{
				Description: "Approve two findings with a note",
				Command:     "aiir approve F-001 F-002 --note 'verified against the disk image'",
			},
			{
				Description: "Edit an item in $EDITOR before approving it",
				Command:     "aiir approve F-003 --edit",
			},
			{
				Description: "Review all staged findings interactively",
				Command:     "aiir approve --findings-only",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("approve", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
			flagSet.StringVar(&note, "note", "", "append an examiner note before approving")
			flagSet.StringVar(&interpretation, "interpretation", "", "override the interpretation field before approving")
			flagSet.BoolVar(&edit, "edit", false, "open each item in $EDITOR before approving")
			flagSet.StringVar(&byCreator, "by", "", "interactive mode: only items created by this examiner")
			flagSet.BoolVar(&findingsOnly, "findings-only", false, "interactive mode: findings only")
			flagSet.BoolVar(&timelineOnly, "timeline-only", false, "interactive mode: timeline events only")
			return flagSet
		},
		Run: func(args []string) error {
			if findingsOnly && timelineOnly {
				return fmt.Errorf("--findings-only and --timeline-only are mutually exclusive")
			}

			env, err := newEnvironment(examiner)
			if err != nil {
				return err
			}
			session, err := env.session(caseID)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if len(args) == 0 {
				return session.Interactive(ctx, review.Filter{
					By:           byCreator,
					FindingsOnly: findingsOnly,
					TimelineOnly: timelineOnly,
				})
			}
			return session.ApproveItems(ctx, args, review.ApproveOptions{
				Edit:           edit,
				Interpretation: interpretation,
				Note:           note,
			})
		},
	}
}
