// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
)

func rejectCommand() *cli.Command {
	var (
		caseID   string
		examiner string
		reason   string
	)

	return &cli.Command{
		Name:    "reject",
		Summary: "Reject staged findings and timeline events",
		Description: `Reject DRAFT findings and timeline events after PIN confirmation.

The named items are rejected as one batch under a single PIN entry.
The optional reason is recorded on each item and in the approval log.
Rejected items keep their content; a later examiner can see what was
claimed and why it was turned down.`,
		Usage: "aiir reject <id>... [flags]",
		Examples: []cli.Example{
			{
				Description: "Reject a finding with a reason",
				Command:     "aiir reject F-004 --reason 'interpretation not supported by the evidence'",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reject", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
			flagSet.StringVar(&reason, "reason", "", "reason for rejection")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: aiir reject <id>... [flags]")
			}

			env, err := newEnvironment(examiner)
			if err != nil {
				return err
			}
			session, err := env.session(caseID)
			if err != nil {
				return err
			}
			return session.RejectItems(args, reason)
		},
	}
}
