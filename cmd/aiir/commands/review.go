// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
	"github.com/aiir-foundation/aiir/lib/review"
)

func reviewCommand() *cli.Command {
	var (
		caseID   string
		examiner string
		findings bool
		detail   bool
		verify   bool
		mine     bool
	)

	return &cli.Command{
		Name:    "review",
		Summary: "Review case status and verify approval integrity",
		Description: `Show the case overview, the findings table, or the full integrity
report.

--verify cross-checks every decided item three ways: its content hash
against the approval log, the approved set against the verification
ledger, and the ledger HMACs under each examiner's PIN-derived key.
The first two checks need no credentials; the HMAC check prompts for
each examiner's PIN on the controlling terminal. Any tampered or
unaccounted item makes the command exit with code 2.`,
		Usage: "aiir review [flags]",
		Examples: []cli.Example{
			{
				Description: "Case overview with status counts",
				Command:     "aiir review",
			},
			{
				Description: "Findings table with full detail cards",
				Command:     "aiir review --findings --detail",
			},
			{
				Description: "Full integrity verification for one case",
				Command:     "aiir review --verify --case CASE-2026-001",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("review", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
			flagSet.BoolVar(&findings, "findings", false, "show the findings table")
			flagSet.BoolVar(&detail, "detail", false, "with --findings, show full detail cards")
			flagSet.BoolVar(&verify, "verify", false, "cross-check findings against approval records and the ledger")
			flagSet.BoolVar(&mine, "mine", false, "with --verify, HMAC-check only your own ledger entries")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			env, err := newEnvironment(examiner)
			if err != nil {
				return err
			}
			session, err := env.session(caseID)
			if err != nil {
				return err
			}

			switch {
			case verify:
				alerts, err := session.Verify(review.VerifyOptions{MineOnly: mine})
				if err != nil {
					return err
				}
				if alerts > 0 {
					return &cli.ExitError{Code: 2}
				}
				return nil
			case findings:
				return session.FindingsReport(detail)
			default:
				return session.Summary()
			}
		},
	}
}
