// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete aiir CLI command tree. Each
// command resolves its environment (config path, examiner identity,
// ledger directory) at the edge and hands plain values to the library
// packages, which never read globals themselves.
package commands

import (
	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
)

// Root builds and returns the complete aiir CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "aiir",
		Description: `aiir: forensic case review and approval.

Findings and timeline events drafted during an investigation stay
DRAFT until a human examiner approves or rejects them. Approval is
gated by a PIN typed on the controlling terminal, recorded with a
content hash in the append-only approval log, and signed into a
verification ledger outside the case directory. The review and
evidence commands detect anything that changed after the fact.`,
		Subcommands: []*cli.Command{
			approveCommand(),
			rejectCommand(),
			reviewCommand(),
			configCommand(),
			ledgerCommand(),
			evidenceCommand(),
		},
	}
}
