// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/clock"
	"github.com/aiir-foundation/aiir/lib/confirm"
	"github.com/aiir-foundation/aiir/lib/credential"
	"github.com/aiir-foundation/aiir/lib/editor"
	"github.com/aiir-foundation/aiir/lib/evidence"
	"github.com/aiir-foundation/aiir/lib/identity"
	"github.com/aiir-foundation/aiir/lib/ledger"
	"github.com/aiir-foundation/aiir/lib/lockout"
	"github.com/aiir-foundation/aiir/lib/review"
)

// environment carries the collaborators resolved once per invocation.
// Paths and environment variables are read here at the edge; the
// library packages below cmd/ only see injected values.
type environment struct {
	logger   *slog.Logger
	creds    *credential.Store
	tracker  *lockout.Tracker
	identity identity.Identity
	ledger   *ledger.Ledger
}

func newEnvironment(examinerFlag string) (*environment, error) {
	logger := cli.NewCommandLogger()

	configPath, err := credential.DefaultPath()
	if err != nil {
		return nil, err
	}

	resolver := identity.Resolver{
		Flag:       examinerFlag,
		ConfigPath: configPath,
		Logger:     logger,
	}
	id, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}
	identity.WarnIfUnconfigured(logger, id)

	return &environment{
		logger: logger,
		creds:  &credential.Store{Path: configPath},
		tracker: &lockout.Tracker{
			Path:   filepath.Join(filepath.Dir(configPath), ".pin_lockout"),
			Logger: logger,
		},
		identity: id,
		ledger:   &ledger.Ledger{Dir: ledgerDir(), Logger: logger},
	}, nil
}

func ledgerDir() string {
	if dir := os.Getenv("AIIR_LEDGER_DIR"); dir != "" {
		return dir
	}
	return ledger.DefaultDir
}

// session builds the review session for a case-scoped command.
func (e *environment) session(caseID string) (*review.Session, error) {
	caseDir, err := casefile.Resolve(caseID, nil)
	if err != nil {
		return nil, err
	}
	return &review.Session{
		Store: &casefile.Store{Dir: caseDir, Logger: e.logger},
		Confirmer: &confirm.Confirmer{
			Credentials: e.creds,
			Lockout:     e.tracker,
		},
		Ledger:   e.ledger,
		Salts:    e.creds,
		Editor:   &editor.Editor{},
		Identity: e.identity,
		Clock:    clock.Real(),
		Logger:   e.logger,
	}, nil
}

// registry builds the evidence registry for a case-scoped command.
func (e *environment) registry(caseID string) (*evidence.Registry, error) {
	caseDir, err := casefile.Resolve(caseID, nil)
	if err != nil {
		return nil, err
	}
	return &evidence.Registry{
		CaseDir:  caseDir,
		Identity: e.identity,
		Clock:    clock.Real(),
		Logger:   e.logger,
	}, nil
}
