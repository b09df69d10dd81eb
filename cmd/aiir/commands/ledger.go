// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/credential"
	"github.com/aiir-foundation/aiir/lib/display"
	"github.com/aiir-foundation/aiir/lib/ledger"
	"github.com/aiir-foundation/aiir/lib/secret"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

func ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:    "ledger",
		Summary: "Verify, rotate, and export the verification ledger",
		Description: `Work with the HMAC verification ledger under ` + ledger.DefaultDir + `.

The ledger records one signed entry per approval, keyed by a key derived
from the approving examiner's PIN. Because the key exists only while
the PIN is typed, an agent with full write access to the case directory
still cannot forge or repair entries.

The "verify" subcommand re-derives your key from a fresh PIN entry and
checks your signatures for one case. The "rehmac" subcommand rotates
your PIN and re-signs your entries across every case in one step, which
is the only safe way to change a PIN once entries exist. The "export"
subcommand copies the case's ledger into the case directory for
close-out archival.`,
		Subcommands: []*cli.Command{
			ledgerVerifyCommand(),
			ledgerRehmacCommand(),
			ledgerExportCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Check your ledger signatures for the active case",
				Command:     "aiir ledger verify",
			},
			{
				Description: "Rotate your PIN and re-sign every entry",
				Command:     "aiir ledger rehmac",
			},
			{
				Description: "Copy the ledger into the case directory",
				Command:     "aiir ledger export --case CASE-2026-001",
			},
		},
	}
}

func ledgerVerifyCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "verify",
		Summary: "Check your ledger signatures for one case",
		Description: `Re-derive your signing key from a fresh PIN entry and verify the
HMAC on each of your ledger entries for the case. A wrong PIN derives
a wrong key and every entry reads as TAMPERED; the signature itself is
the check, so no stored hash is consulted. Any failed entry makes the
command exit with code 2.`,
		Usage: "aiir ledger verify [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
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
			id, err := resolveCaseID(env, caseID)
			if err != nil {
				return err
			}
			return runLedgerVerify(env, id)
		},
	}
}

func runLedgerVerify(env *environment, caseID string) error {
	entries, err := env.ledger.Read(caseID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("Verification Ledger: no entries for case %s\n", caseID)
		return nil
	}

	who := env.identity.Examiner
	salt, err := env.creds.Salt(who)
	if err != nil {
		return err
	}

	tty, err := terminal.Open()
	if err != nil {
		return err
	}
	defer tty.Close()

	pin, err := tty.ReadSecret(fmt.Sprintf("Enter PIN for '%s': ", who))
	if err != nil {
		return err
	}
	defer pin.Close()

	key, err := ledger.DeriveKey(pin, salt)
	if err != nil {
		return err
	}
	defer key.Close()

	results, err := env.ledger.Verify(caseID, key, who)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("No ledger entries for examiner %q in case %s.\n", who, caseID)
		return nil
	}

	sty := display.New(os.Stdout)
	confirmed, failed := 0, 0
	for _, result := range results {
		status := "CONFIRMED"
		if result.Verified {
			confirmed++
		} else {
			status = "TAMPERED"
			failed++
		}
		fmt.Printf("%-20s %-10s %s\n", result.FindingID, result.Type, sty.Verification(status))
	}
	fmt.Printf("\n%d confirmed, %d failed\n", confirmed, failed)
	if failed > 0 {
		fmt.Println(sty.Alert("ALERT: HMAC mismatch detected. Findings may have been tampered with."))
		return &cli.ExitError{Code: 2}
	}
	return nil
}

func ledgerRehmacCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "rehmac",
		Summary: "Rotate your PIN and re-sign your ledger entries",
		Description: `Change your PIN and re-sign every ledger entry you approved under
the old one, in a single step.

The flow verifies your current PIN, derives the old signing key while
the old salt is still on record, stores the new PIN, then rewrites each
case ledger with signatures under the new key. Entries that do not
verify under the old key are left untouched, so a rotation cannot
launder a forged entry into a valid one.

Without --case, every case ledger in the system directory is re-signed.
This is the only safe way to change a PIN once approvals exist; a plain
'aiir config --reset-pin' leaves old signatures permanently
unverifiable.`,
		Usage: "aiir ledger rehmac [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rehmac", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "limit re-signing to one case")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
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
			return runLedgerRehmac(env, caseID)
		},
	}
}

// runLedgerRehmac is the PIN rotation flow. Ordering is load-bearing:
// the old salt must be captured and the old key derived before SetPin
// replaces the salt, or the old signatures become unverifiable.
func runLedgerRehmac(env *environment, onlyCase string) error {
	who := env.identity.Examiner
	if !env.creds.HasPin(who) {
		return fmt.Errorf("%w for examiner %q, use --setup-pin first", credential.ErrNoPin, who)
	}

	cases := []string{onlyCase}
	if onlyCase == "" {
		all, err := env.ledger.Cases()
		if err != nil {
			return err
		}
		cases = all
	}

	tty, err := terminal.Open()
	if err != nil {
		return err
	}
	defer tty.Close()

	current, err := tty.ReadSecret("Enter current PIN: ")
	if err != nil {
		return err
	}
	defer current.Close()
	if !env.creds.Verify(who, current) {
		return errors.New("incorrect current PIN")
	}

	oldSalt, err := env.creds.Salt(who)
	if err != nil {
		return err
	}
	oldKey, err := ledger.DeriveKey(current, oldSalt)
	if err != nil {
		return err
	}
	defer oldKey.Close()

	newPin, err := tty.ReadSecret("Enter new PIN: ")
	if err != nil {
		if errors.Is(err, secret.ErrEmpty) {
			return errors.New("PIN cannot be empty")
		}
		return err
	}
	defer newPin.Close()
	confirmPin, err := tty.ReadSecret("Confirm new PIN: ")
	if err != nil {
		return err
	}
	defer confirmPin.Close()
	if !newPin.Equal(confirmPin) {
		return credential.ErrMismatch
	}

	if err := env.creds.SetPin(who, newPin); err != nil {
		return err
	}
	newSalt, err := env.creds.Salt(who)
	if err != nil {
		return err
	}
	newKey, err := ledger.DeriveKey(newPin, newSalt)
	if err != nil {
		return err
	}
	defer newKey.Close()

	// The PIN is rotated at this point. A per-case failure must not
	// stop the remaining cases from being re-signed, because the old
	// key cannot be derived again after this run.
	total, failures := 0, 0
	for _, id := range cases {
		count, err := env.ledger.Rehmac(id, who, oldKey, newKey)
		if err != nil {
			env.logger.Error("re-signing failed", "case", id, "error", err)
			failures++
			continue
		}
		if count > 0 {
			fmt.Printf("  %s: %d record(s) re-signed\n", id, count)
			total += count
		}
	}

	fmt.Printf("PIN updated for examiner %q. %d record(s) re-signed.\n", who, total)
	if failures > 0 {
		return fmt.Errorf("%d case ledger(s) could not be re-signed, entries there will fail verification", failures)
	}
	return nil
}

func ledgerExportCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "export",
		Summary: "Copy the case ledger into the case directory",
		Description: `Copy the case's verification ledger from the system directory into
the case directory as verification.jsonl, so a closed case carries its
own signed approval record.`,
		Usage: "aiir ledger export [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
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
			caseDir, err := casefile.Resolve(caseID, nil)
			if err != nil {
				return err
			}
			store := &casefile.Store{Dir: caseDir, Logger: env.logger}
			id := store.CaseID()

			entries, err := env.ledger.Read(id)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("Verification Ledger: no entries for case %s\n", id)
				return nil
			}
			if err := env.ledger.CopyToCase(id, caseDir); err != nil {
				return err
			}
			fmt.Printf("Exported %d record(s) to %s\n", len(entries), filepath.Join(caseDir, "verification.jsonl"))
			return nil
		},
	}
}

// resolveCaseID maps the --case flag or the active case to a ledger
// case ID.
func resolveCaseID(env *environment, caseID string) (string, error) {
	if caseID != "" {
		return caseID, nil
	}
	caseDir, err := casefile.Resolve("", nil)
	if err != nil {
		return "", err
	}
	store := &casefile.Store{Dir: caseDir, Logger: env.logger}
	return store.CaseID(), nil
}
