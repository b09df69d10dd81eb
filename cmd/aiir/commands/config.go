// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

func configCommand() *cli.Command {
	var (
		examiner string
		setupPin bool
		resetPin bool
		show     bool
	)

	return &cli.Command{
		Name:    "config",
		Summary: "Configure examiner identity and approval PIN",
		Description: `Manage the examiner config file at ~/.aiir/config.yaml.

--examiner records who you are; every approval, rejection, and ledger
entry is attributed to that identity. --setup-pin configures the PIN
that gates approvals, prompted on the controlling terminal and stored
as a PBKDF2 hash. --reset-pin replaces the PIN after checking the
current one; if you have signed ledger entries, prefer 'aiir ledger
rehmac', which rotates the PIN and re-signs them in one step.`,
		Usage: "aiir config [flags]",
		Examples: []cli.Example{
			{
				Description: "Set your examiner identity",
				Command:     "aiir config --examiner alice",
			},
			{
				Description: "Configure an approval PIN",
				Command:     "aiir config --setup-pin",
			},
			{
				Description: "Show the current configuration",
				Command:     "aiir config --show",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("config", pflag.ContinueOnError)
			flagSet.StringVar(&examiner, "examiner", "", "set the examiner identity")
			flagSet.BoolVar(&setupPin, "setup-pin", false, "set the approval PIN for the current examiner")
			flagSet.BoolVar(&resetPin, "reset-pin", false, "reset the approval PIN (requires the current PIN)")
			flagSet.BoolVar(&show, "show", false, "show the current configuration")
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

			switch {
			case setupPin:
				return runSetupPin(env)
			case resetPin:
				return runResetPin(env)
			case show:
				return runShowConfig(env)
			case examiner != "":
				if err := env.creds.SetExaminer(env.identity.Examiner); err != nil {
					return err
				}
				fmt.Printf("Examiner identity set to: %s\n", env.identity.Examiner)
				return nil
			default:
				fmt.Println("Use --examiner <name> to set identity, --show to view config, --setup-pin to configure PIN.")
				return nil
			}
		},
	}
}

func runSetupPin(env *environment) error {
	tty, err := terminal.Open()
	if err != nil {
		return err
	}
	defer tty.Close()

	if err := env.creds.Setup(env.identity.Examiner, tty); err != nil {
		return err
	}
	fmt.Printf("PIN configured for examiner %q.\n", env.identity.Examiner)
	return nil
}

// runResetPin replaces the PIN without touching the ledger. A reset
// discards the old salt, so any entries signed under the old PIN can
// never verify again; when such entries exist the examiner has to
// acknowledge that on the terminal before the reset proceeds.
func runResetPin(env *environment) error {
	signed, err := signedRecordCount(env)
	if err != nil {
		return err
	}

	tty, err := terminal.Open()
	if err != nil {
		return err
	}
	defer tty.Close()

	if signed > 0 {
		fmt.Printf("Examiner %q has %d signed record(s) in the verification ledger.\n", env.identity.Examiner, signed)
		fmt.Println("A plain reset makes them permanently unverifiable; 'aiir ledger rehmac' rotates the PIN and re-signs them.")
		ok, err := tty.ReadYesNo("Reset anyway? [y/N]: ")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := env.creds.Reset(env.identity.Examiner, tty); err != nil {
		return err
	}
	fmt.Printf("PIN updated for examiner %q.\n", env.identity.Examiner)
	return nil
}

func runShowConfig(env *environment) error {
	data, err := os.ReadFile(env.creds.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No configuration file found.")
			fmt.Printf("Current identity: %s (source: %s)\n", env.identity.Examiner, env.identity.Source)
			return nil
		}
		return fmt.Errorf("reading config %s: %w", env.creds.Path, err)
	}
	os.Stdout.Write(data)
	return nil
}

// signedRecordCount counts the examiner's entries across every case
// ledger.
func signedRecordCount(env *environment) (int, error) {
	cases, err := env.ledger.Cases()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, caseID := range cases {
		entries, err := env.ledger.Read(caseID)
		if err != nil {
			return 0, err
		}
		for _, entry := range entries {
			if entry.ApprovedBy == env.identity.Examiner {
				total++
			}
		}
	}
	return total, nil
}
