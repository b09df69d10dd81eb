// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/aiir-foundation/aiir/cmd/aiir/cli"
	"github.com/aiir-foundation/aiir/lib/casefile"
	"github.com/aiir-foundation/aiir/lib/display"
	"github.com/aiir-foundation/aiir/lib/evidence"
	"github.com/aiir-foundation/aiir/lib/terminal"
)

func evidenceCommand() *cli.Command {
	return &cli.Command{
		Name:    "evidence",
		Summary: "Manage case evidence files",
		Description: `Register, verify, and protect the evidence files of a case.

Registration records a SHA-256 digest and makes the file read-only;
"verify" recomputes every digest and reports anything modified,
missing, or unreadable. "lock" and "unlock" control write access to
the evidence directory, with unlock gated behind a question only the
controlling terminal can answer. Every action lands in the evidence
access log.

"seal" packages the evidence tree into a single compressed,
passphrase-encrypted archive for off-system retention; "open" extracts
such an archive, verifying each file's digest.`,
		Subcommands: []*cli.Command{
			evidenceRegisterCommand(),
			evidenceListCommand(),
			evidenceVerifyCommand(),
			evidenceLogCommand(),
			evidenceLockCommand(),
			evidenceUnlockCommand(),
			evidenceSealCommand(),
			evidenceOpenCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Register a disk image with a description",
				Command:     "aiir evidence register evidence/disk.img --description \"laptop system drive\"",
			},
			{
				Description: "Check every registered file against its digest",
				Command:     "aiir evidence verify",
			},
			{
				Description: "Seal the evidence tree into an encrypted archive",
				Command:     "aiir evidence seal --out CASE-2026-001.evidence.age",
			},
		},
	}
}

func evidenceRegisterCommand() *cli.Command {
	var (
		caseID      string
		examiner    string
		description string
	)

	return &cli.Command{
		Name:    "register",
		Summary: "Register an evidence file",
		Description: `Record an evidence file in the case registry: compute its SHA-256,
make it read-only, and log the registration. The file must live inside
the case directory.`,
		Usage: "aiir evidence register <path> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("register", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
			flagSet.StringVar(&description, "description", "", "what this file is")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: aiir evidence register <path> [flags]")
			}

			env, err := newEnvironment(examiner)
			if err != nil {
				return err
			}
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}

			entry, err := registry.Register(args[0], description)
			if err != nil {
				return err
			}
			fmt.Printf("Registered: %s\n", entry.Path)
			fmt.Printf("  SHA256: %s\n", entry.SHA256)
			fmt.Println("  Permissions: 444 (read-only)")
			return nil
		},
	}
}

func evidenceListCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List registered evidence files",
		Usage:   "aiir evidence list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
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
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}

			entries, exists := registry.List()
			if !exists {
				fmt.Println("No evidence registry found.")
				return nil
			}
			if len(entries) == 0 {
				fmt.Println("No evidence files registered.")
				return nil
			}

			fmt.Printf("%-4s %-20s %-15s Path\n", "#", "SHA256", "Registered By")
			fmt.Println(strings.Repeat("-", 80))
			for i, entry := range entries {
				fmt.Printf("%-4d %-20s %-15s %s\n",
					i+1, shortHash(entry.SHA256), valueOr(entry.RegisteredBy, "?"), valueOr(entry.Path, "?"))
				if entry.Description != "" {
					fmt.Printf("     Description: %s\n", entry.Description)
				}
			}
			fmt.Printf("\n%d evidence file(s) registered\n", len(entries))
			return nil
		},
	}
}

func evidenceVerifyCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "verify",
		Summary: "Verify evidence integrity against registered digests",
		Description: `Recompute the SHA-256 of every registered file and compare it with
the digest recorded at registration. Any modified file makes the
command exit with code 2.`,
		Usage: "aiir evidence verify [flags]",
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
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}

			summary := registry.VerifyAll()
			if len(summary.Results) == 0 {
				fmt.Println("No evidence files registered.")
				return nil
			}

			sty := display.New(os.Stdout)
			fmt.Printf("%-12s Path\n", "Status")
			fmt.Println(strings.Repeat("-", 70))
			for _, result := range summary.Results {
				fmt.Printf("%s %s\n", sty.File(fmt.Sprintf("%-12s", result.Status)), result.Path)
				switch {
				case result.Status == evidence.StatusModified:
					fmt.Printf("             Expected: %s\n", result.ExpectedHash)
					fmt.Printf("             Actual:   %s\n", result.ActualHash)
				case result.Status == evidence.StatusError && result.Err != nil:
					fmt.Printf("             Error: %v\n", result.Err)
				}
			}

			fmt.Printf("\n%d verified, %d MODIFIED, %d missing, %d errors\n",
				summary.Verified, summary.Modified, summary.Missing, summary.Errors)
			if summary.Modified > 0 {
				fmt.Println(sty.Alert("ALERT: Evidence files have been modified since registration."))
				return &cli.ExitError{Code: 2}
			}
			return nil
		},
	}
}

func evidenceLogCommand() *cli.Command {
	var (
		caseID     string
		examiner   string
		pathFilter string
	)

	return &cli.Command{
		Name:    "log",
		Summary: "Show the evidence access log",
		Usage:   "aiir evidence log [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("log", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
			flagSet.StringVar(&pathFilter, "path", "", "only entries whose detail contains this text")
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
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}

			entries, exists := registry.AccessLog()
			if !exists {
				fmt.Println("No evidence access log found.")
				return nil
			}
			if pathFilter != "" {
				var kept []evidence.AccessEntry
				for _, entry := range entries {
					if strings.Contains(entry.Detail, pathFilter) {
						kept = append(kept, entry)
					}
				}
				entries = kept
			}
			if len(entries) == 0 {
				fmt.Println("No evidence access log entries found.")
				return nil
			}

			fmt.Printf("%-22s %-10s %-12s Detail\n", "Timestamp", "Action", "Examiner")
			fmt.Println(strings.Repeat("-", 80))
			for _, entry := range entries {
				ts := valueOr(entry.TS, "?")
				if len(ts) > 19 {
					ts = ts[:19]
				}
				detail := entry.Detail
				if len(detail) > 40 {
					detail = detail[:37] + "..."
				}
				fmt.Printf("%-22s %-10s %-12s %s\n",
					ts, valueOr(entry.Action, "?"), valueOr(entry.Examiner, "?"), detail)
			}
			fmt.Printf("\n%d entries\n", len(entries))
			return nil
		},
	}
}

func evidenceLockCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "lock",
		Summary: "Make the evidence directory read-only",
		Description: `Set every file under the evidence directory to mode 444 and the
directory itself to 555, so nothing can be added or changed without an
explicit unlock.`,
		Usage: "aiir evidence lock [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("lock", pflag.ContinueOnError)
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
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}

			locked, failed, err := registry.LockDir()
			if err != nil {
				return err
			}
			fmt.Printf("Locked evidence directory: %d file(s) set to read-only (444)\n", locked)
			if failed > 0 {
				fmt.Printf("  %d file(s) could not be locked (see warnings above)\n", failed)
			}
			fmt.Println("Directory set to 555 (no writes)")
			return nil
		},
	}
}

func evidenceUnlockCommand() *cli.Command {
	var (
		caseID   string
		examiner string
	)

	return &cli.Command{
		Name:    "unlock",
		Summary: "Restore write access to the evidence directory",
		Description: `Reopen the evidence directory for writes so new files can be added.
Registered files stay read-only. The unlock must be confirmed on the
controlling terminal; a piped "y" cannot answer the prompt.`,
		Usage: "aiir evidence unlock [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("unlock", pflag.ContinueOnError)
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
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}
			if _, err := os.Stat(registry.Dir()); err != nil {
				return fmt.Errorf("evidence directory: %w", err)
			}

			fmt.Println("WARNING: Unlocking evidence directory allows writes.")
			fmt.Printf("  Path: %s\n", registry.Dir())

			tty, err := terminal.Open()
			if err != nil {
				return err
			}
			defer tty.Close()
			ok, err := tty.ReadYesNo("Unlock evidence directory? [y/N]: ")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled.")
				return nil
			}

			if err := registry.UnlockDir(); err != nil {
				return err
			}
			fmt.Println("Evidence directory unlocked (755). Files remain read-only.")
			fmt.Println("Use 'aiir evidence register <path>' after adding new files.")
			return nil
		},
	}
}

func evidenceSealCommand() *cli.Command {
	var (
		caseID   string
		examiner string
		out      string
		force    bool
	)

	return &cli.Command{
		Name:    "seal",
		Summary: "Seal the evidence tree into an encrypted archive",
		Description: `Package every file under the evidence directory into one compressed,
passphrase-encrypted archive for off-system retention. The archive
manifest records a BLAKE3 digest per file, verified on open, plus the
registry SHA-256 for files that were registered.

The passphrase is read twice on the controlling terminal. Without
--out, the archive is written into the case directory as
<case-id>.evidence.age.`,
		Usage: "aiir evidence seal [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringVar(&caseID, "case", "", "case ID (overrides the active case)")
			flagSet.StringVar(&examiner, "examiner", "", "override examiner identity")
			flagSet.StringVar(&out, "out", "", "archive path")
			flagSet.BoolVar(&force, "force", false, "overwrite an existing archive without asking")
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
			registry, err := env.registry(caseID)
			if err != nil {
				return err
			}

			if out == "" {
				store := &casefile.Store{Dir: registry.CaseDir, Logger: env.logger}
				out = filepath.Join(registry.CaseDir, store.CaseID()+".evidence.age")
			}

			tty, err := terminal.Open()
			if err != nil {
				return err
			}
			defer tty.Close()

			if _, err := os.Stat(out); err == nil && !force {
				fmt.Printf("Archive already exists: %s\n", out)
				ok, err := tty.ReadYesNo("Overwrite? [y/N]: ")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			passphrase, err := tty.ReadSecret("Enter archive passphrase: ")
			if err != nil {
				return err
			}
			defer passphrase.Close()
			confirmed, err := tty.ReadSecret("Confirm passphrase: ")
			if err != nil {
				return err
			}
			defer confirmed.Close()
			if !passphrase.Equal(confirmed) {
				return errors.New("passphrases do not match")
			}

			manifest, err := registry.Seal(out, passphrase)
			if err != nil {
				return err
			}

			var total int64
			for _, file := range manifest.Files {
				total += file.Size
			}
			fmt.Printf("Sealed: %s\n", out)
			fmt.Printf("  Files: %d (%d bytes)\n", len(manifest.Files), total)
			fmt.Printf("  Case: %s\n", manifest.CaseID)
			return nil
		},
	}
}

func evidenceOpenCommand() *cli.Command {
	var into string

	return &cli.Command{
		Name:    "open",
		Summary: "Extract a sealed evidence archive",
		Description: `Decrypt a sealed archive and extract its files, verifying each one's
BLAKE3 digest. Extracted files are read-only. Without --into, the
destination directory is the archive name with its .evidence.age
suffix removed. Extracting over an existing tree must be confirmed on
the controlling terminal.`,
		Usage: "aiir evidence open <archive> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("open", pflag.ContinueOnError)
			flagSet.StringVar(&into, "into", "", "destination directory")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: aiir evidence open <archive> [flags]")
			}
			archive := args[0]

			dest := into
			if dest == "" {
				base := filepath.Base(archive)
				dest = strings.TrimSuffix(base, ".evidence.age")
				if dest == base {
					dest = base + ".unsealed"
				}
			}

			tty, err := terminal.Open()
			if err != nil {
				return err
			}
			defer tty.Close()

			if existing, err := os.ReadDir(dest); err == nil && len(existing) > 0 {
				fmt.Printf("WARNING: %s already contains files; extraction replaces matching paths.\n", dest)
				ok, err := tty.ReadYesNo("Continue? [y/N]: ")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			passphrase, err := tty.ReadSecret("Enter archive passphrase: ")
			if err != nil {
				return err
			}
			defer passphrase.Close()

			manifest, err := evidence.Open(archive, dest, passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Opened: %s\n", archive)
			fmt.Printf("  Files: %d extracted to %s\n", len(manifest.Files), dest)
			fmt.Printf("  Case: %s\n", manifest.CaseID)
			return nil
		},
	}
}

// shortHash abbreviates a digest for table display.
func shortHash(sha string) string {
	if sha == "" {
		sha = "?"
	}
	if len(sha) > 16 {
		sha = sha[:16]
	}
	return sha + "..."
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
