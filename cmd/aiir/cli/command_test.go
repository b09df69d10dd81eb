// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "aiir",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "evidence",
				Run: func(args []string) error {
					called = "evidence"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"evidence"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "evidence" {
		t.Errorf("dispatched to %q, want %q", called, "evidence")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "aiir",
		Subcommands: []*Command{
			{
				Name: "evidence",
				Subcommands: []*Command{
					{
						Name: "register",
						Run: func(args []string) error {
							called = "evidence register"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"evidence", "register", "disk.img"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "evidence register" {
		t.Errorf("dispatched to %q, want %q", called, "evidence register")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "disk.img" {
		t.Errorf("args = %v, want [disk.img]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var reason string
	var target string

	command := &Command{
		Name: "reject",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reject", pflag.ContinueOnError)
			flagSet.StringVar(&reason, "reason", "", "rejection reason")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--reason", "too speculative", "F-001"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if reason != "too speculative" {
		t.Errorf("reason = %q, want %q", reason, "too speculative")
	}
	if target != "F-001" {
		t.Errorf("target = %q, want %q", target, "F-001")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "reject",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reject", pflag.ContinueOnError)
			flagSet.String("reason", "", "rejection reason")
			flagSet.String("case", "", "case ID")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--resaon"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --reason") {
		t.Errorf("error = %q, want suggestion for '--reason'", errStr)
	}
	// Suggestion should be on the same line as the error, not buried.
	if !strings.Contains(errStr, "resaon") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	// Should include a pointer to --help.
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "reject",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reject", pflag.ContinueOnError)
			flagSet.String("reason", "", "rejection reason")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "aiir",
		Subcommands: []*Command{
			{Name: "approve"},
			{Name: "evidence"},
			{Name: "version"},
		},
	}

	err := root.Execute([]string{"evidnce"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"evidence\"") {
		t.Errorf("error = %q, want suggestion for 'evidence'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "aiir",
		Subcommands: []*Command{
			{Name: "approve"},
			{Name: "evidence"},
		},
	}

	err := root.Execute([]string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "aiir",
				Summary: "Forensic case review",
				Subcommands: []*Command{
					{Name: "evidence", Summary: "Evidence registry operations"},
				},
			}

			err := root.Execute([]string{helpArg})
			if err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "aiir",
		Subcommands: []*Command{
			{Name: "evidence", Summary: "Evidence registry operations"},
		},
	}

	err := root.Execute([]string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "aiir",
		Description: "Forensic case review and approval.",
		Subcommands: []*Command{
			{Name: "approve", Summary: "Approve staged findings"},
			{Name: "evidence", Summary: "Evidence registry operations"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Approve a finding with a note",
				Command:     "aiir approve F-001 --note 'verified against the image'",
			},
			{
				Description: "Register an evidence file",
				Command:     "aiir evidence register ./evidence/disk.img --description 'laptop image'",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	// Verify structural elements are present.
	for _, want := range []string{
		"Forensic case review and approval.",
		"Usage:",
		"aiir <command> [flags]",
		"Commands:",
		"approve",
		"Approve staged findings",
		"evidence",
		"Evidence registry operations",
		"Examples:",
		"aiir approve F-001 --note 'verified against the image'",
		"aiir evidence register ./evidence/disk.img",
		"Run 'aiir <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "seal",
		Summary: "Seal the evidence tree into an encrypted archive",
		Usage:   "aiir evidence seal [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.String("out", "", "output archive path")
			flagSet.Bool("force", false, "overwrite an existing archive")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"aiir evidence seal [flags]",
		"Flags:",
		"out",
		"force",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "aiir"}
	evidence := &Command{Name: "evidence", parent: root}
	seal := &Command{Name: "seal", parent: evidence}

	if got := root.fullName(); got != "aiir" {
		t.Errorf("root.fullName() = %q, want %q", got, "aiir")
	}
	if got := evidence.fullName(); got != "aiir evidence" {
		t.Errorf("evidence.fullName() = %q, want %q", got, "aiir evidence")
	}
	if got := seal.fullName(); got != "aiir evidence seal" {
		t.Errorf("seal.fullName() = %q, want %q", got, "aiir evidence seal")
	}
}
