// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without printing an extra
// error message. When a command handler returns an ExitError, the CLI
// framework exits with the specified code without printing the error
// string. The command is expected to have already written its own
// output.
//
// This is how integrity alerts surface: "review --verify" prints the
// tamper report and "evidence verify" prints the per-file table, and
// both return code 2 when anything failed its check. Neither is an
// unexpected error to display.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. The CLI framework's main function
// checks for this interface on returned errors to distinguish
// "handled non-zero exit" from "unexpected error to display".
func (e *ExitError) ExitCode() int {
	return e.Code
}
