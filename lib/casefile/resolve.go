// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package casefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoActiveCase reports that no case could be resolved from the
// flag, environment, or active-case pointer.
var ErrNoActiveCase = errors.New("no active case, use --case <id> or set AIIR_CASE_DIR")

// ErrInvalidCaseID reports a case identifier with path traversal
// characters. Case IDs become path components under the cases root and
// under the system ledger directory, so the check is shared by both.
var ErrInvalidCaseID = errors.New("invalid case ID")

// ValidateCaseID rejects case identifiers that could escape their
// directory when joined into a path.
func ValidateCaseID(caseID string) error {
	if caseID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCaseID)
	}
	if strings.Contains(caseID, "..") || strings.ContainsAny(caseID, `/\`) {
		return fmt.Errorf("%w: path traversal characters in %q", ErrInvalidCaseID, caseID)
	}
	return nil
}

// Resolve locates the case directory. An explicit case ID is looked up
// under the cases root (AIIR_CASES_DIR, default "cases") and must
// exist. Otherwise AIIR_CASE_DIR names the directory outright, then
// the .aiir/active_case pointer file is consulted. Getenv is
// injectable for tests; nil uses os.Getenv.
func Resolve(caseID string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if caseID != "" {
		if err := ValidateCaseID(caseID); err != nil {
			return "", err
		}
		dir := filepath.Join(casesRoot(getenv), caseID)
		if _, err := os.Stat(dir); err != nil {
			return "", fmt.Errorf("case not found: %s", caseID)
		}
		return dir, nil
	}

	if dir := getenv("AIIR_CASE_DIR"); dir != "" {
		return dir, nil
	}

	pointer, err := os.ReadFile(filepath.Join(".aiir", "active_case"))
	if err == nil {
		active := strings.TrimSpace(string(pointer))
		if err := ValidateCaseID(active); err != nil {
			return "", err
		}
		return filepath.Join(casesRoot(getenv), active), nil
	}

	return "", ErrNoActiveCase
}

func casesRoot(getenv func(string) string) string {
	if root := getenv("AIIR_CASES_DIR"); root != "" {
		return root
	}
	return "cases"
}
