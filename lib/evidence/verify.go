// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import "os"

// FileStatus classifies one registered file during verification.
type FileStatus string

const (
	// StatusOK: the file's current digest matches the registered one.
	StatusOK FileStatus = "OK"

	// StatusModified: the file exists but its digest changed.
	StatusModified FileStatus = "MODIFIED"

	// StatusMissing: the registered path no longer exists.
	StatusMissing FileStatus = "MISSING"

	// StatusError: the file could not be read.
	StatusError FileStatus = "ERROR"
)

// FileResult is the verification outcome for one registered file.
type FileResult struct {
	Path         string
	Status       FileStatus
	ExpectedHash string
	ActualHash   string
	Err          error
}

// Summary aggregates a verification pass.
type Summary struct {
	Results  []FileResult
	Verified int
	Modified int
	Missing  int
	Errors   int
}

// VerifyAll recomputes the digest of every registered file and
// classifies it against the registry. A modified count above zero
// means evidence changed after registration and the case needs
// attention before anything else.
func (r *Registry) VerifyAll() Summary {
	var summary Summary
	for _, entry := range r.loadRegistry().Files {
		result := FileResult{Path: entry.Path, ExpectedHash: entry.SHA256}

		if _, err := os.Stat(entry.Path); err != nil {
			result.Status = StatusMissing
			summary.Missing++
			summary.Results = append(summary.Results, result)
			continue
		}

		actual, err := hashFile(entry.Path)
		if err != nil {
			result.Status = StatusError
			result.Err = err
			summary.Errors++
			summary.Results = append(summary.Results, result)
			continue
		}

		result.ActualHash = actual
		if actual == entry.SHA256 {
			result.Status = StatusOK
			summary.Verified++
		} else {
			result.Status = StatusModified
			summary.Modified++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}
