// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LockDir makes every file under the evidence directory read-only
// (0444) and the directory itself unwritable (0555). Files that cannot
// be changed are warned about and counted; the lock proceeds past
// them. Returns the locked and failed counts.
func (r *Registry) LockDir() (locked, failed int, err error) {
	dir := r.Dir()
	if _, err := os.Stat(dir); err != nil {
		return 0, 0, fmt.Errorf("evidence directory: %w", err)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger().Warn("walking evidence directory", "path", path, "error", err)
			failed++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := os.Chmod(path, 0o444); err != nil {
			r.logger().Warn("could not lock evidence file", "path", path, "error", err)
			failed++
			return nil
		}
		locked++
		return nil
	})
	if walkErr != nil {
		return locked, failed, walkErr
	}

	if err := os.Chmod(dir, 0o555); err != nil {
		r.logger().Warn("could not lock evidence directory", "path", dir, "error", err)
		failed++
	}

	r.logAccess("lock", fmt.Sprintf("Locked %d files", locked), "")
	return locked, failed, nil
}

// UnlockDir restores write permission on the evidence directory (0755)
// so new files can be added. Registered files stay read-only; only the
// directory opens up. Callers gate this behind a terminal confirmation
// before invoking it.
func (r *Registry) UnlockDir() error {
	dir := r.Dir()
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("evidence directory: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		return fmt.Errorf("unlocking evidence directory: %w", err)
	}
	r.logAccess("unlock", "Unlocked evidence directory", "")
	return nil
}
