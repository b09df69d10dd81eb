// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package editor round-trips item fields through the examiner's
// external editor.
//
// Fields are written to a temp YAML file in a stable order, the editor
// runs attached to the process's terminal, and the file is parsed back
// into field values. The caller diffs old against new; this package
// only moves text. The editor session is bounded by a timeout so an
// abandoned terminal cannot hold a review open forever.
package editor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds an editor session.
const DefaultTimeout = time.Hour

// Editor runs the external editor over a field set.
type Editor struct {
	// Command is the editor binary. Empty consults $EDITOR, then vi.
	Command string

	// Timeout bounds the editor session. Zero means DefaultTimeout.
	Timeout time.Duration

	// Run launches the editor on a file path; tests substitute a
	// function that rewrites the file. Nil execs Command with the
	// process's terminal attached.
	Run func(ctx context.Context, path string) error
}

func (e *Editor) command() string {
	if e.Command != "" {
		return e.Command
	}
	if env := os.Getenv("EDITOR"); env != "" {
		return env
	}
	return "vi"
}

func (e *Editor) run(ctx context.Context, path string) error {
	if e.Run != nil {
		return e.Run(ctx, path)
	}
	command := e.command()
	cmd := exec.CommandContext(ctx, command, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("editor timed out after %s", e.timeout())
		}
		return fmt.Errorf("editor %s: %w", command, err)
	}
	return nil
}

func (e *Editor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

// EditFields opens the named fields in the editor and returns the
// values read back. Order controls how the fields are laid out in the
// file. Keys absent from the returned map were deleted in the editor
// and should be treated as unchanged by the caller.
func (e *Editor) EditFields(ctx context.Context, fields map[string]string, order []string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	file, err := os.CreateTemp("", "aiir-edit-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("creating edit file: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)

	data, err := marshalFields(fields, order)
	if err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing edit file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("closing edit file: %w", err)
	}

	if err := e.run(ctx, path); err != nil {
		return nil, err
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading edited file: %w", err)
	}
	return parseFields(edited)
}

// marshalFields encodes the fields as a YAML mapping in the given
// order. A plain map marshal would sort alphabetically and present the
// examiner with interpretation above observation.
func marshalFields(fields map[string]string, order []string) ([]byte, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range order {
		value, ok := fields[name]
		if !ok {
			continue
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
		)
	}
	data, err := yaml.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("encoding edit file: %w", err)
	}
	return data, nil
}

// parseFields reads the edited YAML back into field values. Scalars of
// any YAML type are coerced to strings, so a confidence edited to a
// bare 0.8 still comes back as text.
func parseFields(data []byte) (map[string]string, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("edited file contains invalid YAML: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		if value == nil {
			fields[name] = ""
			continue
		}
		fields[name] = fmt.Sprint(value)
	}
	return fields, nil
}
