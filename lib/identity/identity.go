// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity resolves the examiner identity attached to approvals,
// rejections, and ledger entries.
//
// Every action records two names: the OS user the process runs as, and
// the examiner the action is attributed to. The examiner is resolved by
// priority: the --examiner flag, then AIIR_EXAMINER, then the deprecated
// AIIR_ANALYST alias, then the examiner key in the config file, then the
// OS user. The resolved slug is validated for every source because it
// flows into audit records and TODO identifiers.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source names where the examiner identity came from. It is recorded in
// the approval log next to the identity itself so an auditor can tell a
// deliberate flag from an inherited environment.
type Source string

const (
	SourceFlag   Source = "flag"
	SourceEnv    Source = "env"
	SourceConfig Source = "config"
	SourceOSUser Source = "os_user"
)

// Identity is a resolved examiner identity.
type Identity struct {
	OSUser   string
	Examiner string
	Source   Source
}

// ErrInvalidSlug reports an examiner identity that is not a valid slug.
var ErrInvalidSlug = errors.New("invalid examiner slug")

// slugRe constrains examiner identities: lowercase alphanumeric plus
// hyphens, starting alphanumeric, at most 20 characters.
var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,19}$`)

// ValidateSlug checks an examiner identity against the slug rules.
func ValidateSlug(examiner string) error {
	if examiner == "" || !slugRe.MatchString(examiner) {
		return fmt.Errorf("%w %q (lowercase alphanumeric and hyphens, max 20 chars)", ErrInvalidSlug, examiner)
	}
	return nil
}

// Resolver resolves examiner identities. The zero value reads the
// process environment and skips the config lookup; callers that have a
// config file set ConfigPath.
type Resolver struct {
	// Flag is the --examiner override, highest priority when non-empty.
	Flag string

	// ConfigPath points at the examiner config file. Empty skips the
	// config step.
	ConfigPath string

	// Getenv overrides environment lookup in tests. Nil uses os.Getenv.
	Getenv func(string) string

	// Logger receives resolution warnings. Nil uses slog.Default.
	Logger *slog.Logger
}

func (r Resolver) getenv(key string) string {
	if r.Getenv != nil {
		return r.Getenv(key)
	}
	return os.Getenv(key)
}

func (r Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Resolve returns the examiner identity by priority. The OS user is
// always captured. A candidate that trims to empty falls back to the
// OS user with a warning rather than silently attributing actions to
// nobody. The result is slug-validated regardless of source.
func (r Resolver) Resolve() (Identity, error) {
	osUser := r.getenv("USER")
	if osUser == "" {
		osUser = r.getenv("USERNAME")
	}
	if osUser == "" {
		osUser = "unknown"
	}
	osUser = strings.ToLower(strings.TrimSpace(osUser))

	finish := func(examiner string, source Source) (Identity, error) {
		examiner = strings.ToLower(strings.TrimSpace(examiner))
		if examiner == "" {
			r.logger().Warn("empty examiner identity, falling back to OS user",
				"source", string(source), "os_user", osUser)
			examiner = osUser
			source = SourceOSUser
		}
		if err := ValidateSlug(examiner); err != nil {
			return Identity{}, err
		}
		return Identity{OSUser: osUser, Examiner: examiner, Source: source}, nil
	}

	if r.Flag != "" {
		return finish(r.Flag, SourceFlag)
	}
	if env := r.getenv("AIIR_EXAMINER"); env != "" {
		return finish(env, SourceEnv)
	}
	if env := r.getenv("AIIR_ANALYST"); env != "" {
		r.logger().Warn("AIIR_ANALYST is deprecated, use AIIR_EXAMINER")
		return finish(env, SourceEnv)
	}
	if examiner := r.configExaminer(); examiner != "" {
		return finish(examiner, SourceConfig)
	}
	return finish(osUser, SourceOSUser)
}

// configExaminer reads the examiner key from the config file, accepting
// the legacy analyst key. Unreadable or malformed config degrades to no
// identity rather than blocking resolution.
func (r Resolver) configExaminer() string {
	if r.ConfigPath == "" {
		return ""
	}
	data, err := os.ReadFile(r.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger().Warn("could not read identity config", "path", r.ConfigPath, "error", err)
		}
		return ""
	}
	var cfg struct {
		Examiner string `yaml:"examiner"`
		Analyst  string `yaml:"analyst"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		r.logger().Warn("could not parse identity config", "path", r.ConfigPath, "error", err)
		return ""
	}
	if cfg.Examiner != "" {
		return cfg.Examiner
	}
	return cfg.Analyst
}

// WarnIfUnconfigured logs setup guidance when the identity fell back to
// the OS user.
func WarnIfUnconfigured(logger *slog.Logger, id Identity) {
	if id.Source != SourceOSUser {
		return
	}
	logger.Warn("no examiner identity configured, using OS user",
		"os_user", id.OSUser,
		"hint", "run 'aiir config --examiner <name>' to set your identity")
}
