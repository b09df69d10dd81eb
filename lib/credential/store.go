// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential stores and verifies examiner PINs.
//
// PINs are never stored: the config file holds a PBKDF2-HMAC-SHA256
// hash and a per-examiner random salt, hex encoded under the pins key.
// The same iteration count and salt also feed the verification ledger's
// HMAC key derivation, so a PIN reset deliberately invalidates prior
// ledger signatures until they are re-signed.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/aiir-foundation/aiir/lib/secret"
)

// Iterations is the PBKDF2-HMAC-SHA256 work factor for PIN hashing and
// HMAC key derivation. Changing it invalidates every stored hash and
// ledger signature, so it only moves with a migration path.
const Iterations = 600_000

// SaltSize is the random salt length in bytes.
const SaltSize = 32

// ErrNoPin reports an examiner with no configured PIN.
var ErrNoPin = errors.New("no PIN configured")

// ErrMismatch reports that the two PIN entries during setup differed.
var ErrMismatch = errors.New("PINs do not match")

// SecretPrompter asks the human for one masked secret on the
// controlling terminal. It is satisfied by terminal.TTY; tests supply
// scripted implementations.
type SecretPrompter interface {
	ReadSecret(prompt string) (*secret.Buffer, error)
}

// Store reads and writes PIN credentials in the examiner config file.
type Store struct {
	// Path is the config file location. Commands inject it; there is
	// no fallback to a home-relative default here.
	Path string
}

// DeriveHash runs the PBKDF2 derivation used both for stored PIN
// hashes and for ledger HMAC keys.
func DeriveHash(pin, salt []byte) []byte {
	return pbkdf2.Key(pin, salt, Iterations, sha256.Size, sha256.New)
}

// HasPin reports whether the examiner has a complete PIN record.
func (s *Store) HasPin(examiner string) bool {
	cfg, err := loadConfig(s.Path)
	if err != nil {
		return false
	}
	_, _, ok := pinEntry(cfg, examiner)
	return ok
}

// Salt returns the examiner's stored salt. The ledger derives its HMAC
// key from the PIN and this salt.
func (s *Store) Salt(examiner string) ([]byte, error) {
	cfg, err := loadConfig(s.Path)
	if err != nil {
		return nil, err
	}
	_, saltHex, ok := pinEntry(cfg, examiner)
	if !ok {
		return nil, fmt.Errorf("%w for examiner %q", ErrNoPin, examiner)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt salt for examiner %q: %w", examiner, err)
	}
	return salt, nil
}

// Verify checks a candidate PIN against the stored hash in constant
// time. Any storage problem, including a missing record or corrupt hex,
// verifies as false.
func (s *Store) Verify(examiner string, pin *secret.Buffer) bool {
	cfg, err := loadConfig(s.Path)
	if err != nil {
		return false
	}
	hashHex, saltHex, ok := pinEntry(cfg, examiner)
	if !ok {
		return false
	}
	stored, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	computed := DeriveHash(pin.Bytes(), salt)
	defer secret.Zero(computed)
	return subtle.ConstantTimeCompare(computed, stored) == 1
}

// SetPin derives and stores a new hash and salt for the examiner,
// preserving every other config key.
func (s *Store) SetPin(examiner string, pin *secret.Buffer) error {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	hash := DeriveHash(pin.Bytes(), salt)
	defer secret.Zero(hash)

	cfg, err := loadConfig(s.Path)
	if err != nil {
		return err
	}
	pins, ok := cfg["pins"].(map[string]any)
	if !ok {
		pins = map[string]any{}
		cfg["pins"] = pins
	}
	pins[examiner] = map[string]any{
		"hash": hex.EncodeToString(hash),
		"salt": hex.EncodeToString(salt),
	}
	return saveConfig(s.Path, cfg)
}

// Setup interactively configures a new PIN: prompt, confirm, store.
// The PIN may not be empty and both entries must match.
func (s *Store) Setup(examiner string, in SecretPrompter) error {
	first, err := in.ReadSecret("Enter new PIN: ")
	if err != nil {
		if errors.Is(err, secret.ErrEmpty) {
			return fmt.Errorf("PIN cannot be empty: %w", err)
		}
		return err
	}
	defer first.Close()

	confirm, err := in.ReadSecret("Confirm new PIN: ")
	if err != nil {
		return err
	}
	defer confirm.Close()
	if !first.Equal(confirm) {
		return ErrMismatch
	}

	return s.SetPin(examiner, first)
}

// Reset replaces an existing PIN. It requires the current PIN first and
// fails closed when none is configured.
func (s *Store) Reset(examiner string, in SecretPrompter) error {
	if !s.HasPin(examiner) {
		return fmt.Errorf("%w for examiner %q, use --setup-pin first", ErrNoPin, examiner)
	}
	current, err := in.ReadSecret("Enter current PIN: ")
	if err != nil {
		return err
	}
	defer current.Close()
	if !s.Verify(examiner, current) {
		return errors.New("incorrect current PIN")
	}
	return s.Setup(examiner, in)
}

// Examiner returns the identity key from the config file, or empty.
func (s *Store) Examiner() (string, error) {
	cfg, err := loadConfig(s.Path)
	if err != nil {
		return "", err
	}
	examiner, _ := cfg["examiner"].(string)
	return examiner, nil
}

// SetExaminer records the examiner identity key, preserving every
// other config key. The deprecated analyst key is removed so the two
// never disagree.
func (s *Store) SetExaminer(examiner string) error {
	cfg, err := loadConfig(s.Path)
	if err != nil {
		return err
	}
	cfg["examiner"] = examiner
	delete(cfg, "analyst")
	return saveConfig(s.Path, cfg)
}

// pinEntry extracts the hash and salt hex strings for an examiner from
// a loaded config, tolerating missing or oddly typed subtrees.
func pinEntry(cfg map[string]any, examiner string) (hashHex, saltHex string, ok bool) {
	pins, ok := cfg["pins"].(map[string]any)
	if !ok {
		return "", "", false
	}
	entry, ok := pins[examiner].(map[string]any)
	if !ok {
		return "", "", false
	}
	hashHex, hasHash := entry["hash"].(string)
	saltHex, hasSalt := entry["salt"].(string)
	if !hasHash || !hasSalt || hashHex == "" || saltHex == "" {
		return "", "", false
	}
	return hashHex, saltHex, true
}
