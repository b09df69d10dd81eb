// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now
// directly. In production, Real() provides standard library behavior.
// In tests, Fake() provides a deterministic clock that advances only
// when Advance is called, so lockout windows and timestamps can be
// tested without sleeping.
package clock

import "time"

// Clock abstracts the current time. Every function whose behavior
// depends on now (lockout window math, approval timestamps) should
// accept a Clock parameter or be a method on a struct with a Clock
// field instead of calling time.Now directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
