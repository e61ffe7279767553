// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import "time"

// TimeSource abstracts time for testability. Production code injects
// RealTime(); simulation injects NewSimulatedTime() with deterministic
// control. Every function that would call time.Now or time.After
// accepts a TimeSource (usually via the Effects bundle) instead.
type TimeSource interface {
	// Now returns the current time.
	Now() time.Time

	// NowUnix returns the current time as whole seconds since the
	// Unix epoch. This is the timestamp written into delegations,
	// facts, and session handles.
	NowUnix() uint64

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// IsSimulated reports whether this source is under test control.
	// Production returns false.
	IsSimulated() bool
}

// RealTime returns a TimeSource backed by the standard time package.
func RealTime() TimeSource { return realTime{} }

type realTime struct{}

func (realTime) Now() time.Time { return time.Now() }

func (realTime) NowUnix() uint64 { return uint64(time.Now().Unix()) }

func (realTime) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realTime) IsSimulated() bool { return false }
