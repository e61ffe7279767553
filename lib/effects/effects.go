// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Effects is the capability bundle threaded through every Aura
// constructor. It is assembled once at boot (or per test) and shared
// by pointer; the fields are interfaces, so individual capabilities
// can be swapped or wrapped (lib/trace wraps several for monitoring).
type Effects struct {
	Time      TimeSource
	Random    RandomSource
	Storage   Storage
	Crypto    Crypto
	Secure    SecureStorage
	Transport Transport
	System    System
}

// Production assembles the real bundle: wall clock, OS CSPRNG,
// in-memory storage and transport (deployments replace these fields
// with their disk store and peer transport after rendezvous), and the
// given secure storage backend.
func Production(secure SecureStorage, logger *slog.Logger) *Effects {
	random := OSRandom()
	return &Effects{
		Time:      RealTime(),
		Random:    random,
		Storage:   NewMemoryStorage(),
		Crypto:    NewStandardCrypto(random),
		Secure:    secure,
		Transport: NewMemoryTransport(),
		System:    NewStandardSystem(logger),
	}
}

// Simulated assembles a fully deterministic bundle from a seed,
// conventionally the test name. Time starts at the Unix epoch and
// stands still until advanced; randomness is the seeded ChaCha20
// stream; storage, secure storage, and transport are in-memory.
func Simulated(seed string) *Effects {
	random := NewSeededRandom(seed)
	return &Effects{
		Time:      NewSimulatedTime(time.Unix(0, 0).UTC()),
		Random:    random,
		Storage:   NewMemoryStorage(),
		Crypto:    NewStandardCrypto(random),
		Secure:    NewMemorySecureStorage(random),
		Transport: NewMemoryTransport(),
		System:    NewStandardSystem(slog.Default()),
	}
}

// Now returns the bundle's current time.
func (e *Effects) Now() time.Time { return e.Time.Now() }

// NowUnix returns the bundle's current time in whole Unix seconds.
func (e *Effects) NowUnix() uint64 { return e.Time.NowUnix() }

// Delay suspends the caller for d. Under a simulated TimeSource the
// simulated clock advances by d immediately and Delay returns; under
// real time it sleeps, honoring ctx cancellation.
func (e *Effects) Delay(ctx context.Context, d time.Duration) error {
	if advancer, ok := e.Time.(interface{ Advance(time.Duration) }); ok {
		advancer.Advance(d)
		return ctx.Err()
	}
	select {
	case <-e.Time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenUUID mints a UUID from the bundle's RandomSource: v4 from OS
// entropy in production, deterministic in simulation.
func (e *Effects) GenUUID() (uuid.UUID, error) {
	return e.Random.UUID()
}

// Logger is shorthand for System.Logger.
func (e *Effects) Logger() *slog.Logger { return e.System.Logger() }
