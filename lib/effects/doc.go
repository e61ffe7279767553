// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package effects provides the injectable capability bundle that every
// Aura layer runs on: time, randomness, storage, cryptography, secure
// storage, transport, and system observability.
//
// No code above this package calls the wall clock, the OS RNG, the
// filesystem, or the network directly. Components accept an *Effects
// and call through it, which is what makes the whole substrate
// deterministically testable: Simulated(seed) assembles a bundle whose
// time stands still until advanced and whose randomness is a seeded
// ChaCha20 stream, so a re-run of the same test is byte-identical.
//
// Production() assembles the real bundle: monotonic wall clock, OS
// CSPRNG, and an in-memory envelope router for transport (peer
// transports register their own). The two bundles expose the same
// surface; nothing downstream can tell them apart except through
// TimeSource.IsSimulated.
package effects
