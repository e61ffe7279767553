// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous establishes peer-to-peer connections between
// authorities over WebRTC data channels.
//
// Connection establishment walks a ladder of strategies in fixed
// priority order: direct host candidates, STUN-derived reflexive
// candidates, a coordinated hole punch whose schedule both sides
// derive from the XOR of the nonces carried in their offers, and
// finally a relay. Each rung is bounded by a per-attempt timeout and
// the whole ladder by a total budget.
//
// Signaling is vanilla ICE: all candidates are gathered before an
// offer or answer is published, so each attempt needs exactly one
// signaling round-trip. The Signaler interface abstracts the exchange;
// tests use the in-process MemorySignaler.
package rendezvous
