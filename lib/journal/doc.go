// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal is the append-only fact log. Facts are signed
// envelopes, content-addressed by the BLAKE3 hash of their canonical
// encoding, and stored through the encrypted store so nothing touches
// disk in the clear.
//
// Committed facts are never mutated or removed; the journal exposes
// append, lookup, and ordered replay. Projections such as the contact
// list are pure reductions over the replay and can always be rebuilt
// from the log. Snapshots stream the log as zstd-compressed CBOR for
// backup and device hand-off.
package journal
