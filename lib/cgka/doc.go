// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package cgka maintains a forward-secret group key per document,
// shared by exactly the members currently eligible under the
// authority graph.
//
// Each member holds an X25519 leaf keypair. Every membership change
// or refresh is one epoch transition: the acting member derives a
// fresh path-secret chain from its new leaf secret and encrypts each
// link, via HPKE, to the leaves of the subtree that needs it. The
// chain's last link is the group root secret for the new epoch;
// application keys derive from it per (channel, generation). Epoch
// transitions wipe the previous root and every cached generation key,
// so current state cannot decrypt earlier epochs.
//
// Membership is never edited directly: it is a projection of the
// authority graph. SyncEligibility diffs the graph's deterministic
// eligibility view against the tree and emits the adds and removes as
// a single epoch transition, so every honest node converges on the
// same tree.
package cgka
