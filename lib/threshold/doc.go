// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package threshold holds the account identity as a k-of-n threshold
// Schnorr key over ristretto255.
//
// The group private key exists only at dealing time, inside the
// dealer's memory, and is wiped once shares are cut; afterwards no
// single device can reconstruct it. Signing is two rounds: each
// signer commits to a fresh nonce, then releases a response bound to
// the challenge; the coordinator verifies every response against the
// signer's verification share, applies Lagrange weights, and
// aggregates. Invalid responses never count toward k and are reported
// by negated signer index for operator review.
//
// Key lifecycle is an explicit state machine: Uninitialized →
// Generating → Active(epoch) → Rotating → Active(epoch+1) → ... →
// Revoked. Rotation is a fresh dealing whose public package must be
// countersigned by the outgoing key before the epoch advances, and a
// rotation that misses its quorum window aborts without advancing.
// Guardian recovery assembles k signed statements from the guardians
// named at generation time to bind a replacement device.
package threshold
