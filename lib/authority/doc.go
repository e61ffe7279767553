// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority evaluates capability questions against a graph of
// signed delegations and revocations.
//
// The graph is the single authorization truth: every guarded operation
// asks it "may subject S perform operation sc?" and acts on the
// answer. Evaluation is deterministic and monotonic — once a
// capability is observed Revoked or Expired, no delivery order of the
// same delegation and revocation set can make it Granted again — so
// every node that has applied the same set answers identically.
//
// Delegations chain: a capability holds when some chain of valid
// delegations reaches the root authority. Each link is checked at its
// own issuance time rather than the wall clock, so a skewed clock
// cannot move a grant forward.
package authority
