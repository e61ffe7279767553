// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package choreo executes multi-party protocols described as
// role-typed programs. A program is one role's view of a
// choreography: a sequence of send, receive, choose, offer, and end
// steps. The kernel drives a session per program instance, binding
// outbound payloads and branch decisions through a ProtocolAdapter
// and exchanging transport envelopes keyed by session id.
//
// Sessions are step-driven: Step runs local compute and sends until
// the session completes or suspends (waiting for a message, a branch
// decision, or time). Suspensions carry per-step and total deadlines;
// expiry fails the session, runs the adapter's end hook, and releases
// every resource, so the same session id can be started again.
//
// Inbound envelopes are attributed by authenticated source, not by
// the role label they claim: delivery verifies the claimed role is
// bound to the envelope's sender in the adapter's role map and
// rejects mismatches before the session sees the message.
//
// Guarded entry points evaluate the required capability against the
// authority graph before any side effect. A denied guard
// short-circuits: no envelope is sent, nothing is stored.
package choreo
