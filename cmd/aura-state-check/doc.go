// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Aura-state-check verifies the at-rest state of an Aura node without
// touching key material. It walks a state directory and checks every
// blob's framing (version byte, nonce, AEAD tag space), and can
// structurally verify a journal snapshot archive by decoding each
// fact and recomputing its content address.
//
// Exit codes:
//
//	0  all checked state is well-formed
//	1  violations found (details printed to stderr)
//	2  error (unreadable paths, bad arguments)
package main
