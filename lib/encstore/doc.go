// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package encstore wraps any storage backend with at-rest encryption.
//
// One 32-byte master key per device lives in secure storage; every
// semantic key gets its own encryption subkey derived from the master
// via HKDF, so compromising one blob's subkey reveals nothing about
// the others. Blobs carry a one-byte version, a fresh 12-byte nonce,
// and a ChaCha20-Poly1305 ciphertext. This is the single encryption
// layer for persisted state; nothing above it encrypts again and
// nothing below it sees plaintext.
//
// Opaque names optionally hide semantic key strings from the backend
// at the cost of prefix listing.
package encstore
