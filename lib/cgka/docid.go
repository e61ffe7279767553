// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package cgka

import (
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/zeebo/blake3"
)

// docIDFallbackPrefix rehashes a group identifier whose digest cannot
// be coerced into a valid verifying key.
const docIDFallbackPrefix = "aura_group_fallback_"

// ErrDocIDDerivation means no valid verifying key could be derived
// from the group identifier, even after the fallback rehash.
var ErrDocIDDerivation = errors.New("document id derivation failed")

// DocID identifies a group's document. It is always a valid Ed25519
// verifying key, so downstream layers can address the document and
// verify signatures with the same 32 bytes.
type DocID [32]byte

// String returns the lowercase hex form.
func (d DocID) String() string { return hex.EncodeToString(d[:]) }

// Bytes returns a copy of the raw identifier.
func (d DocID) Bytes() []byte { return append([]byte(nil), d[:]...) }

// GroupID derives the deterministic group identifier for an account
// and context, the preimage of the document id.
func GroupID(account, context string) []byte {
	sum := blake3.Sum256([]byte(account + "/" + context))
	return sum[:]
}

// DeriveDocID hashes a group identifier into a document id, forcing
// the digest onto the Ed25519 curve. The digest is tried as-is, then
// with the top bit of the last byte cleared, then rehashed under a
// fallback prefix with the bit cleared again.
func DeriveDocID(groupID []byte) (DocID, error) {
	digest := blake3.Sum256(groupID)
	if isVerifyingKey(digest[:]) {
		return DocID(digest), nil
	}

	digest[31] &= 0x7f
	if isVerifyingKey(digest[:]) {
		return DocID(digest), nil
	}

	digest = blake3.Sum256(append([]byte(docIDFallbackPrefix), groupID...))
	digest[31] &= 0x7f
	if isVerifyingKey(digest[:]) {
		return DocID(digest), nil
	}
	return DocID{}, fmt.Errorf("group %x: %w", groupID, ErrDocIDDerivation)
}

// isVerifyingKey reports whether b decodes as a canonical Ed25519
// curve point.
func isVerifyingKey(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
