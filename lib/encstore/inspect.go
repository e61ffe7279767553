// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package encstore

import (
	"fmt"

	"github.com/aura-foundation/aura/lib/effects"
)

// aeadTagSize is the minimum ciphertext length: an AEAD tag with an
// empty plaintext.
const aeadTagSize = 16

// BlobInfo describes the framing of one at-rest blob without
// decrypting it.
type BlobInfo struct {
	// Plaintext means the blob carries no version byte: a legacy
	// value written before encryption was enabled.
	Plaintext bool

	// Version is the framing version byte. Zero when Plaintext.
	Version byte

	// CiphertextSize is the AEAD payload length including the tag.
	// Zero when Plaintext.
	CiphertextSize int
}

// InspectBlob verifies the at-rest framing of a stored blob: version
// byte, nonce, and a ciphertext long enough to hold an AEAD tag. It
// never touches key material, so it works on stores whose master key
// is sealed elsewhere.
func InspectBlob(blob []byte) (BlobInfo, error) {
	if len(blob) == 0 {
		return BlobInfo{}, fmt.Errorf("empty blob: %w", effects.ErrDecryptionFailed)
	}
	if blob[0] != blobVersion {
		return BlobInfo{Plaintext: true}, nil
	}
	if len(blob) < blobHeaderSize+aeadTagSize {
		return BlobInfo{}, fmt.Errorf("blob of %d bytes is shorter than header and tag: %w",
			len(blob), effects.ErrDecryptionFailed)
	}
	return BlobInfo{
		Version:        blob[0],
		CiphertextSize: len(blob) - blobHeaderSize,
	}, nil
}
