// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
)

// SignatureSchemeEd25519 is the only scheme currently defined. The
// scheme id is inside the signed bytes, so a future scheme cannot be
// retrofitted onto an old signature.
const SignatureSchemeEd25519 uint8 = 1

var (
	// ErrInvalidFactSignature means an envelope's signature did not
	// verify against the given key.
	ErrInvalidFactSignature = errors.New("fact signature verification failed")

	// ErrUnknownSignatureScheme rejects envelopes signed under a
	// scheme this build does not implement.
	ErrUnknownSignatureScheme = errors.New("unknown fact signature scheme")
)

// FactID is the content address of a fact: the BLAKE3 hash of its
// full canonical encoding, signature included.
type FactID [32]byte

// String returns the lowercase hex form.
func (id FactID) String() string { return hex.EncodeToString(id[:]) }

// ParseFactID parses the hex form of a FactID.
func ParseFactID(s string) (FactID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(FactID{}) {
		return FactID{}, fmt.Errorf("parsing fact id %q: not a 32-byte hex string", s)
	}
	var id FactID
	copy(id[:], raw)
	return id, nil
}

// FactEnvelope is one signed journal record. TypeID names the payload
// shape; Subject is who the fact is about; Payload is the type's own
// canonical encoding.
type FactEnvelope struct {
	TypeID          string            `cbor:"1,keyasint"`
	Subject         authority.Subject `cbor:"2,keyasint"`
	Timestamp       uint64            `cbor:"3,keyasint"`
	Payload         []byte            `cbor:"4,keyasint"`
	SignatureScheme uint8             `cbor:"5,keyasint"`
	Signature       []byte            `cbor:"6,keyasint"`
}

// SigningBytes returns the canonical encoding the signature covers:
// everything except the signature itself.
func (e FactEnvelope) SigningBytes() ([]byte, error) {
	unsigned := e
	unsigned.Signature = nil
	encoded, err := codec.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding fact envelope: %w", err)
	}
	return encoded, nil
}

// ID computes the fact's content address.
func (e FactEnvelope) ID() (FactID, error) {
	encoded, err := codec.Marshal(e)
	if err != nil {
		return FactID{}, fmt.Errorf("encoding fact envelope: %w", err)
	}
	return FactID(blake3.Sum256(encoded)), nil
}

// Verify checks the envelope signature against the author's key.
func (e FactEnvelope) Verify(crypto effects.Crypto, public ed25519.PublicKey) error {
	if e.SignatureScheme != SignatureSchemeEd25519 {
		return fmt.Errorf("scheme %d: %w", e.SignatureScheme, ErrUnknownSignatureScheme)
	}
	message, err := e.SigningBytes()
	if err != nil {
		return err
	}
	digest := blake3.Sum256(message)
	if !crypto.Ed25519Verify(public, digest[:], e.Signature) {
		return fmt.Errorf("fact %s: %w", e.TypeID, ErrInvalidFactSignature)
	}
	return nil
}

// NewFact builds and signs an envelope. The signature covers the
// BLAKE3 digest of the unsigned canonical encoding.
func NewFact(crypto effects.Crypto, private ed25519.PrivateKey, typeID string, subject authority.Subject, timestamp uint64, payload []byte) (FactEnvelope, error) {
	envelope := FactEnvelope{
		TypeID:          typeID,
		Subject:         subject,
		Timestamp:       timestamp,
		Payload:         append([]byte(nil), payload...),
		SignatureScheme: SignatureSchemeEd25519,
	}
	message, err := envelope.SigningBytes()
	if err != nil {
		return FactEnvelope{}, err
	}
	digest := blake3.Sum256(message)
	envelope.Signature = crypto.Ed25519Sign(private, digest[:])
	return envelope, nil
}
