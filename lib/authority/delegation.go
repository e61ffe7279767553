// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"

	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/ident"
)

// Delegation is a signed grant: issuer gives subject the capability
// described by Scope, valid within [NotBefore, NotAfter]. Timestamps
// are Unix seconds; a nil NotAfter never expires.
type Delegation struct {
	ID        ident.CapabilityID `cbor:"1,keyasint"`
	Issuer    Subject            `cbor:"2,keyasint"`
	Subject   Subject            `cbor:"3,keyasint"`
	Scope     Scope              `cbor:"4,keyasint"`
	IssuedAt  uint64             `cbor:"5,keyasint"`
	NotBefore uint64             `cbor:"6,keyasint"`
	NotAfter  *uint64            `cbor:"7,keyasint,omitempty"`

	// IssuerSignature is the issuer's Ed25519 signature over
	// SigningBytes.
	IssuerSignature []byte `cbor:"8,keyasint"`
}

// SigningBytes returns the canonical encoding covered by the issuer
// signature.
func (d Delegation) SigningBytes() ([]byte, error) {
	unsigned := d
	unsigned.IssuerSignature = nil
	encoded, err := codec.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding delegation %s: %w", d.ID, err)
	}
	return encoded, nil
}

// Revocation permanently shadows a delegation by id. Once applied it
// can never be undone, and the shadowed id can never be re-granted.
type Revocation struct {
	DelegationID ident.CapabilityID `cbor:"1,keyasint"`
	Revoker      Subject            `cbor:"2,keyasint"`
	RevokedAt    uint64             `cbor:"3,keyasint"`

	// Signature is the revoker's Ed25519 signature over SigningBytes.
	Signature []byte `cbor:"4,keyasint"`
}

// SigningBytes returns the canonical encoding covered by the revoker
// signature.
func (r Revocation) SigningBytes() ([]byte, error) {
	unsigned := r
	unsigned.Signature = nil
	encoded, err := codec.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding revocation of %s: %w", r.DelegationID, err)
	}
	return encoded, nil
}

// CapabilityResult is an evaluation verdict. Negative verdicts are
// ordered by strength: Revoked > Expired > NotFound.
type CapabilityResult uint8

const (
	// ResultNotFound means no chain to the root exists.
	ResultNotFound CapabilityResult = iota
	// ResultExpired means a chain existed but a link is past its
	// validity window.
	ResultExpired
	// ResultRevoked means a link in every otherwise valid chain has
	// been revoked.
	ResultRevoked
	// ResultGranted means some chain of valid links reaches the root.
	ResultGranted
)

// Granted reports whether the verdict permits the operation.
func (r CapabilityResult) Granted() bool { return r == ResultGranted }

// String returns the verdict name.
func (r CapabilityResult) String() string {
	switch r {
	case ResultGranted:
		return "Granted"
	case ResultRevoked:
		return "Revoked"
	case ResultExpired:
		return "Expired"
	case ResultNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("CapabilityResult(%d)", uint8(r))
	}
}

// strongerNegative returns the stronger of two negative verdicts.
func strongerNegative(a, b CapabilityResult) CapabilityResult {
	if a == ResultGranted || b == ResultGranted {
		return ResultGranted
	}
	if a > b {
		return a
	}
	return b
}
