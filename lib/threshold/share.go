// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"context"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/secret"
)

// shareNamespace is the secure storage namespace for key shares. Keys
// within it are "<key_id>/<epoch>".
const shareNamespace = "aura-threshold"

// KeyShare is one holder's Shamir share of the group signing key.
// Index is the 1-based x-coordinate; Value is a ristretto255 scalar.
type KeyShare struct {
	Index uint16 `cbor:"1,keyasint"`
	Epoch uint64 `cbor:"2,keyasint"`
	Value []byte `cbor:"3,keyasint"`
}

// scalar decodes the share value.
func (ks KeyShare) scalar() (group.Scalar, error) {
	s := grp.NewScalar()
	if err := s.UnmarshalBinary(ks.Value); err != nil {
		return nil, fmt.Errorf("decoding share %d: %w", ks.Index, err)
	}
	return s, nil
}

// PublicKeyPackage is the group's public verification material at one
// epoch. VerificationShares[i] is the public counterpart of share
// i+1, used to attribute invalid signing responses.
type PublicKeyPackage struct {
	GroupKey           []byte   `cbor:"1,keyasint"`
	VerificationShares [][]byte `cbor:"2,keyasint"`
	K                  uint16   `cbor:"3,keyasint"`
	N                  uint16   `cbor:"4,keyasint"`
	Epoch              uint64   `cbor:"5,keyasint"`
}

// groupKey decodes the group verification element.
func (pkg PublicKeyPackage) groupKey() (group.Element, error) {
	e := grp.NewElement()
	if err := e.UnmarshalBinary(pkg.GroupKey); err != nil {
		return nil, fmt.Errorf("decoding group key: %w", err)
	}
	return e, nil
}

// verificationShare decodes the public share for a 1-based index.
func (pkg PublicKeyPackage) verificationShare(index uint16) (group.Element, error) {
	if index == 0 || int(index) > len(pkg.VerificationShares) {
		return nil, fmt.Errorf("no verification share for signer %d", index)
	}
	e := grp.NewElement()
	if err := e.UnmarshalBinary(pkg.VerificationShares[index-1]); err != nil {
		return nil, fmt.Errorf("decoding verification share %d: %w", index, err)
	}
	return e, nil
}

// SigningContext is the per-signature input: the message, the epoch
// the signature must bind to, and the 1-based indices of the signers
// expected to participate.
type SigningContext struct {
	Message []byte
	Epoch   uint64
	Signers []uint16
}

// Signature is an aggregated threshold signature. SignerIndices lists
// the participants; an index recorded negative marks a signer whose
// response failed verification and did not count toward k.
type Signature struct {
	SigBytes      []byte           `cbor:"1,keyasint"`
	SignerCount   uint16           `cbor:"2,keyasint"`
	SignerIndices []int32          `cbor:"3,keyasint"`
	PublicPackage PublicKeyPackage `cbor:"4,keyasint"`
	Epoch         uint64           `cbor:"5,keyasint"`
}

// ShareVault stores key shares in platform secure storage under a
// read/write capability scope. Deleting a share requires a vault
// built with delete capability.
type ShareVault struct {
	store effects.SecureStorage
}

// NewShareVault scopes the given secure storage to read/write for
// share handling.
func NewShareVault(secure effects.SecureStorage) *ShareVault {
	return &ShareVault{store: effects.ScopedSecureStorage(secure, effects.SecureRead, effects.SecureWrite)}
}

// NewShareVaultWithDelete additionally permits destroying shares,
// used by rotation cleanup after the new epoch settles.
func NewShareVaultWithDelete(secure effects.SecureStorage) *ShareVault {
	return &ShareVault{store: effects.ScopedSecureStorage(secure,
		effects.SecureRead, effects.SecureWrite, effects.SecureDelete)}
}

func shareKey(keyID string, epoch uint64) string {
	return fmt.Sprintf("%s/%d", keyID, epoch)
}

// Put persists a share for a key family at an epoch.
func (v *ShareVault) Put(ctx context.Context, keyID string, share KeyShare) error {
	encoded, err := codec.Marshal(share)
	if err != nil {
		return fmt.Errorf("encoding share for %s: %w", keyID, err)
	}
	if err := v.store.Store(ctx, shareNamespace, shareKey(keyID, share.Epoch), encoded); err != nil {
		secret.Zero(encoded)
		return fmt.Errorf("storing share for %s: %w", keyID, err)
	}
	secret.Zero(encoded)
	return nil
}

// Get loads a share. The returned buffer holds the decoded share
// value pinned in locked memory; Close it after use.
func (v *ShareVault) Get(ctx context.Context, keyID string, epoch uint64) (KeyShare, *secret.Buffer, error) {
	encoded, ok, err := v.store.Retrieve(ctx, shareNamespace, shareKey(keyID, epoch))
	if err != nil {
		return KeyShare{}, nil, fmt.Errorf("loading share for %s: %w", keyID, err)
	}
	if !ok {
		return KeyShare{}, nil, fmt.Errorf("no share stored for %s at epoch %d", keyID, epoch)
	}
	var share KeyShare
	if err := codec.Unmarshal(encoded, &share); err != nil {
		secret.Zero(encoded)
		return KeyShare{}, nil, fmt.Errorf("decoding share for %s: %w", keyID, err)
	}
	secret.Zero(encoded)

	pinned, err := secret.NewFromBytes(share.Value)
	if err != nil {
		return KeyShare{}, nil, fmt.Errorf("pinning share for %s: %w", keyID, err)
	}
	share.Value = pinned.Bytes()
	return share, pinned, nil
}

// Destroy removes a share. Fails unless the vault was built with
// delete capability.
func (v *ShareVault) Destroy(ctx context.Context, keyID string, epoch uint64) error {
	if err := v.store.Delete(ctx, shareNamespace, shareKey(keyID, epoch)); err != nil {
		return fmt.Errorf("destroying share for %s at epoch %d: %w", keyID, epoch, err)
	}
	return nil
}
