// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/journal"
	"github.com/aura-foundation/aura/lib/threshold"
)

// MsgKeyRotated announces a settled rotation to peers.
const MsgKeyRotated = "key_rotated"

// KeyRotationFactType is the journal record committed when a rotation
// settles.
const KeyRotationFactType = "aura.key_rotation.v1"

// KeyRotated is the announcement payload: the new epoch's public
// package under the outgoing key's endorsement.
type KeyRotated struct {
	KeyID       string                     `cbor:"1,keyasint"`
	Epoch       uint64                     `cbor:"2,keyasint"`
	Package     threshold.PublicKeyPackage `cbor:"3,keyasint"`
	Endorsement threshold.Signature        `cbor:"4,keyasint"`
}

// RotationRequest describes one coordinator-driven key rotation.
type RotationRequest struct {
	KeyID string

	// Subject is the rotating device; it needs a granted
	// session:rotate capability.
	Subject authority.Subject

	// SignOld produces the outgoing key's threshold signature over
	// the new package bytes. The coordinator runs a signing ceremony
	// at the current epoch to obtain it.
	SignOld func(message []byte) (threshold.Signature, error)

	// Acceptances are the holder indices that accept the new shares.
	// The rotation settles once the agreement mode's quorum is in.
	Acceptances []uint16
}

// RotateKey drives a full rotation: deal shares at the next epoch,
// have the outgoing key endorse the new package, collect holder
// acceptances, then commit a rotation fact and announce the settled
// package to peers. The returned shares go to their holders over
// sealed channels; the caller distributes them.
func (k *Kernel) RotateKey(ctx context.Context, core *threshold.Core, log *journal.Journal, factSigner ed25519.PrivateKey, request RotationRequest, peers []effects.Envelope) ([]threshold.KeyShare, threshold.PublicKeyPackage, error) {
	scope := authority.NewScope(authority.NamespaceSession, "rotate")
	if err := k.Guard(request.Subject, scope); err != nil {
		return nil, threshold.PublicKeyPackage{}, err
	}

	shares, pkg, err := core.BeginRotation()
	if err != nil {
		return nil, threshold.PublicKeyPackage{}, fmt.Errorf("beginning rotation of %s: %w", request.KeyID, err)
	}
	message, err := threshold.RotationPackageBytes(pkg)
	if err != nil {
		return nil, threshold.PublicKeyPackage{}, err
	}
	endorsement, err := request.SignOld(message)
	if err != nil {
		return nil, threshold.PublicKeyPackage{}, fmt.Errorf("endorsing rotation of %s: %w", request.KeyID, err)
	}
	if err := core.EndorseRotation(endorsement); err != nil {
		return nil, threshold.PublicKeyPackage{}, err
	}
	for _, index := range request.Acceptances {
		if err := core.AcceptRotation(index); err != nil {
			return nil, threshold.PublicKeyPackage{}, fmt.Errorf("acceptance from holder %d: %w", index, err)
		}
		if core.State() == threshold.StateActive {
			break
		}
	}
	if core.State() != threshold.StateActive || core.Epoch() != pkg.Epoch {
		return nil, threshold.PublicKeyPackage{}, fmt.Errorf("rotation of %s did not settle: %w",
			request.KeyID, threshold.ErrInsufficientSignatures)
	}

	announcement := KeyRotated{
		KeyID:       request.KeyID,
		Epoch:       pkg.Epoch,
		Package:     pkg,
		Endorsement: endorsement,
	}
	payload, err := codec.Marshal(announcement)
	if err != nil {
		return nil, threshold.PublicKeyPackage{}, fmt.Errorf("encoding rotation announcement: %w", err)
	}

	// Fact first: the rotation is durable before any peer hears of it.
	fact, err := journal.NewFact(k.bundle.Crypto, factSigner, KeyRotationFactType,
		request.Subject, k.bundle.NowUnix(), payload)
	if err != nil {
		return nil, threshold.PublicKeyPackage{}, err
	}
	if _, err := log.Append(ctx, fact); err != nil {
		return nil, threshold.PublicKeyPackage{}, fmt.Errorf("committing rotation fact: %w", err)
	}

	for _, peer := range peers {
		envelopeID, err := k.bundle.GenUUID()
		if err != nil {
			return nil, threshold.PublicKeyPackage{}, fmt.Errorf("minting envelope id: %w", err)
		}
		peer.ID = envelopeID
		peer.Source = k.self
		peer.Payload = payload
		if peer.Metadata == nil {
			peer.Metadata = make(map[string]string)
		}
		peer.Metadata[effects.MetadataTypeKey] = MsgKeyRotated
		if err := k.bundle.Transport.SendEnvelope(ctx, peer); err != nil {
			// The rotation is settled and durable; a peer that missed
			// the announcement recovers it from the journal.
			k.bundle.Logger().Warn("rotation announcement undelivered",
				"key_id", request.KeyID,
				"destination", peer.Destination,
				"error", err)
		}
	}

	k.bundle.Logger().Info("key rotation settled",
		"key_id", request.KeyID,
		"epoch", pkg.Epoch,
		"holders", len(shares))
	return shares, pkg, nil
}
