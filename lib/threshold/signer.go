// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/group"

	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/secret"
)

// ErrEpochStale is returned when an operation references an epoch
// other than the active one.
var ErrEpochStale = errors.New("epoch is not the active epoch")

// ErrUnknownSession is returned when a signer is asked to respond for
// a session it never committed to.
var ErrUnknownSession = errors.New("no pending commitment for session")

// Commitment is a signer's round-1 output: a commitment to a fresh
// secret nonce.
type Commitment struct {
	Index uint16 `cbor:"1,keyasint"`
	Epoch uint64 `cbor:"2,keyasint"`
	R     []byte `cbor:"3,keyasint"`
}

// Response is a signer's round-2 output. Z binds the signer's nonce,
// its key share, and the session challenge.
type Response struct {
	Index uint16 `cbor:"1,keyasint"`
	Epoch uint64 `cbor:"2,keyasint"`
	Z     []byte `cbor:"3,keyasint"`
}

// Signer is the holder-side signing participant. It loads its share
// from the vault once and keeps it pinned until Close. Each session
// nonce is single-use: responding consumes it, so a coordinator
// replaying a session id cannot extract a second response under the
// same nonce.
type Signer struct {
	keyID  string
	share  KeyShare
	pinned *secret.Buffer
	random effects.RandomSource

	mu     sync.Mutex
	nonces map[string]group.Scalar
}

// NewSigner loads the device's share for keyID at the given epoch.
func NewSigner(ctx context.Context, vault *ShareVault, keyID string, epoch uint64, random effects.RandomSource) (*Signer, error) {
	share, pinned, err := vault.Get(ctx, keyID, epoch)
	if err != nil {
		return nil, err
	}
	return &Signer{
		keyID:  keyID,
		share:  share,
		pinned: pinned,
		random: random,
		nonces: make(map[string]group.Scalar),
	}, nil
}

// Index returns the signer's 1-based share index.
func (s *Signer) Index() uint16 { return s.share.Index }

// Close wipes the pinned share and any outstanding nonces.
func (s *Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, nonce := range s.nonces {
		nonce.SetUint64(0)
		delete(s.nonces, id)
	}
	return s.pinned.Close()
}

// Commit runs round 1 for a session: draw a fresh nonce, remember it,
// and return its commitment.
func (s *Signer) Commit(sessionID string) (Commitment, error) {
	nonce := grp.RandomNonZeroScalar(s.random)
	commitment, err := grp.NewElement().MulGen(nonce).MarshalBinary()
	if err != nil {
		return Commitment{}, fmt.Errorf("encoding commitment: %w", err)
	}

	s.mu.Lock()
	s.nonces[sessionID] = nonce
	s.mu.Unlock()

	return Commitment{Index: s.share.Index, Epoch: s.share.Epoch, R: commitment}, nil
}

// Respond runs round 2: recompute the challenge from the aggregate
// commitment and release z = nonce + challenge * share. The session
// nonce is consumed whether or not the call succeeds past lookup.
func (s *Signer) Respond(sessionID string, pkg PublicKeyPackage, message []byte, aggregateCommitment []byte) (Response, error) {
	if pkg.Epoch != s.share.Epoch {
		return Response{}, fmt.Errorf("signer %d holds epoch %d, package is epoch %d: %w",
			s.share.Index, s.share.Epoch, pkg.Epoch, ErrEpochStale)
	}

	s.mu.Lock()
	nonce, ok := s.nonces[sessionID]
	delete(s.nonces, sessionID)
	s.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("signer %d session %s: %w", s.share.Index, sessionID, ErrUnknownSession)
	}
	defer nonce.SetUint64(0)

	aggregate := grp.NewElement()
	if err := aggregate.UnmarshalBinary(aggregateCommitment); err != nil {
		return Response{}, fmt.Errorf("decoding aggregate commitment: %w", err)
	}
	groupKey, err := pkg.groupKey()
	if err != nil {
		return Response{}, err
	}
	c, err := challenge(aggregate, groupKey, pkg.Epoch, message)
	if err != nil {
		return Response{}, err
	}

	shareScalar, err := s.share.scalar()
	if err != nil {
		return Response{}, err
	}
	defer shareScalar.SetUint64(0)

	z := grp.NewScalar().Mul(c, shareScalar)
	z = z.Add(z, nonce)
	encoded, err := z.MarshalBinary()
	if err != nil {
		return Response{}, fmt.Errorf("encoding response: %w", err)
	}
	return Response{Index: s.share.Index, Epoch: s.share.Epoch, Z: encoded}, nil
}
