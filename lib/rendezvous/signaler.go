// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"

	"github.com/aura-foundation/aura/lib/ident"
)

// punchNonceLen is the length of the hole-punch coordination nonce
// carried in every offer and answer.
const punchNonceLen = 16

// Signal is one signaling message, offer or answer. The SDP carries
// every gathered ICE candidate; the punch nonce feeds the coordinated
// hole-punch schedule.
type Signal struct {
	// Peer is the other party: the offerer on received offers, the
	// answerer on received answers.
	Peer ident.AuthorityID

	// SDP is the complete session description with all candidates
	// embedded.
	SDP string

	// PunchNonce is this party's contribution to the punch schedule.
	PunchNonce []byte

	// Rung names the ladder rung the offer was made for, so the
	// answerer gathers matching candidates.
	Rung string

	// Timestamp orders signals; stale ones are skipped on poll.
	Timestamp string
}

// Signaler exchanges session descriptions between authorities. The
// model is vanilla ICE: one offer, one answer, no trickle. A relayed
// fact channel serves in production; tests use MemorySignaler.
type Signaler interface {
	// PublishOffer stores a complete offer where the target can find
	// it.
	PublishOffer(ctx context.Context, from, to ident.AuthorityID, signal Signal) error

	// PublishAnswer stores a complete answer keyed by the originating
	// offer.
	PublishAnswer(ctx context.Context, offerer, from ident.AuthorityID, signal Signal) error

	// PollOffers returns unseen offers directed at this authority.
	PollOffers(ctx context.Context, self ident.AuthorityID) ([]Signal, error)

	// PollAnswers returns unseen answers to offers this authority
	// originated.
	PollAnswers(ctx context.Context, self ident.AuthorityID) ([]Signal, error)
}
