// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/ident"
)

// MetadataTypeKey is the envelope metadata key naming the wrapped
// message type (e.g., "session_invitation"). Receivers demultiplex on
// it before decoding the payload.
const MetadataTypeKey = "type"

// ErrDestinationUnreachable is returned by SendEnvelope when the
// destination authority has no registered endpoint. It is recoverable:
// callers retry after rendezvous establishes a route.
var ErrDestinationUnreachable = errors.New("destination unreachable")

// Envelope is the transport unit exchanged between authorities.
// Payloads are opaque (already encrypted under the current CGKA epoch
// by the time they reach the transport). Delivery is at-most-once per
// envelope ID; receivers must treat duplicate IDs as idempotent.
type Envelope struct {
	// ID deduplicates deliveries. Minted by the sender.
	ID uuid.UUID `cbor:"1,keyasint"`

	// Destination is the receiving authority.
	Destination ident.AuthorityID `cbor:"2,keyasint"`

	// Source is the sending authority.
	Source ident.AuthorityID `cbor:"3,keyasint"`

	// Context scopes the envelope to an application context.
	Context ident.ContextID `cbor:"4,keyasint"`

	// Payload is the opaque message bytes.
	Payload []byte `cbor:"5,keyasint"`

	// Metadata carries routing hints; Metadata[MetadataTypeKey] names
	// the wrapped message type.
	Metadata map[string]string `cbor:"6,keyasint,omitempty"`
}

// Transport is the envelope delivery effect. Production wires a peer
// transport established by lib/rendezvous; simulation and single-
// process deployments use the in-memory router.
type Transport interface {
	// SendEnvelope delivers an envelope toward its destination.
	// Non-blocking: enqueue and return. Returns
	// ErrDestinationUnreachable when no route exists.
	SendEnvelope(ctx context.Context, envelope Envelope) error

	// Register creates (or returns) the inbox for an authority
	// hosted by this node. The kernel reads session messages from it.
	Register(authority ident.AuthorityID) <-chan Envelope

	// Unregister removes an authority's inbox and drops undelivered
	// envelopes.
	Unregister(authority ident.AuthorityID)
}

// inboxCapacity bounds each authority's queue. Sends to a full inbox
// drop the envelope (at-most-once permits loss, never duplication).
const inboxCapacity = 256

// NewMemoryTransport returns an in-process Transport router. All
// authorities registered on the same router can exchange envelopes;
// unregistered destinations are unreachable.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		inboxes: make(map[ident.AuthorityID]chan Envelope),
		seen:    make(map[uuid.UUID]struct{}),
	}
}

// MemoryTransport is the in-memory Transport. Safe for concurrent use.
type MemoryTransport struct {
	mu      sync.Mutex
	inboxes map[ident.AuthorityID]chan Envelope

	// seen tracks delivered envelope IDs for at-most-once semantics.
	seen map[uuid.UUID]struct{}
}

// SendEnvelope implements Transport.
func (mt *MemoryTransport) SendEnvelope(_ context.Context, envelope Envelope) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	inbox, ok := mt.inboxes[envelope.Destination]
	if !ok {
		return fmt.Errorf("sending to %s: %w", envelope.Destination, ErrDestinationUnreachable)
	}

	if _, duplicate := mt.seen[envelope.ID]; duplicate {
		// Duplicate send of the same envelope ID: drop silently.
		return nil
	}
	mt.seen[envelope.ID] = struct{}{}

	select {
	case inbox <- envelope:
	default:
		// Inbox full. At-most-once allows dropping.
	}
	return nil
}

// Register implements Transport.
func (mt *MemoryTransport) Register(authority ident.AuthorityID) <-chan Envelope {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if inbox, ok := mt.inboxes[authority]; ok {
		return inbox
	}
	inbox := make(chan Envelope, inboxCapacity)
	mt.inboxes[authority] = inbox
	return inbox
}

// Unregister implements Transport.
func (mt *MemoryTransport) Unregister(authority ident.AuthorityID) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	delete(mt.inboxes, authority)
}
