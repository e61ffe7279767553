// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/ident"
)

// MessageRequest identifies the payload a send step needs.
type MessageRequest struct {
	SessionID uuid.UUID
	To        Role
	Type      string
}

// ReceivedMessage is one inbound session message, in arrival order.
// From is the role the envelope claimed; Source is the transport-level
// sender the claim was verified against. Adapters that track per-
// participant state key it by Source, never by the role label.
type ReceivedMessage struct {
	From    Role
	Source  ident.AuthorityID
	Type    string
	Payload []byte
}

// ProtocolAdapter binds a program to concrete state: payloads, branch
// decisions, and the mapping from roles to network identities. The
// kernel calls it under the session's lock, one call at a time.
type ProtocolAdapter interface {
	// StartSession initializes adapter state for a new session.
	StartSession(ctx context.Context, sessionID uuid.UUID) error

	// MessageProvider supplies the outbound payload for a send step,
	// given everything received so far. Returning ok=false cancels
	// the session with ErrProviderMissing.
	MessageProvider(request MessageRequest, received []ReceivedMessage) (payload []byte, ok bool)

	// BranchDecider picks a branch label at a choose step. Returning
	// ok=false suspends the session until more messages arrive.
	BranchDecider(received []ReceivedMessage) (label string, ok bool)

	// RoleMap resolves roles (including family members) to
	// authorities.
	RoleMap() map[Role]ident.AuthorityID

	// RoleFamily lists the member roles of an indexed family, in
	// fan-out order.
	RoleFamily(family string) []Role

	// EndSession releases adapter state. Called exactly once per
	// session, with the failure cause or nil on success.
	EndSession(ctx context.Context, sessionID uuid.UUID, cause error)
}
