// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
)

// Wire type names of the session-coordination choreography. They
// appear verbatim in envelope metadata.
const (
	MsgSessionInvitation     = "session_invitation"
	MsgSessionDecision       = "session_decision"
	MsgSessionCreated        = "session_created"
	MsgSessionCreationFailed = "session_creation_failed"
)

const (
	roleCoordinator = Role("Coordinator")
	roleInitiator   = Role("Initiator")
	familyInvitees  = "Participants"

	sessionKeyPrefix = "session/"
)

// ParticipantInvitation is fanned out to every participant except the
// initiator. Role tells the recipient which family slot it answers
// as.
type ParticipantInvitation struct {
	SessionID    uuid.UUID           `cbor:"1,keyasint"`
	Initiator    ident.AuthorityID   `cbor:"2,keyasint"`
	Participants []ident.AuthorityID `cbor:"3,keyasint"`
	Epoch        uint64              `cbor:"4,keyasint"`
	Role         string              `cbor:"5,keyasint"`
}

// SessionDecision is a participant's accept-or-reject answer.
type SessionDecision struct {
	SessionID   uuid.UUID         `cbor:"1,keyasint"`
	Participant ident.AuthorityID `cbor:"2,keyasint"`
	Accepted    bool              `cbor:"3,keyasint"`
}

// SessionType classifies what a session was created for.
type SessionType uint8

const (
	SessionCoordination SessionType = iota + 1
	SessionThresholdOperation
	SessionRecovery
	SessionKeyRotation
	SessionInvitation
	SessionRendezvous
	SessionSync
	SessionBackup
	SessionCustom
)

// String returns the wire name of the session type.
func (t SessionType) String() string {
	switch t {
	case SessionCoordination:
		return "coordination"
	case SessionThresholdOperation:
		return "threshold_operation"
	case SessionRecovery:
		return "recovery"
	case SessionKeyRotation:
		return "key_rotation"
	case SessionInvitation:
		return "invitation"
	case SessionRendezvous:
		return "rendezvous"
	case SessionSync:
		return "sync"
	case SessionBackup:
		return "backup"
	case SessionCustom:
		return "custom"
	}
	return fmt.Sprintf("SessionType(%d)", uint8(t))
}

// SessionRole names the handle owner's slot in the participant list.
type SessionRole struct {
	Authority ident.AuthorityID `cbor:"1,keyasint"`
	Index     int               `cbor:"2,keyasint"`
}

// SessionHandle names a successfully created session. It is what gets
// persisted under session/<id> and returned to the initiator.
// CustomType carries the application's own name when Type is
// SessionCustom and is empty otherwise.
type SessionHandle struct {
	SessionID    uuid.UUID           `cbor:"1,keyasint"`
	Type         SessionType         `cbor:"2,keyasint"`
	Participants []ident.AuthorityID `cbor:"3,keyasint"`
	MyRole       SessionRole         `cbor:"4,keyasint"`
	Epoch        uint64              `cbor:"5,keyasint"`
	StartTimeMS  uint64              `cbor:"6,keyasint"`
	Metadata     map[string]string   `cbor:"7,keyasint,omitempty"`
	CustomType   string              `cbor:"8,keyasint,omitempty"`
}

// SessionCreated carries the handle back to the initiator.
type SessionCreated struct {
	Handle SessionHandle `cbor:"1,keyasint"`
}

// SessionCreationFailed reports why no session was created.
type SessionCreationFailed struct {
	Reason string `cbor:"1,keyasint"`
}

// CoordinationConfig describes one create_session request.
type CoordinationConfig struct {
	// Initiator proposes the session and receives the outcome.
	Initiator ident.AuthorityID

	// Participants is the full proposed membership, initiator
	// included. Invitations go to everyone else.
	Participants []ident.AuthorityID

	// AcceptThreshold is how many acceptances the coordinator needs.
	AcceptThreshold int

	// Context scopes the session's envelopes.
	Context ident.ContextID

	// Metadata is carried verbatim on the created session's handle.
	Metadata map[string]string
}

// invitees returns the participants who get invitations.
func (c CoordinationConfig) invitees() []ident.AuthorityID {
	out := make([]ident.AuthorityID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Compare(c.Initiator) != 0 {
			out = append(out, p)
		}
	}
	return out
}

// coordinationProgram is the coordinator's view: fan out invitations,
// collect every decision, then branch on the acceptance count.
func coordinationProgram() Program {
	return Program{
		Role: roleCoordinator,
		Steps: []Step{
			SendEach(familyInvitees, MsgSessionInvitation),
			ReceiveEach(familyInvitees, MsgSessionDecision),
			Choose(map[string][]Step{
				"Success": {Send(roleInitiator, MsgSessionCreated), End()},
				"Failure": {Send(roleInitiator, MsgSessionCreationFailed), End()},
			}),
			End(),
		},
	}
}

// Coordination tracks one coordinator-side session-creation run.
type Coordination struct {
	kernel  *Kernel
	config  CoordinationConfig
	epoch   uint64
	startMS uint64
	session *Session

	// mu covers the outcome fields, written during Serve-driven steps
	// and read by Outcome from the caller's goroutine.
	mu     sync.Mutex
	handle *SessionHandle
	reason string
}

// CreateSession starts the session-coordination choreography. The
// initiator needs a granted session:create capability; denial
// short-circuits before any envelope leaves. The returned Coordination
// is stepped (directly or via Serve) until Outcome reports a result.
func (k *Kernel) CreateSession(ctx context.Context, config CoordinationConfig) (*Coordination, error) {
	if len(config.Participants) == 0 {
		return nil, fmt.Errorf("create_session with no participants: %w", ErrInvalid)
	}
	if config.AcceptThreshold <= 0 || config.AcceptThreshold > len(config.invitees()) {
		return nil, fmt.Errorf("accept threshold %d for %d invitees: %w",
			config.AcceptThreshold, len(config.invitees()), ErrInvalid)
	}

	id, err := k.bundle.GenUUID()
	if err != nil {
		return nil, fmt.Errorf("minting session id: %w", err)
	}
	coordination := &Coordination{
		kernel:  k,
		config:  config,
		epoch:   k.bundle.NowUnix(),
		startMS: uint64(k.bundle.Now().UnixMilli()),
	}
	guard := authority.NewScope(authority.NamespaceSession, "create")
	session, err := k.StartSession(ctx, id, coordinationProgram(), coordination, SessionOptions{
		Context:      config.Context,
		Guard:        &guard,
		GuardSubject: authority.AuthoritySubject(config.Initiator),
	})
	if err != nil {
		return nil, err
	}
	coordination.session = session
	return coordination, nil
}

// Session returns the underlying kernel session.
func (c *Coordination) Session() *Session { return c.session }

// Outcome returns the result once the session has completed: the
// handle on success, the failure message otherwise. ok is false while
// the session is still in flight.
func (c *Coordination) Outcome() (handle *SessionHandle, reason string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil && c.reason == "" {
		return nil, "", false
	}
	return c.handle, c.reason, true
}

// StartSession implements ProtocolAdapter.
func (c *Coordination) StartSession(context.Context, uuid.UUID) error { return nil }

// MessageProvider implements ProtocolAdapter. The session_created
// branch persists the handle under session/<id> before it is sent;
// the failure branch persists nothing.
func (c *Coordination) MessageProvider(request MessageRequest, received []ReceivedMessage) ([]byte, bool) {
	switch request.Type {
	case MsgSessionInvitation:
		payload, err := codec.Marshal(ParticipantInvitation{
			SessionID:    c.session.ID(),
			Initiator:    c.config.Initiator,
			Participants: c.config.Participants,
			Epoch:        c.epoch,
			Role:         string(request.To),
		})
		if err != nil {
			return nil, false
		}
		return payload, true

	case MsgSessionCreated:
		handle := SessionHandle{
			SessionID:    c.session.ID(),
			Type:         SessionCoordination,
			Participants: c.config.Participants,
			MyRole:       c.initiatorRole(),
			Epoch:        c.epoch,
			StartTimeMS:  c.startMS,
			Metadata:     c.config.Metadata,
		}
		blob, err := codec.Marshal(handle)
		if err != nil {
			return nil, false
		}
		key := sessionKeyPrefix + c.session.ID().String()
		if err := c.kernel.store.Store(context.Background(), key, blob); err != nil {
			c.kernel.bundle.Logger().Error("persisting session handle",
				"session_id", c.session.ID(),
				"error", err)
			return nil, false
		}
		c.mu.Lock()
		c.handle = &handle
		c.mu.Unlock()
		payload, err := codec.Marshal(SessionCreated{Handle: handle})
		if err != nil {
			return nil, false
		}
		return payload, true

	case MsgSessionCreationFailed:
		reason := fmt.Sprintf("Insufficient participant acceptance: %d/%d",
			acceptedCount(c.decisions(received)), c.config.AcceptThreshold)
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		payload, err := codec.Marshal(SessionCreationFailed{Reason: reason})
		if err != nil {
			return nil, false
		}
		return payload, true
	}
	return nil, false
}

// initiatorRole locates the initiator's slot in the participant list.
func (c *Coordination) initiatorRole() SessionRole {
	role := SessionRole{Authority: c.config.Initiator}
	for i, p := range c.config.Participants {
		if p.Compare(c.config.Initiator) == 0 {
			role.Index = i
			break
		}
	}
	return role
}

// BranchDecider implements ProtocolAdapter: Success once the accept
// threshold is met, Failure otherwise. It only runs after every
// invitee has answered, and each invitee's vote counts once no matter
// how many decisions it delivered.
func (c *Coordination) BranchDecider(received []ReceivedMessage) (string, bool) {
	decisions := c.decisions(received)
	if len(decisions) < len(c.config.invitees()) {
		return "", false
	}
	if acceptedCount(decisions) >= c.config.AcceptThreshold {
		return "Success", true
	}
	return "Failure", true
}

// decisions collapses decision messages to one vote per authenticated
// sender: the first decision from each source wins, and a decision
// that fails to decode counts as a rejection.
func (c *Coordination) decisions(received []ReceivedMessage) map[string]bool {
	votes := make(map[string]bool)
	for _, msg := range received {
		if msg.Type != MsgSessionDecision {
			continue
		}
		key := msg.Source.String()
		if _, seen := votes[key]; seen {
			continue
		}
		accepted := false
		var decision SessionDecision
		if err := codec.Unmarshal(msg.Payload, &decision); err == nil {
			accepted = decision.Accepted
		}
		votes[key] = accepted
	}
	return votes
}

func acceptedCount(votes map[string]bool) int {
	accepted := 0
	for _, vote := range votes {
		if vote {
			accepted++
		}
	}
	return accepted
}

// RoleMap implements ProtocolAdapter.
func (c *Coordination) RoleMap() map[Role]ident.AuthorityID {
	m := map[Role]ident.AuthorityID{
		roleCoordinator: c.kernel.self,
		roleInitiator:   c.config.Initiator,
	}
	for i, invitee := range c.config.invitees() {
		m[FamilyRole(familyInvitees, i)] = invitee
	}
	return m
}

// RoleFamily implements ProtocolAdapter.
func (c *Coordination) RoleFamily(family string) []Role {
	if family != familyInvitees {
		return nil
	}
	roles := make([]Role, len(c.config.invitees()))
	for i := range roles {
		roles[i] = FamilyRole(familyInvitees, i)
	}
	return roles
}

// EndSession implements ProtocolAdapter.
func (c *Coordination) EndSession(context.Context, uuid.UUID, error) {}

// RespondToInvitation handles a session_invitation envelope on a
// participant node: decide, then answer with a session_decision
// exactly once. The accept callback sees the decoded invitation.
func (k *Kernel) RespondToInvitation(ctx context.Context, envelope effects.Envelope, accept func(ParticipantInvitation) bool) error {
	if envelope.Metadata[effects.MetadataTypeKey] != MsgSessionInvitation {
		return fmt.Errorf("envelope %s is %q, not an invitation: %w",
			envelope.ID, envelope.Metadata[effects.MetadataTypeKey], ErrInvalid)
	}
	var invitation ParticipantInvitation
	if err := codec.Unmarshal(envelope.Payload, &invitation); err != nil {
		return fmt.Errorf("decoding invitation: %w", err)
	}

	decision := SessionDecision{
		SessionID:   invitation.SessionID,
		Participant: k.self,
		Accepted:    accept(invitation),
	}
	payload, err := codec.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	envelopeID, err := k.bundle.GenUUID()
	if err != nil {
		return fmt.Errorf("minting envelope id: %w", err)
	}
	reply := effects.Envelope{
		ID:          envelopeID,
		Destination: envelope.Source,
		Source:      k.self,
		Context:     envelope.Context,
		Payload:     payload,
		Metadata: map[string]string{
			effects.MetadataTypeKey: MsgSessionDecision,
			metadataSessionKey:      invitation.SessionID.String(),
			metadataFromRoleKey:     invitation.Role,
		},
	}
	if err := k.bundle.Transport.SendEnvelope(ctx, reply); err != nil {
		return &TransportError{Destination: envelope.Source, Cause: err}
	}
	k.bundle.Logger().Info("invitation answered",
		"session_id", invitation.SessionID,
		"accepted", decision.Accepted)
	return nil
}

// ListSessions returns every persisted session handle, in store
// order. Stores running opaque names cannot list; they return empty.
func (k *Kernel) ListSessions(ctx context.Context) ([]SessionHandle, error) {
	keys, err := k.store.ListKeys(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	handles := make([]SessionHandle, 0, len(keys))
	for _, key := range keys {
		raw, found, err := k.store.Retrieve(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", key, err)
		}
		if !found {
			continue
		}
		var handle SessionHandle
		if err := codec.Unmarshal(raw, &handle); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// SessionHandleAt loads a persisted session handle, if one exists.
func (k *Kernel) SessionHandleAt(ctx context.Context, id uuid.UUID) (*SessionHandle, error) {
	raw, found, err := k.store.Retrieve(ctx, sessionKeyPrefix+id.String())
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	var handle SessionHandle
	if err := codec.Unmarshal(raw, &handle); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &handle, nil
}
