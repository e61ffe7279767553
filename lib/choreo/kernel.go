// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/encstore"
	"github.com/aura-foundation/aura/lib/ident"
)

const (
	metadataSessionKey  = "session"
	metadataFromRoleKey = "from_role"
)

// SessionOptions tune one session.
type SessionOptions struct {
	// Context scopes the session's envelopes.
	Context ident.ContextID

	// StepTimeout bounds each suspension; zero means
	// DefaultStepTimeout.
	StepTimeout time.Duration

	// TotalTimeout bounds the whole session; zero means
	// DefaultTotalTimeout.
	TotalTimeout time.Duration

	// Guard, when set, is evaluated for GuardSubject before the
	// session starts. Denial short-circuits with no side effects.
	Guard        *authority.Scope
	GuardSubject authority.Subject
}

// Kernel drives choreography sessions for one hosted authority.
// Sessions run independently and serialize their own stepping, so a
// Serve goroutine and direct callers can drive the same session.
type Kernel struct {
	bundle *effects.Effects
	graph  *authority.Graph
	store  *encstore.Store
	self   ident.AuthorityID

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewKernel wires a kernel for the given hosted authority. The store
// persists session handles; the graph guards session entry points.
func NewKernel(bundle *effects.Effects, graph *authority.Graph, store *encstore.Store, self ident.AuthorityID) *Kernel {
	return &Kernel{
		bundle:   bundle,
		graph:    graph,
		store:    store,
		self:     self,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Self returns the hosted authority.
func (k *Kernel) Self() ident.AuthorityID { return k.self }

// Guard evaluates a capability and returns GuardDeniedError unless
// the result is Granted. Callers must not perform any effect before a
// nil return.
func (k *Kernel) Guard(subject authority.Subject, scope authority.Scope) error {
	result := k.graph.EvaluateCapability(subject, scope)
	if !result.Granted() {
		return &GuardDeniedError{Subject: subject, Scope: scope, Result: result}
	}
	return nil
}

// StartSession creates a session for a program instance. The guard,
// when configured, is evaluated before the adapter sees the session;
// a live session with the same id is rejected, but an ended one frees
// its id for reuse.
func (k *Kernel) StartSession(ctx context.Context, id uuid.UUID, program Program, adapter ProtocolAdapter, opts SessionOptions) (*Session, error) {
	if opts.Guard != nil {
		if err := k.Guard(opts.GuardSubject, *opts.Guard); err != nil {
			return nil, err
		}
	}
	if opts.StepTimeout == 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.TotalTimeout == 0 {
		opts.TotalTimeout = DefaultTotalTimeout
	}

	k.mu.Lock()
	if _, live := k.sessions[id]; live {
		k.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionExists)
	}
	session := &Session{
		kernel:      k,
		id:          id,
		program:     program,
		adapter:     adapter,
		opts:        opts,
		frames:      []frame{{steps: program.Steps}},
		claimed:     make(map[int]bool),
		suspendedAt: -1,
		totalBy:     k.bundle.Now().Add(opts.TotalTimeout),
	}
	k.sessions[id] = session
	k.mu.Unlock()

	if err := adapter.StartSession(ctx, id); err != nil {
		k.release(id)
		return nil, fmt.Errorf("starting session %s: %w", id, err)
	}
	k.bundle.Logger().Info("session started",
		"session_id", id,
		"role", program.Role)
	return session, nil
}

// Deliver routes a transport envelope to its session's inbox. The
// claimed role is verified against the envelope's source before the
// session sees the message; mismatches are rejected. Envelopes for
// unknown sessions are dropped: at-most-once delivery tolerates loss,
// and a late message for an ended session is indistinguishable from
// one.
func (k *Kernel) Deliver(envelope effects.Envelope) error {
	raw, ok := envelope.Metadata[metadataSessionKey]
	if !ok {
		return fmt.Errorf("envelope %s has no session metadata: %w", envelope.ID, ErrUnknownSession)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("envelope %s session metadata: %w", envelope.ID, err)
	}

	k.mu.Lock()
	session, live := k.sessions[id]
	k.mu.Unlock()
	if !live {
		k.bundle.Logger().Debug("envelope for inactive session dropped",
			"session_id", id,
			"type", envelope.Metadata[effects.MetadataTypeKey])
		return nil
	}
	err = session.deliver(ReceivedMessage{
		From:    Role(envelope.Metadata[metadataFromRoleKey]),
		Source:  envelope.Source,
		Type:    envelope.Metadata[effects.MetadataTypeKey],
		Payload: envelope.Payload,
	})
	if err != nil {
		return fmt.Errorf("delivering envelope %s: %w", envelope.ID, err)
	}
	return nil
}

// Cancel requests cooperative cancellation of a live session.
func (k *Kernel) Cancel(id uuid.UUID) error {
	k.mu.Lock()
	session, live := k.sessions[id]
	k.mu.Unlock()
	if !live {
		return fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	session.Cancel()
	return nil
}

// Serve pumps the hosted authority's transport inbox into sessions
// until ctx is done, stepping each recipient after delivery. Single-
// process deployments run one Serve goroutine per kernel.
func (k *Kernel) Serve(ctx context.Context) error {
	inbox := k.bundle.Transport.Register(k.self)
	defer k.bundle.Transport.Unregister(k.self)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, open := <-inbox:
			if !open {
				return nil
			}
			if err := k.Deliver(envelope); err != nil {
				k.bundle.Logger().Warn("undeliverable envelope",
					"envelope_id", envelope.ID,
					"error", err)
				continue
			}
			k.stepSessionFor(ctx, envelope)
		}
	}
}

func (k *Kernel) stepSessionFor(ctx context.Context, envelope effects.Envelope) {
	id, err := uuid.Parse(envelope.Metadata[metadataSessionKey])
	if err != nil {
		return
	}
	k.mu.Lock()
	session, live := k.sessions[id]
	k.mu.Unlock()
	if live {
		session.Step(ctx)
	}
}

// release removes a session from the live set. Idempotent; after it,
// StartSession with the same id succeeds.
func (k *Kernel) release(id uuid.UUID) {
	k.mu.Lock()
	delete(k.sessions, id)
	k.mu.Unlock()
}

// LiveSessions returns the ids of sessions still running.
func (k *Kernel) LiveSessions() []uuid.UUID {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(k.sessions))
	for id := range k.sessions {
		ids = append(ids, id)
	}
	return ids
}
