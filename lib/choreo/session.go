// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/effects"
)

const (
	// DefaultStepTimeout bounds each suspension.
	DefaultStepTimeout = 30 * time.Second

	// DefaultTotalTimeout bounds a whole session.
	DefaultTotalTimeout = 10 * time.Minute
)

// OutcomeKind discriminates what a call to Step produced.
type OutcomeKind uint8

const (
	// OutcomeDone means the session completed normally.
	OutcomeDone OutcomeKind = iota + 1

	// OutcomeNeedMessage means the session is suspended on a receive
	// or offer step; Waiting describes the expected messages.
	OutcomeNeedMessage

	// OutcomeNeedDecision means the decider has not picked a branch
	// yet.
	OutcomeNeedDecision

	// OutcomeSleep means the session is in a timed pause; Until is
	// when it wants to be stepped again.
	OutcomeSleep

	// OutcomeFailed means the session failed; Err carries the cause
	// and all resources are already released.
	OutcomeFailed
)

// StepOutcome reports how far a session advanced.
type StepOutcome struct {
	Kind    OutcomeKind
	Waiting []MessageRequest
	Until   time.Time
	Err     error
}

type sessionState uint8

const (
	sessionRunning sessionState = iota
	sessionDone
	sessionFailed
)

type frame struct {
	steps []Step
	pc    int
}

// Session is one in-flight program instance. A mutex serializes
// Step, deliver, and Cancel, so a Serve goroutine and a caller-driven
// pump can share one session.
type Session struct {
	kernel  *Kernel
	id      uuid.UUID
	program Program
	adapter ProtocolAdapter
	opts    SessionOptions

	mu       sync.Mutex
	frames   []frame
	received []ReceivedMessage
	claimed  map[int]bool

	state        sessionState
	cancelled    bool
	suspendedAt  int
	stepDeadline time.Time
	sleepUntil   time.Time
	totalBy      time.Time
	lastErr      error
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// deliver appends an inbound message after binding the claimed role
// to the transport-level sender: the role must be in the adapter's
// role map and must be bound to exactly the envelope's source. A
// message claiming someone else's role is rejected, so no participant
// can answer for another's slot.
func (s *Session) deliver(msg ReceivedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bound, ok := s.adapter.RoleMap()[msg.From]
	if !ok || bound.Compare(msg.Source) != 0 {
		return fmt.Errorf("session %s: source %s does not hold role %s: %w",
			s.id, msg.Source, msg.From, ErrInvalidRole)
	}
	s.received = append(s.received, msg)
	return nil
}

// Cancel requests cooperative cancellation; the session observes it
// at its next step.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Step advances the session until it completes, fails, or suspends.
// Suspended sessions re-enter at the same step; deadline expiry is
// observed here, on the next pump after time passes.
func (s *Session) Step(ctx context.Context) StepOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case sessionDone:
		return StepOutcome{Kind: OutcomeDone}
	case sessionFailed:
		return StepOutcome{Kind: OutcomeFailed, Err: s.lastErr}
	}
	if s.cancelled {
		return s.fail(ctx, fmt.Errorf("session %s: %w", s.id, ErrCancelled))
	}
	now := s.kernel.bundle.Now()
	if now.After(s.totalBy) {
		return s.fail(ctx, fmt.Errorf("session %s total budget: %w", s.id, ErrTimeout))
	}

	for {
		if len(s.frames) == 0 {
			return s.complete(ctx)
		}
		top := &s.frames[len(s.frames)-1]
		if top.pc >= len(top.steps) {
			s.frames = s.frames[:len(s.frames)-1]
			continue
		}
		step := top.steps[top.pc]

		switch step.Kind {
		case StepEnd:
			s.frames = s.frames[:len(s.frames)-1]

		case StepSend:
			if err := s.send(ctx, step); err != nil {
				return s.fail(ctx, err)
			}
			top.pc++
			s.clearSuspension()

		case StepReceive:
			waiting, satisfied := s.matchReceive(step)
			if !satisfied {
				return s.suspend(top.pc, StepOutcome{Kind: OutcomeNeedMessage, Waiting: waiting})
			}
			top.pc++
			s.clearSuspension()

		case StepChoose:
			label, ok := s.adapter.BranchDecider(s.received)
			if !ok {
				return s.suspend(top.pc, StepOutcome{Kind: OutcomeNeedDecision})
			}
			branch, found := step.Branches[label]
			if !found {
				return s.fail(ctx, fmt.Errorf("session %s: decider chose unknown branch %q", s.id, label))
			}
			top.pc++
			s.frames = append(s.frames, frame{steps: branch})
			s.clearSuspension()

		case StepSleep:
			now := s.kernel.bundle.Now()
			if s.sleepUntil.IsZero() {
				s.sleepUntil = now.Add(step.Duration)
			}
			if now.Before(s.sleepUntil) {
				return StepOutcome{Kind: OutcomeSleep, Until: s.sleepUntil}
			}
			s.sleepUntil = time.Time{}
			top.pc++
			s.clearSuspension()

		case StepOffer:
			label, found := s.peekOffer(step)
			if !found {
				return s.suspend(top.pc, StepOutcome{Kind: OutcomeNeedMessage, Waiting: s.offerRequests(step)})
			}
			branch := step.Branches[label]
			top.pc++
			s.frames = append(s.frames, frame{steps: branch})
			s.clearSuspension()

		default:
			return s.fail(ctx, fmt.Errorf("session %s: unknown step kind %d", s.id, step.Kind))
		}
	}
}

// suspend records the suspension point and arms the per-step deadline
// on first entry. Re-suspending at the same step keeps the original
// deadline; expiry fails the session.
func (s *Session) suspend(pc int, outcome StepOutcome) StepOutcome {
	now := s.kernel.bundle.Now()
	if s.stepDeadline.IsZero() || s.suspendedAt != pc {
		s.suspendedAt = pc
		s.stepDeadline = now.Add(s.opts.StepTimeout)
		return outcome
	}
	if now.After(s.stepDeadline) {
		return s.fail(context.Background(), fmt.Errorf("session %s step %d: %w", s.id, pc, ErrTimeout))
	}
	return outcome
}

func (s *Session) clearSuspension() {
	s.stepDeadline = time.Time{}
	s.suspendedAt = -1
}

// send fans a send step out to its peer or family members.
func (s *Session) send(ctx context.Context, step Step) error {
	targets := []Role{step.Peer}
	if step.Family != "" {
		targets = s.adapter.RoleFamily(step.Family)
	}
	roleMap := s.adapter.RoleMap()
	for _, target := range targets {
		destination, bound := roleMap[target]
		if !bound {
			return fmt.Errorf("session %s, role %s: %w", s.id, target, ErrInvalidRole)
		}
		request := MessageRequest{SessionID: s.id, To: target, Type: step.Type}
		payload, ok := s.adapter.MessageProvider(request, s.received)
		if !ok {
			return fmt.Errorf("session %s, %s to %s: %w", s.id, step.Type, target, ErrProviderMissing)
		}
		envelopeID, err := s.kernel.bundle.GenUUID()
		if err != nil {
			return fmt.Errorf("minting envelope id: %w", err)
		}
		envelope := effects.Envelope{
			ID:          envelopeID,
			Destination: destination,
			Source:      s.kernel.self,
			Context:     s.opts.Context,
			Payload:     payload,
			Metadata: map[string]string{
				effects.MetadataTypeKey: step.Type,
				metadataSessionKey:      s.id.String(),
				metadataFromRoleKey:     string(s.program.Role),
			},
		}
		if err := s.kernel.bundle.Transport.SendEnvelope(ctx, envelope); err != nil {
			return &TransportError{Destination: destination, Cause: err}
		}
	}
	return nil
}

// matchReceive claims one unclaimed message of the step's type from
// each expected source. Partial arrivals stay suspended; the claimed
// set is only touched when every source has delivered.
func (s *Session) matchReceive(step Step) ([]MessageRequest, bool) {
	sources := []Role{step.Peer}
	if step.Family != "" {
		sources = s.adapter.RoleFamily(step.Family)
	}
	matches := make([]int, 0, len(sources))
	var missing []MessageRequest
	for _, source := range sources {
		idx := s.findUnclaimed(source, step.Type)
		if idx < 0 {
			missing = append(missing, MessageRequest{SessionID: s.id, To: source, Type: step.Type})
			continue
		}
		matches = append(matches, idx)
	}
	if len(missing) > 0 {
		return missing, false
	}
	for _, idx := range matches {
		s.claimed[idx] = true
	}
	return nil, true
}

// peekOffer looks for the peer's next unclaimed message whose type
// labels a branch. The message stays unclaimed so the branch's own
// receive step consumes it.
func (s *Session) peekOffer(step Step) (string, bool) {
	for idx, msg := range s.received {
		if s.claimed[idx] || msg.From != step.Peer {
			continue
		}
		if _, ok := step.Branches[msg.Type]; ok {
			return msg.Type, true
		}
	}
	return "", false
}

func (s *Session) offerRequests(step Step) []MessageRequest {
	requests := make([]MessageRequest, 0, len(step.Branches))
	for label := range step.Branches {
		requests = append(requests, MessageRequest{SessionID: s.id, To: step.Peer, Type: label})
	}
	return requests
}

func (s *Session) findUnclaimed(from Role, msgType string) int {
	for idx, msg := range s.received {
		if !s.claimed[idx] && msg.From == from && msg.Type == msgType {
			return idx
		}
	}
	return -1
}

func (s *Session) complete(ctx context.Context) StepOutcome {
	s.state = sessionDone
	s.adapter.EndSession(ctx, s.id, nil)
	s.kernel.release(s.id)
	s.kernel.bundle.Logger().Info("session completed",
		"session_id", s.id,
		"role", s.program.Role)
	return StepOutcome{Kind: OutcomeDone}
}

func (s *Session) fail(ctx context.Context, err error) StepOutcome {
	s.state = sessionFailed
	s.lastErr = err
	s.adapter.EndSession(ctx, s.id, err)
	s.kernel.release(s.id)
	s.kernel.bundle.Logger().Warn("session failed",
		"session_id", s.id,
		"role", s.program.Role,
		"error", err,
		"recoverable", Recoverable(err))
	return StepOutcome{Kind: OutcomeFailed, Err: err}
}
