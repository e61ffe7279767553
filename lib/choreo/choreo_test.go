// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/encstore"
	"github.com/aura-foundation/aura/lib/ident"
	"github.com/aura-foundation/aura/lib/journal"
	"github.com/aura-foundation/aura/lib/threshold"
)

// choreoFixture wires one shared bundle (one transport) and a kernel
// per authority.
type choreoFixture struct {
	t      *testing.T
	bundle *effects.Effects
	graph  *authority.Graph
	store  *encstore.Store

	initiator    ident.AuthorityID
	participants []ident.AuthorityID
	kernels      map[ident.AuthorityID]*Kernel
	inboxes      map[ident.AuthorityID]<-chan effects.Envelope
}

func newChoreoFixture(t *testing.T) *choreoFixture {
	t.Helper()
	bundle := effects.Simulated(t.Name())
	initiator := ident.AuthorityIDFromSeed("initiator")
	p1 := ident.AuthorityIDFromSeed("p1")
	p2 := ident.AuthorityIDFromSeed("p2")

	graph := authority.NewGraph(bundle, authority.AuthoritySubject(initiator))
	store := encstore.New(bundle, encstore.DefaultConfig())

	f := &choreoFixture{
		t:            t,
		bundle:       bundle,
		graph:        graph,
		store:        store,
		initiator:    initiator,
		participants: []ident.AuthorityID{initiator, p1, p2},
		kernels:      make(map[ident.AuthorityID]*Kernel),
		inboxes:      make(map[ident.AuthorityID]<-chan effects.Envelope),
	}
	for _, a := range f.participants {
		f.kernels[a] = NewKernel(bundle, graph, store, a)
		f.inboxes[a] = bundle.Transport.Register(a)
	}
	return f
}

func (f *choreoFixture) drain(a ident.AuthorityID) []effects.Envelope {
	var out []effects.Envelope
	for {
		select {
		case envelope := <-f.inboxes[a]:
			out = append(out, envelope)
		default:
			return out
		}
	}
}

func (f *choreoFixture) config(threshold int) CoordinationConfig {
	return CoordinationConfig{
		Initiator:       f.initiator,
		Participants:    f.participants,
		AcceptThreshold: threshold,
		Context:         ident.ContextIDFromSeed("ctx"),
	}
}

// runCoordination pumps a coordination session to completion, with
// each invitee answering via decide.
func (f *choreoFixture) runCoordination(c *Coordination, decide func(ident.AuthorityID) bool) StepOutcome {
	f.t.Helper()
	ctx := context.Background()

	outcome := c.Session().Step(ctx)
	if outcome.Kind != OutcomeNeedMessage {
		return outcome
	}
	for _, a := range f.participants {
		if a.Compare(f.initiator) == 0 {
			continue
		}
		for _, envelope := range f.drain(a) {
			if envelope.Metadata[effects.MetadataTypeKey] != MsgSessionInvitation {
				f.t.Fatalf("unexpected envelope %q at %s", envelope.Metadata[effects.MetadataTypeKey], a)
			}
			accepted := decide(a)
			err := f.kernels[a].RespondToInvitation(ctx, envelope, func(ParticipantInvitation) bool {
				return accepted
			})
			if err != nil {
				f.t.Fatalf("responding at %s: %v", a, err)
			}
		}
	}
	for _, envelope := range f.drain(f.initiator) {
		if err := f.kernels[f.initiator].Deliver(envelope); err != nil {
			f.t.Fatalf("delivering to coordinator: %v", err)
		}
	}
	return c.Session().Step(ctx)
}

func TestSessionCreationHappyPath(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	if err := f.bundle.Delay(ctx, 42*time.Second); err != nil {
		t.Fatalf("Delay: %v", err)
	}

	config := f.config(2)
	config.Metadata = map[string]string{"purpose": "sync"}
	coordination, err := f.kernels[f.initiator].CreateSession(ctx, config)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	outcome := f.runCoordination(coordination, func(ident.AuthorityID) bool { return true })
	if outcome.Kind != OutcomeDone {
		t.Fatalf("outcome %v, err %v", outcome.Kind, outcome.Err)
	}

	handle, reason, ok := coordination.Outcome()
	if !ok || handle == nil {
		t.Fatalf("no outcome: handle=%v reason=%q", handle, reason)
	}
	if handle.Type != SessionCoordination {
		t.Fatalf("handle type %v, want %v", handle.Type, SessionCoordination)
	}
	if len(handle.Participants) != 3 {
		t.Fatalf("handle participants %v", handle.Participants)
	}
	if handle.Epoch != f.bundle.NowUnix() {
		t.Fatalf("handle epoch %d, want %d", handle.Epoch, f.bundle.NowUnix())
	}
	if handle.StartTimeMS != 42000 {
		t.Fatalf("handle start %d ms, want 42000", handle.StartTimeMS)
	}
	if handle.MyRole.Authority.Compare(f.initiator) != 0 || handle.MyRole.Index != 0 {
		t.Fatalf("handle role %+v", handle.MyRole)
	}

	// The initiator got exactly one session_created envelope.
	final := f.drain(f.initiator)
	if len(final) != 1 || final[0].Metadata[effects.MetadataTypeKey] != MsgSessionCreated {
		t.Fatalf("initiator inbox %v", final)
	}
	// Invitees got exactly one invitation each, already consumed.
	for _, a := range f.participants[1:] {
		if rest := f.drain(a); len(rest) != 0 {
			t.Fatalf("leftover envelopes at %s: %d", a, len(rest))
		}
	}

	persisted, err := f.kernels[f.initiator].SessionHandleAt(ctx, handle.SessionID)
	if err != nil {
		t.Fatalf("SessionHandleAt: %v", err)
	}
	if persisted == nil || persisted.Epoch != handle.Epoch {
		t.Fatalf("persisted handle %+v", persisted)
	}
	if persisted.Type != SessionCoordination || persisted.Metadata["purpose"] != "sync" {
		t.Fatalf("persisted handle lost fields: %+v", persisted)
	}

	listed, err := f.kernels[f.initiator].ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(listed) != 1 || listed[0].SessionID != handle.SessionID {
		t.Fatalf("listed sessions %+v", listed)
	}
}

func TestSleepStepPausesSession(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]
	adapter := &pingAdapter{self: f.initiator, peer: f.participants[1]}

	id, err := f.bundle.GenUUID()
	if err != nil {
		t.Fatalf("GenUUID: %v", err)
	}
	program := Program{Role: "Self", Steps: []Step{Sleep(5 * time.Second), End()}}
	session, err := kernel.StartSession(ctx, id, program, adapter, SessionOptions{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	outcome := session.Step(ctx)
	if outcome.Kind != OutcomeSleep {
		t.Fatalf("outcome %v, want Sleep", outcome.Kind)
	}
	want := f.bundle.Now().Add(5 * time.Second)
	if !outcome.Until.Equal(want) {
		t.Fatalf("wake time %v, want %v", outcome.Until, want)
	}

	// Stepping early keeps sleeping with the original wake time.
	if again := session.Step(ctx); again.Kind != OutcomeSleep || !again.Until.Equal(want) {
		t.Fatalf("early step %v until %v", again.Kind, again.Until)
	}

	if err := f.bundle.Delay(ctx, 5*time.Second); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if outcome := session.Step(ctx); outcome.Kind != OutcomeDone {
		t.Fatalf("outcome %v after wake, want Done", outcome.Kind)
	}
}

func TestSessionCreationFailsUnderRejection(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()

	coordination, err := f.kernels[f.initiator].CreateSession(ctx, f.config(2))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	outcome := f.runCoordination(coordination, func(ident.AuthorityID) bool { return false })
	if outcome.Kind != OutcomeDone {
		t.Fatalf("outcome %v, err %v", outcome.Kind, outcome.Err)
	}

	handle, reason, ok := coordination.Outcome()
	if !ok || handle != nil {
		t.Fatalf("handle %v on failure", handle)
	}
	if reason != "Insufficient participant acceptance: 0/2" {
		t.Fatalf("reason %q", reason)
	}

	// No handle persisted.
	persisted, err := f.kernels[f.initiator].SessionHandleAt(ctx, coordination.Session().ID())
	if err != nil {
		t.Fatalf("SessionHandleAt: %v", err)
	}
	if persisted != nil {
		t.Fatalf("failure persisted a handle: %+v", persisted)
	}

	final := f.drain(f.initiator)
	if len(final) != 1 || final[0].Metadata[effects.MetadataTypeKey] != MsgSessionCreationFailed {
		t.Fatalf("initiator inbox %v", final)
	}
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()

	empty := f.config(2)
	empty.Participants = nil
	if _, err := f.kernels[f.initiator].CreateSession(ctx, empty); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty participants: %v, want ErrInvalid", err)
	}

	steep := f.config(3)
	if _, err := f.kernels[f.initiator].CreateSession(ctx, steep); !errors.Is(err, ErrInvalid) {
		t.Fatalf("threshold above invitee count: %v, want ErrInvalid", err)
	}
}

func TestGuardDenialShortCircuits(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()

	// An initiator with no capability chain to the root.
	config := f.config(2)
	config.Initiator = ident.AuthorityIDFromSeed("stranger")
	config.Participants = []ident.AuthorityID{config.Initiator, f.participants[1], f.participants[2]}

	_, err := f.kernels[f.participants[1]].CreateSession(ctx, config)
	var denied *GuardDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("CreateSession: %v, want GuardDeniedError", err)
	}
	if !Recoverable(err) {
		t.Fatal("guard denial should be recoverable")
	}

	// Short-circuit: nothing sent, nothing live, nothing stored.
	for _, a := range f.participants {
		if envelopes := f.drain(a); len(envelopes) != 0 {
			t.Fatalf("guard denial leaked %d envelopes to %s", len(envelopes), a)
		}
	}
	if live := f.kernels[f.participants[1]].LiveSessions(); len(live) != 0 {
		t.Fatalf("live sessions after denial: %v", live)
	}
}

func TestDecisionsBindToSource(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]

	coordination, err := kernel.CreateSession(ctx, f.config(2))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if outcome := coordination.Session().Step(ctx); outcome.Kind != OutcomeNeedMessage {
		t.Fatalf("outcome %v, want NeedMessage", outcome.Kind)
	}
	p1, p2 := f.participants[1], f.participants[2]
	f.drain(p1)
	f.drain(p2)

	sessionID := coordination.Session().ID()
	deliverDecision := func(source ident.AuthorityID, role string, accepted bool) error {
		payload, err := codec.Marshal(SessionDecision{
			SessionID:   sessionID,
			Participant: source,
			Accepted:    accepted,
		})
		if err != nil {
			t.Fatalf("encoding decision: %v", err)
		}
		envelopeID, err := f.bundle.GenUUID()
		if err != nil {
			t.Fatalf("GenUUID: %v", err)
		}
		return kernel.Deliver(effects.Envelope{
			ID:          envelopeID,
			Destination: f.initiator,
			Source:      source,
			Payload:     payload,
			Metadata: map[string]string{
				effects.MetadataTypeKey: MsgSessionDecision,
				metadataSessionKey:      sessionID.String(),
				metadataFromRoleKey:     role,
			},
		})
	}

	// p1 accepts its own slot, then claims p2's slot and re-votes its
	// own. The claimed slot is rejected outright; the re-vote is
	// delivered but must not count twice.
	if err := deliverDecision(p1, "Participants(0)", true); err != nil {
		t.Fatalf("own slot: %v", err)
	}
	if err := deliverDecision(p1, "Participants(1)", true); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("another participant's slot: %v, want ErrInvalidRole", err)
	}
	if err := deliverDecision(p1, "Participants(0)", true); err != nil {
		t.Fatalf("repeat vote: %v", err)
	}
	if outcome := coordination.Session().Step(ctx); outcome.Kind != OutcomeNeedMessage {
		t.Fatalf("outcome %v before p2 answered, want NeedMessage", outcome.Kind)
	}

	// p2's genuine rejection settles the vote at one accept of two.
	if err := deliverDecision(p2, "Participants(1)", false); err != nil {
		t.Fatalf("p2 decision: %v", err)
	}
	if outcome := coordination.Session().Step(ctx); outcome.Kind != OutcomeDone {
		t.Fatalf("outcome %v, err %v", outcome.Kind, outcome.Err)
	}

	handle, reason, ok := coordination.Outcome()
	if !ok || handle != nil {
		t.Fatalf("handle %v after under-threshold vote", handle)
	}
	if reason != "Insufficient participant acceptance: 1/2" {
		t.Fatalf("reason %q", reason)
	}
	persisted, err := kernel.SessionHandleAt(ctx, sessionID)
	if err != nil || persisted != nil {
		t.Fatalf("persisted %+v err %v", persisted, err)
	}
}

func TestConcurrentDeliveryAndStepping(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]
	peer := f.participants[1]
	adapter := &pingAdapter{self: f.initiator, peer: peer}

	const pings = 64
	steps := make([]Step, 0, pings+1)
	for i := 0; i < pings; i++ {
		steps = append(steps, Receive("Peer", "ping"))
	}
	steps = append(steps, End())

	id, err := f.bundle.GenUUID()
	if err != nil {
		t.Fatalf("GenUUID: %v", err)
	}
	envelopes := make([]effects.Envelope, pings)
	for i := range envelopes {
		envelopeID, err := f.bundle.GenUUID()
		if err != nil {
			t.Fatalf("GenUUID: %v", err)
		}
		envelopes[i] = effects.Envelope{
			ID:          envelopeID,
			Destination: f.initiator,
			Source:      peer,
			Payload:     []byte("ping"),
			Metadata: map[string]string{
				effects.MetadataTypeKey: "ping",
				metadataSessionKey:      id.String(),
				metadataFromRoleKey:     "Peer",
			},
		}
	}

	session, err := kernel.StartSession(ctx, id,
		Program{Role: "Self", Steps: steps}, adapter, SessionOptions{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, envelope := range envelopes {
			if err := kernel.Deliver(envelope); err != nil {
				t.Errorf("Deliver: %v", err)
				return
			}
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		outcome := session.Step(ctx)
		if outcome.Kind == OutcomeDone {
			break
		}
		if outcome.Kind == OutcomeFailed {
			t.Fatalf("session failed: %v", outcome.Err)
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not complete")
		}
		runtime.Gosched()
	}
	wg.Wait()
	if live := kernel.LiveSessions(); len(live) != 0 {
		t.Fatalf("live sessions after completion: %v", live)
	}
}

// pingAdapter is a minimal adapter for timeout and cancellation tests.
type pingAdapter struct {
	self  ident.AuthorityID
	peer  ident.AuthorityID
	ended []error
}

func (a *pingAdapter) StartSession(context.Context, uuid.UUID) error { return nil }

func (a *pingAdapter) MessageProvider(MessageRequest, []ReceivedMessage) ([]byte, bool) {
	return []byte("ping"), true
}

func (a *pingAdapter) BranchDecider([]ReceivedMessage) (string, bool) { return "", false }

func (a *pingAdapter) RoleMap() map[Role]ident.AuthorityID {
	return map[Role]ident.AuthorityID{"Self": a.self, "Peer": a.peer}
}

func (a *pingAdapter) RoleFamily(string) []Role { return nil }

func (a *pingAdapter) EndSession(_ context.Context, _ uuid.UUID, cause error) {
	a.ended = append(a.ended, cause)
}

func pingProgram() Program {
	return Program{Role: "Self", Steps: []Step{Receive("Peer", "ping"), End()}}
}

func TestStepTimeoutReleasesSession(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]
	adapter := &pingAdapter{self: f.initiator, peer: f.participants[1]}

	id, err := f.bundle.GenUUID()
	if err != nil {
		t.Fatalf("GenUUID: %v", err)
	}
	session, err := kernel.StartSession(ctx, id, pingProgram(), adapter, SessionOptions{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if outcome := session.Step(ctx); outcome.Kind != OutcomeNeedMessage {
		t.Fatalf("outcome %v, want NeedMessage", outcome.Kind)
	}
	// A second id while the first is live is rejected.
	if _, err := kernel.StartSession(ctx, id, pingProgram(), adapter, SessionOptions{}); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate id: %v, want ErrSessionExists", err)
	}

	if err := f.bundle.Delay(ctx, DefaultStepTimeout+time.Second); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	outcome := session.Step(ctx)
	if outcome.Kind != OutcomeFailed || !errors.Is(outcome.Err, ErrTimeout) {
		t.Fatalf("outcome %v err %v, want Failed/ErrTimeout", outcome.Kind, outcome.Err)
	}
	if len(adapter.ended) != 1 || !errors.Is(adapter.ended[0], ErrTimeout) {
		t.Fatalf("end hook calls %v", adapter.ended)
	}

	// Resources are released: the same id starts cleanly.
	if _, err := kernel.StartSession(ctx, id, pingProgram(), adapter, SessionOptions{}); err != nil {
		t.Fatalf("restart after timeout: %v", err)
	}
}

func TestCancellationIsCooperative(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]
	adapter := &pingAdapter{self: f.initiator, peer: f.participants[1]}

	id, err := f.bundle.GenUUID()
	if err != nil {
		t.Fatalf("GenUUID: %v", err)
	}
	session, err := kernel.StartSession(ctx, id, pingProgram(), adapter, SessionOptions{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if outcome := session.Step(ctx); outcome.Kind != OutcomeNeedMessage {
		t.Fatalf("outcome %v, want NeedMessage", outcome.Kind)
	}

	if err := kernel.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	outcome := session.Step(ctx)
	if outcome.Kind != OutcomeFailed || !errors.Is(outcome.Err, ErrCancelled) {
		t.Fatalf("outcome %v err %v, want Failed/ErrCancelled", outcome.Kind, outcome.Err)
	}
	if live := kernel.LiveSessions(); len(live) != 0 {
		t.Fatalf("live sessions after cancel: %v", live)
	}
}

func TestDeviceEnrollmentFlow(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]
	log := journal.New(f.bundle, f.store)

	core, err := threshold.NewCore(f.bundle, "account-signing", threshold.Config{K: 2, N: 2})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	if _, _, err := core.GenerateKeys(); err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}

	_, factSigner, err := f.bundle.Crypto.Ed25519Generate()
	if err != nil {
		t.Fatalf("Ed25519Generate: %v", err)
	}

	devices := []ident.AuthorityID{f.participants[1], f.participants[2]}
	for i, deviceAuthority := range devices {
		deviceID := ident.DeviceIDFromSeed(fmt.Sprintf("device-%d", i+1))
		config := EnrollmentConfig{
			KeyID:              "account-signing",
			NewDevice:          deviceID,
			NewDeviceAuthority: deviceAuthority,
			ShareIndex:         uint16(i + 1),
			Context:            ident.ContextIDFromSeed("ctx"),
		}
		err := kernel.OfferEnrollment(ctx, authority.AuthoritySubject(f.initiator), config, []byte("sealed-share"))
		if err != nil {
			t.Fatalf("OfferEnrollment %d: %v", i+1, err)
		}

		offers := f.drain(deviceAuthority)
		if len(offers) != 1 {
			t.Fatalf("device %d got %d offers", i+1, len(offers))
		}
		stored := false
		err = f.kernels[deviceAuthority].AcceptEnrollment(ctx, offers[0], deviceID, func(EnrollmentShare) error {
			stored = true
			return nil
		})
		if err != nil {
			t.Fatalf("AcceptEnrollment %d: %v", i+1, err)
		}
		if !stored {
			t.Fatalf("device %d did not store its share", i+1)
		}

		acks := f.drain(f.initiator)
		if len(acks) != 1 {
			t.Fatalf("initiator got %d acks", len(acks))
		}
		if err := kernel.CompleteEnrollment(ctx, acks[0], core, log, factSigner); err != nil {
			t.Fatalf("CompleteEnrollment %d: %v", i+1, err)
		}
	}

	if core.State() != threshold.StateActive {
		t.Fatalf("core state %s after all acks, want Active", core.State())
	}
	facts, err := log.FactsByType(ctx, DeviceEnrollmentAckFactType)
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("%d enrollment facts, want 2", len(facts))
	}
}

func TestAcceptEnrollmentRejectsMisdirectedShare(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]

	config := EnrollmentConfig{
		KeyID:              "account-signing",
		NewDevice:          ident.DeviceIDFromSeed("intended"),
		NewDeviceAuthority: f.participants[1],
		ShareIndex:         1,
	}
	err := kernel.OfferEnrollment(ctx, authority.AuthoritySubject(f.initiator), config, []byte("sealed"))
	if err != nil {
		t.Fatalf("OfferEnrollment: %v", err)
	}
	offers := f.drain(f.participants[1])
	if len(offers) != 1 {
		t.Fatalf("got %d offers", len(offers))
	}

	err = f.kernels[f.participants[1]].AcceptEnrollment(ctx, offers[0], ident.DeviceIDFromSeed("other"),
		func(EnrollmentShare) error { return nil })
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("misdirected share: %v, want ErrInvalid", err)
	}
}

func TestKeyRotationFlow(t *testing.T) {
	f := newChoreoFixture(t)
	ctx := context.Background()
	kernel := f.kernels[f.initiator]
	log := journal.New(f.bundle, f.store)

	core, err := threshold.NewCore(f.bundle, "account-signing", threshold.Config{K: 2, N: 3})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	vault := threshold.NewShareVault(f.bundle.Secure)
	shares, _, err := core.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	signers := make(map[uint16]*threshold.Signer)
	for _, share := range shares {
		if err := vault.Put(ctx, "account-signing", share); err != nil {
			t.Fatalf("storing share %d: %v", share.Index, err)
		}
		if err := core.AcknowledgeEnrollment(share.Index); err != nil {
			t.Fatalf("acknowledging share %d: %v", share.Index, err)
		}
		signer, err := threshold.NewSigner(ctx, vault, "account-signing", share.Epoch, f.bundle.Random)
		if err != nil {
			t.Fatalf("opening signer %d: %v", share.Index, err)
		}
		t.Cleanup(func() { signer.Close() })
		signers[share.Index] = signer
	}

	signOld := func(message []byte) (threshold.Signature, error) {
		session, err := core.NewSession(threshold.SigningContext{
			Message: message,
			Epoch:   core.Epoch(),
			Signers: []uint16{1, 2},
		})
		if err != nil {
			return threshold.Signature{}, err
		}
		for _, index := range []uint16{1, 2} {
			commitment, err := signers[index].Commit(session.ID())
			if err != nil {
				return threshold.Signature{}, err
			}
			if err := session.AddCommitment(commitment); err != nil {
				return threshold.Signature{}, err
			}
		}
		aggregate, err := session.AggregateCommitment()
		if err != nil {
			return threshold.Signature{}, err
		}
		pkg, err := core.PublicPackage()
		if err != nil {
			return threshold.Signature{}, err
		}
		for _, index := range []uint16{1, 2} {
			response, err := signers[index].Respond(session.ID(), pkg, message, aggregate)
			if err != nil {
				return threshold.Signature{}, err
			}
			if err := session.AddResponse(response); err != nil {
				return threshold.Signature{}, err
			}
		}
		return session.Aggregate()
	}

	_, factSigner, err := f.bundle.Crypto.Ed25519Generate()
	if err != nil {
		t.Fatalf("Ed25519Generate: %v", err)
	}
	peer := effects.Envelope{
		Destination: f.participants[1],
		Context:     ident.ContextIDFromSeed("ctx"),
	}
	newShares, pkg, err := kernel.RotateKey(ctx, core, log, factSigner, RotationRequest{
		KeyID:       "account-signing",
		Subject:     authority.AuthoritySubject(f.initiator),
		SignOld:     signOld,
		Acceptances: []uint16{1, 2},
	}, []effects.Envelope{peer})
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if core.Epoch() != 2 || pkg.Epoch != 2 {
		t.Fatalf("epoch %d, package epoch %d, want 2", core.Epoch(), pkg.Epoch)
	}
	if len(newShares) != 3 {
		t.Fatalf("%d new shares, want 3", len(newShares))
	}

	facts, err := log.FactsByType(ctx, KeyRotationFactType)
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("%d rotation facts, want 1", len(facts))
	}

	announcements := f.drain(f.participants[1])
	if len(announcements) != 1 || announcements[0].Metadata[effects.MetadataTypeKey] != MsgKeyRotated {
		t.Fatalf("peer announcements %v", announcements)
	}
}
