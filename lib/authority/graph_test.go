// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
)

// graphFixture wires a simulated bundle, a root authority, and a
// signing key per named subject.
type graphFixture struct {
	t      *testing.T
	bundle *effects.Effects
	graph  *Graph
	root   Subject
	keys   map[string]ed25519.PrivateKey
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	bundle := effects.Simulated(t.Name())
	root := AuthoritySubject(ident.AuthorityIDFromSeed(t.Name() + "/root"))
	fixture := &graphFixture{
		t:      t,
		bundle: bundle,
		graph:  NewGraph(bundle, root),
		root:   root,
		keys:   make(map[string]ed25519.PrivateKey),
	}
	fixture.registerKey(root)
	return fixture
}

func (f *graphFixture) registerKey(subject Subject) {
	f.t.Helper()
	public, private, err := f.bundle.Crypto.Ed25519Generate()
	if err != nil {
		f.t.Fatalf("generating key for %s: %v", subject, err)
	}
	if err := f.graph.RegisterSubjectKey(subject, public); err != nil {
		f.t.Fatalf("registering key for %s: %v", subject, err)
	}
	f.keys[subject.key()] = private
}

func (f *graphFixture) device(name string) Subject {
	f.t.Helper()
	subject := DeviceSubject(ident.DeviceIDFromSeed(f.t.Name() + "/" + name))
	if _, ok := f.keys[subject.key()]; !ok {
		f.registerKey(subject)
	}
	return subject
}

// delegate builds, signs, and applies a delegation, failing the test
// on error.
func (f *graphFixture) delegate(issuer, subject Subject, scope Scope) Delegation {
	f.t.Helper()
	d := f.signedDelegation(issuer, subject, scope)
	if err := f.graph.ApplyDelegation(d); err != nil {
		f.t.Fatalf("applying delegation %s -> %s: %v", issuer, subject, err)
	}
	return d
}

func (f *graphFixture) signedDelegation(issuer, subject Subject, scope Scope) Delegation {
	f.t.Helper()
	id, err := ident.NewCapabilityID(f.bundle.Random)
	if err != nil {
		f.t.Fatalf("minting capability id: %v", err)
	}
	now := f.bundle.NowUnix()
	d := Delegation{
		ID:        id,
		Issuer:    issuer,
		Subject:   subject,
		Scope:     scope,
		IssuedAt:  now,
		NotBefore: now,
	}
	d, err = SignDelegation(f.bundle.Crypto, f.keys[issuer.key()], d)
	if err != nil {
		f.t.Fatalf("signing delegation: %v", err)
	}
	return d
}

func (f *graphFixture) revoke(revoker Subject, id ident.CapabilityID) Revocation {
	f.t.Helper()
	r := Revocation{
		DelegationID: id,
		Revoker:      revoker,
		RevokedAt:    f.bundle.NowUnix(),
	}
	r, err := SignRevocation(f.bundle.Crypto, f.keys[revoker.key()], r)
	if err != nil {
		f.t.Fatalf("signing revocation: %v", err)
	}
	return r
}

func TestRootIsAlwaysGranted(t *testing.T) {
	f := newGraphFixture(t)
	if got := f.graph.EvaluateCapability(f.root, NewScope(NamespaceStorage, "write")); got != ResultGranted {
		t.Fatalf("root evaluation = %s, want Granted", got)
	}
}

func TestDelegationChainToRoot(t *testing.T) {
	f := newGraphFixture(t)
	alpha := f.device("alpha")
	beta := f.device("beta")
	scope := NewScope(NamespaceStorage, "write")

	f.delegate(f.root, alpha, scope)
	f.delegate(alpha, beta, scope)

	if got := f.graph.EvaluateCapability(beta, scope); got != ResultGranted {
		t.Fatalf("chained evaluation = %s, want Granted", got)
	}
	// The chain grants storage:write only.
	if got := f.graph.EvaluateCapability(beta, NewScope(NamespaceStorage, "read")); got != ResultNotFound {
		t.Fatalf("unrelated scope = %s, want NotFound", got)
	}
}

func TestResourceScoping(t *testing.T) {
	f := newGraphFixture(t)
	alpha := f.device("alpha")

	// Wildcard delegation covers any resource.
	f.delegate(f.root, alpha, NewScope(NamespaceTree, "read"))
	if got := f.graph.EvaluateCapability(alpha, NewResourceScope(NamespaceTree, "read", "doc-1")); got != ResultGranted {
		t.Fatalf("wildcard over resource = %s, want Granted", got)
	}

	// Concrete delegation covers only its resource.
	beta := f.device("beta")
	f.delegate(f.root, beta, NewResourceScope(NamespaceTree, "write", "doc-1"))
	if got := f.graph.EvaluateCapability(beta, NewResourceScope(NamespaceTree, "write", "doc-1")); got != ResultGranted {
		t.Fatalf("matching resource = %s, want Granted", got)
	}
	if got := f.graph.EvaluateCapability(beta, NewResourceScope(NamespaceTree, "write", "doc-2")); got != ResultNotFound {
		t.Fatalf("other resource = %s, want NotFound", got)
	}
	if got := f.graph.EvaluateCapability(beta, NewScope(NamespaceTree, "write")); got != ResultNotFound {
		t.Fatalf("wildcard request against concrete grant = %s, want NotFound", got)
	}
}

func TestRevocationBeatsReinsertion(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	scope := NewScope(NamespaceStorage, "write")

	d := f.delegate(f.root, device, scope)
	if err := f.graph.ApplyRevocation(f.revoke(f.root, d.ID)); err != nil {
		t.Fatalf("ApplyRevocation: %v", err)
	}

	// Re-injecting the same bytes neither errors (idempotent insert)
	// nor resurrects the grant.
	if err := f.graph.ApplyDelegation(d); err != nil {
		t.Fatalf("re-applying identical delegation: %v", err)
	}
	if got := f.graph.EvaluateCapability(device, scope); got != ResultRevoked {
		t.Fatalf("after revoke + reinsert = %s, want Revoked", got)
	}
}

func TestRevocationArrivingFirstStillShadows(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	scope := NewScope(NamespaceStorage, "write")
	d := f.signedDelegation(f.root, device, scope)

	if err := f.graph.ApplyRevocation(f.revoke(f.root, d.ID)); err != nil {
		t.Fatalf("ApplyRevocation before delegation: %v", err)
	}
	err := f.graph.ApplyDelegation(d)
	if !errors.Is(err, ErrDelegationRevoked) {
		t.Fatalf("ApplyDelegation after revocation: err = %v, want ErrDelegationRevoked", err)
	}
	if got := f.graph.EvaluateCapability(device, scope); got != ResultRevoked {
		t.Fatalf("out-of-order revocation = %s, want Revoked", got)
	}
}

func TestRevocationIsIdempotentAndIrreversible(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	scope := NewScope(NamespaceSession, "create")
	d := f.delegate(f.root, device, scope)
	r := f.revoke(f.root, d.ID)

	if err := f.graph.ApplyRevocation(r); err != nil {
		t.Fatalf("first ApplyRevocation: %v", err)
	}
	if err := f.graph.ApplyRevocation(r); err != nil {
		t.Fatalf("second ApplyRevocation: %v", err)
	}
	if got := f.graph.EvaluateCapability(device, scope); got != ResultRevoked {
		t.Fatalf("after double revocation = %s, want Revoked", got)
	}
}

func TestSelfRevocationAllowed(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	scope := NewScope(NamespaceTransport, "connect")
	d := f.delegate(f.root, device, scope)

	if err := f.graph.ApplyRevocation(f.revoke(device, d.ID)); err != nil {
		t.Fatalf("self-revocation: %v", err)
	}
	if got := f.graph.EvaluateCapability(device, scope); got != ResultRevoked {
		t.Fatalf("after self-revocation = %s, want Revoked", got)
	}
}

func TestUnrelatedRevokerRejected(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	outsider := f.device("outsider")
	d := f.delegate(f.root, device, NewScope(NamespaceStorage, "read"))

	err := f.graph.ApplyRevocation(f.revoke(outsider, d.ID))
	if !errors.Is(err, ErrRevocationUnauthorized) {
		t.Fatalf("err = %v, want ErrRevocationUnauthorized", err)
	}
	if got := f.graph.EvaluateCapability(device, NewScope(NamespaceStorage, "read")); got != ResultGranted {
		t.Fatalf("after rejected revocation = %s, want Granted", got)
	}
}

func TestExpiredDelegation(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	scope := NewScope(NamespaceStorage, "write")

	d := f.signedDelegation(f.root, device, scope)
	notAfter := f.bundle.NowUnix() + 100
	d.NotAfter = &notAfter
	d, err := SignDelegation(f.bundle.Crypto, f.keys[f.root.key()], d)
	if err != nil {
		t.Fatalf("re-signing: %v", err)
	}
	if err := f.graph.ApplyDelegation(d); err != nil {
		t.Fatalf("ApplyDelegation: %v", err)
	}

	if got := f.graph.EvaluateCapability(device, scope); got != ResultGranted {
		t.Fatalf("before expiry = %s, want Granted", got)
	}
	if err := f.bundle.Delay(context.Background(), 101*time.Second); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if got := f.graph.EvaluateCapability(device, scope); got != ResultExpired {
		t.Fatalf("after expiry = %s, want Expired", got)
	}
}

func TestNotYetValidDelegationIsNotFound(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	scope := NewScope(NamespaceStorage, "write")

	d := f.signedDelegation(f.root, device, scope)
	d.NotBefore = f.bundle.NowUnix() + 1000
	d, err := SignDelegation(f.bundle.Crypto, f.keys[f.root.key()], d)
	if err != nil {
		t.Fatalf("re-signing: %v", err)
	}
	if err := f.graph.ApplyDelegation(d); err != nil {
		t.Fatalf("ApplyDelegation: %v", err)
	}
	if got := f.graph.EvaluateCapability(device, scope); got != ResultNotFound {
		t.Fatalf("before not_before = %s, want NotFound", got)
	}
}

func TestInvertedWindowRejected(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	d := f.signedDelegation(f.root, device, NewScope(NamespaceStorage, "write"))
	notAfter := d.NotBefore - 1
	d.NotAfter = &notAfter

	err := f.graph.ApplyDelegation(d)
	if !errors.Is(err, ErrInvalidValidityWindow) {
		t.Fatalf("err = %v, want ErrInvalidValidityWindow", err)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	f := newGraphFixture(t)
	device := f.device("d")
	d := f.signedDelegation(f.root, device, NewScope(NamespaceStorage, "write"))
	d.IssuerSignature[0] ^= 0x01

	err := f.graph.ApplyDelegation(d)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestUnknownIssuerKeyRejected(t *testing.T) {
	f := newGraphFixture(t)
	stranger := AuthoritySubject(ident.AuthorityIDFromSeed(t.Name() + "/stranger"))
	device := f.device("d")

	d := Delegation{
		Issuer:    stranger,
		Subject:   device,
		Scope:     NewScope(NamespaceStorage, "write"),
		IssuedAt:  f.bundle.NowUnix(),
		NotBefore: f.bundle.NowUnix(),
	}
	err := f.graph.ApplyDelegation(d)
	if !errors.Is(err, ErrUnknownSubjectKey) {
		t.Fatalf("err = %v, want ErrUnknownSubjectKey", err)
	}
}

func TestCyclicDelegationRejected(t *testing.T) {
	f := newGraphFixture(t)
	alpha := f.device("alpha")
	beta := f.device("beta")
	scope := NewScope(NamespaceCapability, "delegate")

	f.delegate(f.root, alpha, scope)
	f.delegate(alpha, beta, scope)

	// beta granting back to alpha would close a cycle.
	cyclic := f.signedDelegation(beta, alpha, scope)
	err := f.graph.ApplyDelegation(cyclic)
	if !errors.Is(err, ErrCyclicDelegation) {
		t.Fatalf("err = %v, want ErrCyclicDelegation", err)
	}

	// Self-delegation is the trivial cycle.
	self := f.signedDelegation(alpha, alpha, scope)
	if err := f.graph.ApplyDelegation(self); !errors.Is(err, ErrCyclicDelegation) {
		t.Fatalf("self-delegation err = %v, want ErrCyclicDelegation", err)
	}
}

func TestEvaluationOrderIndependence(t *testing.T) {
	// The same delegation/revocation set applied in different orders
	// must produce identical verdicts on every node.
	scope := NewScope(NamespaceMLS, "member")

	build := func(order []int) (*Graph, []Subject) {
		f := newGraphFixture(t)
		devices := []Subject{f.device("a"), f.device("b"), f.device("c")}
		deliveries := []func() error{}
		dA := f.signedDelegation(f.root, devices[0], scope)
		dB := f.signedDelegation(f.root, devices[1], scope)
		dC := f.signedDelegation(f.root, devices[2], scope)
		rB := f.revoke(f.root, dB.ID)
		deliveries = append(deliveries,
			func() error { return f.graph.ApplyDelegation(dA) },
			func() error { return f.graph.ApplyDelegation(dB) },
			func() error { return f.graph.ApplyDelegation(dC) },
			func() error { return f.graph.ApplyRevocation(rB) },
		)
		for _, i := range order {
			// Out-of-order delivery may error (revocation before
			// delegation); verdicts must still converge.
			_ = deliveries[i]()
		}
		return f.graph, devices
	}

	for _, order := range [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}} {
		graph, devices := build(order)
		if got := graph.EvaluateCapability(devices[0], scope); got != ResultGranted {
			t.Fatalf("order %v: a = %s, want Granted", order, got)
		}
		if got := graph.EvaluateCapability(devices[1], scope); got != ResultRevoked {
			t.Fatalf("order %v: b = %s, want Revoked", order, got)
		}
		if got := graph.EvaluateCapability(devices[2], scope); got != ResultGranted {
			t.Fatalf("order %v: c = %s, want Granted", order, got)
		}
	}
}

func TestSubjectsWithScopeDeterministicOrder(t *testing.T) {
	f := newGraphFixture(t)
	scope := NewScope(NamespaceMLS, "member")
	a := f.device("a")
	b := f.device("b")
	c := f.device("c")

	granted := []Delegation{
		f.delegate(f.root, a, scope),
		f.delegate(f.root, b, scope),
		f.delegate(f.root, c, scope),
	}
	dB := granted[1]

	subjects := f.graph.SubjectsWithScope(scope)
	if len(subjects) != 3 {
		t.Fatalf("got %d subjects, want 3", len(subjects))
	}

	// Ordering follows the smallest granting capability id.
	sort.Slice(granted, func(i, j int) bool {
		return granted[i].ID.Compare(granted[j].ID) < 0
	})
	for i := range granted {
		if !subjects[i].Equal(granted[i].Subject) {
			t.Fatalf("position %d: got %s, want %s", i, subjects[i], granted[i].Subject)
		}
	}

	// Repeated queries are byte-for-byte identical.
	again := f.graph.SubjectsWithScope(scope)
	for i := range subjects {
		if !subjects[i].Equal(again[i]) {
			t.Fatalf("query %d differs: %s vs %s", i, subjects[i], again[i])
		}
	}

	// Revoking a member removes it from the view.
	if err := f.graph.ApplyRevocation(f.revoke(f.root, dB.ID)); err != nil {
		t.Fatalf("ApplyRevocation: %v", err)
	}
	subjects = f.graph.SubjectsWithScope(scope)
	if len(subjects) != 2 {
		t.Fatalf("after revocation: %d subjects, want 2", len(subjects))
	}
	for _, subject := range subjects {
		if subject.Equal(b) {
			t.Fatal("revoked subject still in view")
		}
	}
}
