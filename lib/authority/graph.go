// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
)

var (
	// ErrUnknownSubjectKey means no verifying key is registered for
	// the signing subject.
	ErrUnknownSubjectKey = errors.New("no verifying key registered for subject")

	// ErrInvalidSignature means a delegation or revocation signature
	// did not verify.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrInvalidValidityWindow means not_after precedes not_before.
	ErrInvalidValidityWindow = errors.New("delegation validity window is inverted")

	// ErrDelegationConflict means the delegation id is already present
	// with different contents.
	ErrDelegationConflict = errors.New("delegation id already present with different contents")

	// ErrDelegationRevoked means the delegation id has been revoked
	// and cannot be granted again.
	ErrDelegationRevoked = errors.New("delegation id has been revoked")

	// ErrCyclicDelegation means inserting the delegation would create
	// a cycle in the issuance chain.
	ErrCyclicDelegation = errors.New("delegation would create an issuance cycle")

	// ErrRevocationUnauthorized means the revoker neither granted the
	// capability transitively nor is the delegation's subject.
	ErrRevocationUnauthorized = errors.New("revoker did not grant this capability")
)

// NewGraph returns an empty graph rooted at the account's signing
// authority. The root's capabilities are self-granted: evaluation
// answers Granted for the root in every scope without consulting any
// delegation.
func NewGraph(bundle *effects.Effects, root Subject) *Graph {
	return &Graph{
		crypto:      bundle.Crypto,
		time:        bundle.Time,
		root:        root,
		delegations: make(map[ident.CapabilityID]Delegation),
		bySubject:   make(map[string][]ident.CapabilityID),
		revocations: make(map[ident.CapabilityID]Revocation),
		keys:        make(map[string]ed25519.PublicKey),
	}
}

// Graph holds the applied delegation and revocation set. Safe for
// concurrent use; evaluation takes a read lock only.
type Graph struct {
	crypto effects.Crypto
	time   effects.TimeSource

	mu          sync.RWMutex
	root        Subject
	delegations map[ident.CapabilityID]Delegation
	bySubject   map[string][]ident.CapabilityID
	revocations map[ident.CapabilityID]Revocation
	keys        map[string]ed25519.PublicKey
}

// Root returns the root authority subject.
func (g *Graph) Root() Subject {
	return g.root
}

// RegisterSubjectKey installs the Ed25519 verifying key used to check
// signatures by subject. Delegations and revocations from a subject
// with no registered key are rejected.
func (g *Graph) RegisterSubjectKey(subject Subject, public ed25519.PublicKey) error {
	if len(public) != ed25519.PublicKeySize {
		return fmt.Errorf("registering key for %s: key must be %d bytes, got %d",
			subject, ed25519.PublicKeySize, len(public))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[subject.key()] = append(ed25519.PublicKey(nil), public...)
	return nil
}

// ApplyDelegation verifies and inserts a delegation. Applying the
// same delegation twice is a no-op; re-adding a revoked id fails; a
// delegation whose subject sits on its issuer's own chain fails.
func (g *Graph) ApplyDelegation(d Delegation) error {
	if d.NotAfter != nil && *d.NotAfter < d.NotBefore {
		return fmt.Errorf("applying delegation %s: %w", d.ID, ErrInvalidValidityWindow)
	}
	if err := g.verifySubjectSignature(d.Issuer, d, d.IssuerSignature); err != nil {
		return fmt.Errorf("applying delegation %s: %w", d.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.delegations[d.ID]; ok {
		same, err := sameEncoding(existing, d)
		if err != nil {
			return fmt.Errorf("applying delegation %s: %w", d.ID, err)
		}
		if same {
			return nil
		}
		return fmt.Errorf("applying delegation %s: %w", d.ID, ErrDelegationConflict)
	}
	if _, revoked := g.revocations[d.ID]; revoked {
		// Record the delegation so evaluation answers Revoked rather
		// than NotFound, but report the monotonicity violation.
		g.insertLocked(d)
		return fmt.Errorf("applying delegation %s: %w", d.ID, ErrDelegationRevoked)
	}
	if g.onIssuanceChainLocked(d.Issuer, d.Subject) {
		return fmt.Errorf("applying delegation %s from %s to %s: %w",
			d.ID, d.Issuer, d.Subject, ErrCyclicDelegation)
	}

	g.insertLocked(d)
	return nil
}

func (g *Graph) insertLocked(d Delegation) {
	g.delegations[d.ID] = d
	subjectKey := d.Subject.key()
	g.bySubject[subjectKey] = append(g.bySubject[subjectKey], d.ID)
}

// ApplyRevocation verifies and records a revocation. The revoker must
// be the delegation's subject (self-revocation), sit on its issuance
// chain, or be the root. A revocation arriving before its delegation
// is held and takes effect when the delegation lands; applying the
// same revocation twice is a no-op.
func (g *Graph) ApplyRevocation(r Revocation) error {
	if err := g.verifySubjectSignature(r.Revoker, r, r.Signature); err != nil {
		return fmt.Errorf("applying revocation of %s: %w", r.DelegationID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, already := g.revocations[r.DelegationID]; already {
		return nil
	}
	if d, ok := g.delegations[r.DelegationID]; ok {
		if !g.mayRevokeLocked(r.Revoker, d) {
			return fmt.Errorf("applying revocation of %s by %s: %w",
				r.DelegationID, r.Revoker, ErrRevocationUnauthorized)
		}
	}
	g.revocations[r.DelegationID] = r
	return nil
}

// mayRevokeLocked reports whether revoker may revoke d.
func (g *Graph) mayRevokeLocked(revoker Subject, d Delegation) bool {
	if revoker.Equal(d.Subject) || revoker.Equal(d.Issuer) || revoker.Equal(g.root) {
		return true
	}
	return g.onIssuanceChainLocked(d.Issuer, revoker)
}

// onIssuanceChainLocked reports whether target appears on any
// delegation chain granting capabilities to start, walking from start
// toward the root.
func (g *Graph) onIssuanceChainLocked(start, target Subject) bool {
	if start.Equal(target) {
		return true
	}
	visited := map[string]bool{start.key(): true}
	frontier := []Subject{start}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, id := range g.bySubject[current.key()] {
			issuer := g.delegations[id].Issuer
			if issuer.Equal(target) {
				return true
			}
			if !visited[issuer.key()] {
				visited[issuer.key()] = true
				frontier = append(frontier, issuer)
			}
		}
	}
	return false
}

// EvaluateCapability answers whether subject may perform the
// operation in scope, at the bundle's current time. Evaluation is
// total and side-effect-free.
func (g *Graph) EvaluateCapability(subject Subject, scope Scope) CapabilityResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.evaluateLocked(subject, scope, g.time.NowUnix(), make(map[string]bool))
}

// EvaluateCapabilityAt answers the capability question at an explicit
// time. The journal reducer uses this to re-evaluate historical facts.
func (g *Graph) EvaluateCapabilityAt(subject Subject, scope Scope, at uint64) CapabilityResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.evaluateLocked(subject, scope, at, make(map[string]bool))
}

// evaluateLocked walks delegation chains toward the root. Each link
// past the first is checked at the previous link's issuance time, so
// the wall clock only gates the outermost delegation.
func (g *Graph) evaluateLocked(subject Subject, scope Scope, at uint64, visiting map[string]bool) CapabilityResult {
	if subject.Equal(g.root) {
		return ResultGranted
	}

	// Cycles are rejected at insertion; the visiting set is a
	// backstop so evaluation stays total regardless.
	subjectKey := subject.key()
	if visiting[subjectKey] {
		return ResultNotFound
	}
	visiting[subjectKey] = true
	defer delete(visiting, subjectKey)

	worst := ResultNotFound
	for _, id := range g.bySubject[subjectKey] {
		d := g.delegations[id]
		if !d.Scope.Covers(scope) {
			continue
		}
		if _, revoked := g.revocations[id]; revoked {
			worst = strongerNegative(worst, ResultRevoked)
			continue
		}
		if at < d.NotBefore {
			continue
		}
		if d.NotAfter != nil && at > *d.NotAfter {
			worst = strongerNegative(worst, ResultExpired)
			continue
		}
		upstream := g.evaluateLocked(d.Issuer, scope, d.IssuedAt, visiting)
		if upstream == ResultGranted {
			return ResultGranted
		}
		worst = strongerNegative(worst, upstream)
	}
	return worst
}

// SubjectsWithScope returns every subject currently granted the
// scope, ordered by (smallest granting capability id, subject). The
// ordering ties each member to the delegation establishing their
// membership, so all nodes with the same applied set produce the same
// byte-for-byte list.
func (g *Graph) SubjectsWithScope(scope Scope) []Subject {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.time.NowUnix()
	type entry struct {
		subject Subject
		minID   ident.CapabilityID
	}
	byKey := make(map[string]entry)
	for id, d := range g.delegations {
		if !d.Scope.Covers(scope) {
			continue
		}
		if _, revoked := g.revocations[id]; revoked {
			continue
		}
		subjectKey := d.Subject.key()
		if existing, ok := byKey[subjectKey]; ok {
			if id.Compare(existing.minID) < 0 {
				existing.minID = id
				byKey[subjectKey] = existing
			}
			continue
		}
		if g.evaluateLocked(d.Subject, scope, now, make(map[string]bool)) != ResultGranted {
			continue
		}
		byKey[subjectKey] = entry{subject: d.Subject, minID: id}
	}

	entries := make([]entry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].minID.Compare(entries[j].minID); c != 0 {
			return c < 0
		}
		return entries[i].subject.Compare(entries[j].subject) < 0
	})

	subjects := make([]Subject, len(entries))
	for i, e := range entries {
		subjects[i] = e.subject
	}
	return subjects
}

// verifySubjectSignature checks signature over the value's signing
// bytes using the subject's registered key.
func (g *Graph) verifySubjectSignature(subject Subject, value interface{ SigningBytes() ([]byte, error) }, signature []byte) error {
	g.mu.RLock()
	public, ok := g.keys[subject.key()]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", subject, ErrUnknownSubjectKey)
	}
	message, err := value.SigningBytes()
	if err != nil {
		return err
	}
	if !g.crypto.Ed25519Verify(public, message, signature) {
		return fmt.Errorf("%s: %w", subject, ErrInvalidSignature)
	}
	return nil
}

// sameEncoding reports whether two values share a canonical encoding.
func sameEncoding(a, b any) (bool, error) {
	encodedA, err := codec.Marshal(a)
	if err != nil {
		return false, err
	}
	encodedB, err := codec.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(encodedA, encodedB), nil
}

// SignDelegation fills in the issuer signature. Helper for the
// enrollment and rotation choreographies, which mint delegations on
// behalf of the local subject.
func SignDelegation(crypto effects.Crypto, private ed25519.PrivateKey, d Delegation) (Delegation, error) {
	message, err := d.SigningBytes()
	if err != nil {
		return Delegation{}, err
	}
	d.IssuerSignature = crypto.Ed25519Sign(private, message)
	return d, nil
}

// SignRevocation fills in the revoker signature.
func SignRevocation(crypto effects.Crypto, private ed25519.PrivateKey, r Revocation) (Revocation, error) {
	message, err := r.SigningBytes()
	if err != nil {
		return Revocation{}, err
	}
	r.Signature = crypto.Ed25519Sign(private, message)
	return r, nil
}
