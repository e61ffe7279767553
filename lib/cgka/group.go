// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package cgka

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/secret"
)

var (
	// ErrNotInitialized means the group has not seen its first epoch
	// transition yet.
	ErrNotInitialized = errors.New("group not initialized")

	// ErrNoPcsKey means no root secret is available for the requested
	// epoch, either because the group is uninitialized or the epoch
	// has been superseded and its root wiped.
	ErrNoPcsKey = errors.New("no post-compromise secure key available")

	// ErrOperationOutOfOrder means an operation arrived ahead of the
	// next expected epoch and was buffered.
	ErrOperationOutOfOrder = errors.New("operation out of order")

	// ErrStaleOperation means an operation targets an epoch at or
	// below the current one.
	ErrStaleOperation = errors.New("operation targets a settled epoch")

	// ErrNotMember means the local subject is not in the tree.
	ErrNotMember = errors.New("not a group member")

	// ErrAlreadyMember rejects adding a subject that already holds a
	// leaf.
	ErrAlreadyMember = errors.New("subject is already a member")
)

// SealedPathSecret carries one link of a path-secret chain, HPKE
// sealed to a member's leaf key.
type SealedPathSecret struct {
	Member     authority.Subject `cbor:"1,keyasint"`
	Enc        []byte            `cbor:"2,keyasint"`
	Ciphertext []byte            `cbor:"3,keyasint"`
}

// Operation is one epoch transition: the membership delta plus the
// sealed path secrets every surviving member needs to reach the new
// root. A single operation may both add and remove members, so an
// eligibility sync lands as one transition.
type Operation struct {
	Doc         DocID               `cbor:"1,keyasint"`
	Epoch       uint64              `cbor:"2,keyasint"`
	Actor       authority.Subject   `cbor:"3,keyasint"`
	ActorPublic []byte              `cbor:"4,keyasint"`
	Adds        []Leaf              `cbor:"5,keyasint,omitempty"`
	Removes     []authority.Subject `cbor:"6,keyasint,omitempty"`
	Sealed      []SealedPathSecret  `cbor:"7,keyasint,omitempty"`
}

// Group is one member's view of a CGKA group: the ratchet tree, the
// current epoch's root secret, and the per-channel message ratchets.
type Group struct {
	mu      sync.Mutex
	bundle  *effects.Effects
	doc     DocID
	self    authority.Subject
	leafKey LeafKeyPair

	leaves   []Leaf
	epoch    uint64
	root     []byte
	channels map[string]*channelRatchet
	pending  map[uint64]Operation
}

// NewGroup prepares a member-side view before any operation has been
// applied. The leaf keypair's public half must already be known to
// whoever will add this member.
func NewGroup(bundle *effects.Effects, doc DocID, self authority.Subject, leafKey LeafKeyPair) *Group {
	return &Group{
		bundle:   bundle,
		doc:      doc,
		self:     self,
		leafKey:  leafKey,
		channels: make(map[string]*channelRatchet),
		pending:  make(map[uint64]Operation),
	}
}

// InitializeGroup creates a group containing the owner plus the given
// initial members, and returns the operation the other members apply
// to join epoch 1. The owner is the acting member of the first
// transition.
func InitializeGroup(bundle *effects.Effects, doc DocID, owner authority.Subject, ownerKey LeafKeyPair, members []Leaf) (*Group, Operation, error) {
	g := NewGroup(bundle, doc, owner, ownerKey)
	leaves := make([]Leaf, 0, len(members)+1)
	leaves = append(leaves, Leaf{Member: owner, Public: ownerKey.Public})
	for _, m := range members {
		if m.Member.Equal(owner) {
			continue
		}
		leaves = append(leaves, Leaf{Member: m.Member, Public: append([]byte(nil), m.Public...)})
	}

	g.mu.Lock()
	op, err := g.transition(leaves, leaves, nil)
	g.mu.Unlock()
	if err != nil {
		return nil, Operation{}, fmt.Errorf("initializing group %s: %w", doc, err)
	}
	g.bundle.Logger().Info("cgka group initialized",
		"doc_id", doc,
		"members", len(leaves))
	return g, op, nil
}

// Doc returns the document id.
func (g *Group) Doc() DocID { return g.doc }

// Epoch returns the settled epoch, zero before initialization.
func (g *Group) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// Members returns the current membership in tree order.
func (g *Group) Members() []authority.Subject {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]authority.Subject, len(g.leaves))
	for i, leaf := range g.leaves {
		out[i] = leaf.Member
	}
	return out
}

// Add grants a new member a leaf and rotates the root so the joiner
// can read from the new epoch but nothing earlier.
func (g *Group) Add(member authority.Subject, leafPublic []byte) (Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		return Operation{}, fmt.Errorf("group %s: %w", g.doc, ErrNotInitialized)
	}
	if g.indexOf(member) >= 0 {
		return Operation{}, fmt.Errorf("group %s, subject %s: %w", g.doc, member, ErrAlreadyMember)
	}

	added := Leaf{Member: member, Public: append([]byte(nil), leafPublic...)}
	next := append(append([]Leaf(nil), g.leaves...), added)
	return g.transition(next, []Leaf{added}, nil)
}

// Remove evicts a member and rotates the root so the evicted leaf can
// no longer derive application keys.
func (g *Group) Remove(member authority.Subject) (Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		return Operation{}, fmt.Errorf("group %s: %w", g.doc, ErrNotInitialized)
	}
	if member.Equal(g.self) {
		return Operation{}, fmt.Errorf("group %s: members leave via eligibility, not self-removal", g.doc)
	}
	idx := g.indexOf(member)
	if idx < 0 {
		return Operation{}, fmt.Errorf("group %s, subject %s: %w", g.doc, member, ErrNotMember)
	}

	next := make([]Leaf, 0, len(g.leaves)-1)
	for i, leaf := range g.leaves {
		if i != idx {
			next = append(next, leaf)
		}
	}
	return g.transition(next, nil, []authority.Subject{member})
}

// Update refreshes the acting member's leaf and the root without a
// membership change, restoring secrecy after a suspected compromise.
func (g *Group) Update() (Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		return Operation{}, fmt.Errorf("group %s: %w", g.doc, ErrNotInitialized)
	}
	return g.transition(append([]Leaf(nil), g.leaves...), nil, nil)
}

// transition installs the next membership, derives a fresh path-secret
// chain from the acting member's new leaf, and seals each link to the
// copath subtree that needs it. Callers hold g.mu.
func (g *Group) transition(next []Leaf, adds []Leaf, removes []authority.Subject) (Operation, error) {
	sortLeaves(next)
	actorIdx := indexOfIn(next, g.self)
	if actorIdx < 0 {
		return Operation{}, fmt.Errorf("group %s: %w", g.doc, ErrNotMember)
	}
	n := len(next)
	toEpoch := g.epoch + 1

	leafSecret, err := g.bundle.Crypto.RandomBytes(pathSecretSize)
	if err != nil {
		return Operation{}, fmt.Errorf("drawing leaf secret: %w", err)
	}
	depth := actorDepth(n, actorIdx)
	chain, err := pathSecretChain(g.bundle.Crypto, leafSecret, depth)
	if err != nil {
		return Operation{}, err
	}
	newLeaf, err := leafKeyPairFromSeed(chain[0])
	if err != nil {
		return Operation{}, err
	}
	next[actorIdx].Public = newLeaf.Public

	op := Operation{
		Doc:         g.doc,
		Epoch:       toEpoch,
		Actor:       g.self,
		ActorPublic: newLeaf.Public,
		Adds:        adds,
		Removes:     removes,
	}
	for step, group := range copathGroups(n, actorIdx) {
		value := chain[depth-step]
		for _, leafIdx := range group {
			enc, ciphertext, err := sealSecret(g.bundle.Random, next[leafIdx].Public, g.doc, toEpoch, value)
			if err != nil {
				return Operation{}, fmt.Errorf("sealing to %s: %w", next[leafIdx].Member, err)
			}
			op.Sealed = append(op.Sealed, SealedPathSecret{
				Member:     next[leafIdx].Member,
				Enc:        enc,
				Ciphertext: ciphertext,
			})
		}
	}

	g.installEpochLocked(next, toEpoch, chain[depth])
	g.leafKey = newLeaf
	for i := 0; i < depth; i++ {
		secret.Zero(chain[i])
	}
	secret.Zero(leafSecret)
	return op, nil
}

// ApplyOperation advances this member's view by one epoch. Operations
// ahead of the next expected epoch are buffered and replayed once the
// gap closes; operations at or below the settled epoch are rejected.
func (g *Group) ApplyOperation(op Operation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.applyLocked(op); err != nil {
		return err
	}
	// Drain any buffered successors the new epoch unblocks.
	for {
		buffered, ok := g.pending[g.epoch+1]
		if !ok {
			break
		}
		delete(g.pending, g.epoch+1)
		if err := g.applyLocked(buffered); err != nil {
			return fmt.Errorf("applying buffered epoch %d: %w", buffered.Epoch, err)
		}
	}
	return nil
}

func (g *Group) applyLocked(op Operation) error {
	if op.Doc != g.doc {
		return fmt.Errorf("operation for document %s, group is %s", op.Doc, g.doc)
	}
	joining := g.epoch == 0 && leafFor(op.Adds, g.self) != nil
	switch {
	case op.Epoch <= g.epoch:
		return fmt.Errorf("group %s at epoch %d got operation for %d: %w",
			g.doc, g.epoch, op.Epoch, ErrStaleOperation)
	case op.Epoch > g.epoch+1 && !joining:
		g.pending[op.Epoch] = op
		g.bundle.Logger().Debug("cgka operation buffered",
			"doc_id", g.doc,
			"epoch", op.Epoch,
			"settled", g.epoch)
		return fmt.Errorf("group %s at epoch %d got operation for %d: %w",
			g.doc, g.epoch, op.Epoch, ErrOperationOutOfOrder)
	}

	next := g.nextLeaves(op)
	selfIdx := indexOfIn(next, g.self)
	if selfIdx < 0 {
		// Evicted: wipe everything so no future key derives here.
		g.installEpochLocked(nil, op.Epoch, nil)
		g.bundle.Logger().Info("cgka member evicted",
			"doc_id", g.doc,
			"epoch", op.Epoch)
		return nil
	}
	actorIdx := indexOfIn(next, op.Actor)
	if actorIdx < 0 {
		return fmt.Errorf("group %s: operation actor %s is not a member", g.doc, op.Actor)
	}

	sealed := sealedFor(op.Sealed, g.self)
	if sealed == nil {
		return fmt.Errorf("group %s: no path secret sealed to %s", g.doc, g.self)
	}
	value, err := openSecret(g.leafKey.private, g.doc, op.Epoch, sealed.Enc, sealed.Ciphertext)
	if err != nil {
		return fmt.Errorf("group %s epoch %d: %w", g.doc, op.Epoch, err)
	}
	step := copathStep(len(next), actorIdx, selfIdx)
	if step < 0 {
		return fmt.Errorf("group %s: cannot place %s against actor %s", g.doc, g.self, op.Actor)
	}
	for i := 0; i < step; i++ {
		next2, err := g.bundle.Crypto.HKDF(value, nil, pathChainInfo, pathSecretSize)
		if err != nil {
			return fmt.Errorf("deriving root from path secret: %w", err)
		}
		secret.Zero(value)
		value = next2
	}

	g.installEpochLocked(next, op.Epoch, value)
	return nil
}

// nextLeaves computes the membership after op: removes applied first,
// then adds, then the actor's refreshed leaf key, in canonical order.
func (g *Group) nextLeaves(op Operation) []Leaf {
	next := make([]Leaf, 0, len(g.leaves)+len(op.Adds))
	for _, leaf := range g.leaves {
		if subjectIn(op.Removes, leaf.Member) {
			continue
		}
		next = append(next, leaf)
	}
	for _, added := range op.Adds {
		if indexOfIn(next, added.Member) >= 0 {
			continue
		}
		next = append(next, Leaf{Member: added.Member, Public: append([]byte(nil), added.Public...)})
	}
	for i := range next {
		if next[i].Member.Equal(op.Actor) {
			next[i].Public = append([]byte(nil), op.ActorPublic...)
		}
	}
	sortLeaves(next)
	return next
}

// installEpochLocked settles a new epoch: the previous root and every
// cached generation key are wiped before the new root is installed.
func (g *Group) installEpochLocked(leaves []Leaf, epoch uint64, root []byte) {
	if g.root != nil {
		secret.Zero(g.root)
	}
	for _, ratchet := range g.channels {
		ratchet.wipe()
	}
	g.leaves = leaves
	g.epoch = epoch
	g.root = root
	g.channels = make(map[string]*channelRatchet)
}

func (g *Group) indexOf(member authority.Subject) int {
	return indexOfIn(g.leaves, member)
}

func indexOfIn(leaves []Leaf, member authority.Subject) int {
	for i, leaf := range leaves {
		if leaf.Member.Equal(member) {
			return i
		}
	}
	return -1
}

func leafFor(leaves []Leaf, member authority.Subject) *Leaf {
	for i := range leaves {
		if leaves[i].Member.Equal(member) {
			return &leaves[i]
		}
	}
	return nil
}

func sealedFor(sealed []SealedPathSecret, member authority.Subject) *SealedPathSecret {
	for i := range sealed {
		if sealed[i].Member.Equal(member) {
			return &sealed[i]
		}
	}
	return nil
}

func subjectIn(subjects []authority.Subject, member authority.Subject) bool {
	for _, s := range subjects {
		if s.Equal(member) {
			return true
		}
	}
	return false
}

// sortLeaves orders leaves canonically so every member computes the
// same tree shape.
func sortLeaves(leaves []Leaf) {
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].Member.Compare(leaves[j].Member) < 0
	})
}
