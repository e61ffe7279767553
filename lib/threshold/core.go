// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cloudflare/circl/group"
	"github.com/zeebo/blake3"

	"github.com/aura-foundation/aura/lib/effects"
)

// State is the lifecycle position of a signing key family.
type State uint8

const (
	// StateUninitialized means no key material exists yet.
	StateUninitialized State = iota
	// StateGenerating means shares are dealt but not all holders have
	// acknowledged receipt.
	StateGenerating
	// StateActive means the key signs at the current epoch.
	StateActive
	// StateRotating means a new epoch is dealt but not yet settled.
	StateRotating
	// StateRevoked is terminal.
	StateRevoked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateGenerating:
		return "Generating"
	case StateActive:
		return "Active"
	case StateRotating:
		return "Rotating"
	case StateRevoked:
		return "Revoked"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

var (
	// ErrInvalidState means the operation is not legal in the current
	// lifecycle state.
	ErrInvalidState = errors.New("operation not permitted in current state")

	// ErrDuplicateSigning means a signature for this (message, epoch)
	// was already aggregated.
	ErrDuplicateSigning = errors.New("message already signed at this epoch")

	// ErrDuplicateNonce means a signer reused a commitment nonce.
	ErrDuplicateNonce = errors.New("commitment nonce already observed")

	// ErrInvalidShare means a signing response failed verification
	// against the signer's verification share.
	ErrInvalidShare = errors.New("signing response failed verification")

	// ErrInsufficientSignatures means fewer than k valid responses
	// arrived inside the round window.
	ErrInsufficientSignatures = errors.New("insufficient valid signing responses")
)

// RoundTimeout bounds each signing round.
const RoundTimeout = 30 * time.Second

// Core is the coordinator-side key lifecycle and signing state for
// one key family. Safe for concurrent use.
type Core struct {
	keyID  string
	config Config
	bundle *effects.Effects

	mu    sync.Mutex
	state State
	epoch uint64
	pkg   PublicKeyPackage

	// enrollAcks tracks holder acknowledgments while Generating.
	enrollAcks map[uint16]bool

	// signed records aggregated (epoch, message digest) pairs for the
	// current epoch; rotation clears it.
	signed map[signedKey]struct{}

	// seenNonces records every commitment observed this epoch so a
	// reused nonce is rejected regardless of session.
	seenNonces map[string]struct{}

	rotation *rotation
	recovery *recoveryTracker
}

type signedKey struct {
	epoch  uint64
	digest [32]byte
}

// NewCore creates an uninitialized key family coordinator.
func NewCore(bundle *effects.Effects, keyID string, config Config) (*Core, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Core{
		keyID:      keyID,
		config:     config,
		bundle:     bundle,
		state:      StateUninitialized,
		enrollAcks: make(map[uint16]bool),
		signed:     make(map[signedKey]struct{}),
		seenNonces: make(map[string]struct{}),
		recovery:   newRecoveryTracker(),
	}, nil
}

// State returns the current lifecycle state.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the active epoch, zero before activation.
func (c *Core) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// PublicPackage returns the active public key package.
func (c *Core) PublicPackage() (PublicKeyPackage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateRotating {
		return PublicKeyPackage{}, fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	return c.pkg, nil
}

// GenerateKeys deals the initial shares at epoch 1 and moves the
// family to Generating. The caller distributes each share to its
// holder over a secure channel; the family activates once every
// holder acknowledges receipt.
func (c *Core) GenerateKeys() ([]KeyShare, PublicKeyPackage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return nil, PublicKeyPackage{}, fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}

	shares, pkg, err := dealShares(c.bundle.Random, c.config, 1)
	if err != nil {
		return nil, PublicKeyPackage{}, fmt.Errorf("dealing shares for %s: %w", c.keyID, err)
	}
	c.state = StateGenerating
	c.pkg = pkg
	c.bundle.Logger().Info("threshold key dealt",
		"key_id", c.keyID,
		"k", c.config.K,
		"n", c.config.N)
	return shares, pkg, nil
}

// AcknowledgeEnrollment records a holder's receipt of its share.
// When all n holders have acknowledged, the family becomes Active at
// epoch 1.
func (c *Core) AcknowledgeEnrollment(index uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateGenerating {
		return fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	if index == 0 || index > c.config.N {
		return fmt.Errorf("acknowledgment from unknown holder %d", index)
	}
	c.enrollAcks[index] = true
	if len(c.enrollAcks) == int(c.config.N) {
		c.state = StateActive
		c.epoch = 1
		c.bundle.Logger().Info("threshold key active",
			"key_id", c.keyID,
			"epoch", c.epoch)
	}
	return nil
}

// Revoke retires the family permanently.
func (c *Core) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateRevoked
	c.bundle.Logger().Warn("threshold key revoked", "key_id", c.keyID)
}

// Session is one in-flight two-round signing ceremony.
type Session struct {
	core    *Core
	id      string
	context SigningContext

	mu          sync.Mutex
	deadline    time.Time
	commitments map[uint16]group.Element
	frozen      []uint16
	aggregate   group.Element
	responses   map[uint16]group.Scalar
	invalid     []uint16
}

// NewSession opens a signing ceremony for the given context. The
// context's epoch must be the active epoch.
func (c *Core) NewSession(signingContext SigningContext) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Rotating still signs at the outgoing epoch; the endorsement of
	// the new package is itself such a signature.
	if c.state != StateActive && c.state != StateRotating {
		return nil, fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	if signingContext.Epoch != c.epoch {
		return nil, fmt.Errorf("signing context epoch %d, active epoch %d: %w",
			signingContext.Epoch, c.epoch, ErrEpochStale)
	}
	if _, already := c.signed[c.signedKeyFor(signingContext)]; already {
		return nil, fmt.Errorf("key %s: %w", c.keyID, ErrDuplicateSigning)
	}

	id, err := c.bundle.GenUUID()
	if err != nil {
		return nil, fmt.Errorf("minting session id: %w", err)
	}
	return &Session{
		core:        c,
		id:          id.String(),
		context:     signingContext,
		deadline:    c.bundle.Now().Add(RoundTimeout),
		commitments: make(map[uint16]group.Element),
		responses:   make(map[uint16]group.Scalar),
	}, nil
}

func (c *Core) signedKeyFor(signingContext SigningContext) signedKey {
	return signedKey{epoch: signingContext.Epoch, digest: blake3.Sum256(signingContext.Message)}
}

// ID returns the session identifier signers commit under.
func (s *Session) ID() string { return s.id }

// AddCommitment records a signer's round-1 commitment. A commitment
// whose nonce was already observed this epoch is rejected.
func (s *Session) AddCommitment(commitment Commitment) error {
	if commitment.Epoch != s.context.Epoch {
		return fmt.Errorf("commitment from signer %d at epoch %d, session epoch %d: %w",
			commitment.Index, commitment.Epoch, s.context.Epoch, ErrEpochStale)
	}

	s.core.mu.Lock()
	if _, seen := s.core.seenNonces[string(commitment.R)]; seen {
		s.core.mu.Unlock()
		return fmt.Errorf("signer %d: %w", commitment.Index, ErrDuplicateNonce)
	}
	s.core.seenNonces[string(commitment.R)] = struct{}{}
	s.core.mu.Unlock()

	element := grp.NewElement()
	if err := element.UnmarshalBinary(commitment.R); err != nil {
		return fmt.Errorf("decoding commitment from signer %d: %w", commitment.Index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != nil {
		return fmt.Errorf("signer set already frozen: %w", ErrInvalidState)
	}
	s.commitments[commitment.Index] = element
	return nil
}

// AggregateCommitment freezes the signer set and returns the
// Lagrange-weighted aggregate commitment that signers compute their
// challenge from. Requires at least k commitments.
func (s *Session) AggregateCommitment() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commitments) < int(s.core.config.K) {
		return nil, fmt.Errorf("have %d commitments, need %d: %w",
			len(s.commitments), s.core.config.K, ErrInsufficientSignatures)
	}

	s.frozen = make([]uint16, 0, len(s.commitments))
	for index := range s.commitments {
		s.frozen = append(s.frozen, index)
	}
	slices.Sort(s.frozen)

	aggregate := grp.Identity()
	for _, index := range s.frozen {
		weight, err := lagrangeCoefficient(s.frozen, index)
		if err != nil {
			return nil, err
		}
		aggregate = aggregate.Add(aggregate, grp.NewElement().Mul(s.commitments[index], weight))
	}
	s.aggregate = aggregate
	s.deadline = s.core.bundle.Now().Add(RoundTimeout)
	return aggregate.MarshalBinary()
}

// AddResponse verifies and records a signer's round-2 response. An
// invalid response is remembered for negative reporting and does not
// count toward k.
func (s *Session) AddResponse(response Response) error {
	if response.Epoch != s.context.Epoch {
		return fmt.Errorf("response from signer %d at epoch %d, session epoch %d: %w",
			response.Index, response.Epoch, s.context.Epoch, ErrEpochStale)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aggregate == nil {
		return fmt.Errorf("responses before commitment aggregation: %w", ErrInvalidState)
	}
	commitment, committed := s.commitments[response.Index]
	if !committed || !slices.Contains(s.frozen, response.Index) {
		return fmt.Errorf("response from signer %d outside the frozen set: %w", response.Index, ErrInvalidShare)
	}

	z := grp.NewScalar()
	if err := z.UnmarshalBinary(response.Z); err != nil {
		s.invalid = append(s.invalid, response.Index)
		return fmt.Errorf("decoding response from signer %d: %w", response.Index, ErrInvalidShare)
	}

	s.core.mu.Lock()
	pkg := s.core.pkg
	s.core.mu.Unlock()

	groupKey, err := pkg.groupKey()
	if err != nil {
		return err
	}
	c, err := challenge(s.aggregate, groupKey, s.context.Epoch, s.context.Message)
	if err != nil {
		return err
	}
	verification, err := pkg.verificationShare(response.Index)
	if err != nil {
		return err
	}

	// g^z must equal R_i + c * Y_i.
	lhs := grp.NewElement().MulGen(z)
	rhs := grp.NewElement().Add(commitment, grp.NewElement().Mul(verification, c))
	if !lhs.IsEqual(rhs) {
		s.invalid = append(s.invalid, response.Index)
		return fmt.Errorf("signer %d: %w", response.Index, ErrInvalidShare)
	}

	s.responses[response.Index] = z
	return nil
}

// Aggregate combines the verified responses into a group signature.
// Every frozen signer must have responded validly; otherwise the
// ceremony fails, reporting offenders by negated index, and the
// caller opens a fresh session without them.
func (s *Session) Aggregate() (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aggregate == nil {
		return Signature{}, fmt.Errorf("aggregation before commitments: %w", ErrInvalidState)
	}

	indices := make([]int32, 0, len(s.frozen))
	for _, index := range s.frozen {
		if slices.Contains(s.invalid, index) {
			indices = append(indices, -int32(index))
		} else {
			indices = append(indices, int32(index))
		}
	}

	if len(s.invalid) > 0 {
		return Signature{SignerIndices: indices, Epoch: s.context.Epoch},
			fmt.Errorf("%d signer(s) failed verification: %w", len(s.invalid), ErrInvalidShare)
	}
	if len(s.responses) < len(s.frozen) || len(s.responses) < int(s.core.config.K) {
		timedOut := s.core.bundle.Now().After(s.deadline)
		return Signature{SignerIndices: indices, Epoch: s.context.Epoch},
			fmt.Errorf("have %d of %d responses (timed out: %t): %w",
				len(s.responses), len(s.frozen), timedOut, ErrInsufficientSignatures)
	}

	// Register the (message, epoch) pair atomically with aggregation.
	s.core.mu.Lock()
	key := s.core.signedKeyFor(s.context)
	if _, already := s.core.signed[key]; already {
		s.core.mu.Unlock()
		return Signature{}, fmt.Errorf("key %s: %w", s.core.keyID, ErrDuplicateSigning)
	}
	s.core.signed[key] = struct{}{}
	pkg := s.core.pkg
	s.core.mu.Unlock()

	z := grp.NewScalar()
	for _, index := range s.frozen {
		weight, err := lagrangeCoefficient(s.frozen, index)
		if err != nil {
			return Signature{}, err
		}
		z = z.Add(z, grp.NewScalar().Mul(weight, s.responses[index]))
	}

	commitmentBytes, err := s.aggregate.MarshalBinary()
	if err != nil {
		return Signature{}, fmt.Errorf("encoding aggregate commitment: %w", err)
	}
	zBytes, err := z.MarshalBinary()
	if err != nil {
		return Signature{}, fmt.Errorf("encoding aggregate response: %w", err)
	}

	return Signature{
		SigBytes:      append(commitmentBytes, zBytes...),
		SignerCount:   uint16(len(s.frozen)),
		SignerIndices: indices,
		PublicPackage: pkg,
		Epoch:         s.context.Epoch,
	}, nil
}

