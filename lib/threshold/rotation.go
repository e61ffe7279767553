// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"errors"
	"fmt"
	"time"

	"github.com/aura-foundation/aura/lib/codec"
)

// ErrRotationAborted means a rotation failed to settle inside its
// window; the epoch did not advance.
var ErrRotationAborted = errors.New("rotation aborted without quorum")

// RotationWindow bounds how long a rotation may stay unsettled.
const RotationWindow = 5 * time.Minute

// rotation is the in-flight state of an epoch transition.
type rotation struct {
	toEpoch   uint64
	newPkg    PublicKeyPackage
	endorsed  bool
	acks      map[uint16]bool
	deadline  time.Time
}

// RotationPackageBytes returns the canonical encoding of a public
// package, the message the outgoing key must countersign before a
// rotation can settle.
func RotationPackageBytes(pkg PublicKeyPackage) ([]byte, error) {
	encoded, err := codec.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encoding rotation package: %w", err)
	}
	return encoded, nil
}

// BeginRotation deals fresh shares at the next epoch and moves the
// family to Rotating. The previous package stays authoritative until
// the new one is endorsed by the old key and k holders accept.
func (c *Core) BeginRotation() ([]KeyShare, PublicKeyPackage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil, PublicKeyPackage{}, fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}

	toEpoch := c.epoch + 1
	shares, pkg, err := dealShares(c.bundle.Random, c.config, toEpoch)
	if err != nil {
		return nil, PublicKeyPackage{}, fmt.Errorf("dealing rotation shares for %s: %w", c.keyID, err)
	}

	c.state = StateRotating
	c.rotation = &rotation{
		toEpoch:  toEpoch,
		newPkg:   pkg,
		acks:     make(map[uint16]bool),
		deadline: c.bundle.Now().Add(RotationWindow),
	}
	c.bundle.Logger().Info("threshold rotation started",
		"key_id", c.keyID,
		"from_epoch", c.epoch,
		"to_epoch", toEpoch)
	return shares, pkg, nil
}

// EndorseRotation verifies the outgoing key's threshold signature
// over the new package. Acceptance acknowledgments only count after
// endorsement.
func (c *Core) EndorseRotation(endorsement Signature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRotating || c.rotation == nil {
		return fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	if err := c.expireRotationLocked(); err != nil {
		return err
	}
	if endorsement.Epoch != c.epoch {
		return fmt.Errorf("endorsement at epoch %d, outgoing epoch is %d: %w",
			endorsement.Epoch, c.epoch, ErrEpochStale)
	}

	message, err := RotationPackageBytes(c.rotation.newPkg)
	if err != nil {
		return err
	}
	if err := Verify(c.pkg, message, endorsement); err != nil {
		return fmt.Errorf("rotation endorsement for %s: %w", c.keyID, err)
	}
	c.rotation.endorsed = true
	return nil
}

// AcceptRotation records a holder's acceptance at the new epoch. Once
// the quorum for the configured agreement mode is reached, the family
// activates the new epoch and the old package is retired.
func (c *Core) AcceptRotation(index uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRotating || c.rotation == nil {
		return fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	if err := c.expireRotationLocked(); err != nil {
		return err
	}
	if !c.rotation.endorsed {
		return fmt.Errorf("rotation for %s not yet endorsed by the outgoing key: %w", c.keyID, ErrInvalidState)
	}
	if index == 0 || index > c.config.N {
		return fmt.Errorf("acceptance from unknown holder %d", index)
	}

	c.rotation.acks[index] = true
	if len(c.rotation.acks) >= c.config.rotationQuorum() {
		c.epoch = c.rotation.toEpoch
		c.pkg = c.rotation.newPkg
		c.rotation = nil
		c.state = StateActive
		c.signed = make(map[signedKey]struct{})
		c.seenNonces = make(map[string]struct{})
		c.bundle.Logger().Info("threshold rotation settled",
			"key_id", c.keyID,
			"epoch", c.epoch)
	}
	return nil
}

// RollbackRotation aborts an in-flight rotation and re-activates the
// outgoing epoch. Rollback is itself guarded: it requires a threshold
// signature by the outgoing key over the new package bytes.
func (c *Core) RollbackRotation(authorization Signature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRotating || c.rotation == nil {
		return fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}

	message, err := RotationPackageBytes(c.rotation.newPkg)
	if err != nil {
		return err
	}
	if err := Verify(c.pkg, message, authorization); err != nil {
		return fmt.Errorf("rollback authorization for %s: %w", c.keyID, err)
	}

	c.abortRotationLocked("rolled back")
	return nil
}

// expireRotationLocked aborts the rotation when its window has
// passed. Returns ErrRotationAborted if it did.
func (c *Core) expireRotationLocked() error {
	if c.bundle.Now().After(c.rotation.deadline) {
		c.abortRotationLocked("window expired")
		return fmt.Errorf("key %s: %w", c.keyID, ErrRotationAborted)
	}
	return nil
}

func (c *Core) abortRotationLocked(reason string) {
	c.bundle.Logger().Warn("threshold rotation aborted",
		"key_id", c.keyID,
		"to_epoch", c.rotation.toEpoch,
		"reason", reason)
	c.rotation = nil
	c.state = StateActive
}
