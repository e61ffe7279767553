// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/ident"
)

var (
	// ErrUnknownGuardian means a recovery statement names a guardian
	// that was not registered at key generation time.
	ErrUnknownGuardian = errors.New("guardian not registered for this key")

	// ErrRecoveryIncomplete means fewer than k distinct valid guardian
	// statements were assembled.
	ErrRecoveryIncomplete = errors.New("insufficient guardian statements")

	// ErrStatementMismatch means assembled statements do not all bind
	// the same account and replacement key.
	ErrStatementMismatch = errors.New("guardian statements bind different subjects")

	// ErrInvalidGuardianSignature means a statement's signature did
	// not verify against the registered guardian key.
	ErrInvalidGuardianSignature = errors.New("guardian signature verification failed")
)

// RecoveryStatement is one guardian's co-signature binding a
// replacement device's public key to the account.
type RecoveryStatement struct {
	Account      ident.AccountID  `cbor:"1,keyasint"`
	NewDevice    ident.DeviceID   `cbor:"2,keyasint"`
	NewDeviceKey []byte           `cbor:"3,keyasint"`
	Guardian     ident.GuardianID `cbor:"4,keyasint"`
	IssuedAt     uint64           `cbor:"5,keyasint"`

	// Signature is the guardian's Ed25519 signature over SigningBytes.
	Signature []byte `cbor:"6,keyasint"`
}

// SigningBytes returns the canonical encoding covered by the guardian
// signature.
func (rs RecoveryStatement) SigningBytes() ([]byte, error) {
	unsigned := rs
	unsigned.Signature = nil
	encoded, err := codec.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding recovery statement: %w", err)
	}
	return encoded, nil
}

// recoveryTracker holds the guardian set named at generation time.
type recoveryTracker struct {
	guardians map[ident.GuardianID]ed25519.PublicKey
}

func newRecoveryTracker() *recoveryTracker {
	return &recoveryTracker{guardians: make(map[ident.GuardianID]ed25519.PublicKey)}
}

// RegisterGuardian names an external recovery guardian. Guardians are
// fixed at key generation; registering after activation is rejected.
func (c *Core) RegisterGuardian(id ident.GuardianID, public ed25519.PublicKey) error {
	if len(public) != ed25519.PublicKeySize {
		return fmt.Errorf("guardian %s: key must be %d bytes, got %d", id, ed25519.PublicKeySize, len(public))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized && c.state != StateGenerating {
		return fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	c.recovery.guardians[id] = append(ed25519.PublicKey(nil), public...)
	return nil
}

// AssembleRecovery validates a set of guardian statements for a lost
// device. It succeeds when at least k distinct registered guardians
// have signed matching statements; the caller then runs a rotation to
// re-share toward the replacement device.
func (c *Core) AssembleRecovery(statements []RecoveryStatement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return fmt.Errorf("key %s is %s: %w", c.keyID, c.state, ErrInvalidState)
	}
	if len(statements) == 0 {
		return fmt.Errorf("key %s: %w", c.keyID, ErrRecoveryIncomplete)
	}

	reference := statements[0]
	valid := make(map[ident.GuardianID]bool)
	for _, statement := range statements {
		if statement.Account.Compare(reference.Account) != 0 ||
			statement.NewDevice.Compare(reference.NewDevice) != 0 ||
			string(statement.NewDeviceKey) != string(reference.NewDeviceKey) {
			return fmt.Errorf("key %s: %w", c.keyID, ErrStatementMismatch)
		}
		public, registered := c.recovery.guardians[statement.Guardian]
		if !registered {
			return fmt.Errorf("key %s, guardian %s: %w", c.keyID, statement.Guardian, ErrUnknownGuardian)
		}
		message, err := statement.SigningBytes()
		if err != nil {
			return err
		}
		if !c.bundle.Crypto.Ed25519Verify(public, message, statement.Signature) {
			return fmt.Errorf("guardian %s recovery statement: %w", statement.Guardian, ErrInvalidGuardianSignature)
		}
		valid[statement.Guardian] = true
	}

	if len(valid) < int(c.config.K) {
		return fmt.Errorf("key %s has %d of %d guardian statements: %w",
			c.keyID, len(valid), c.config.K, ErrRecoveryIncomplete)
	}

	c.bundle.Logger().Info("guardian recovery assembled",
		"key_id", c.keyID,
		"account", reference.Account,
		"new_device", reference.NewDevice,
		"guardians", len(valid))
	return nil
}
