// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
)

// ceremonyFixture wires a coordinator and n holder-side signers over
// a shared simulated bundle.
type ceremonyFixture struct {
	t       *testing.T
	bundle  *effects.Effects
	core    *Core
	vault   *ShareVault
	signers map[uint16]*Signer
	pkg     PublicKeyPackage
}

func newCeremonyFixture(t *testing.T, config Config) *ceremonyFixture {
	t.Helper()
	bundle := effects.Simulated(t.Name())
	core, err := NewCore(bundle, "account-signing", config)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return &ceremonyFixture{
		t:       t,
		bundle:  bundle,
		core:    core,
		vault:   NewShareVault(bundle.Secure),
		signers: make(map[uint16]*Signer),
	}
}

// activate deals shares, stores them, enrolls all holders, and opens
// a signer per share.
func (f *ceremonyFixture) activate() {
	f.t.Helper()
	ctx := context.Background()
	shares, pkg, err := f.core.GenerateKeys()
	if err != nil {
		f.t.Fatalf("GenerateKeys: %v", err)
	}
	f.pkg = pkg
	for _, share := range shares {
		if err := f.vault.Put(ctx, "account-signing", share); err != nil {
			f.t.Fatalf("storing share %d: %v", share.Index, err)
		}
		if err := f.core.AcknowledgeEnrollment(share.Index); err != nil {
			f.t.Fatalf("acknowledging share %d: %v", share.Index, err)
		}
		signer, err := NewSigner(ctx, f.vault, "account-signing", share.Epoch, f.bundle.Random)
		if err != nil {
			f.t.Fatalf("opening signer %d: %v", share.Index, err)
		}
		f.t.Cleanup(func() { signer.Close() })
		f.signers[share.Index] = signer
	}
	if f.core.State() != StateActive {
		f.t.Fatalf("state after enrollment = %s, want Active", f.core.State())
	}
	if f.core.Epoch() != 1 {
		f.t.Fatalf("epoch after enrollment = %d, want 1", f.core.Epoch())
	}
}

// sign runs a full two-round ceremony with the given signer indices.
func (f *ceremonyFixture) sign(message []byte, indices ...uint16) (Signature, error) {
	f.t.Helper()
	session, err := f.core.NewSession(SigningContext{
		Message: message,
		Epoch:   f.core.Epoch(),
		Signers: indices,
	})
	if err != nil {
		return Signature{}, err
	}
	for _, index := range indices {
		commitment, err := f.signers[index].Commit(session.ID())
		if err != nil {
			return Signature{}, err
		}
		if err := session.AddCommitment(commitment); err != nil {
			return Signature{}, err
		}
	}
	aggregate, err := session.AggregateCommitment()
	if err != nil {
		return Signature{}, err
	}
	pkg, err := f.core.PublicPackage()
	if err != nil {
		return Signature{}, err
	}
	for _, index := range indices {
		response, err := f.signers[index].Respond(session.ID(), pkg, message, aggregate)
		if err != nil {
			return Signature{}, err
		}
		if err := session.AddResponse(response); err != nil {
			return Signature{}, err
		}
	}
	return session.Aggregate()
}

func TestConfigValidation(t *testing.T) {
	if err := (Config{K: 3, N: 2}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("k>n err = %v, want ErrInvalidConfig", err)
	}
	if err := (Config{K: 0, N: 3}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("k=0 err = %v, want ErrInvalidConfig", err)
	}
	if err := (Config{K: 2, N: 3}).Validate(); err != nil {
		t.Fatalf("valid config err = %v", err)
	}
}

func TestSignAndVerify(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	message := []byte("publish contact fact")
	signature, err := f.sign(message, 1, 3)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signature.SignerCount != 2 {
		t.Fatalf("SignerCount = %d, want 2", signature.SignerCount)
	}
	if signature.Epoch != 1 {
		t.Fatalf("Epoch = %d, want 1", signature.Epoch)
	}
	for _, index := range signature.SignerIndices {
		if index < 0 {
			t.Fatalf("unexpected negative signer index %d", index)
		}
	}
	if err := Verify(f.pkg, message, signature); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(f.pkg, []byte("different message"), signature); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("wrong message Verify = %v, want ErrVerificationFailed", err)
	}
}

func TestAllSignersAlsoVerifies(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	message := []byte("rotate now")
	signature, err := f.sign(message, 1, 2, 3)
	if err != nil {
		t.Fatalf("sign with all: %v", err)
	}
	if err := Verify(f.pkg, message, signature); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestDuplicateSigningRejected(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	message := []byte("once only")
	if _, err := f.sign(message, 1, 2); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	_, err := f.sign(message, 2, 3)
	if !errors.Is(err, ErrDuplicateSigning) {
		t.Fatalf("second sign err = %v, want ErrDuplicateSigning", err)
	}
	// A different message at the same epoch is fine.
	if _, err := f.sign([]byte("something else"), 2, 3); err != nil {
		t.Fatalf("different message: %v", err)
	}
}

func TestStaleEpochRejected(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	_, err := f.core.NewSession(SigningContext{Message: []byte("m"), Epoch: 7})
	if !errors.Is(err, ErrEpochStale) {
		t.Fatalf("err = %v, want ErrEpochStale", err)
	}
}

func TestInsufficientCommitments(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 3, N: 3})
	f.activate()

	session, err := f.core.NewSession(SigningContext{Message: []byte("m"), Epoch: 1})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	commitment, err := f.signers[1].Commit(session.ID())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := session.AddCommitment(commitment); err != nil {
		t.Fatalf("AddCommitment: %v", err)
	}
	if _, err := session.AggregateCommitment(); !errors.Is(err, ErrInsufficientSignatures) {
		t.Fatalf("err = %v, want ErrInsufficientSignatures", err)
	}
}

func TestTamperedResponseReportedNegatively(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 2})
	f.activate()

	message := []byte("m")
	session, err := f.core.NewSession(SigningContext{Message: message, Epoch: 1})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for index := uint16(1); index <= 2; index++ {
		commitment, err := f.signers[index].Commit(session.ID())
		if err != nil {
			t.Fatalf("Commit %d: %v", index, err)
		}
		if err := session.AddCommitment(commitment); err != nil {
			t.Fatalf("AddCommitment %d: %v", index, err)
		}
	}
	aggregate, err := session.AggregateCommitment()
	if err != nil {
		t.Fatalf("AggregateCommitment: %v", err)
	}

	good, err := f.signers[1].Respond(session.ID(), f.pkg, message, aggregate)
	if err != nil {
		t.Fatalf("Respond 1: %v", err)
	}
	if err := session.AddResponse(good); err != nil {
		t.Fatalf("AddResponse 1: %v", err)
	}

	bad, err := f.signers[2].Respond(session.ID(), f.pkg, message, aggregate)
	if err != nil {
		t.Fatalf("Respond 2: %v", err)
	}
	bad.Z = append([]byte(nil), bad.Z...)
	bad.Z[0] ^= 0x01
	if err := session.AddResponse(bad); !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("tampered AddResponse err = %v, want ErrInvalidShare", err)
	}

	signature, err := session.Aggregate()
	if !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("Aggregate err = %v, want ErrInvalidShare", err)
	}
	var sawNegative bool
	for _, index := range signature.SignerIndices {
		if index == -2 {
			sawNegative = true
		}
	}
	if !sawNegative {
		t.Fatalf("SignerIndices = %v, want -2 recorded", signature.SignerIndices)
	}
}

func TestReplayedCommitmentRejected(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	first, err := f.core.NewSession(SigningContext{Message: []byte("a"), Epoch: 1})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	commitment, err := f.signers[1].Commit(first.ID())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := first.AddCommitment(commitment); err != nil {
		t.Fatalf("AddCommitment: %v", err)
	}

	second, err := f.core.NewSession(SigningContext{Message: []byte("b"), Epoch: 1})
	if err != nil {
		t.Fatalf("second NewSession: %v", err)
	}
	if err := second.AddCommitment(commitment); !errors.Is(err, ErrDuplicateNonce) {
		t.Fatalf("replayed commitment err = %v, want ErrDuplicateNonce", err)
	}
}

func TestRotationLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	newShares, newPkg, err := f.core.BeginRotation()
	if err != nil {
		t.Fatalf("BeginRotation: %v", err)
	}
	if f.core.State() != StateRotating {
		t.Fatalf("state = %s, want Rotating", f.core.State())
	}
	if newPkg.Epoch != 2 {
		t.Fatalf("new package epoch = %d, want 2", newPkg.Epoch)
	}

	// The outgoing key endorses the new package.
	packageBytes, err := RotationPackageBytes(newPkg)
	if err != nil {
		t.Fatalf("RotationPackageBytes: %v", err)
	}
	endorsement, err := f.sign(packageBytes, 1, 2)
	if err != nil {
		t.Fatalf("signing endorsement: %v", err)
	}
	if err := f.core.EndorseRotation(endorsement); err != nil {
		t.Fatalf("EndorseRotation: %v", err)
	}

	// Acceptance before endorsement would have failed; now k accepts
	// settle the rotation.
	if err := f.core.AcceptRotation(1); err != nil {
		t.Fatalf("AcceptRotation 1: %v", err)
	}
	if f.core.State() != StateRotating {
		t.Fatalf("state after one accept = %s, want Rotating", f.core.State())
	}
	if err := f.core.AcceptRotation(2); err != nil {
		t.Fatalf("AcceptRotation 2: %v", err)
	}
	if f.core.State() != StateActive {
		t.Fatalf("state after quorum = %s, want Active", f.core.State())
	}
	if f.core.Epoch() != 2 {
		t.Fatalf("epoch = %d, want 2", f.core.Epoch())
	}

	// New-epoch shares sign under the new package.
	for _, share := range newShares {
		if err := f.vault.Put(ctx, "account-signing", share); err != nil {
			t.Fatalf("storing rotated share %d: %v", share.Index, err)
		}
		signer, err := NewSigner(ctx, f.vault, "account-signing", 2, f.bundle.Random)
		if err != nil {
			t.Fatalf("opening rotated signer %d: %v", share.Index, err)
		}
		t.Cleanup(func() { signer.Close() })
		f.signers[share.Index] = signer
	}
	f.pkg = newPkg
	message := []byte("post-rotation message")
	signature, err := f.sign(message, 2, 3)
	if err != nil {
		t.Fatalf("post-rotation sign: %v", err)
	}
	if err := Verify(newPkg, message, signature); err != nil {
		t.Fatalf("post-rotation Verify: %v", err)
	}
}

func TestRotationWindowExpiry(t *testing.T) {
	f := newCeremonyFixture(t, Config{K: 2, N: 3})
	f.activate()

	_, newPkg, err := f.core.BeginRotation()
	if err != nil {
		t.Fatalf("BeginRotation: %v", err)
	}
	packageBytes, err := RotationPackageBytes(newPkg)
	if err != nil {
		t.Fatalf("RotationPackageBytes: %v", err)
	}
	endorsement, err := f.sign(packageBytes, 1, 2)
	if err != nil {
		t.Fatalf("signing endorsement: %v", err)
	}
	if err := f.core.EndorseRotation(endorsement); err != nil {
		t.Fatalf("EndorseRotation: %v", err)
	}
	if err := f.core.AcceptRotation(1); err != nil {
		t.Fatalf("AcceptRotation: %v", err)
	}

	// Quorum never arrives; the window lapses.
	if err := f.bundle.Delay(context.Background(), RotationWindow+time.Second); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if err := f.core.AcceptRotation(2); !errors.Is(err, ErrRotationAborted) {
		t.Fatalf("late accept err = %v, want ErrRotationAborted", err)
	}
	if f.core.State() != StateActive {
		t.Fatalf("state after abort = %s, want Active", f.core.State())
	}
	if f.core.Epoch() != 1 {
		t.Fatalf("epoch after abort = %d, want 1", f.core.Epoch())
	}
}

func TestGuardianRecovery(t *testing.T) {
	bundle := effects.Simulated(t.Name())
	core, err := NewCore(bundle, "account-signing", Config{K: 2, N: 3})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}

	type guardian struct {
		id      ident.GuardianID
		private ed25519.PrivateKey
	}
	guardians := make([]guardian, 3)
	for i := range guardians {
		public, private, err := bundle.Crypto.Ed25519Generate()
		if err != nil {
			t.Fatalf("generating guardian key: %v", err)
		}
		id, err := ident.NewGuardianID(bundle.Random)
		if err != nil {
			t.Fatalf("minting guardian id: %v", err)
		}
		if err := core.RegisterGuardian(id, public); err != nil {
			t.Fatalf("RegisterGuardian: %v", err)
		}
		guardians[i] = guardian{id: id, private: private}
	}

	shares, _, err := core.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	for _, share := range shares {
		if err := core.AcknowledgeEnrollment(share.Index); err != nil {
			t.Fatalf("AcknowledgeEnrollment: %v", err)
		}
	}

	account := ident.AccountIDFromSeed(t.Name() + "/account")
	newDevice := ident.DeviceIDFromSeed(t.Name() + "/replacement")
	newDeviceKey, _, err := bundle.Crypto.Ed25519Generate()
	if err != nil {
		t.Fatalf("generating device key: %v", err)
	}

	statement := func(g guardian) RecoveryStatement {
		s := RecoveryStatement{
			Account:      account,
			NewDevice:    newDevice,
			NewDeviceKey: newDeviceKey,
			Guardian:     g.id,
			IssuedAt:     bundle.NowUnix(),
		}
		message, err := s.SigningBytes()
		if err != nil {
			t.Fatalf("SigningBytes: %v", err)
		}
		s.Signature = bundle.Crypto.Ed25519Sign(g.private, message)
		return s
	}

	// One statement is not enough.
	err = core.AssembleRecovery([]RecoveryStatement{statement(guardians[0])})
	if !errors.Is(err, ErrRecoveryIncomplete) {
		t.Fatalf("single statement err = %v, want ErrRecoveryIncomplete", err)
	}

	// Two distinct guardians settle it.
	err = core.AssembleRecovery([]RecoveryStatement{statement(guardians[0]), statement(guardians[1])})
	if err != nil {
		t.Fatalf("AssembleRecovery: %v", err)
	}

	// A forged statement is rejected.
	forged := statement(guardians[2])
	forged.Signature[0] ^= 0x01
	err = core.AssembleRecovery([]RecoveryStatement{statement(guardians[0]), forged})
	if !errors.Is(err, ErrInvalidGuardianSignature) {
		t.Fatalf("forged err = %v, want ErrInvalidGuardianSignature", err)
	}
}
