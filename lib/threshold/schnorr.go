// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/secretsharing"

	"github.com/aura-foundation/aura/lib/effects"
)

// grp is the signature group. ristretto255 gives a prime-order group
// with no cofactor pitfalls.
var grp = group.Ristretto255

// challengeDST domain-separates the Schnorr challenge hash.
const challengeDST = "aura-threshold-schnorr-v1"

// ErrVerificationFailed is returned when an aggregated signature does
// not verify under the group key.
var ErrVerificationFailed = errors.New("threshold signature verification failed")

// dealShares cuts a fresh group key into n Shamir shares with
// threshold k, returning the shares and the public package. The group
// private scalar never leaves this function.
func dealShares(random effects.RandomSource, config Config, epoch uint64) ([]KeyShare, PublicKeyPackage, error) {
	if err := config.Validate(); err != nil {
		return nil, PublicKeyPackage{}, err
	}

	groupSecret := grp.RandomNonZeroScalar(random)
	defer groupSecret.SetUint64(0)

	// secretsharing threshold t means t+1 shares recover the secret.
	dealer := secretsharing.New(random, uint(config.K)-1, groupSecret)
	rawShares := dealer.Share(uint(config.N))

	groupKey, err := grp.NewElement().MulGen(groupSecret).MarshalBinary()
	if err != nil {
		return nil, PublicKeyPackage{}, fmt.Errorf("encoding group key: %w", err)
	}

	shares := make([]KeyShare, 0, config.N)
	verification := make([][]byte, 0, config.N)
	for i, raw := range rawShares {
		value, err := raw.Value.MarshalBinary()
		if err != nil {
			return nil, PublicKeyPackage{}, fmt.Errorf("encoding share %d: %w", i+1, err)
		}
		public, err := grp.NewElement().MulGen(raw.Value).MarshalBinary()
		if err != nil {
			return nil, PublicKeyPackage{}, fmt.Errorf("encoding verification share %d: %w", i+1, err)
		}
		raw.Value.SetUint64(0)
		shares = append(shares, KeyShare{Index: uint16(i + 1), Epoch: epoch, Value: value})
		verification = append(verification, public)
	}

	return shares, PublicKeyPackage{
		GroupKey:           groupKey,
		VerificationShares: verification,
		K:                  config.K,
		N:                  config.N,
		Epoch:              epoch,
	}, nil
}

// lagrangeCoefficient computes the weight for signer index within the
// signer set, interpolating at zero.
func lagrangeCoefficient(signers []uint16, index uint16) (group.Scalar, error) {
	numerator := grp.NewScalar().SetUint64(1)
	denominator := grp.NewScalar().SetUint64(1)
	xi := grp.NewScalar().SetUint64(uint64(index))
	for _, j := range signers {
		if j == index {
			continue
		}
		xj := grp.NewScalar().SetUint64(uint64(j))
		numerator = numerator.Mul(numerator, xj)
		diff := grp.NewScalar().Sub(xj, xi)
		if diff.IsZero() {
			return nil, fmt.Errorf("duplicate signer index %d", j)
		}
		denominator = denominator.Mul(denominator, diff)
	}
	return grp.NewScalar().Mul(numerator, grp.NewScalar().Inv(denominator)), nil
}

// challenge derives the Schnorr challenge binding the aggregate
// commitment, the group key, the epoch, and the message.
func challenge(aggregateCommitment, groupKey group.Element, epoch uint64, message []byte) (group.Scalar, error) {
	commitmentBytes, err := aggregateCommitment.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding commitment: %w", err)
	}
	keyBytes, err := groupKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding group key: %w", err)
	}
	input := make([]byte, 0, len(commitmentBytes)+len(keyBytes)+8+len(message))
	input = append(input, commitmentBytes...)
	input = append(input, keyBytes...)
	input = binary.BigEndian.AppendUint64(input, epoch)
	input = append(input, message...)
	return grp.HashToScalar(input, []byte(challengeDST)), nil
}

// Verify checks an aggregated signature: g^z == R + c*Y with c bound
// to the epoch and message.
func Verify(pkg PublicKeyPackage, message []byte, sig Signature) error {
	if len(sig.SigBytes) != 64 {
		return fmt.Errorf("signature must be 64 bytes, got %d: %w", len(sig.SigBytes), ErrVerificationFailed)
	}
	commitment := grp.NewElement()
	if err := commitment.UnmarshalBinary(sig.SigBytes[:32]); err != nil {
		return fmt.Errorf("decoding signature commitment: %w", ErrVerificationFailed)
	}
	response := grp.NewScalar()
	if err := response.UnmarshalBinary(sig.SigBytes[32:]); err != nil {
		return fmt.Errorf("decoding signature response: %w", ErrVerificationFailed)
	}
	groupKey, err := pkg.groupKey()
	if err != nil {
		return err
	}
	c, err := challenge(commitment, groupKey, sig.Epoch, message)
	if err != nil {
		return err
	}

	lhs := grp.NewElement().MulGen(response)
	rhs := grp.NewElement().Add(commitment, grp.NewElement().Mul(groupKey, c))
	if !lhs.IsEqual(rhs) {
		return ErrVerificationFailed
	}
	return nil
}
