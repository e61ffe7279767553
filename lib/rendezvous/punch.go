// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/aura-foundation/aura/lib/effects"
)

// PunchSchedule is the agreed timing for a coordinated hole punch.
// Both sides derive an identical schedule from the XOR of the two
// offer nonces, so their binding requests cross mid-path within the
// same rounds.
type PunchSchedule struct {
	// StartDelay is the offset from observing the answer to the first
	// punch round.
	StartDelay time.Duration

	// Rounds and Interval come from PunchConfig.
	Rounds   int
	Interval time.Duration
}

// NewPunchNonce draws a fresh punch nonce for an offer or answer.
func NewPunchNonce(random effects.RandomSource) ([]byte, error) {
	nonce := make([]byte, punchNonceLen)
	if err := random.FillBytes(nonce); err != nil {
		return nil, fmt.Errorf("drawing punch nonce: %w", err)
	}
	return nonce, nil
}

// DerivePunchSchedule combines the two sides' nonces into a shared
// schedule. XOR is commutative, so either argument order yields the
// same result.
func DerivePunchSchedule(localNonce, remoteNonce []byte, config PunchConfig) (PunchSchedule, error) {
	if len(localNonce) != punchNonceLen || len(remoteNonce) != punchNonceLen {
		return PunchSchedule{}, fmt.Errorf("punch nonce lengths %d/%d, want %d",
			len(localNonce), len(remoteNonce), punchNonceLen)
	}
	combined := make([]byte, punchNonceLen)
	for i := range combined {
		combined[i] = localNonce[i] ^ remoteNonce[i]
	}

	var start time.Duration
	if config.MaxStartDelay > 0 {
		offset := binary.BigEndian.Uint64(combined[:8])
		start = time.Duration(offset % uint64(config.MaxStartDelay))
	}
	return PunchSchedule{
		StartDelay: start,
		Rounds:     config.Rounds,
		Interval:   config.Interval,
	}, nil
}
