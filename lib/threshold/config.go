// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"errors"
	"fmt"
)

// AgreementMode selects how much acknowledgment the coordinator
// requires before treating a ceremony as settled.
type AgreementMode uint8

const (
	// CoordinatorSoftSafe settles once the coordinator has applied
	// the transition locally; acknowledgments stream in afterwards.
	CoordinatorSoftSafe AgreementMode = iota
	// CoordinatorHardSafe settles once k holders acknowledge.
	CoordinatorHardSafe
	// EveryNodeSafe settles only when all n holders acknowledge.
	EveryNodeSafe
)

// String returns the mode name.
func (m AgreementMode) String() string {
	switch m {
	case CoordinatorSoftSafe:
		return "coordinator-soft-safe"
	case CoordinatorHardSafe:
		return "coordinator-hard-safe"
	case EveryNodeSafe:
		return "every-node-safe"
	default:
		return fmt.Sprintf("AgreementMode(%d)", uint8(m))
	}
}

// ErrInvalidConfig is returned for unusable threshold parameters.
var ErrInvalidConfig = errors.New("invalid threshold configuration")

// Config are the k-of-n parameters for a signing key family.
type Config struct {
	// K is the signing quorum.
	K uint16 `yaml:"k" json:"k"`
	// N is the total number of shares.
	N uint16 `yaml:"n" json:"n"`
	// AgreementMode governs ceremony settlement.
	AgreementMode AgreementMode `yaml:"agreement_mode" json:"agreement_mode"`
}

// Validate rejects parameters that cannot produce a working key.
func (c Config) Validate() error {
	if c.K == 0 || c.N == 0 {
		return fmt.Errorf("k=%d n=%d: parameters must be positive: %w", c.K, c.N, ErrInvalidConfig)
	}
	if c.K > c.N {
		return fmt.Errorf("k=%d exceeds n=%d: %w", c.K, c.N, ErrInvalidConfig)
	}
	return nil
}

// rotationQuorum returns the accept-acknowledgment count that settles
// a rotation under the configured mode.
func (c Config) rotationQuorum() int {
	if c.AgreementMode == EveryNodeSafe {
		return int(c.N)
	}
	return int(c.K)
}
