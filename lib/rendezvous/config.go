// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"fmt"
	"time"
)

// PunchConfig tunes the coordinated hole-punch rung.
type PunchConfig struct {
	// Rounds is how many synchronized punch rounds to attempt within
	// one ladder rung.
	Rounds int `yaml:"rounds" json:"rounds"`

	// Interval separates consecutive punch rounds.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// MaxStartDelay bounds the nonce-derived start offset. Both sides
	// compute the same offset from the XOR of their offer nonces, so
	// their first rounds coincide.
	MaxStartDelay time.Duration `yaml:"max_start_delay" json:"max_start_delay"`
}

// ConnectionConfig tunes the connection-establishment ladder.
type ConnectionConfig struct {
	// AttemptTimeout bounds each rung of the ladder.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`

	// TotalTimeout bounds the whole ladder.
	TotalTimeout time.Duration `yaml:"total_timeout" json:"total_timeout"`

	// EnableSTUN allows the reflexive-candidate rung.
	EnableSTUN bool `yaml:"enable_stun" json:"enable_stun"`

	// EnableHolePunch allows the coordinated hole-punch rung.
	EnableHolePunch bool `yaml:"enable_hole_punch" json:"enable_hole_punch"`

	// EnableRelayFallback allows the final relay rung.
	EnableRelayFallback bool `yaml:"enable_relay_fallback" json:"enable_relay_fallback"`

	// Punch tunes the hole-punch rung.
	Punch PunchConfig `yaml:"punch_config" json:"punch_config"`

	// STUNServers are stun: URIs for the reflexive and punch rungs.
	STUNServers []string `yaml:"stun_servers" json:"stun_servers"`

	// RelayServers are turn: URIs for the relay rung.
	RelayServers []RelayServer `yaml:"relay_servers" json:"relay_servers"`
}

// RelayServer is one relay endpoint with its credentials.
type RelayServer struct {
	URI      string `yaml:"uri" json:"uri"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DefaultConnectionConfig returns the ladder defaults: every rung
// enabled, 30s per attempt, two minutes overall.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		AttemptTimeout:      30 * time.Second,
		TotalTimeout:        2 * time.Minute,
		EnableSTUN:          true,
		EnableHolePunch:     true,
		EnableRelayFallback: true,
		Punch: PunchConfig{
			Rounds:        5,
			Interval:      200 * time.Millisecond,
			MaxStartDelay: time.Second,
		},
	}
}

// Validate rejects configurations the ladder cannot run with.
func (c ConnectionConfig) Validate() error {
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout %s: must be positive", c.AttemptTimeout)
	}
	if c.TotalTimeout < c.AttemptTimeout {
		return fmt.Errorf("total_timeout %s is shorter than attempt_timeout %s",
			c.TotalTimeout, c.AttemptTimeout)
	}
	if c.EnableSTUN && len(c.STUNServers) == 0 {
		return fmt.Errorf("enable_stun set with no stun_servers")
	}
	if c.EnableHolePunch {
		if c.Punch.Rounds <= 0 {
			return fmt.Errorf("punch rounds %d: must be positive", c.Punch.Rounds)
		}
		if c.Punch.Interval <= 0 {
			return fmt.Errorf("punch interval %s: must be positive", c.Punch.Interval)
		}
	}
	if c.EnableRelayFallback && len(c.RelayServers) == 0 {
		return fmt.Errorf("enable_relay_fallback set with no relay_servers")
	}
	return nil
}
