// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aura-foundation/aura/lib/ident"
)

var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. Two dialers sharing one
// MemorySignaler can establish connections with no external signaling
// path, which is how the package tests itself.
type MemorySignaler struct {
	mu      sync.Mutex
	offers  map[string]Signal
	answers map[string]Signal
	seen    map[string]time.Time
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[string]Signal),
		answers: make(map[string]Signal),
		seen:    make(map[string]time.Time),
	}
}

func pairKey(a, b ident.AuthorityID) string {
	return a.String() + "|" + b.String()
}

func (s *MemorySignaler) PublishOffer(_ context.Context, from, to ident.AuthorityID, signal Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal.Peer = from
	signal.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	s.offers[pairKey(from, to)] = signal
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offerer, from ident.AuthorityID, signal Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal.Peer = from
	signal.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	s.answers[pairKey(offerer, from)] = signal
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, self ident.AuthorityID) ([]Signal, error) {
	// Offers for self sit under keys ending in self.
	return s.poll(self, s.offers, "offers", func(key string) bool {
		return strings.HasSuffix(key, "|"+self.String())
	}), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, self ident.AuthorityID) ([]Signal, error) {
	// Answers to self's offers sit under keys starting with self.
	return s.poll(self, s.answers, "answers", func(key string) bool {
		return strings.HasPrefix(key, self.String()+"|")
	}), nil
}

func (s *MemorySignaler) poll(self ident.AuthorityID, store map[string]Signal, label string, match func(string) bool) []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var signals []Signal
	for key, signal := range store {
		if !match(key) {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, signal.Timestamp)
		if err != nil {
			continue
		}
		seenKey := label + ":" + self.String() + ":" + key
		if last, ok := s.seen[seenKey]; ok && !timestamp.After(last) {
			continue
		}
		s.seen[seenKey] = timestamp
		signals = append(signals, signal)
	}
	return signals
}
