// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20"
)

// RandomSource abstracts randomness. Production uses the OS CSPRNG;
// simulation uses a seeded ChaCha20 keystream so runs are repeatable.
// All downstream crypto (nonces, key shares, identifiers) draws from
// this single surface.
//
// RandomSource implements io.Reader so it can feed APIs that take a
// rand io.Reader directly (identifier constructors, the threshold
// dealer, uuid.NewRandomFromReader).
type RandomSource interface {
	io.Reader

	// FillBytes fills b completely with random bytes.
	FillBytes(b []byte) error

	// Uint64 returns a uniformly random 64-bit value.
	Uint64() (uint64, error)

	// UUID returns a version-4 UUID drawn from this source. In
	// simulation the result is deterministic for a given seed and
	// call sequence.
	UUID() (uuid.UUID, error)
}

// OSRandom returns the production RandomSource backed by crypto/rand.
func OSRandom() RandomSource { return osRandom{} }

type osRandom struct{}

func (osRandom) Read(b []byte) (int, error) { return rand.Read(b) }

func (osRandom) FillBytes(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}

func (osRandom) Uint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (osRandom) UUID() (uuid.UUID, error) {
	return uuid.NewRandomFromReader(rand.Reader)
}

// NewSeededRandom returns a deterministic RandomSource whose output is
// the ChaCha20 keystream keyed by BLAKE3(seed). Tests conventionally
// pass their test name as the seed so parallel tests draw independent
// streams (§ simulation isolation).
func NewSeededRandom(seed string) *SeededRandom {
	key := blake3.Sum256([]byte(seed))
	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed at compile time.
		panic("effects: seeded ChaCha20 initialization failed: " + err.Error())
	}
	return &SeededRandom{cipher: cipher}
}

// SeededRandom is the simulation RandomSource. Safe for concurrent
// use; the keystream position is the only state, so the sequence of
// reads (not wall time) determines the output.
type SeededRandom struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
}

// Read fills b with the next keystream bytes.
func (sr *SeededRandom) Read(b []byte) (int, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for i := range b {
		b[i] = 0
	}
	sr.cipher.XORKeyStream(b, b)
	return len(b), nil
}

// FillBytes fills b completely with keystream bytes.
func (sr *SeededRandom) FillBytes(b []byte) error {
	_, err := sr.Read(b)
	return err
}

// Uint64 returns the next 64 bits of the keystream.
func (sr *SeededRandom) Uint64() (uint64, error) {
	var buf [8]byte
	if _, err := sr.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// UUID returns a deterministic version-4-shaped UUID from the
// keystream, so simulated runs mint identical session IDs on replay.
func (sr *SeededRandom) UUID() (uuid.UUID, error) {
	u, err := uuid.NewRandomFromReader(sr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("deriving seeded UUID: %w", err)
	}
	return u, nil
}
