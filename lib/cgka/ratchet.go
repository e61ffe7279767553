// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package cgka

import (
	"encoding/binary"
	"fmt"

	"github.com/aura-foundation/aura/lib/secret"
)

const (
	appSecretSize = 32

	// messagesPerGeneration bounds how many messages one generation
	// key protects before the ratchet advances.
	messagesPerGeneration = 32

	messageNonceSize = 12
)

// channelRatchet tracks the sending generation for one channel within
// the current epoch. The generation key is cached until the ratchet
// advances or the epoch ends, then wiped.
type channelRatchet struct {
	generation uint64
	sent       int
	key        []byte
}

func (r *channelRatchet) wipe() {
	if r.key != nil {
		secret.Zero(r.key)
		r.key = nil
	}
}

// Message is one sealed application payload. Epoch and generation
// name the key; a receiver in a different epoch cannot open it.
type Message struct {
	Channel    string `cbor:"1,keyasint"`
	Epoch      uint64 `cbor:"2,keyasint"`
	Generation uint64 `cbor:"3,keyasint"`
	Nonce      []byte `cbor:"4,keyasint"`
	Ciphertext []byte `cbor:"5,keyasint"`
}

// DeriveAppSecret derives the application key for a channel and
// ratchet generation from the current root. Under a simulated bundle
// an uninitialized group yields a deterministic placeholder so pure
// derivation tests need no ceremony; in production it is an error.
func (g *Group) DeriveAppSecret(channel string, generation uint64) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deriveAppSecretLocked(channel, generation)
}

func (g *Group) deriveAppSecretLocked(channel string, generation uint64) ([]byte, error) {
	label := fmt.Sprintf("aura-cgka/%s/%d", channel, generation)
	if g.root == nil {
		if g.bundle.Time.IsSimulated() {
			return g.bundle.Crypto.HKDF(g.doc[:], nil, label, appSecretSize)
		}
		return nil, fmt.Errorf("group %s: %w", g.doc, ErrNoPcsKey)
	}
	return g.bundle.Crypto.HKDF(g.root, nil, label, appSecretSize)
}

// Seal encrypts an application payload on a channel, advancing the
// ratchet generation after messagesPerGeneration messages.
func (g *Group) Seal(channel string, plaintext []byte) (Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		return Message{}, fmt.Errorf("group %s: %w", g.doc, ErrNoPcsKey)
	}

	ratchet, ok := g.channels[channel]
	if !ok {
		ratchet = &channelRatchet{}
		g.channels[channel] = ratchet
	}
	if ratchet.sent >= messagesPerGeneration {
		ratchet.wipe()
		ratchet.generation++
		ratchet.sent = 0
	}
	if ratchet.key == nil {
		key, err := g.deriveAppSecretLocked(channel, ratchet.generation)
		if err != nil {
			return Message{}, err
		}
		ratchet.key = key
	}

	nonce, err := g.bundle.Crypto.RandomBytes(messageNonceSize)
	if err != nil {
		return Message{}, fmt.Errorf("drawing message nonce: %w", err)
	}
	ciphertext, err := g.bundle.Crypto.SealChaCha(ratchet.key, nonce, plaintext,
		messageAAD(g.doc, channel, g.epoch, ratchet.generation))
	if err != nil {
		return Message{}, fmt.Errorf("sealing channel message: %w", err)
	}
	ratchet.sent++
	return Message{
		Channel:    channel,
		Epoch:      g.epoch,
		Generation: ratchet.generation,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Open decrypts a channel message sealed at the current epoch. Roots
// of earlier epochs are wiped at each transition, so messages from a
// superseded epoch cannot be opened.
func (g *Group) Open(msg Message) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil || msg.Epoch != g.epoch {
		return nil, fmt.Errorf("group %s epoch %d, message epoch %d: %w",
			g.doc, g.epoch, msg.Epoch, ErrNoPcsKey)
	}

	key, err := g.deriveAppSecretLocked(msg.Channel, msg.Generation)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(key)
	plaintext, err := g.bundle.Crypto.OpenChaCha(key, msg.Nonce, msg.Ciphertext,
		messageAAD(g.doc, msg.Channel, msg.Epoch, msg.Generation))
	if err != nil {
		return nil, fmt.Errorf("opening channel message: %w", err)
	}
	return plaintext, nil
}

func messageAAD(doc DocID, channel string, epoch, generation uint64) []byte {
	aad := make([]byte, 0, 32+len(channel)+16)
	aad = append(aad, doc[:]...)
	aad = append(aad, channel...)
	aad = binary.BigEndian.AppendUint64(aad, epoch)
	return binary.BigEndian.AppendUint64(aad, generation)
}
