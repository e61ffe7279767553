// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package cgka

import (
	"encoding/binary"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"

	"github.com/aura-foundation/aura/lib/effects"
)

// All path secrets travel under one HPKE suite. X25519 keeps leaf
// keys at 32 bytes; ChaCha20-Poly1305 matches the storage layer AEAD.
var (
	hpkeKEM   = hpke.KEM_X25519_HKDF_SHA256
	hpkeSuite = hpke.NewSuite(hpkeKEM, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)
)

// LeafKeyPair is a member's X25519 keypair for receiving path secrets.
type LeafKeyPair struct {
	Public  []byte
	private kem.PrivateKey
}

// GenerateLeafKeyPair derives a fresh leaf keypair from the bundle's
// random source.
func GenerateLeafKeyPair(random effects.RandomSource) (LeafKeyPair, error) {
	scheme := hpkeKEM.Scheme()
	seed := make([]byte, scheme.SeedSize())
	if err := random.FillBytes(seed); err != nil {
		return LeafKeyPair{}, fmt.Errorf("generating leaf key seed: %w", err)
	}
	public, private := scheme.DeriveKeyPair(seed)
	encoded, err := public.MarshalBinary()
	if err != nil {
		return LeafKeyPair{}, fmt.Errorf("encoding leaf public key: %w", err)
	}
	return LeafKeyPair{Public: encoded, private: private}, nil
}

// leafKeyPairFromSeed derives a keypair deterministically; the update
// path uses it so the acting member's new leaf key is bound to its
// path-secret chain.
func leafKeyPairFromSeed(seed []byte) (LeafKeyPair, error) {
	scheme := hpkeKEM.Scheme()
	if len(seed) != scheme.SeedSize() {
		return LeafKeyPair{}, fmt.Errorf("leaf seed must be %d bytes, got %d", scheme.SeedSize(), len(seed))
	}
	public, private := scheme.DeriveKeyPair(seed)
	encoded, err := public.MarshalBinary()
	if err != nil {
		return LeafKeyPair{}, fmt.Errorf("encoding leaf public key: %w", err)
	}
	return LeafKeyPair{Public: encoded, private: private}, nil
}

// pathInfo binds every sealed path secret to its document and target
// epoch, so ciphertexts cannot be replayed across groups or epochs.
func pathInfo(doc DocID, epoch uint64) []byte {
	info := make([]byte, 0, len("aura-cgka-path-v1")+32+8)
	info = append(info, "aura-cgka-path-v1"...)
	info = append(info, doc[:]...)
	return binary.BigEndian.AppendUint64(info, epoch)
}

// sealSecret encrypts a path secret to one recipient leaf.
func sealSecret(random effects.RandomSource, recipientPublic []byte, doc DocID, epoch uint64, value []byte) (enc, ciphertext []byte, err error) {
	public, err := hpkeKEM.Scheme().UnmarshalBinaryPublicKey(recipientPublic)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding recipient leaf key: %w", err)
	}
	sender, err := hpkeSuite.NewSender(public, pathInfo(doc, epoch))
	if err != nil {
		return nil, nil, fmt.Errorf("preparing path secret sender: %w", err)
	}
	enc, sealer, err := sender.Setup(randomReader{random})
	if err != nil {
		return nil, nil, fmt.Errorf("establishing path secret encryption: %w", err)
	}
	ciphertext, err = sealer.Seal(value, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sealing path secret: %w", err)
	}
	return enc, ciphertext, nil
}

// openSecret decrypts a path secret sealed to this member's leaf.
func openSecret(private kem.PrivateKey, doc DocID, epoch uint64, enc, ciphertext []byte) ([]byte, error) {
	receiver, err := hpkeSuite.NewReceiver(private, pathInfo(doc, epoch))
	if err != nil {
		return nil, fmt.Errorf("preparing path secret receiver: %w", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("establishing path secret decryption: %w", err)
	}
	value, err := opener.Open(ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening path secret: %w", err)
	}
	return value, nil
}

// randomReader adapts the effects random source to io.Reader for the
// HPKE setup.
type randomReader struct {
	source effects.RandomSource
}

func (r randomReader) Read(p []byte) (int, error) {
	if err := r.source.FillBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
