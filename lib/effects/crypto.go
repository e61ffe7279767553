// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned for every AEAD open failure. The
// cause (tag mismatch, truncation, wrong key) is deliberately not
// distinguished to avoid decryption oracles.
var ErrDecryptionFailed = errors.New("decryption failed")

// Crypto is the symmetric and signature primitive effect. The
// threshold and CGKA layers build their protocols on top of these
// operations plus RandomSource; no other package touches primitive
// crypto directly.
type Crypto interface {
	// RandomBytes returns n fresh random bytes from the bundle's
	// RandomSource. Nonces and master keys are drawn through this.
	RandomBytes(n int) ([]byte, error)

	// HKDF derives length bytes via HKDF-SHA256(ikm, salt, info).
	HKDF(ikm, salt []byte, info string, length int) ([]byte, error)

	// Ed25519Generate creates a signing keypair.
	Ed25519Generate() (ed25519.PublicKey, ed25519.PrivateKey, error)

	// Ed25519Sign signs message with the private key.
	Ed25519Sign(private ed25519.PrivateKey, message []byte) []byte

	// Ed25519Verify reports whether signature is valid for message
	// under the public key.
	Ed25519Verify(public ed25519.PublicKey, message, signature []byte) bool

	// SealChaCha encrypts plaintext with ChaCha20-Poly1305 under a
	// 32-byte key and 12-byte nonce.
	SealChaCha(key, nonce, plaintext, additionalData []byte) ([]byte, error)

	// OpenChaCha decrypts a ChaCha20-Poly1305 ciphertext. Returns
	// ErrDecryptionFailed on any authentication failure.
	OpenChaCha(key, nonce, ciphertext, additionalData []byte) ([]byte, error)

	// SealAESGCM encrypts plaintext with AES-256-GCM under a 32-byte
	// key and 12-byte nonce.
	SealAESGCM(key, nonce, plaintext, additionalData []byte) ([]byte, error)

	// OpenAESGCM decrypts an AES-256-GCM ciphertext. Returns
	// ErrDecryptionFailed on any authentication failure.
	OpenAESGCM(key, nonce, ciphertext, additionalData []byte) ([]byte, error)

	// ConstantTimeEqual compares two byte slices without leaking the
	// position of the first difference.
	ConstantTimeEqual(a, b []byte) bool
}

// NewStandardCrypto returns the Crypto implementation used by both
// production and simulation bundles. All randomness flows through the
// provided RandomSource, so the same implementation is deterministic
// under a seeded source.
func NewStandardCrypto(random RandomSource) *StandardCrypto {
	return &StandardCrypto{random: random}
}

// StandardCrypto implements Crypto over x/crypto and the standard
// library primitives.
type StandardCrypto struct {
	random RandomSource
}

// RandomBytes implements Crypto.
func (sc *StandardCrypto) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := sc.random.FillBytes(buf); err != nil {
		return nil, fmt.Errorf("drawing %d random bytes: %w", n, err)
	}
	return buf, nil
}

// HKDF implements Crypto.
func (sc *StandardCrypto) HKDF(ikm, salt []byte, info string, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("deriving %d bytes with HKDF: %w", length, err)
	}
	return out, nil
}

// Ed25519Generate implements Crypto.
func (sc *StandardCrypto) Ed25519Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(sc.random)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// Ed25519Sign implements Crypto.
func (sc *StandardCrypto) Ed25519Sign(private ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(private, message)
}

// Ed25519Verify implements Crypto.
func (sc *StandardCrypto) Ed25519Verify(public ed25519.PublicKey, message, signature []byte) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(public, message, signature)
}

// SealChaCha implements Crypto.
func (sc *StandardCrypto) SealChaCha(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("initializing ChaCha20-Poly1305: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// OpenChaCha implements Crypto.
func (sc *StandardCrypto) OpenChaCha(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("initializing ChaCha20-Poly1305: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealAESGCM implements Crypto.
func (sc *StandardCrypto) SealAESGCM(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// OpenAESGCM implements Crypto.
func (sc *StandardCrypto) OpenAESGCM(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ConstantTimeEqual implements Crypto.
func (sc *StandardCrypto) ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("AES-256-GCM key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return aead, nil
}
