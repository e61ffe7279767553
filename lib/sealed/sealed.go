// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/aura-foundation/aura/lib/secret"
)

// Identity holds an age x25519 keypair for a device. The private key
// lives in a secret.Buffer; the public key is a plain string, safe to
// persist alongside the sealed records.
//
// The caller must call Close when the identity is no longer needed.
type Identity struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format,
	// stored in mmap memory outside the Go heap. Never logged, never
	// written to disk except by the secure-storage fallback's own
	// 0600 identity file.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding recipient in age1... format.
	PublicKey string
}

// Close releases the private key memory (zeros, unlocks, unmaps).
// Idempotent.
func (id *Identity) Close() error {
	if id.PrivateKey != nil {
		return id.PrivateKey.Close()
	}
	return nil
}

// GenerateIdentity generates a new age x25519 identity. The private
// key is moved into a secret.Buffer immediately.
//
// The caller must call Close on the returned Identity when done.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}

	privateKeyBytes := []byte(identity.String())
	privateKey, err := secret.NewFromBytes(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	// The string returned by identity.String() remains on the heap
	// until GC — unavoidable with age's string-based API. The mmap
	// buffer is the durable copy.

	return &Identity{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// IdentityFromKey reconstructs an Identity from a stored private key
// (as read by secret.ReadFromPath). The buffer is owned by the
// returned Identity.
func IdentityFromKey(privateKey *secret.Buffer) (*Identity, error) {
	parsed, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing age private key: %w", err)
	}
	return &Identity{
		PrivateKey: privateKey,
		PublicKey:  parsed.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to the recipient public key (age1...
// format). The output is raw age ciphertext bytes suitable for
// writing to the fallback store's record files.
func Seal(plaintext []byte, recipientKey string) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient key: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Unseal decrypts age ciphertext with the identity's private key. The
// plaintext is returned as a heap slice owned by the caller; callers
// holding key material should move it into a secret.Buffer or wipe it
// with secret.Zero when done.
func Unseal(ciphertext []byte, identity *Identity) ([]byte, error) {
	parsed, err := age.ParseX25519Identity(identity.PrivateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), parsed)
	if err != nil {
		return nil, fmt.Errorf("unsealing record: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading unsealed record: %w", err)
	}
	return plaintext, nil
}

// ValidatePublicKey checks that publicKey parses as an age x25519
// recipient.
func ValidatePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}
