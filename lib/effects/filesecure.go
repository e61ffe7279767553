// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aura-foundation/aura/lib/sealed"
	"github.com/aura-foundation/aura/lib/secret"
)

// identityFileName is the device age identity inside the fallback
// store's root directory.
const identityFileName = "device-identity.age"

// attestationFileName holds the platform attestation blob, when one
// was captured at enrollment.
const attestationFileName = "attestation.bin"

// NewFileSecureStorage opens (or initializes) the file-backed
// SecureStorage fallback rooted at dir. Each record is sealed to the
// device's age identity before it touches disk, so a copied directory
// without the identity file is useless.
//
// This backend is the explicit last resort for platforms without a
// Keychain, kernel keyring, or TPM; it logs a warning at open so
// operators know secrets are only file-permission protected plus
// age-sealed, not hardware-isolated.
func NewFileSecureStorage(dir string, random RandomSource, logger *slog.Logger) (*FileSecureStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating secure storage directory: %w", err)
	}

	identityPath := filepath.Join(dir, identityFileName)
	var identity *sealed.Identity
	if _, err := os.Stat(identityPath); err == nil {
		key, err := secret.ReadFromPath(identityPath)
		if err != nil {
			return nil, fmt.Errorf("loading device identity: %w", err)
		}
		identity, err = sealed.IdentityFromKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing device identity: %w", err)
		}
	} else {
		identity, err = sealed.GenerateIdentity()
		if err != nil {
			return nil, fmt.Errorf("generating device identity: %w", err)
		}
		if err := os.WriteFile(identityPath, []byte(identity.PrivateKey.String()+"\n"), 0o600); err != nil {
			identity.Close()
			return nil, fmt.Errorf("persisting device identity: %w", err)
		}
	}

	logger.Warn("secure storage using file fallback",
		"dir", dir,
		"hint", "no platform key store available; secrets are age-sealed on disk")

	return &FileSecureStorage{
		dir:      dir,
		identity: identity,
		random:   random,
		logger:   logger,
	}, nil
}

// FileSecureStorage is the age-sealed directory SecureStorage backend.
// Safe for concurrent use; record writes are atomic via rename.
type FileSecureStorage struct {
	dir      string
	identity *sealed.Identity
	random   RandomSource
	logger   *slog.Logger

	// mu serializes GenerateKey's check-then-create and protects
	// against concurrent writes to the same record file.
	mu sync.Mutex
}

// Close releases the device identity key material.
func (fs *FileSecureStorage) Close() error {
	return fs.identity.Close()
}

// recordPath maps namespace/key to a file path. Namespaces are plain
// path segments ("aura-threshold"); keys may contain arbitrary bytes
// and are hex-encoded.
func (fs *FileSecureStorage) recordPath(namespace, key string) string {
	return filepath.Join(fs.dir, namespace, hex.EncodeToString([]byte(key))+".age")
}

// Store implements SecureStorage.
func (fs *FileSecureStorage) Store(_ context.Context, namespace, key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.storeLocked(namespace, key, value)
}

func (fs *FileSecureStorage) storeLocked(namespace, key string, value []byte) error {
	ciphertext, err := sealed.Seal(value, fs.identity.PublicKey)
	if err != nil {
		return fmt.Errorf("sealing record %s/%s: %w", namespace, key, err)
	}

	path := fs.recordPath(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating namespace directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("writing sealed record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing sealed record: %w", err)
	}
	return nil
}

// Retrieve implements SecureStorage.
func (fs *FileSecureStorage) Retrieve(_ context.Context, namespace, key string) ([]byte, bool, error) {
	ciphertext, err := os.ReadFile(fs.recordPath(namespace, key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading sealed record %s/%s: %w", namespace, key, err)
	}
	plaintext, err := sealed.Unseal(ciphertext, fs.identity)
	if err != nil {
		return nil, false, fmt.Errorf("unsealing record %s/%s: %w", namespace, key, err)
	}
	return plaintext, true, nil
}

// Delete implements SecureStorage.
func (fs *FileSecureStorage) Delete(_ context.Context, namespace, key string) error {
	err := os.Remove(fs.recordPath(namespace, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting sealed record %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Exists implements SecureStorage.
func (fs *FileSecureStorage) Exists(_ context.Context, namespace, key string) (bool, error) {
	_, err := os.Stat(fs.recordPath(namespace, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking sealed record %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// List implements SecureStorage.
func (fs *FileSecureStorage) List(_ context.Context, namespace string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dir, namespace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing namespace %s: %w", namespace, err)
	}
	var keys []string
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".age")
		if !ok {
			continue
		}
		raw, err := hex.DecodeString(name)
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	sort.Strings(keys)
	return keys, nil
}

// GenerateKey implements SecureStorage.
func (fs *FileSecureStorage) GenerateKey(ctx context.Context, namespace, key string, length int) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if existing, ok, err := fs.Retrieve(ctx, namespace, key); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	material := make([]byte, length)
	if err := fs.random.FillBytes(material); err != nil {
		return nil, fmt.Errorf("generating %d-byte secure key: %w", length, err)
	}
	if err := fs.storeLocked(namespace, key, material); err != nil {
		secret.Zero(material)
		return nil, err
	}
	return material, nil
}

// DeviceAttestation implements SecureStorage.
func (fs *FileSecureStorage) DeviceAttestation(_ context.Context) ([]byte, error) {
	blob, err := os.ReadFile(filepath.Join(fs.dir, attestationFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading attestation blob: %w", err)
	}
	return blob, nil
}

// Available implements SecureStorage.
func (fs *FileSecureStorage) Available() bool { return true }
