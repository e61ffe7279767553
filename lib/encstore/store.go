// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package encstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/secret"
)

const (
	// blobVersion is the first byte of every encrypted blob.
	blobVersion = 0x01

	// nonceSize is the AEAD nonce length.
	nonceSize = 12

	// blobHeaderSize is version byte plus nonce.
	blobHeaderSize = 1 + nonceSize

	// masterKeySize is the master key length in bytes.
	masterKeySize = 32

	// subkeyInfo is the HKDF info label for per-key encryption
	// subkeys. Changing it breaks decryption of every existing blob.
	subkeyInfo = "aura-storage-encryption-v1"

	// opaqueInfo is the HKDF info label for opaque storage names.
	opaqueInfo = "aura-opaque-key-v1"

	// opaqueNameSize is the derived opaque name length before hex
	// encoding.
	opaqueNameSize = 16
)

// ErrEncryptionFailed is returned when a value cannot be encrypted
// for storage.
var ErrEncryptionFailed = errors.New("encryption failed")

// ErrConfiguration is returned for operations the active configuration
// forbids, such as prefix listing under opaque names.
var ErrConfiguration = errors.New("encrypted store misconfigured")

// New wraps the bundle's storage backend with encryption. The master
// key is loaded lazily on the first operation; construction never
// touches secure storage.
func New(bundle *effects.Effects, config Config) *Store {
	return &Store{
		inner:  bundle.Storage,
		secure: bundle.Secure,
		crypto: bundle.Crypto,
		system: bundle.System,
		config: config,
	}
}

// Store is an encrypting effects.Storage. Safe for concurrent use.
type Store struct {
	inner  effects.Storage
	secure effects.SecureStorage
	crypto effects.Crypto
	system effects.System
	config Config

	// initMu single-flights master key initialization.
	initMu sync.Mutex
	master *secret.Buffer
}

// Close releases the cached master key material.
func (es *Store) Close() error {
	es.initMu.Lock()
	defer es.initMu.Unlock()
	if es.master == nil {
		return nil
	}
	err := es.master.Close()
	es.master = nil
	return err
}

// masterKey returns the device master key, loading or generating it on
// first use. A stored key of the wrong length is treated as corrupt
// and replaced.
func (es *Store) masterKey(ctx context.Context) ([]byte, error) {
	es.initMu.Lock()
	defer es.initMu.Unlock()

	if es.master != nil {
		return es.master.Bytes(), nil
	}

	namespace, keyID := es.config.keyNamespace(), es.config.keyID()
	value, ok, err := es.secure.Retrieve(ctx, namespace, keyID)
	if err != nil {
		return nil, fmt.Errorf("loading master key: %w", err)
	}
	if ok && len(value) != masterKeySize {
		es.system.Logger().Warn("master key has invalid length, regenerating",
			"namespace", namespace,
			"length", len(value))
		if err := es.secure.Delete(ctx, namespace, keyID); err != nil {
			return nil, fmt.Errorf("discarding corrupt master key: %w", err)
		}
		secret.Zero(value)
		ok = false
	}
	if !ok {
		value, err = es.crypto.RandomBytes(masterKeySize)
		if err != nil {
			return nil, fmt.Errorf("generating master key: %w", err)
		}
		if err := es.secure.Store(ctx, namespace, keyID, value); err != nil {
			secret.Zero(value)
			return nil, fmt.Errorf("persisting master key: %w", err)
		}
	}

	es.master, err = secret.NewFromBytes(value)
	if err != nil {
		return nil, fmt.Errorf("pinning master key: %w", err)
	}
	return es.master.Bytes(), nil
}

// storageKey maps a semantic key to the name used in the backend.
func (es *Store) storageKey(ctx context.Context, key string) (string, error) {
	if !es.config.OpaqueNames {
		return key, nil
	}
	master, err := es.masterKey(ctx)
	if err != nil {
		return "", err
	}
	name, err := es.crypto.HKDF(master, []byte(key), opaqueInfo, opaqueNameSize)
	if err != nil {
		return "", fmt.Errorf("deriving opaque name: %w", err)
	}
	return hex.EncodeToString(name), nil
}

// subkey derives the per-key encryption subkey. Callers must wipe the
// returned slice after use.
func (es *Store) subkey(ctx context.Context, key string) ([]byte, error) {
	master, err := es.masterKey(ctx)
	if err != nil {
		return nil, err
	}
	return es.crypto.HKDF(master, []byte(key), subkeyInfo, masterKeySize)
}

// encrypt produces the at-rest blob for value under the semantic key.
func (es *Store) encrypt(ctx context.Context, key string, value []byte) ([]byte, error) {
	subkey, err := es.subkey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("encrypting %q: %w", key, err)
	}
	defer secret.Zero(subkey)

	nonce, err := es.crypto.RandomBytes(nonceSize)
	if err != nil {
		return nil, fmt.Errorf("encrypting %q: %w", key, err)
	}
	ciphertext, err := es.crypto.SealChaCha(subkey, nonce, value, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting %q: %w: %v", key, ErrEncryptionFailed, err)
	}

	blob := make([]byte, 0, blobHeaderSize+len(ciphertext))
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// decrypt recovers the plaintext for a stored blob. The boolean
// reports whether the blob was a tolerated legacy plaintext value.
func (es *Store) decrypt(ctx context.Context, key string, blob []byte) ([]byte, bool, error) {
	if len(blob) == 0 || blob[0] != blobVersion {
		if es.config.AllowPlaintextRead {
			return blob, true, nil
		}
		if len(blob) < blobHeaderSize {
			return nil, false, fmt.Errorf("reading %q: blob too short: %w", key, effects.ErrDecryptionFailed)
		}
		return nil, false, fmt.Errorf("reading %q: unrecognized blob version 0x%02x: %w", key, blob[0], effects.ErrDecryptionFailed)
	}
	if len(blob) < blobHeaderSize {
		return nil, false, fmt.Errorf("reading %q: blob too short: %w", key, effects.ErrDecryptionFailed)
	}

	subkey, err := es.subkey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	defer secret.Zero(subkey)

	plaintext, err := es.crypto.OpenChaCha(subkey, blob[1:blobHeaderSize], blob[blobHeaderSize:], nil)
	if err != nil {
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	return plaintext, false, nil
}

// Store implements effects.Storage.
func (es *Store) Store(ctx context.Context, key string, value []byte) error {
	if !es.config.Enabled {
		return es.inner.Store(ctx, key, value)
	}
	blob, err := es.encrypt(ctx, key, value)
	if err != nil {
		return err
	}
	name, err := es.storageKey(ctx, key)
	if err != nil {
		return err
	}
	return es.inner.Store(ctx, name, blob)
}

// Retrieve implements effects.Storage.
func (es *Store) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	if !es.config.Enabled {
		return es.inner.Retrieve(ctx, key)
	}
	name, err := es.storageKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	blob, ok, err := es.inner.Retrieve(ctx, name)
	if err != nil || !ok {
		return nil, ok, err
	}
	plaintext, legacy, err := es.decrypt(ctx, key, blob)
	if err != nil {
		return nil, false, err
	}
	if legacy && es.config.MigrateOnRead {
		if err := es.Store(ctx, key, plaintext); err != nil {
			return nil, false, fmt.Errorf("migrating legacy blob %q: %w", key, err)
		}
	}
	return plaintext, true, nil
}

// Remove implements effects.Storage.
func (es *Store) Remove(ctx context.Context, key string) (bool, error) {
	if !es.config.Enabled {
		return es.inner.Remove(ctx, key)
	}
	name, err := es.storageKey(ctx, key)
	if err != nil {
		return false, err
	}
	return es.inner.Remove(ctx, name)
}

// ListKeys implements effects.Storage. Under opaque names a prefix
// cannot be matched against derived names, so prefix queries return
// nothing and a full listing returns the opaque names themselves.
func (es *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if !es.config.Enabled || !es.config.OpaqueNames {
		return es.inner.ListKeys(ctx, prefix)
	}
	if prefix != "" {
		return nil, nil
	}
	return es.inner.ListKeys(ctx, "")
}

// Exists implements effects.Storage.
func (es *Store) Exists(ctx context.Context, key string) (bool, error) {
	if !es.config.Enabled {
		return es.inner.Exists(ctx, key)
	}
	name, err := es.storageKey(ctx, key)
	if err != nil {
		return false, err
	}
	return es.inner.Exists(ctx, name)
}

// StoreBatch implements effects.Storage.
func (es *Store) StoreBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := es.Store(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// RetrieveBatch implements effects.Storage.
func (es *Store) RetrieveBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok, err := es.Retrieve(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result[key] = value
		}
	}
	return result, nil
}

// ClearAll implements effects.Storage.
func (es *Store) ClearAll(ctx context.Context) error {
	return es.inner.ClearAll(ctx)
}

// Stats implements effects.Storage. Byte counts reflect ciphertext
// sizes, not plaintext.
func (es *Store) Stats(ctx context.Context) (effects.StorageStats, error) {
	return es.inner.Stats(ctx)
}
