// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// SecureCapability scopes access to a SecureStorage view. The
// threshold layer stores key shares under a {Read, Write} scope;
// deletion requires a separately constructed view carrying Delete.
type SecureCapability uint8

const (
	// SecureRead permits Retrieve, Exists, and List.
	SecureRead SecureCapability = iota
	// SecureWrite permits Store and GenerateKey.
	SecureWrite
	// SecureDelete permits Delete.
	SecureDelete
)

// String returns "read", "write", or "delete".
func (c SecureCapability) String() string {
	switch c {
	case SecureRead:
		return "read"
	case SecureWrite:
		return "write"
	case SecureDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ErrSecureCapabilityDenied is returned by a scoped view when the
// operation's required capability is outside the view's scope.
var ErrSecureCapabilityDenied = errors.New("secure storage capability denied")

// SecureStorage is the platform key-store effect: Keychain on macOS,
// kernel keyring or TPM on Linux, an age-sealed file store as the
// explicit fallback, and an in-memory map in tests. Values are small
// secrets (master keys, threshold shares, attestation blobs), never
// bulk data.
type SecureStorage interface {
	// Store writes value under namespace/key.
	Store(ctx context.Context, namespace, key string, value []byte) error

	// Retrieve returns the secret under namespace/key. The boolean
	// reports presence; a missing secret is not an error.
	Retrieve(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// Delete removes the secret under namespace/key.
	Delete(ctx context.Context, namespace, key string) error

	// Exists reports whether namespace/key is present.
	Exists(ctx context.Context, namespace, key string) (bool, error)

	// List returns the keys present in a namespace, sorted.
	List(ctx context.Context, namespace string) ([]string, error)

	// GenerateKey creates, stores, and returns a fresh random secret
	// of the given length under namespace/key. If a secret already
	// exists there it is returned unchanged.
	GenerateKey(ctx context.Context, namespace, key string, length int) ([]byte, error)

	// DeviceAttestation returns the platform attestation blob for
	// this device, or an empty slice when the platform provides none.
	DeviceAttestation(ctx context.Context) ([]byte, error)

	// Available reports whether the backing store is usable. Callers
	// that get false must fail loudly rather than downgrade to
	// plaintext persistence.
	Available() bool
}

// NewMemorySecureStorage returns an in-memory SecureStorage for
// simulation. The random source supplies GenerateKey material so
// simulated runs are deterministic.
func NewMemorySecureStorage(random RandomSource) *MemorySecureStorage {
	return &MemorySecureStorage{
		random:  random,
		entries: make(map[string][]byte),
	}
}

// MemorySecureStorage is a map-backed SecureStorage. Safe for
// concurrent use.
type MemorySecureStorage struct {
	random      RandomSource
	mu          sync.RWMutex
	entries     map[string][]byte
	attestation []byte
}

func secureEntryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Store implements SecureStorage.
func (ss *MemorySecureStorage) Store(_ context.Context, namespace, key string, value []byte) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	ss.entries[secureEntryKey(namespace, key)] = stored
	return nil
}

// Retrieve implements SecureStorage.
func (ss *MemorySecureStorage) Retrieve(_ context.Context, namespace, key string) ([]byte, bool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	value, ok := ss.entries[secureEntryKey(namespace, key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Delete implements SecureStorage.
func (ss *MemorySecureStorage) Delete(_ context.Context, namespace, key string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.entries, secureEntryKey(namespace, key))
	return nil
}

// Exists implements SecureStorage.
func (ss *MemorySecureStorage) Exists(_ context.Context, namespace, key string) (bool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	_, ok := ss.entries[secureEntryKey(namespace, key)]
	return ok, nil
}

// List implements SecureStorage.
func (ss *MemorySecureStorage) List(_ context.Context, namespace string) ([]string, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	prefix := namespace + "\x00"
	var keys []string
	for entry := range ss.entries {
		if len(entry) > len(prefix) && entry[:len(prefix)] == prefix {
			keys = append(keys, entry[len(prefix):])
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GenerateKey implements SecureStorage.
func (ss *MemorySecureStorage) GenerateKey(ctx context.Context, namespace, key string, length int) ([]byte, error) {
	if existing, ok, err := ss.Retrieve(ctx, namespace, key); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	material := make([]byte, length)
	if err := ss.random.FillBytes(material); err != nil {
		return nil, fmt.Errorf("generating %d-byte secure key: %w", length, err)
	}
	if err := ss.Store(ctx, namespace, key, material); err != nil {
		return nil, err
	}
	return material, nil
}

// SetAttestation installs a fake attestation blob for tests.
func (ss *MemorySecureStorage) SetAttestation(blob []byte) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.attestation = append([]byte(nil), blob...)
}

// DeviceAttestation implements SecureStorage.
func (ss *MemorySecureStorage) DeviceAttestation(_ context.Context) ([]byte, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return append([]byte(nil), ss.attestation...), nil
}

// Available implements SecureStorage.
func (ss *MemorySecureStorage) Available() bool { return true }

// ScopedSecureStorage returns a view of inner restricted to the given
// capabilities. Operations outside the scope fail with
// ErrSecureCapabilityDenied before touching the backing store.
func ScopedSecureStorage(inner SecureStorage, capabilities ...SecureCapability) SecureStorage {
	view := &scopedSecureStorage{inner: inner}
	for _, capability := range capabilities {
		switch capability {
		case SecureRead:
			view.read = true
		case SecureWrite:
			view.write = true
		case SecureDelete:
			view.delete = true
		}
	}
	return view
}

type scopedSecureStorage struct {
	inner  SecureStorage
	read   bool
	write  bool
	delete bool
}

func (sv *scopedSecureStorage) Store(ctx context.Context, namespace, key string, value []byte) error {
	if !sv.write {
		return fmt.Errorf("store %s/%s: %w", namespace, key, ErrSecureCapabilityDenied)
	}
	return sv.inner.Store(ctx, namespace, key, value)
}

func (sv *scopedSecureStorage) Retrieve(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if !sv.read {
		return nil, false, fmt.Errorf("retrieve %s/%s: %w", namespace, key, ErrSecureCapabilityDenied)
	}
	return sv.inner.Retrieve(ctx, namespace, key)
}

func (sv *scopedSecureStorage) Delete(ctx context.Context, namespace, key string) error {
	if !sv.delete {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, ErrSecureCapabilityDenied)
	}
	return sv.inner.Delete(ctx, namespace, key)
}

func (sv *scopedSecureStorage) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if !sv.read {
		return false, fmt.Errorf("exists %s/%s: %w", namespace, key, ErrSecureCapabilityDenied)
	}
	return sv.inner.Exists(ctx, namespace, key)
}

func (sv *scopedSecureStorage) List(ctx context.Context, namespace string) ([]string, error) {
	if !sv.read {
		return nil, fmt.Errorf("list %s: %w", namespace, ErrSecureCapabilityDenied)
	}
	return sv.inner.List(ctx, namespace)
}

func (sv *scopedSecureStorage) GenerateKey(ctx context.Context, namespace, key string, length int) ([]byte, error) {
	if !sv.write {
		return nil, fmt.Errorf("generate key %s/%s: %w", namespace, key, ErrSecureCapabilityDenied)
	}
	return sv.inner.GenerateKey(ctx, namespace, key, length)
}

func (sv *scopedSecureStorage) DeviceAttestation(ctx context.Context) ([]byte, error) {
	return sv.inner.DeviceAttestation(ctx)
}

func (sv *scopedSecureStorage) Available() bool { return sv.inner.Available() }
