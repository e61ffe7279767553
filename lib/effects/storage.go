// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Storage is the semantic key/value persistence effect. Keys are
// opaque strings with "/" path conventions ("session/<id>",
// "journal/fact/<hash>"). Values are byte blobs; lib/encstore wraps
// any Storage to provide at-rest encryption, so nothing above the
// encrypted layer should assume plaintext values here.
type Storage interface {
	// Store writes value under key, replacing any existing value.
	Store(ctx context.Context, key string, value []byte) error

	// Retrieve returns the value for key. The boolean reports whether
	// the key exists; a missing key is not an error.
	Retrieve(ctx context.Context, key string) ([]byte, bool, error)

	// Remove deletes key and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)

	// ListKeys returns all keys with the given prefix, sorted. A nil
	// or empty prefix lists everything.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present without reading its value.
	Exists(ctx context.Context, key string) (bool, error)

	// StoreBatch writes all entries. Not transactional across keys;
	// per-key writes are atomic.
	StoreBatch(ctx context.Context, entries map[string][]byte) error

	// RetrieveBatch returns the values for the requested keys that
	// exist. Missing keys are simply absent from the result.
	RetrieveBatch(ctx context.Context, keys []string) (map[string][]byte, error)

	// ClearAll removes every key. Test and recovery use only.
	ClearAll(ctx context.Context) error

	// Stats returns storage counters.
	Stats(ctx context.Context) (StorageStats, error)
}

// StorageStats summarizes a storage backend's contents.
type StorageStats struct {
	// Keys is the number of stored keys.
	Keys int
	// Bytes is the total size of all stored values.
	Bytes int64
}

// NewMemoryStorage returns an in-memory Storage. Values are copied on
// write and read, so callers cannot alias the stored bytes. Used by
// simulation and as the inner store under lib/encstore in tests.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string][]byte)}
}

// MemoryStorage is a map-backed Storage implementation. Safe for
// concurrent use.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// Store implements Storage.
func (ms *MemoryStorage) Store(_ context.Context, key string, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	ms.entries[key] = stored
	return nil
}

// Retrieve implements Storage.
func (ms *MemoryStorage) Retrieve(_ context.Context, key string) ([]byte, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	value, ok := ms.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Remove implements Storage.
func (ms *MemoryStorage) Remove(_ context.Context, key string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.entries[key]
	delete(ms.entries, key)
	return ok, nil
}

// ListKeys implements Storage.
func (ms *MemoryStorage) ListKeys(_ context.Context, prefix string) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var keys []string
	for key := range ms.entries {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists implements Storage.
func (ms *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.entries[key]
	return ok, nil
}

// StoreBatch implements Storage.
func (ms *MemoryStorage) StoreBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := ms.Store(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// RetrieveBatch implements Storage.
func (ms *MemoryStorage) RetrieveBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok, err := ms.Retrieve(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result[key] = value
		}
	}
	return result, nil
}

// ClearAll implements Storage.
func (ms *MemoryStorage) ClearAll(_ context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries = make(map[string][]byte)
	return nil
}

// Stats implements Storage.
func (ms *MemoryStorage) Stats(_ context.Context) (StorageStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	stats := StorageStats{Keys: len(ms.entries)}
	for _, value := range ms.entries {
		stats.Bytes += int64(len(value))
	}
	return stats, nil
}
