// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package encstore

// Config controls the encrypted store. The zero value is NOT the
// default configuration; use DefaultConfig.
type Config struct {
	// Enabled turns encryption on. When false the store passes reads
	// and writes through to the backend unchanged. Default true.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// OpaqueNames hides semantic key strings from the backend by
	// storing each value under a derived hex name. Prefix listing is
	// disabled while opaque names are active. Default false.
	OpaqueNames bool `yaml:"opaque_names" json:"opaque_names"`

	// KeyNamespace overrides the secure storage namespace holding the
	// master key. Empty means "aura-encryption".
	KeyNamespace string `yaml:"key_namespace" json:"key_namespace"`

	// KeyID overrides the master key's name within the namespace.
	// Empty means "master-key".
	KeyID string `yaml:"key_id" json:"key_id"`

	// AllowPlaintextRead tolerates stored blobs that predate
	// encryption (no version byte). Default false: unversioned blobs
	// are a decryption error.
	AllowPlaintextRead bool `yaml:"allow_plaintext_read" json:"allow_plaintext_read"`

	// MigrateOnRead rewrites a tolerated plaintext blob encrypted on
	// its first successful read. Only meaningful with
	// AllowPlaintextRead. Default false.
	MigrateOnRead bool `yaml:"migrate_on_read" json:"migrate_on_read"`
}

// DefaultConfig returns the standard configuration: encryption on,
// semantic names visible to the backend, no plaintext tolerance.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

func (c Config) keyNamespace() string {
	if c.KeyNamespace != "" {
		return c.KeyNamespace
	}
	return "aura-encryption"
}

func (c Config) keyID() string {
	if c.KeyID != "" {
		return c.KeyID
	}
	return "master-key"
}
