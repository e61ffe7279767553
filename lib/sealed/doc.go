// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for secrets persisted by the
// file-backed secure storage fallback. It wraps filippo.io/age for the
// specific operations Aura needs: generate a device identity, seal a
// secret to the device's public key, and unseal it with the identity.
//
// Private keys and unsealed plaintext travel in *secret.Buffer values
// (mmap memory outside the Go heap, locked against swap, excluded from
// core dumps, zeroed on close).
//
// Platforms with a real key store (Keychain, kernel keyring, TPM) do
// not use this package; it exists so the "other → file fallback with
// explicit warning" selection still keeps secrets encrypted at rest.
package sealed
