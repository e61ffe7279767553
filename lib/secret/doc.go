// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides memory-safe containers for Aura key material:
// the device master key, threshold signing shares, CGKA path secrets,
// and the device age identity used by the file-backed secure storage.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory is
// outside the Go heap, the garbage collector never copies or relocates
// it — the guaranteed-zeroization lifecycle the key-share contract
// requires is only possible off-heap.
//
// Zero wipes ordinary heap slices in place. It is for transient
// intermediate values (derived subkeys, retired ratchet generations)
// that never leave a single function or struct field; long-lived
// secrets belong in a Buffer.
package secret
