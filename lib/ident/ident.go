// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the length of every Aura identifier in bytes.
const Size = 16

// opaque is the shared 128-bit value underlying every identifier
// family. Family types embed it to inherit the accessor methods while
// remaining distinct types.
type opaque struct {
	b [Size]byte
}

// newOpaqueFromEntropy fills an identifier with bytes from r. The
// caller supplies the random source (production OS entropy or the
// simulation PRNG) — this package never touches global randomness.
func newOpaqueFromEntropy(r io.Reader) (opaque, error) {
	var o opaque
	if _, err := io.ReadFull(r, o.b[:]); err != nil {
		return opaque{}, fmt.Errorf("reading identifier entropy: %w", err)
	}
	return o, nil
}

// opaqueFromSeed derives an identifier deterministically from a seed
// string: the first 16 bytes of BLAKE3(seed). The same seed always
// produces the same identifier on every node.
func opaqueFromSeed(seed string) opaque {
	sum := blake3.Sum256([]byte(seed))
	var o opaque
	copy(o.b[:], sum[:Size])
	return o
}

// opaqueFromBytes constructs an identifier from exactly 16 raw bytes.
func opaqueFromBytes(raw []byte) (opaque, error) {
	if len(raw) != Size {
		return opaque{}, fmt.Errorf("identifier must be %d bytes, got %d", Size, len(raw))
	}
	var o opaque
	copy(o.b[:], raw)
	return o, nil
}

// parseOpaque parses the 32-character lowercase hex form produced by
// String.
func parseOpaque(s string) (opaque, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return opaque{}, fmt.Errorf("parsing identifier hex: %w", err)
	}
	return opaqueFromBytes(raw)
}

// String returns the identifier as 32 lowercase hex characters.
func (o opaque) String() string {
	return hex.EncodeToString(o.b[:])
}

// Bytes returns a copy of the identifier's 16 raw bytes.
func (o opaque) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, o.b[:])
	return out
}

// IsZero reports whether the identifier is the all-zero value. Zero
// identifiers are never produced by the constructors; a zero value
// indicates an unset field.
func (o opaque) IsZero() bool {
	return o.b == [Size]byte{}
}

// Compare returns -1, 0, or 1 ordering the identifiers bytewise. This
// is the total order used everywhere a deterministic ordering of
// identifiers is required.
func (o opaque) Compare(other opaque) int {
	return bytes.Compare(o.b[:], other.b[:])
}

// MarshalText implements encoding.TextMarshaler (lowercase hex).
func (o opaque) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *opaque) UnmarshalText(data []byte) error {
	parsed, err := parseOpaque(string(data))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
