// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package ident provides the 128-bit opaque identifier families used
// throughout Aura: accounts, devices, authorities, contexts, channels,
// sessions, invitations, guardians, capabilities, and relationships.
//
// Every identifier is a 16-byte value derived either from entropy
// (NewAccountID and friends, reading from an injected random source) or
// deterministically from a seed string (AccountIDFromSeed and friends,
// hashing with BLAKE3). Equality is bytewise; ordering is total and
// bytewise via Compare.
//
// The families are distinct struct types wrapping a shared unexported
// value type, so a DeviceID can never be passed where an AuthorityID is
// expected. All families marshal to lowercase hex via encoding.TextMarshaler,
// which also gives them a stable CBOR text-string form under lib/codec.
package ident
