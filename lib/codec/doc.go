// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Aura's canonical CBOR encoding.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so that
// the same logical value always serializes to identical bytes on every
// node. Fact envelopes are signed over — and content-addressed by —
// their canonical encoding, and the eligibility-view hash feeding CGKA
// membership is a hash of canonically encoded entries, so byte-level
// determinism is a correctness requirement rather than a convenience.
//
// Wire structs tag fields with `cbor:"N,keyasint"` for compact stable
// encodings. Decoding ignores unknown fields for forward compatibility.
package codec
