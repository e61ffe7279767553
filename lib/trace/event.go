// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package trace

// EventKind discriminates trace event payloads.
type EventKind string

const (
	// KindTimeAdvanced records a relative clock advance.
	KindTimeAdvanced EventKind = "time_advanced"

	// KindTimeSet records an absolute clock jump.
	KindTimeSet EventKind = "time_set"

	// KindRandomGenerated records a read from the randomness source.
	KindRandomGenerated EventKind = "random_generated"

	// KindUUIDGenerated records a minted UUID.
	KindUUIDGenerated EventKind = "uuid_generated"

	// KindProtocolEvent records a domain-level step (session started,
	// epoch bumped, share verified). Protocol layers choose the name.
	KindProtocolEvent EventKind = "protocol_event"

	// KindPropertyEvaluated records a property check and its verdict.
	KindPropertyEvaluated EventKind = "property_evaluated"

	// KindErrorOccurred records an error surfaced to the harness.
	KindErrorOccurred EventKind = "error_occurred"
)

// Event is one entry in a trace. Seq is assigned by the Recorder and
// increases without gaps for the lifetime of the run; At is the
// bundle's clock in whole Unix seconds when the event was recorded.
//
// Only the fields relevant to Kind are populated.
type Event struct {
	Seq  uint64    `cbor:"1,keyasint"`
	Kind EventKind `cbor:"2,keyasint"`
	At   uint64    `cbor:"3,keyasint"`

	// DeltaMillis is the advance amount for time_advanced.
	DeltaMillis int64 `cbor:"4,keyasint,omitempty"`

	// NewTimeUnix is the target time for time_set.
	NewTimeUnix uint64 `cbor:"5,keyasint,omitempty"`

	// ByteCount is the read size for random_generated.
	ByteCount int `cbor:"6,keyasint,omitempty"`

	// UUID is the minted value for uuid_generated.
	UUID string `cbor:"7,keyasint,omitempty"`

	// Protocol names the emitting layer for protocol_event
	// ("threshold", "cgka", "choreo", ...).
	Protocol string `cbor:"8,keyasint,omitempty"`

	// Name is the protocol event or property name.
	Name string `cbor:"9,keyasint,omitempty"`

	// Detail carries small protocol-specific attributes.
	Detail map[string]string `cbor:"10,keyasint,omitempty"`

	// Passed is the verdict for property_evaluated.
	Passed bool `cbor:"11,keyasint,omitempty"`

	// Error is the message for error_occurred or a failed property.
	Error string `cbor:"12,keyasint,omitempty"`
}
