// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace records effect activity during simulation runs.
//
// A Recorder is a bounded in-memory ring of trace events. Wrapping an
// effects bundle with Monitor instruments its time and randomness
// sources so every advance, read, and minted UUID lands in the trace;
// protocol layers append their own events through RecordProtocol.
//
// A PropertyMonitor evaluates named predicates over the recorded
// trace. Evaluations are themselves recorded, so an exported archive
// shows both what happened and what was checked. Archives are
// zstd-compressed CBOR event streams written by Export and read back
// by Import.
package trace
