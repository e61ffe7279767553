// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import "sync"

// DefaultRecorderCapacity is the default event retention. 64K events
// covers multi-hour simulated runs; older events are overwritten.
const DefaultRecorderCapacity = 64 * 1024

// Recorder is a fixed-capacity circular buffer of trace events with
// sequence number tracking. When full, new events overwrite the
// oldest. The sequence counter never resets, so EventsFrom lets a
// consumer detect and skip over a gap it missed.
//
// All methods are safe for concurrent use.
type Recorder struct {
	mutex    sync.Mutex
	events   []Event
	capacity int
	// writePosition is the next slot to write (0 to capacity-1).
	writePosition int
	// totalRecorded is the total number of events ever recorded. The
	// buffer holds the last min(totalRecorded, capacity) of them.
	totalRecorded uint64
}

// NewRecorder creates a recorder retaining up to capacity events. Use
// DefaultRecorderCapacity for the standard buffer.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// Record appends an event, assigning its sequence number. Returns the
// assigned sequence.
func (rec *Recorder) Record(event Event) uint64 {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	event.Seq = rec.totalRecorded
	rec.events[rec.writePosition] = event
	rec.writePosition = (rec.writePosition + 1) % rec.capacity
	rec.totalRecorded++
	return event.Seq
}

// Events returns a copy of all retained events in recording order.
func (rec *Recorder) Events() []Event {
	return rec.EventsFrom(0)
}

// EventsFrom returns retained events with sequence >= seq, oldest
// first. If seq is older than the oldest retained event, everything
// retained is returned (the caller missed some events).
func (rec *Recorder) EventsFrom(seq uint64) []Event {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	stored := rec.totalRecorded
	if stored > uint64(rec.capacity) {
		stored = uint64(rec.capacity)
	}
	oldest := rec.totalRecorded - stored
	if seq < oldest {
		seq = oldest
	}
	if seq >= rec.totalRecorded {
		return nil
	}

	count := int(rec.totalRecorded - seq)
	result := make([]Event, 0, count)
	start := (rec.writePosition - int(stored) + int(seq-oldest)) % rec.capacity
	if start < 0 {
		start += rec.capacity
	}
	for i := 0; i < count; i++ {
		result = append(result, rec.events[(start+i)%rec.capacity])
	}
	return result
}

// Len returns the number of retained events.
func (rec *Recorder) Len() int {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if rec.totalRecorded > uint64(rec.capacity) {
		return rec.capacity
	}
	return int(rec.totalRecorded)
}

// TotalRecorded returns the lifetime event count, including events
// already overwritten.
func (rec *Recorder) TotalRecorded() uint64 {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return rec.totalRecorded
}
