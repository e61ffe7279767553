// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-foundation/aura/lib/effects"
)

// Monitored is an effects bundle whose time and randomness sources
// record into a Recorder. Protocol layers holding a Monitored append
// their own events through RecordProtocol and RecordError.
type Monitored struct {
	*effects.Effects
	recorder *Recorder
}

// Monitor wraps bundle so clock movement, randomness reads, and
// minted UUIDs are recorded. The original bundle is not modified;
// the returned Monitored embeds a copy with instrumented sources.
func Monitor(bundle *effects.Effects, recorder *Recorder) *Monitored {
	wrapped := *bundle
	monitored := &Monitored{Effects: &wrapped, recorder: recorder}

	traced := &tracedTime{inner: bundle.Time, recorder: recorder}
	if sim, ok := bundle.Time.(*effects.SimulatedTime); ok {
		wrapped.Time = &tracedSimTime{tracedTime: traced, sim: sim}
	} else {
		wrapped.Time = traced
	}
	wrapped.Random = &tracedRandom{
		inner:    bundle.Random,
		time:     wrapped.Time,
		recorder: recorder,
	}
	return monitored
}

// Recorder returns the underlying recorder.
func (m *Monitored) Recorder() *Recorder { return m.recorder }

// RecordProtocol appends a protocol event. protocol names the emitting
// layer, name the step, and detail optional attributes.
func (m *Monitored) RecordProtocol(protocol, name string, detail map[string]string) {
	m.recorder.Record(Event{
		Kind:     KindProtocolEvent,
		At:       m.Time.NowUnix(),
		Protocol: protocol,
		Name:     name,
		Detail:   detail,
	})
}

// RecordError appends an error event. Nil errors are ignored.
func (m *Monitored) RecordError(protocol string, err error) {
	if err == nil {
		return
	}
	m.recorder.Record(Event{
		Kind:     KindErrorOccurred,
		At:       m.Time.NowUnix(),
		Protocol: protocol,
		Error:    err.Error(),
	})
}

// tracedTime instruments a TimeSource. Reads pass through untouched;
// only explicit clock movement is recorded (see tracedSimTime).
type tracedTime struct {
	inner    effects.TimeSource
	recorder *Recorder
}

func (tt *tracedTime) Now() time.Time                    { return tt.inner.Now() }
func (tt *tracedTime) NowUnix() uint64                   { return tt.inner.NowUnix() }
func (tt *tracedTime) After(d time.Duration) <-chan time.Time { return tt.inner.After(d) }
func (tt *tracedTime) IsSimulated() bool                 { return tt.inner.IsSimulated() }

// tracedSimTime additionally exposes and records the simulated clock's
// movement operations.
type tracedSimTime struct {
	*tracedTime
	sim *effects.SimulatedTime
}

// Advance moves the simulated clock forward, recording the step.
func (ts *tracedSimTime) Advance(d time.Duration) {
	ts.sim.Advance(d)
	ts.recorder.Record(Event{
		Kind:        KindTimeAdvanced,
		At:          ts.sim.NowUnix(),
		DeltaMillis: d.Milliseconds(),
	})
}

// Set jumps the simulated clock, recording the jump.
func (ts *tracedSimTime) Set(t time.Time) {
	ts.sim.Set(t)
	ts.recorder.Record(Event{
		Kind:        KindTimeSet,
		At:          ts.sim.NowUnix(),
		NewTimeUnix: uint64(t.Unix()),
	})
}

// WaitForTimers delegates to the simulated clock.
func (ts *tracedSimTime) WaitForTimers(n int) { ts.sim.WaitForTimers(n) }

// tracedRandom instruments a RandomSource, recording read sizes and
// minted UUIDs (never the generated bytes themselves).
type tracedRandom struct {
	inner    effects.RandomSource
	time     effects.TimeSource
	recorder *Recorder
}

func (tr *tracedRandom) Read(p []byte) (int, error) {
	n, err := tr.inner.Read(p)
	tr.recorder.Record(Event{
		Kind:      KindRandomGenerated,
		At:        tr.time.NowUnix(),
		ByteCount: n,
	})
	return n, err
}

func (tr *tracedRandom) FillBytes(p []byte) error {
	if err := tr.inner.FillBytes(p); err != nil {
		return err
	}
	tr.recorder.Record(Event{
		Kind:      KindRandomGenerated,
		At:        tr.time.NowUnix(),
		ByteCount: len(p),
	})
	return nil
}

func (tr *tracedRandom) Uint64() (uint64, error) {
	v, err := tr.inner.Uint64()
	if err != nil {
		return 0, err
	}
	tr.recorder.Record(Event{
		Kind:      KindRandomGenerated,
		At:        tr.time.NowUnix(),
		ByteCount: 8,
	})
	return v, nil
}

func (tr *tracedRandom) UUID() (uuid.UUID, error) {
	id, err := tr.inner.UUID()
	if err != nil {
		return uuid.UUID{}, err
	}
	tr.recorder.Record(Event{
		Kind: KindUUIDGenerated,
		At:   tr.time.NowUnix(),
		UUID: id.String(),
	})
	return id, nil
}
