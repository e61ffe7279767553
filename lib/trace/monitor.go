// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import "sync"

// Property is a predicate over a recorded trace. It returns nil when
// the property holds and a descriptive error when it is violated.
type Property func(events []Event) error

// Violation reports a failed property evaluation.
type Violation struct {
	Property string
	Err      error
}

// PropertyMonitor holds named properties and evaluates them against a
// recorder. Properties are evaluated in registration order so runs
// produce stable trace output.
type PropertyMonitor struct {
	mu         sync.Mutex
	names      []string
	properties map[string]Property
}

// NewPropertyMonitor returns an empty monitor.
func NewPropertyMonitor() *PropertyMonitor {
	return &PropertyMonitor{properties: make(map[string]Property)}
}

// Register adds (or replaces) a named property.
func (pm *PropertyMonitor) Register(name string, property Property) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.properties[name]; !exists {
		pm.names = append(pm.names, name)
	}
	pm.properties[name] = property
}

// Evaluate runs every registered property over the recorder's retained
// events and records one property_evaluated event per property. The
// evaluation events themselves are appended after the snapshot is
// taken, so properties never see their own verdicts.
func (pm *PropertyMonitor) Evaluate(recorder *Recorder) []Violation {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	snapshot := recorder.Events()
	var at uint64
	if len(snapshot) > 0 {
		at = snapshot[len(snapshot)-1].At
	}

	var violations []Violation
	for _, name := range pm.names {
		err := pm.properties[name](snapshot)
		event := Event{
			Kind:   KindPropertyEvaluated,
			At:     at,
			Name:   name,
			Passed: err == nil,
		}
		if err != nil {
			event.Error = err.Error()
			violations = append(violations, Violation{Property: name, Err: err})
		}
		recorder.Record(event)
	}
	return violations
}
