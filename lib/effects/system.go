// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"log/slog"
	"sync"
)

// System is the observability effect: structured logging, lightweight
// metrics, runtime configuration, and health reporting. Metrics are
// in-process counters read back by tests and aura-state-check; wiring
// them to an exporter is a deployment concern outside the core.
type System interface {
	// Logger returns the structured logger for this bundle.
	Logger() *slog.Logger

	// CounterAdd increments a named counter.
	CounterAdd(name string, delta int64)

	// GaugeSet sets a named gauge.
	GaugeSet(name string, value float64)

	// HistogramObserve records an observation. The standard system
	// keeps count/sum, enough for averages in tests and status output.
	HistogramObserve(name string, value float64)

	// ConfigGet reads a runtime configuration value.
	ConfigGet(key string) (string, bool)

	// ConfigSet writes a runtime configuration value.
	ConfigSet(key, value string)

	// Healthy reports whether the bundle considers itself usable.
	Healthy() bool
}

// NewStandardSystem returns the System used by both bundles. A nil
// logger gets slog.Default().
func NewStandardSystem(logger *slog.Logger) *StandardSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &StandardSystem{
		logger:     logger,
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]histogramState),
		config:     make(map[string]string),
	}
}

type histogramState struct {
	count uint64
	sum   float64
}

// StandardSystem implements System with in-memory metric state. Safe
// for concurrent use.
type StandardSystem struct {
	logger *slog.Logger

	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string]histogramState
	config     map[string]string
}

// Logger implements System.
func (ss *StandardSystem) Logger() *slog.Logger { return ss.logger }

// CounterAdd implements System.
func (ss *StandardSystem) CounterAdd(name string, delta int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.counters[name] += delta
}

// CounterValue returns a counter's current value. Test helper.
func (ss *StandardSystem) CounterValue(name string) int64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.counters[name]
}

// GaugeSet implements System.
func (ss *StandardSystem) GaugeSet(name string, value float64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.gauges[name] = value
}

// HistogramObserve implements System.
func (ss *StandardSystem) HistogramObserve(name string, value float64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	state := ss.histograms[name]
	state.count++
	state.sum += value
	ss.histograms[name] = state
}

// ConfigGet implements System.
func (ss *StandardSystem) ConfigGet(key string) (string, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	value, ok := ss.config[key]
	return value, ok
}

// ConfigSet implements System.
func (ss *StandardSystem) ConfigSet(key, value string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.config[key] = value
}

// Healthy implements System.
func (ss *StandardSystem) Healthy() bool { return true }
