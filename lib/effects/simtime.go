// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"sort"
	"sync"
	"time"
)

// NewSimulatedTime returns a SimulatedTime initialized to the given
// time. Time stands still until Advance or Set is called. All After
// waiters register pending deadlines that fire when the clock advances
// past them, in deadline order for determinism.
//
// SimulatedTime is safe for concurrent use by multiple goroutines.
func NewSimulatedTime(initial time.Time) *SimulatedTime {
	st := &SimulatedTime{current: initial}
	st.waitersChanged = sync.NewCond(&st.mu)
	return st
}

// SimulatedTime is a deterministic TimeSource for simulation. Beyond
// the TimeSource interface it exposes Advance, Set, WaitForTimers, and
// PendingCount for test orchestration and time-travel replay.
type SimulatedTime struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*simWaiter
	waitersChanged *sync.Cond
}

// simWaiter is a pending After deadline.
type simWaiter struct {
	deadline time.Time
	channel  chan time.Time
	fired    bool
}

// Now returns the current simulated time.
func (st *SimulatedTime) Now() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// NowUnix returns the current simulated time in whole Unix seconds.
func (st *SimulatedTime) NowUnix() uint64 {
	return uint64(st.Now().Unix())
}

// After returns a channel that receives once the clock advances past
// the deadline. If d <= 0, the channel receives immediately without
// registering a waiter.
func (st *SimulatedTime) After(d time.Duration) <-chan time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- st.current
		return channel
	}

	st.waiters = append(st.waiters, &simWaiter{
		deadline: st.current.Add(d),
		channel:  channel,
	})
	st.waitersChanged.Broadcast()
	return channel
}

// IsSimulated always returns true.
func (st *SimulatedTime) IsSimulated() bool { return true }

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order. Channel sends
// are non-blocking; the After channels are buffered so a fired waiter
// is never lost.
func (st *SimulatedTime) Advance(d time.Duration) {
	st.mu.Lock()
	st.current = st.current.Add(d)
	target := st.current
	st.mu.Unlock()

	st.fireExpired(target)
}

// Set jumps the clock to an absolute time. Setting the clock backward
// is allowed for time-travel replay; waiters keep their original
// deadlines and fire only when the clock passes them again.
func (st *SimulatedTime) Set(t time.Time) {
	st.mu.Lock()
	st.current = t
	target := st.current
	st.mu.Unlock()

	st.fireExpired(target)
}

// fireExpired removes and fires waiters whose deadline is at or before
// target, in deadline order.
func (st *SimulatedTime) fireExpired(target time.Time) {
	st.mu.Lock()

	var toFire []*simWaiter
	var remaining []*simWaiter
	for _, waiter := range st.waiters {
		if !waiter.deadline.After(target) {
			waiter.fired = true
			toFire = append(toFire, waiter)
		} else {
			remaining = append(remaining, waiter)
		}
	}
	st.waiters = remaining
	st.mu.Unlock()

	sort.Slice(toFire, func(i, j int) bool {
		return toFire[i].deadline.Before(toFire[j].deadline)
	})
	for _, waiter := range toFire {
		select {
		case waiter.channel <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n After waiters are pending.
// This eliminates the race between a goroutine registering a timeout
// and the test advancing the clock:
//
//	go session.Run(ctx)
//	simTime.WaitForTimers(1)          // blocks until the step timeout registers
//	simTime.Advance(31 * time.Second) // deterministically fires it
func (st *SimulatedTime) WaitForTimers(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for len(st.waiters) < n {
		st.waitersChanged.Wait()
	}
}

// PendingCount returns the number of pending waiters. Useful for test
// assertions.
func (st *SimulatedTime) PendingCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.waiters)
}
