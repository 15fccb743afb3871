// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package backoff provides a stateful exponential-delay scheduler.
//
// A Backoff owns at most one pending timer. Each ScheduleCall doubles the delay
// of the previous one (starting at the base delay) until the maximum delay is
// reached:
//
//	delay(k) = min(base * 2^k, max)
//
// Reset cancels the pending timer and brings the next delay back to base.
// Every retry loop in the sync engine (push reconnection, update worker
// catch-up fetches) owns its own Backoff; instances are never shared.
package backoff

import (
	"sync"
	"time"

	expbackoff "github.com/cenkalti/backoff/v4"
)

const (
	// DefaultBase is the delay of the first scheduled call.
	DefaultBase = 1 * time.Second

	// DefaultMax caps the delay of any scheduled call.
	DefaultMax = 30 * time.Minute
)

// Backoff schedules a callback with exponentially increasing delays.
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	cb       func()
	base     time.Duration
	max      time.Duration
	seq      *expbackoff.ExponentialBackOff
	attempts int
	timer    *time.Timer

	// generation invalidates timers that fired concurrently with Reset
	generation uint64
}

// New creates a Backoff that invokes cb after each scheduled delay.
// Non-positive base or max fall back to DefaultBase and DefaultMax.
func New(cb func(), base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	if max < base {
		max = base
	}
	return &Backoff{cb: cb, base: base, max: max, seq: sequence(base, max)}
}

// sequence returns a deterministic doubling sequence that never stops.
func sequence(base, max time.Duration) *expbackoff.ExponentialBackOff {
	seq := expbackoff.NewExponentialBackOff()
	seq.InitialInterval = base
	seq.MaxInterval = max
	seq.Multiplier = 2
	seq.RandomizationFactor = 0
	seq.MaxElapsedTime = 0
	seq.Reset()
	return seq
}

// Delay returns min(base * 2^attempt, max).
func Delay(base, max time.Duration, attempt int) time.Duration {
	seq := sequence(base, max)
	delay := seq.NextBackOff()
	for i := 0; i < attempt && delay < max; i++ {
		delay = seq.NextBackOff()
	}
	return delay
}

// ScheduleCall schedules the callback after the next delay in the sequence,
// replacing any pending call, and returns that delay.
func (b *Backoff) ScheduleCall() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.seq.NextBackOff()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.generation++
	gen := b.generation
	b.timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		if b.generation != gen {
			b.mu.Unlock()
			return
		}
		b.timer = nil
		b.mu.Unlock()
		b.cb()
	})
	b.attempts++
	return delay
}

// Reset cancels the pending call, if any, and zeroes the attempt counter.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = 0
	b.seq.Reset()
	b.generation++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Attempts returns the number of calls scheduled since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Pending reports whether a scheduled call has not fired yet.
func (b *Backoff) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}
