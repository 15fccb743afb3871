// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package events provides a small typed, synchronous event emitter.
//
// Listeners run on the emitting goroutine, in registration order, after the
// emitter lock has been released. A listener may therefore emit further events
// or register/remove listeners without deadlocking.
package events

import "sync"

type listener[P any] struct {
	id   uint64
	fn   func(P)
	once bool
}

// Emitter dispatches payloads of type P to listeners keyed by event K.
// The zero value is not usable; call New.
type Emitter[K comparable, P any] struct {
	mu        sync.Mutex
	listeners map[K][]listener[P]
	nextID    uint64
}

// New creates an empty emitter.
func New[K comparable, P any]() *Emitter[K, P] {
	return &Emitter[K, P]{listeners: make(map[K][]listener[P])}
}

// On registers fn for event and returns a function that removes it.
func (e *Emitter[K, P]) On(event K, fn func(P)) (remove func()) {
	return e.add(event, fn, false)
}

// Once registers fn for the next emission of event only.
func (e *Emitter[K, P]) Once(event K, fn func(P)) (remove func()) {
	return e.add(event, fn, true)
}

func (e *Emitter[K, P]) add(event K, fn func(P), once bool) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listener[P]{id: id, fn: fn, once: once})
	e.mu.Unlock()

	return func() { e.remove(event, id) }
}

func (e *Emitter[K, P]) remove(event K, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

// Emit delivers payload to every listener of event and reports whether there
// was at least one.
func (e *Emitter[K, P]) Emit(event K, payload P) bool {
	e.mu.Lock()
	ls := e.listeners[event]
	if len(ls) == 0 {
		e.mu.Unlock()
		return false
	}
	snapshot := make([]listener[P], len(ls))
	copy(snapshot, ls)

	kept := ls[:0:0]
	for _, l := range ls {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(payload)
	}
	return true
}

// RemoveAll drops the listeners of the given events, or of every event when
// none is given.
func (e *Emitter[K, P]) RemoveAll(events ...K) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(events) == 0 {
		e.listeners = make(map[K][]listener[P])
		return
	}
	for _, ev := range events {
		delete(e.listeners, ev)
	}
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter[K, P]) ListenerCount(event K) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}
