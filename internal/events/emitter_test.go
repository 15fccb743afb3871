// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package events

import (
	"reflect"
	"testing"
)

func TestEmitter_OnAndEmit(t *testing.T) {
	t.Parallel()

	e := New[string, int]()
	var got []int
	e.On("a", func(v int) { got = append(got, v) })
	e.On("a", func(v int) { got = append(got, v*10) })

	if !e.Emit("a", 2) {
		t.Error("Emit returned false with listeners registered")
	}
	if e.Emit("b", 3) {
		t.Error("Emit returned true without listeners")
	}

	if want := []int{2, 20}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEmitter_Once(t *testing.T) {
	t.Parallel()

	e := New[string, struct{}]()
	calls := 0
	e.Once("ready", func(struct{}) { calls++ })

	e.Emit("ready", struct{}{})
	e.Emit("ready", struct{}{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := e.ListenerCount("ready"); n != 0 {
		t.Errorf("ListenerCount = %d, want 0", n)
	}
}

func TestEmitter_Remove(t *testing.T) {
	t.Parallel()

	e := New[int, string]()
	calls := 0
	remove := e.On(1, func(string) { calls++ })
	e.On(1, func(string) {})

	remove()
	e.Emit(1, "x")

	if calls != 0 {
		t.Errorf("removed listener called %d times", calls)
	}
	if n := e.ListenerCount(1); n != 1 {
		t.Errorf("ListenerCount = %d, want 1", n)
	}
}

func TestEmitter_RemoveAll(t *testing.T) {
	t.Parallel()

	e := New[string, int]()
	e.On("a", func(int) {})
	e.On("b", func(int) {})
	e.On("c", func(int) {})

	e.RemoveAll("a")
	if e.ListenerCount("a") != 0 || e.ListenerCount("b") != 1 {
		t.Error("RemoveAll(a) removed the wrong listeners")
	}

	e.RemoveAll()
	if e.ListenerCount("b") != 0 || e.ListenerCount("c") != 0 {
		t.Error("RemoveAll() left listeners behind")
	}
}

func TestEmitter_ReentrantEmit(t *testing.T) {
	t.Parallel()

	e := New[string, int]()
	var order []string
	e.On("outer", func(int) {
		order = append(order, "outer")
		e.Emit("inner", 0)
	})
	e.On("inner", func(int) {
		order = append(order, "inner")
		e.On("late", func(int) {})
	})

	e.Emit("outer", 0)

	if want := []string{"outer", "inner"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if e.ListenerCount("late") != 1 {
		t.Error("listener registered during emit was lost")
	}
}
