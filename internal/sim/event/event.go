// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package event implements the deletion-event queue: a min-heap of
// (expiry, object) pairs ordered by expiry time, ties broken by object id for
// determinism.
package event

import (
	"container/heap"

	"github.com/asch/ssdsim/internal/sim/id"
)

// Event is a single scheduled deletion.
type Event struct {
	Expiry float64
	Object id.ObjectID
}

// Manager is a min-heap of pending deletion events.
type Manager struct {
	heap eventHeap
}

// New returns an empty event manager.
func New() *Manager {
	m := &Manager{}
	heap.Init(&m.heap)
	return m
}

// Push schedules obj for deletion at the given absolute expiry time.
func (m *Manager) Push(expiry float64, obj id.ObjectID) {
	heap.Push(&m.heap, Event{Expiry: expiry, Object: obj})
}

// Empty reports whether no events remain.
func (m *Manager) Empty() bool {
	return m.heap.Len() == 0
}

// Peek returns the earliest pending event without removing it.
func (m *Manager) Peek() (Event, bool) {
	if m.Empty() {
		return Event{}, false
	}
	return m.heap[0], true
}

// PopIfDue drains and returns every event whose expiry is <= now, in expiry
// order (ties broken by object id).
func (m *Manager) PopIfDue(now float64) []Event {
	var due []Event
	for !m.Empty() {
		e, _ := m.Peek()
		if e.Expiry > now {
			break
		}
		due = append(due, heap.Pop(&m.heap).(Event))
	}
	return due
}

type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Expiry != h[j].Expiry {
		return h[i].Expiry < h[j].Expiry
	}
	return h[i].Object < h[j].Object
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
