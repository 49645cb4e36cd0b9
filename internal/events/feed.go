// Package events provides typed in-process change feeds.
package events

import (
	"sync"
	"sync/atomic"
)

type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Change describes one mutation of a collection. Snapshot is the whole
// collection right after the mutation; Seq increases monotonically per feed so
// consumers can drop changes that arrive out of order.
type Change[T any] struct {
	Seq      uint64 `json:"seq"`
	Op       Op     `json:"op"`
	Item     T      `json:"item"`
	Snapshot []T    `json:"snapshot"`
}

type Handler[T any] func(Change[T])

// Feed fans a change out to every subscriber, synchronously and in
// subscription order.
type Feed[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler[T]
	order    []int
	seq      atomic.Uint64
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{handlers: make(map[int]Handler[T])}
}

// Subscribe registers h and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (f *Feed[T]) Subscribe(h Handler[T]) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	f.order = append(f.order, id)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.handlers, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Stamp assigns the next sequence number to c.
func (f *Feed[T]) Stamp(c Change[T]) Change[T] {
	c.Seq = f.seq.Add(1)
	return c
}

// Publish delivers c to all current subscribers. A panicking handler is not
// recovered.
func (f *Feed[T]) Publish(c Change[T]) {
	f.mu.RLock()
	hs := make([]Handler[T], 0, len(f.order))
	for _, id := range f.order {
		hs = append(hs, f.handlers[id])
	}
	f.mu.RUnlock()

	for _, h := range hs {
		h(c)
	}
}

// Len reports the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers)
}
