// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements the synchronization primitives used by the collectives
// rendezvous machinery: a one-shot countdown (BlockingCounter), one-shot signals
// (Latch, LatchWithValue) and a typed wrapper around sync.Map (SyncMap).
//
// All primitives expose their release condition as a closed channel so they can be
// composed in select statements.
package xsync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// BlockingCounter blocks waiters until its count reaches zero.
//
// The count is set at construction and can only go down, one Decrement at a time.
// Once it reaches zero all current and future waiters are released, forever -- the
// counter is single-use and cannot be reset.
type BlockingCounter struct {
	count atomic.Int64
	done  chan struct{}
}

// NewBlockingCounter returns a counter that releases waiters after count calls to
// Decrement. The count must be >= 0; with a count of zero the counter starts released.
func NewBlockingCounter(count int) *BlockingCounter {
	if count < 0 {
		panic(errors.Errorf("BlockingCounter: count must be >= 0, got %d", count))
	}
	c := &BlockingCounter{done: make(chan struct{})}
	c.count.Store(int64(count))
	if count == 0 {
		close(c.done)
	}
	return c
}

// Decrement lowers the count by one, releasing all waiters when it reaches zero.
// Decrementing below zero is a programmer error and panics.
func (c *BlockingCounter) Decrement() {
	left := c.count.Add(-1)
	if left == 0 {
		close(c.done)
	} else if left < 0 {
		panic(errors.Errorf("BlockingCounter: decremented below zero"))
	}
}

// Wait blocks until the count reaches zero.
func (c *BlockingCounter) Wait() {
	<-c.done
}

// WaitFor blocks until the count reaches zero or the timeout expires, and returns
// whether zero was reached. A timed-out WaitFor does not consume anything: callers
// may keep waiting with Wait (or another WaitFor) without disturbing the count.
func (c *BlockingCounter) WaitFor(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitChan returns the channel closed when the count reaches zero, for use in
// select statements.
func (c *BlockingCounter) WaitChan() <-chan struct{} {
	return c.done
}

// Latch implements a "latch" synchronization mechanism.
//
// A Latch is a signal that can be waited for until it is triggered.
// Once triggered it never changes state, it's forever triggered.
type Latch struct {
	muTrigger sync.Mutex
	wait      chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{
		wait: make(chan struct{}),
	}
}

// Trigger latch.
func (l *Latch) Trigger() {
	l.muTrigger.Lock()
	defer l.muTrigger.Unlock()

	if l.Test() {
		// Already triggered.
		return
	}
	close(l.wait)
}

// Wait waits for the latch to be triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test checks whether the latch has been triggered.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// WaitChan returns the channel that one can use on a `select` to check when
// the latch triggers.
// The returned channel is closed when the latch is triggered.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// LatchWithValue is a Latch carrying a value published at trigger time.
//
// It is the broadcast half of a rendezvous: one goroutine triggers with the
// outcome, every waiter observes the same value. Only the first Trigger takes
// effect; later ones are discarded.
type LatchWithValue[T any] struct {
	value T
	latch *Latch
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{
		latch: NewLatch(),
	}
}

// Trigger latch and saves the associated value.
// If the latch was already triggered, the value is discarded.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.muTrigger.Lock()
	defer l.latch.muTrigger.Unlock()

	if l.latch.Test() {
		return
	}
	l.value = value
	close(l.latch.wait)
}

// Wait waits for the latch to be triggered and returns the published value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test checks whether the latch has been triggered.
func (l *LatchWithValue[T]) Test() bool {
	return l.latch.Test()
}

// WaitChan returns the channel closed when the latch is triggered. The published
// value can be read with Wait after the channel is closed.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} {
	return l.latch.WaitChan()
}

// SyncMap is a trivial wrapper to sync.Map that casts the key and value types accordingly.
//
// As sync.Map, it can be created ready to go, but should not be copied once it is used.
type SyncMap[K comparable, V any] struct {
	Map sync.Map
}

// Load returns the value stored in the map for a key, or the zero value if no value is
// present. The ok result indicates whether value was found in the map.
func (m *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.Map.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

// Store sets the value for a key.
func (m *SyncMap[K, V]) Store(key K, value V) {
	m.Map.Store(key, value)
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.Map.LoadOrStore(key, value)
	return v.(V), loaded
}

// Delete deletes the value for a key.
func (m *SyncMap[K, V]) Delete(key K) {
	m.Map.Delete(key)
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, range stops the iteration.
func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.Map.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
