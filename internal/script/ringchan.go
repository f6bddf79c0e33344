package script

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel that drops its oldest element instead of
// blocking the producer. Consumers read C() like any channel.
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewRingChannel panics on a non-positive capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("script: ring capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send never blocks. It reports false when the value was not queued
// because the channel is closed.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	for {
		select {
		case rc.ch <- v:
			rc.sent.Add(1)
			return true
		default:
		}
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
		default:
		}
	}
}

// TrySend queues v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		rc.sent.Add(1)
		return true
	default:
		return false
	}
}

// TryReceive returns (zero, false) when nothing is queued.
func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Sent counts queued values, Dropped the ones overwritten before being read.
func (rc *RingChannel[T]) Sent() int64    { return rc.sent.Load() }
func (rc *RingChannel[T]) Dropped() int64 { return rc.dropped.Load() }

// Close is idempotent. Queued values stay readable.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}
