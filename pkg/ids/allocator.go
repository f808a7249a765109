// Package ids hands out order and request identifiers.
package ids

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Allocator produces strictly increasing identifiers. Order ids must be
// seeded from the gateway's next-valid-id event before use; request ids
// come from a pre-seeded sequence.
type Allocator struct {
	mu       sync.Mutex
	next     int64
	seeded   bool
	degraded bool
	fallback int64
	ready    chan struct{}
	logger   *logrus.Logger
}

// NewAllocator returns an unseeded allocator. fallback is the first id used
// when Next is called before the gateway ever delivered a seed.
func NewAllocator(fallback int64, logger *logrus.Logger) *Allocator {
	if fallback <= 0 {
		fallback = 1
	}
	return &Allocator{
		fallback: fallback,
		ready:    make(chan struct{}),
		logger:   logger,
	}
}

// NewSequence returns an allocator already seeded with base.
func NewSequence(base int64, logger *logrus.Logger) *Allocator {
	a := NewAllocator(base, logger)
	a.Seed(base)
	return a
}

// Seed sets the counter on the first call. Later calls only move it forward.
func (a *Allocator) Seed(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.seeded {
		a.next = id
		a.seeded = true
		close(a.ready)
		return
	}
	if id > a.next {
		a.next = id
	}
}

// WaitReady blocks until the allocator is seeded, the timeout elapses or
// ctx is done. It reports whether a seed arrived.
func (a *Allocator) WaitReady(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Ready reports whether a seed has been applied.
func (a *Allocator) Ready() bool {
	select {
	case <-a.ready:
		return true
	default:
		return false
	}
}

// Degraded reports whether ids were handed out from the fallback seed.
func (a *Allocator) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

func (a *Allocator) Next() int64 {
	return a.NextN(1)[0]
}

// NextN reserves n consecutive ids in one step.
func (a *Allocator) NextN(n int) []int64 {
	if n <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.seeded {
		a.degradeLocked()
	}

	out := make([]int64, n)
	for i := range out {
		out[i] = a.next
		a.next++
	}
	return out
}

// Peek returns the id the next call to Next would hand out.
func (a *Allocator) Peek() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.seeded {
		return a.fallback
	}
	return a.next
}

func (a *Allocator) degradeLocked() {
	a.next = a.fallback
	a.seeded = true
	a.degraded = true
	close(a.ready)
	if a.logger != nil {
		a.logger.WithField("fallback_id", a.fallback).
			Warn("No next valid id received from gateway, allocating from fallback seed")
	}
}
