package sift

import (
	"sync/atomic"
	"time"
)

// breaker is the rewriter's circuit breaker: closed → open → half-open.
// It is the only mutable state shared across requests, so every transition
// is a single compare-and-swap; parallel requests never race past each other.
type breaker struct {
	threshold int64         // consecutive failures before opening
	cooldown  time.Duration // how long the circuit stays open

	state    atomic.Int32 // breakerClosed, breakerOpen, breakerHalfOpen
	failures atomic.Int64 // consecutive failures while closed
	openedAt atomic.Int64 // unix nanos of the transition to open
}

const (
	breakerClosed int32 = iota
	breakerOpen
	breakerHalfOpen
)

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: int64(threshold), cooldown: cooldown}
}

// Allow reports whether a call may proceed. While open, calls are rejected
// until the cooldown elapses; then exactly one caller wins the CAS into
// half-open and probes, while the rest stay rejected until the probe resolves.
func (b *breaker) Allow() bool {
	switch b.state.Load() {
	case breakerClosed:
		return true
	case breakerOpen:
		opened := time.Unix(0, b.openedAt.Load())
		if time.Since(opened) < b.cooldown {
			return false
		}
		return b.state.CompareAndSwap(breakerOpen, breakerHalfOpen)
	default: // half-open: a probe is already in flight
		return false
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *breaker) RecordSuccess() {
	b.failures.Store(0)
	b.state.Store(breakerClosed)
}

// RecordFailure counts a failure. A failed half-open probe reopens the
// circuit immediately; while closed, reaching the threshold opens it.
func (b *breaker) RecordFailure() {
	if b.state.CompareAndSwap(breakerHalfOpen, breakerOpen) {
		b.openedAt.Store(time.Now().UnixNano())
		return
	}
	if b.failures.Add(1) >= b.threshold {
		if b.state.CompareAndSwap(breakerClosed, breakerOpen) {
			b.openedAt.Store(time.Now().UnixNano())
		}
	}
}
