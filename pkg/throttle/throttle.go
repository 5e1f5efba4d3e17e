// Package throttle enforces penalty-adjusted rate caps per agent using a
// token bucket. The bucket is not a general rate limiter: its refill rate
// is scaled down by the severity of the agent's active penalty, and reset
// when the penalty is lifted.
package throttle

import (
	"sync"
	"time"
)

// Throttle is a thread-safe token bucket whose effective refill rate is
// scaled by a penalty multiplier in (0,1].
type Throttle struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second at multiplier 1.0
	multiplier float64
	step       float64 // refill reduction per severity step
	floor      float64 // minimum multiplier
	lastRefill time.Time
}

// Status is a read-only snapshot of a throttle.
type Status struct {
	Available  float64 `json:"available"`
	Capacity   float64 `json:"capacity"`
	RefillRate float64 `json:"refill_rate"`
	Multiplier float64 `json:"multiplier"`
}

// New creates a full bucket. step and floor control how ApplyPenalty maps
// severity to the multiplier.
func New(capacity int, refillRate, step, floor float64) *Throttle {
	return &Throttle{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		multiplier: 1.0,
		step:       step,
		floor:      floor,
		lastRefill: time.Now(),
	}
}

// refillLocked credits tokens owed since the last refill. Caller holds mu.
func (t *Throttle) refillLocked(now time.Time) {
	elapsed := now.Sub(t.lastRefill).Seconds()
	if elapsed > 0 {
		t.tokens += elapsed * t.refillRate * t.multiplier
		if t.tokens > t.capacity {
			t.tokens = t.capacity
		}
	}
	t.lastRefill = now
}

// Consume refills, then deducts n tokens if available. A failed consume
// leaves the bucket unchanged apart from the refill.
func (t *Throttle) Consume(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refillLocked(time.Now())

	if t.tokens >= float64(n) {
		t.tokens -= float64(n)
		return true
	}
	return false
}

// ApplyPenalty scales the effective refill rate down by one step per
// severity level beyond the first, clamped at the floor.
func (t *Throttle) ApplyPenalty(severity int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if severity < 1 {
		severity = 1
	}
	m := 1.0 - float64(severity-1)*t.step
	if m < t.floor {
		m = t.floor
	}
	t.multiplier = m
}

// Multiplier returns the current penalty multiplier.
func (t *Throttle) Multiplier() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.multiplier
}

// Status refills and returns a snapshot.
func (t *Throttle) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refillLocked(time.Now())
	return Status{
		Available:  t.tokens,
		Capacity:   t.capacity,
		RefillRate: t.refillRate,
		Multiplier: t.multiplier,
	}
}

// Reset restores full capacity and a multiplier of 1.0. Used when a
// penalty is lifted by recovery or an approved appeal.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tokens = t.capacity
	t.multiplier = 1.0
	t.lastRefill = time.Now()
}
