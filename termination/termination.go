// Package termination implements the two independent stop conditions
// of spec.md section 4.9: a simulated-time cutoff and a user functor over
// the resident model list.
package termination

import (
	"sync/atomic"

	"pdevscore/model"
	"pdevscore/timestamp"
)

// Functor inspects the resident atomic models of one core and reports
// whether the simulation should stop.
type Functor func(resident []model.AtomicModel) bool

// SharedClock is a termination time mutable from any core that shares
// it. When one core's functor fires early, it publishes its current
// time here so every peer halts at the same simulated instant instead
// of running on to the originally configured termination time
// (spec.md section 4.9).
type SharedClock struct {
	v atomic.Value // timestamp.Timestamp
}

// NewSharedClock builds a clock seeded at initial, normally the
// configured termination time.
func NewSharedClock(initial timestamp.Timestamp) *SharedClock {
	c := &SharedClock{}
	c.v.Store(initial)
	return c
}

// Load returns the clock's current value.
func (c *SharedClock) Load() timestamp.Timestamp {
	return c.v.Load().(timestamp.Timestamp)
}

// Publish lowers the clock to t if t is earlier than its current
// value.
func (c *SharedClock) Publish(t timestamp.Timestamp) {
	for {
		cur := c.Load()
		if !t.Less(cur) {
			return
		}
		if c.v.CompareAndSwap(cur, t) {
			return
		}
	}
}

// Condition evaluates both stop conditions after every small step.
type Condition struct {
	Time    timestamp.Timestamp
	Functor Functor
	Shared  *SharedClock
}

// New builds a Condition with a termination time and an optional
// functor (nil disables the functor check). shared may be nil when a
// core has no peers to broadcast an early functor-triggered stop to.
func New(t timestamp.Timestamp, f Functor, shared *SharedClock) Condition {
	return Condition{Time: t, Functor: f, Shared: shared}
}

// TimeExpired reports whether now has reached or passed the
// termination time, or a peer already published an earlier one. An
// infinite termination time is never reached.
func (c Condition) TimeExpired(now timestamp.Timestamp) bool {
	if c.Shared != nil {
		if s := c.Shared.Load(); !s.IsInfinite() && s.LessEqual(now) {
			return true
		}
	}
	return !c.Time.IsInfinite() && c.Time.LessEqual(now)
}

// FunctorFired evaluates the functor against the resident models, or
// reports false if none was configured.
func (c Condition) FunctorFired(resident []model.AtomicModel) bool {
	if c.Functor == nil {
		return false
	}
	return c.Functor(resident)
}

// ShouldStop is the combined check a core runs after every small step.
// A functor-triggered stop publishes now to the shared clock before
// reporting true, so every core sharing it stops at the same
// simulated instant (spec.md section 4.9).
func (c Condition) ShouldStop(now timestamp.Timestamp, resident []model.AtomicModel) bool {
	if c.FunctorFired(resident) {
		if c.Shared != nil {
			c.Shared.Publish(now)
		}
		return true
	}
	return c.TimeExpired(now)
}
