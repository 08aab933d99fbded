// Package timestamp implements the (real-time, causal-index) pair used
// to order events in the simulation.
package timestamp

import (
	"fmt"
	"math"
)

// Timestamp is a (real time, causal tiebreaker) pair with a total,
// lexicographic order: Time first, Causal to break ties when two
// events share the same real time.
type Timestamp struct {
	Time   float64
	Causal uint64
}

// Zero is the smallest representable timestamp.
var Zero = Timestamp{}

// Infinity compares greater than every finite timestamp.
var Infinity = Timestamp{Time: math.Inf(1)}

// New builds a timestamp at real time t with causal index c.
func New(t float64, c uint64) Timestamp {
	return Timestamp{Time: t, Causal: c}
}

// At builds a timestamp at real time t with causal index 0.
func At(t float64) Timestamp {
	return Timestamp{Time: t}
}

// IsInfinite reports whether t is the infinity sentinel.
func (t Timestamp) IsInfinite() bool {
	return math.IsInf(t.Time, 1)
}

// Add advances t by a non-negative time-advance dt, resetting the
// causal index: a new real time starts a fresh causal ordering.
func (t Timestamp) Add(dt float64) Timestamp {
	if t.IsInfinite() {
		return t
	}
	return Timestamp{Time: t.Time + dt, Causal: 0}
}

// AddTimestamp advances t by a time-advance expressed as a Timestamp
// itself (its Time component is the duration, its Causal component a
// priority tiebreak carried into the result) -- this is how a model's
// TimeAdvance() return value composes with time_last to produce
// time_next per spec.md section 3.
func (t Timestamp) AddTimestamp(dt Timestamp) Timestamp {
	if t.IsInfinite() || dt.IsInfinite() {
		return Infinity
	}
	return Timestamp{Time: t.Time + dt.Time, Causal: dt.Causal}
}

// Sub returns the elapsed real time between an earlier timestamp t
// and a later one now (used for external_transition's elapsed
// argument); the causal index carries no meaning for a duration and
// is always zero in the result.
func Sub(now, t Timestamp) Timestamp {
	if now.IsInfinite() {
		return Infinity
	}
	return Timestamp{Time: now.Time - t.Time}
}

// Less reports whether t sorts strictly before o.
func (t Timestamp) Less(o Timestamp) bool {
	if t.Time != o.Time {
		return t.Time < o.Time
	}
	return t.Causal < o.Causal
}

// LessEqual reports whether t sorts at or before o.
func (t Timestamp) LessEqual(o Timestamp) bool {
	return !o.Less(t)
}

// Equal reports whether t and o denote the same instant.
func (t Timestamp) Equal(o Timestamp) bool {
	return t.Time == o.Time && t.Causal == o.Causal
}

// Min returns the earlier of a and b.
func Min(a, b Timestamp) Timestamp {
	if b.Less(a) {
		return b
	}
	return a
}

// Max returns the later of a and b.
func Max(a, b Timestamp) Timestamp {
	if a.Less(b) {
		return b
	}
	return a
}

func (t Timestamp) String() string {
	if t.IsInfinite() {
		return "inf"
	}
	return fmt.Sprintf("%g:%d", t.Time, t.Causal)
}
