// Package scheduler implements the model scheduler: a min-heap over
// (time_next, local-id) with an index for O(1) containment checks,
// per spec.md section 4.2.
package scheduler

import (
	"container/heap"

	"pdevscore/simlog"
	"pdevscore/timestamp"
)

// Entry is a scheduler slot: a model's local id and its next
// scheduled time.
type Entry struct {
	ID   int
	Time timestamp.Timestamp
}

// entryHeap is a container/heap.Interface min-heap ordered by Time,
// tie-broken by ascending ID for a stable, deterministic order.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].Time.Equal(h[j].Time) {
		return h[i].Time.Less(h[j].Time)
	}
	return h[i].ID < h[j].ID
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*Entry))
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is a min-heap over model scheduler entries with an
// id -> heap-position index maintained by container/heap.Fix so
// update/remove are O(log n) and Contains is O(1).
type Scheduler struct {
	h   entryHeap
	pos map[int]int // model id -> index in h
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{pos: make(map[int]int)}
}

// trackedHeap keeps pos in sync on every heap.Swap call: we wrap the
// entryHeap with a position-tracking adapter instead of duplicating
// container/heap's internals.
type trackedHeap struct {
	*Scheduler
}

func (t trackedHeap) Len() int      { return t.Scheduler.h.Len() }
func (t trackedHeap) Less(i, j int) bool {
	return t.Scheduler.h.Less(i, j)
}
func (t trackedHeap) Swap(i, j int) {
	t.Scheduler.h.Swap(i, j)
	t.Scheduler.pos[t.Scheduler.h[i].ID] = i
	t.Scheduler.pos[t.Scheduler.h[j].ID] = j
}
func (t trackedHeap) Push(x interface{}) {
	e := x.(*Entry)
	t.Scheduler.pos[e.ID] = len(t.Scheduler.h)
	t.Scheduler.h = append(t.Scheduler.h, e)
}
func (t trackedHeap) Pop() interface{} {
	old := t.Scheduler.h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	t.Scheduler.h = old[:n-1]
	delete(t.Scheduler.pos, e.ID)
	return e
}

func (s *Scheduler) iface() heap.Interface { return trackedHeap{s} }

// Len returns the number of scheduled models.
func (s *Scheduler) Len() int { return len(s.h) }

// Contains reports whether id is currently scheduled, in O(1).
func (s *Scheduler) Contains(id int) bool {
	_, ok := s.pos[id]
	return ok
}

// Push schedules id at time t. A model whose time is infinity is
// never stored; if it is currently scheduled, it is removed instead
// (spec.md section 4.2: "the scheduler never stores a model whose
// time_next is infinity").
func (s *Scheduler) Push(id int, t timestamp.Timestamp) {
	if t.IsInfinite() {
		s.Remove(id)
		return
	}
	if s.Contains(id) {
		s.Update(id, t)
		return
	}
	heap.Push(s.iface(), &Entry{ID: id, Time: t})
}

// Update reschedules an already-present id to a new time, or removes
// it if the new time is infinity. Panics (SchedulingInvariant bug) if
// id is not present -- callers must Push first.
func (s *Scheduler) Update(id int, t timestamp.Timestamp) {
	i, ok := s.pos[id]
	simlog.Assert(ok, "scheduler update on an absent entry")
	if t.IsInfinite() {
		s.removeAt(i)
		return
	}
	s.h[i].Time = t
	heap.Fix(s.iface(), i)
}

// Remove drops id from the scheduler if present; a no-op otherwise.
func (s *Scheduler) Remove(id int) {
	i, ok := s.pos[id]
	if !ok {
		return
	}
	s.removeAt(i)
}

func (s *Scheduler) removeAt(i int) {
	heap.Remove(s.iface(), i)
}

// Top returns the earliest entry without removing it.
func (s *Scheduler) Top() (Entry, bool) {
	if len(s.h) == 0 {
		return Entry{}, false
	}
	return *s.h[0], true
}

// Pop removes and returns the earliest entry.
func (s *Scheduler) Pop() (Entry, bool) {
	if len(s.h) == 0 {
		return Entry{}, false
	}
	e := heap.Pop(s.iface()).(*Entry)
	return *e, true
}

// FindUntil walks the heap (without popping) and returns every id
// whose scheduled time is <= mark, in heap preorder (the result is
// not sorted by time or by id).
// Entries are not removed: the caller marks these models imminent for
// the current step and reschedules them after their transition.
func (s *Scheduler) FindUntil(mark timestamp.Timestamp) []int {
	var out []int
	var walk func(i int)
	walk = func(i int) {
		if i >= len(s.h) {
			return
		}
		if mark.Less(s.h[i].Time) {
			return
		}
		out = append(out, s.h[i].ID)
		walk(2*i + 1)
		walk(2*i + 2)
	}
	walk(0)
	return out
}

// Reset clears the scheduler. Rebuild callers push each model's fresh
// time_next afterward (used after a rollback revert).
func (s *Scheduler) Reset() {
	s.h = nil
	s.pos = make(map[int]int)
}
