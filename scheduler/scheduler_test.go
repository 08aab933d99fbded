package scheduler

import (
	"testing"

	"github.com/magiconair/properties/assert"

	"pdevscore/timestamp"
)

func TestPushPopOrder(t *testing.T) {
	s := New()
	s.Push(2, timestamp.New(20, 0))
	s.Push(1, timestamp.New(10, 0))
	s.Push(3, timestamp.New(10, 1))

	e, ok := s.Pop()
	assert.Equal(t, ok, true)
	assert.Equal(t, e.ID, 1)

	e, ok = s.Pop()
	assert.Equal(t, ok, true)
	assert.Equal(t, e.ID, 3)

	e, ok = s.Pop()
	assert.Equal(t, ok, true)
	assert.Equal(t, e.ID, 2)
}

func TestTieBreakByID(t *testing.T) {
	s := New()
	s.Push(5, timestamp.New(1, 0))
	s.Push(1, timestamp.New(1, 0))
	s.Push(3, timestamp.New(1, 0))
	e, _ := s.Top()
	assert.Equal(t, e.ID, 1)
}

func TestContainsAndUpdate(t *testing.T) {
	s := New()
	s.Push(1, timestamp.New(5, 0))
	assert.Equal(t, s.Contains(1), true)
	s.Update(1, timestamp.New(1, 0))
	e, _ := s.Top()
	assert.Equal(t, e.Time, timestamp.New(1, 0))
}

func TestInfinityNeverStored(t *testing.T) {
	s := New()
	s.Push(1, timestamp.Infinity)
	assert.Equal(t, s.Contains(1), false)
	assert.Equal(t, s.Len(), 0)

	s.Push(1, timestamp.New(5, 0))
	s.Update(1, timestamp.Infinity)
	assert.Equal(t, s.Contains(1), false)
}

func TestFindUntilDoesNotRemove(t *testing.T) {
	s := New()
	s.Push(1, timestamp.New(5, 0))
	s.Push(2, timestamp.New(10, 0))
	s.Push(3, timestamp.New(5, 1))

	ids := s.FindUntil(timestamp.New(5, 1))
	assert.Equal(t, len(ids), 2)
	assert.Equal(t, s.Len(), 3)
	assert.Equal(t, s.Contains(1), true)
}

func TestRemove(t *testing.T) {
	s := New()
	s.Push(1, timestamp.New(5, 0))
	s.Push(2, timestamp.New(6, 0))
	s.Remove(1)
	assert.Equal(t, s.Contains(1), false)
	assert.Equal(t, s.Len(), 1)
	s.Remove(99) // no-op, absent id
}

func TestResetRebuild(t *testing.T) {
	s := New()
	s.Push(1, timestamp.New(5, 0))
	s.Reset()
	assert.Equal(t, s.Len(), 0)
	s.Push(1, timestamp.New(1, 0))
	assert.Equal(t, s.Contains(1), true)
}
