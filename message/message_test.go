package message

import (
	"testing"

	"github.com/magiconair/properties/assert"
	"pdevscore/timestamp"
)

func TestAntimessageMatchesOriginal(t *testing.T) {
	src := Address{CoreID: 0, LocalID: 1}
	dst := Address{CoreID: 1, LocalID: 2}
	m := New(src, 0, dst, 1, timestamp.New(100, 0), 42)
	m.Paint(Red)
	anti := m.Antimessage()

	assert.Equal(t, anti.IsAnti(), true)
	assert.Equal(t, m.Matches(anti), true)
	assert.Equal(t, anti.Color(), Red)
}

func TestFlagsAreIndependent(t *testing.T) {
	m := New(Address{}, 0, Address{}, 0, timestamp.Zero, nil)
	m.SetFlag(Heaped)
	assert.Equal(t, m.HasFlag(Heaped), true)
	assert.Equal(t, m.HasFlag(Processed), false)
	m.SetFlag(Processed)
	assert.Equal(t, m.HasFlag(Heaped), true)
	assert.Equal(t, m.HasFlag(Processed), true)
}

func TestLessOrdersByTimeThenIdentity(t *testing.T) {
	a := New(Address{0, 0}, 0, Address{1, 0}, 0, timestamp.New(5, 0), nil)
	b := New(Address{0, 0}, 0, Address{1, 0}, 0, timestamp.New(6, 0), nil)
	assert.Equal(t, Less(a, b), true)
	assert.Equal(t, Less(b, a), false)
	c := New(Address{0, 0}, 0, Address{1, 1}, 0, timestamp.New(5, 0), nil)
	assert.Equal(t, Less(a, c), true)
}
