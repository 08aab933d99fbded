package timestamp

import (
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestTotalOrder(t *testing.T) {
	a := New(10, 0)
	b := New(10, 1)
	c := New(11, 0)
	assert.Equal(t, a.Less(b), true)
	assert.Equal(t, b.Less(c), true)
	assert.Equal(t, c.Less(a), false)
}

func TestInfinityDominates(t *testing.T) {
	assert.Equal(t, New(1e12, 0).Less(Infinity), true)
	assert.Equal(t, Infinity.Less(New(1e12, 0)), false)
	assert.Equal(t, Infinity.IsInfinite(), true)
}

func TestAddResetsCausal(t *testing.T) {
	got := New(5, 7).Add(3)
	assert.Equal(t, got, New(8, 0))
}

func TestAddOnInfinityIsNoop(t *testing.T) {
	assert.Equal(t, Infinity.Add(5), Infinity)
}

func TestMinMax(t *testing.T) {
	a, b := New(4, 0), New(2, 9)
	assert.Equal(t, Min(a, b), b)
	assert.Equal(t, Max(a, b), a)
}

func TestSubElapsed(t *testing.T) {
	assert.Equal(t, Sub(New(10, 3), New(4, 9)), New(6, 0))
	assert.Equal(t, Sub(Infinity, New(4, 0)), Infinity)
}

func TestAddTimestampCarriesCausalFromDuration(t *testing.T) {
	got := New(5, 0).AddTimestamp(New(3, 2))
	assert.Equal(t, got, New(8, 2))
	assert.Equal(t, New(5, 0).AddTimestamp(Infinity), Infinity)
	assert.Equal(t, Infinity.AddTimestamp(New(3, 0)), Infinity)
}
