package termination

import (
	"testing"

	"github.com/magiconair/properties/assert"

	"pdevscore/model"
	"pdevscore/timestamp"
)

func TestTimeExpired(t *testing.T) {
	c := New(timestamp.At(10), nil, nil)
	assert.Equal(t, c.ShouldStop(timestamp.At(9), nil), false)
	assert.Equal(t, c.ShouldStop(timestamp.At(10), nil), true)
	assert.Equal(t, c.ShouldStop(timestamp.At(11), nil), true)
}

func TestFunctorFires(t *testing.T) {
	called := false
	c := New(timestamp.Infinity, func(resident []model.AtomicModel) bool {
		called = true
		return len(resident) == 0
	}, nil)
	assert.Equal(t, c.ShouldStop(timestamp.At(1), nil), true)
	assert.Equal(t, called, true)
}

func TestNoFunctorNeverFiresOnFunctorPath(t *testing.T) {
	c := New(timestamp.Infinity, nil, nil)
	assert.Equal(t, c.FunctorFired(nil), false)
}
