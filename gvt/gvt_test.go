package gvt

import (
	"testing"

	"github.com/magiconair/properties/assert"

	"pdevscore/message"
	"pdevscore/timestamp"
)

type stubCore struct {
	id       int
	color    message.Color
	time     timestamp.Timestamp
	tred     timestamp.Timestamp
	gvtSeen  timestamp.Timestamp
}

func (s *stubCore) ID() int                      { return s.id }
func (s *stubCore) Paint(c message.Color)        { s.color = c }
func (s *stubCore) Color() message.Color         { return s.color }
func (s *stubCore) LocalTime() timestamp.Timestamp { return s.time }
func (s *stubCore) TredMark() timestamp.Timestamp  { return s.tred }
func (s *stubCore) ApplyGVT(t timestamp.Timestamp) { s.gvtSeen = t }

func TestCleanRoundProducesMinOfTmin(t *testing.T) {
	cores := []*stubCore{
		{id: 0, time: timestamp.At(10), tred: timestamp.Infinity},
		{id: 1, time: timestamp.At(5), tred: timestamp.Infinity},
		{id: 2, time: timestamp.At(8), tred: timestamp.Infinity},
	}
	ports := make([]CorePort, len(cores))
	for i, c := range cores {
		ports[i] = c
	}
	m := NewMatrix(len(cores))
	coord := NewCoordinator(ports, m)

	newGVT, err := coord.RunRound()
	assert.Equal(t, err, nil)
	assert.Equal(t, newGVT, timestamp.At(5))
	assert.Equal(t, cores[0].gvtSeen, timestamp.At(5))
}

func TestTredBoundsGVTWhenLower(t *testing.T) {
	cores := []*stubCore{
		{id: 0, time: timestamp.At(10), tred: timestamp.At(3), color: message.Red},
		{id: 1, time: timestamp.At(20), tred: timestamp.Infinity},
	}
	ports := make([]CorePort, len(cores))
	for i, c := range cores {
		ports[i] = c
	}
	m := NewMatrix(len(cores))
	coord := NewCoordinator(ports, m)

	newGVT, err := coord.RunRound()
	assert.Equal(t, err, nil)
	assert.Equal(t, newGVT, timestamp.At(3))
}

func TestDirtyMatrixFailsAfterTwoRounds(t *testing.T) {
	cores := []*stubCore{
		{id: 0, time: timestamp.At(1)},
		{id: 1, time: timestamp.At(2)},
	}
	ports := make([]CorePort, len(cores))
	for i, c := range cores {
		ports[i] = c
	}
	m := NewMatrix(len(cores))
	m.IncSent(1, 1) // never received: row 1 stays dirty forever
	coord := NewCoordinator(ports, m)

	_, err := coord.RunRound()
	if err == nil {
		t.Fatalf("expected a GVTProtocol error for a matrix that never settles")
	}
}

func TestMatrixSendReceiveRoundTrip(t *testing.T) {
	m := NewMatrix(3)
	m.IncSent(0, 1)
	assert.Equal(t, m.RowSum(0), int64(1))
	m.DecReceived(1)
	assert.Equal(t, m.RowSum(1), int64(-1))
}
