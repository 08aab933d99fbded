package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pdevscore/gvt"
	"pdevscore/message"
	"pdevscore/model"
	"pdevscore/network"
	"pdevscore/termination"
	"pdevscore/timestamp"
	"pdevscore/tracer"
)

// oneShot fires a single output event at a configured time, then goes
// passive; it also records every external message it is handed, so
// the same type can play both sender and receiver roles in a test.
type oneShot struct {
	id       string
	fireAt   timestamp.Timestamp
	fired    bool
	Received []timestamp.Timestamp
}

func (m *oneShot) Name() string { return m.id }
func (m *oneShot) TimeAdvance() timestamp.Timestamp {
	if m.fired {
		return timestamp.Infinity
	}
	return m.fireAt
}
func (m *oneShot) Output() []model.OutputEvent {
	return []model.OutputEvent{{Port: 0, Payload: "x"}}
}
func (m *oneShot) InternalTransition() { m.fired = true }
func (m *oneShot) ExternalTransition(_ timestamp.Timestamp, msgs []*message.Message) {
	for _, msg := range msgs {
		m.Received = append(m.Received, msg.Time)
	}
}
func (m *oneShot) SaveState() interface{}      { return m.fired }
func (m *oneShot) RestoreState(s interface{})  { m.fired = s.(bool) }

func buildTwoCoreOptimistic(t *testing.T, senderFireAt timestamp.Timestamp, term timestamp.Timestamp) (*OptimisticCore, *OptimisticCore, *oneShot, *oneShot) {
	t.Helper()
	root := model.NewCoupled("root")
	snd := &oneShot{id: "sender", fireAt: senderFireAt}
	rcv := &oneShot{id: "receiver", fireAt: timestamp.Infinity}
	root.AddAtomic(snd)
	root.AddAtomic(rcv)
	root.Connect(model.PortRef{Owner: "sender", Port: 0}, model.PortRef{Owner: "receiver", Port: 0}, nil)

	atomics, routing := model.Flatten(root)
	idOf, nameOf := AssignIDs(atomics)
	coreOf := map[string]int{"sender": 0, "receiver": 1}
	build := Build{Routing: routing, CoreOf: coreOf, IDOf: idOf, NameOf: nameOf}

	net := network.New(2)
	matrix := gvt.NewMatrix(2)

	sndInst, err := model.NewInstance(snd, -1)
	require.NoError(t, err)
	rcvInst, err := model.NewInstance(rcv, -1)
	require.NoError(t, err)

	c0 := NewOptimisticCore(0, []*model.Instance{sndInst}, build, net, termination.New(term, nil, nil), 20, 1000, matrix, tracer.NopTracer{})
	c1 := NewOptimisticCore(1, []*model.Instance{rcvInst}, build, net, termination.New(term, nil, nil), 20, 1000, matrix, tracer.NopTracer{})
	return c0, c1, snd, rcv
}

func TestOptimisticCrossCoreDelivery(t *testing.T) {
	c0, c1, _, rcv := buildTwoCoreOptimistic(t, timestamp.At(2), timestamp.At(10))
	for i := 0; i < 50 && (c0.Live || c1.Live); i++ {
		c0.RunSmallStep()
		c1.RunSmallStep()
	}
	require.Len(t, rcv.Received, 1)
	require.Equal(t, timestamp.New(2, 1), rcv.Received[0])
}

func TestOptimisticAntimessageAnnihilatesPending(t *testing.T) {
	_, c1, _, rcv := buildTwoCoreOptimistic(t, timestamp.At(2), timestamp.At(10))
	rcvID := 0
	for name, id := range c1.build.IDOf {
		if name == "receiver" {
			rcvID = id
		}
	}
	original := message.New(
		message.Address{CoreID: 0, LocalID: 0}, 0,
		message.Address{CoreID: 1, LocalID: rcvID}, 0,
		timestamp.At(2), "x",
	)
	anti := original.Antimessage()
	c1.Net.Accept(original)
	c1.Net.Accept(anti)
	for i := 0; i < 5; i++ {
		c1.RunSmallStep()
	}
	require.Empty(t, rcv.Received)
}

func TestOptimisticGVTApplicationClearsHistory(t *testing.T) {
	c0, c1, _, _ := buildTwoCoreOptimistic(t, timestamp.At(1), timestamp.At(20))
	for i := 0; i < 10; i++ {
		c0.RunSmallStep()
		c1.RunSmallStep()
	}
	require.NotPanics(t, func() {
		c0.ApplyGVT(timestamp.At(5))
		c1.ApplyGVT(timestamp.At(5))
	})
	require.True(t, c0.gvtValue.Equal(timestamp.At(5)))
}
