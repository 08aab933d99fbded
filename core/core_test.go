package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pdevscore/message"
	"pdevscore/model"
	"pdevscore/network"
	"pdevscore/termination"
	"pdevscore/timestamp"
	"pdevscore/tracer"
)

// sender emits one message at time 1 then goes passive forever.
type sender struct {
	fired bool
}

func (s *sender) Name() string { return "sender" }
func (s *sender) TimeAdvance() timestamp.Timestamp {
	if s.fired {
		return timestamp.Infinity
	}
	return timestamp.At(1)
}
func (s *sender) Output() []model.OutputEvent {
	return []model.OutputEvent{{Port: 0, Payload: "ping"}}
}
func (s *sender) InternalTransition()                                         { s.fired = true }
func (s *sender) ExternalTransition(timestamp.Timestamp, []*message.Message)  {}

// receiver is passive and records everything it's handed.
type receiver struct {
	Received []string
}

func (r *receiver) Name() string                    { return "receiver" }
func (r *receiver) TimeAdvance() timestamp.Timestamp { return timestamp.Infinity }
func (r *receiver) Output() []model.OutputEvent      { return nil }
func (r *receiver) InternalTransition()              {}
func (r *receiver) ExternalTransition(_ timestamp.Timestamp, msgs []*message.Message) {
	for _, m := range msgs {
		r.Received = append(r.Received, m.Payload.(string))
	}
}

func buildSingleCore(t *testing.T, term timestamp.Timestamp) (*Core, *sender, *receiver) {
	t.Helper()
	root := model.NewCoupled("root")
	snd := &sender{}
	rcv := &receiver{}
	root.AddAtomic(snd)
	root.AddAtomic(rcv)
	root.Connect(model.PortRef{Owner: "sender", Port: 0}, model.PortRef{Owner: "receiver", Port: 0}, nil)

	atomics, routing := model.Flatten(root)
	idOf, nameOf := AssignIDs(atomics)
	coreOf := map[string]int{"sender": 0, "receiver": 0}

	var instances []*model.Instance
	for _, a := range atomics {
		inst, err := model.NewInstance(a, -1)
		require.NoError(t, err)
		instances = append(instances, inst)
	}

	net := network.New(1)
	build := Build{Routing: routing, CoreOf: coreOf, IDOf: idOf, NameOf: nameOf}
	c := New(0, instances, build, net, termination.New(term, nil, nil), 10, 1000, tracer.NopTracer{})
	return c, snd, rcv
}

func TestSequentialDeliversLocalMessageSameStep(t *testing.T) {
	c, _, rcv := buildSingleCore(t, timestamp.At(5))
	for c.RunSmallStep() {
	}
	require.Equal(t, []string{"ping"}, rcv.Received)
}

func TestTerminationTimeStopsCore(t *testing.T) {
	c, _, _ := buildSingleCore(t, timestamp.At(5))
	for c.RunSmallStep() {
	}
	require.False(t, c.Live)
	require.True(t, c.Term.Time.LessEqual(c.Time) || c.ZombieRounds > c.ZombieThreshold)
}

func TestZombieThresholdForcesIdle(t *testing.T) {
	root := model.NewCoupled("root")
	passive := &receiver{}
	root.AddAtomic(passive)
	atomics, routing := model.Flatten(root)
	idOf, nameOf := AssignIDs(atomics)
	var instances []*model.Instance
	for _, a := range atomics {
		inst, err := model.NewInstance(a, -1)
		require.NoError(t, err)
		instances = append(instances, inst)
	}
	net := network.New(1)
	build := Build{Routing: routing, CoreOf: map[string]int{"receiver": 0}, IDOf: idOf, NameOf: nameOf}
	c := New(0, instances, build, net, termination.New(timestamp.Infinity, nil, nil), 3, 1000, tracer.NopTracer{})

	live := true
	for i := 0; i < 10 && live; i++ {
		live = c.RunSmallStep()
	}
	require.False(t, live)
	require.Greater(t, c.ZombieRounds, c.ZombieThreshold)
}
