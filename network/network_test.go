package network

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pdevscore/message"
	"pdevscore/timestamp"
)

func TestAcceptDrainRoundTrip(t *testing.T) {
	n := New(2)
	m := message.New(message.Address{CoreID: 0}, 0, message.Address{CoreID: 1}, 0, timestamp.New(10, 0), nil)
	n.Accept(m)
	require.True(t, n.Pending(1))
	require.False(t, n.Empty())

	batch := n.Drain(1)
	require.Len(t, batch, 1)
	require.Equal(t, m, batch[0])
	require.True(t, n.Empty())
	require.Nil(t, n.Drain(1))
}

func TestConcurrentSendersPreserveCount(t *testing.T) {
	n := New(1)
	const senders, perSender = 8, 50
	var wg sync.WaitGroup
	wg.Add(senders)
	for s := 0; s < senders; s++ {
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				m := message.New(message.Address{}, 0, message.Address{CoreID: 0}, 0, timestamp.New(float64(i), uint64(s)), nil)
				n.Accept(m)
			}
		}(s)
	}
	wg.Wait()
	require.Equal(t, int64(senders*perSender), n.Transient())
	batch := n.Drain(0)
	require.Len(t, batch, senders*perSender)
	require.True(t, n.Empty())
}
