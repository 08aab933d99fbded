// Package network implements the per-destination message queues and
// the global in-flight message counter that connect cores. Grounded
// on the teacher's FC/network package shape (a manager owning
// per-shard state behind a mutex) and, for the transient counter, on
// storage/row.go's atomic counters.
package network

import (
	"sync"
	"sync/atomic"

	"pdevscore/message"
	"pdevscore/simerrors"
	"pdevscore/simlog"
)

type queue struct {
	mu  sync.Mutex
	buf []*message.Message
}

// Network is the set of per-core inbound queues plus a global
// transient (in-flight) message counter, per spec.md section 4.1.
type Network struct {
	queues    []*queue
	transient atomic.Int64
}

// New builds a Network sized for cores worker cores.
func New(cores int) *Network {
	n := &Network{queues: make([]*queue, cores)}
	for i := range n.queues {
		n.queues[i] = &queue{}
	}
	return n
}

// Cores returns the configured number of destination queues.
func (n *Network) Cores() int { return len(n.queues) }

// Accept appends msg to the destination core's queue and increments
// the global transient counter. Safe for any sender.
func (n *Network) Accept(msg *message.Message) {
	q := n.queues[msg.Dst.CoreID]
	q.mu.Lock()
	q.buf = append(q.buf, msg)
	q.mu.Unlock()
	n.transient.Add(1)
	simlog.Debugf("network: accepted %s, transient=%d", msg, n.transient.Load())
}

// Drain atomically moves coreID's inbound queue to the caller and
// decrements the transient counter by the batch size.
func (n *Network) Drain(coreID int) []*message.Message {
	q := n.queues[coreID]
	q.mu.Lock()
	batch := q.buf
	q.buf = nil
	q.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if n.transient.Add(-int64(len(batch))) < 0 {
		// Underflow is a bug: either a drain raced an accept without
		// going through this network, or a double-drain occurred.
		simlog.Assert(false, "network transient count underflow")
	}
	return batch
}

// Pending is a best-effort observer: true if coreID's queue currently
// holds at least one message. Used by termination and GVT checks.
func (n *Network) Pending(coreID int) bool {
	q := n.queues[coreID]
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) > 0
}

// Empty is a best-effort observer over the whole network.
func (n *Network) Empty() bool {
	return n.transient.Load() == 0
}

// Transient returns the current in-flight message count.
func (n *Network) Transient() int64 { return n.transient.Load() }

// CheckInvariant returns a Network-kind SimError if the transient
// counter has gone negative, which spec.md section 7 treats as fatal.
func (n *Network) CheckInvariant() error {
	if n.transient.Load() < 0 {
		return simerrors.New(simerrors.Network, "transient message count went negative")
	}
	return nil
}
