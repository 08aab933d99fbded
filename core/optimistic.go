package core

import (
	"container/heap"

	"github.com/viney-shih/go-lock"

	"pdevscore/gvt"
	"pdevscore/message"
	"pdevscore/model"
	"pdevscore/network"
	"pdevscore/simerrors"
	"pdevscore/simlog"
	"pdevscore/termination"
	"pdevscore/timestamp"
	"pdevscore/tracer"
)

type msgKey struct {
	Src     message.Address
	SrcPort int
	Dst     message.Address
	DstPort int
	Time    timestamp.Timestamp
}

func keyOf(m *message.Message) msgKey {
	return msgKey{Src: m.Src, SrcPort: m.SrcPort, Dst: m.Dst, DstPort: m.DstPort, Time: m.Time}
}

// pendingHeap is the min-heap of inbound messages not yet delivered,
// ordered by timestamp (spec.md section 4.5).
type pendingHeap []*message.Message

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return message.Less(h[i], h[j]) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(*message.Message)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return m
}

// OptimisticCore extends Core with the Time Warp machinery of spec.md
// section 4.5: the sent/pending/processed logs, antimessage
// annihilation, rollback, and Mattern coloring. Grounded on
// original_source/main/src/model/optimisticcore.cpp's state set,
// re-expressed with Go maps/slices instead of intrusive lists.
type OptimisticCore struct {
	*Core

	Matrix *gvt.Matrix

	sentLog      []*message.Message
	processedLog []*message.Message
	pending      pendingHeap
	pendingByKey map[msgKey]*message.Message
	awaitingAnti map[msgKey]*message.Message

	colorLock lock.Mutex
	color     message.Color
	tred      timestamp.Timestamp
	gvtValue  timestamp.Timestamp
}

// NewOptimisticCore builds an OptimisticCore. Every resident instance
// has KeepOldStates forced on: rollback is meaningless without state
// history.
func NewOptimisticCore(id int, instances []*model.Instance, build Build, net *network.Network, term termination.Condition, zombieThreshold uint32, loopCap uint64, matrix *gvt.Matrix, tr tracer.Tracer) *OptimisticCore {
	for _, inst := range instances {
		inst.KeepOldStates = true
	}
	o := &OptimisticCore{
		Core:         New(id, instances, build, net, term, zombieThreshold, loopCap, tr),
		Matrix:       matrix,
		pendingByKey: make(map[msgKey]*message.Message),
		awaitingAnti: make(map[msgKey]*message.Message),
		colorLock:    lock.NewCASMutex(),
		tred:         timestamp.Infinity,
		gvtValue:     timestamp.Zero,
	}
	return o
}

// gvt.CorePort implementation --------------------------------------

func (o *OptimisticCore) Paint(c message.Color) {
	o.colorLock.Lock()
	defer o.colorLock.Unlock()
	o.color = c
	if c == message.White {
		o.tred = timestamp.Infinity
	}
}

func (o *OptimisticCore) Color() message.Color {
	o.colorLock.Lock()
	defer o.colorLock.Unlock()
	return o.color
}

func (o *OptimisticCore) LocalTime() timestamp.Timestamp { return o.Time }

func (o *OptimisticCore) TredMark() timestamp.Timestamp {
	o.colorLock.Lock()
	defer o.colorLock.Unlock()
	return o.tred
}

// ApplyGVT reclaims sent/processed/state history older than the newly
// published gvt and repaints WHITE, per spec.md section 4.5's "GVT
// application". Clearing the shared matrix row is the GVT
// coordinator's job, not the core's.
func (o *OptimisticCore) ApplyGVT(newGVT timestamp.Timestamp) {
	o.colorLock.Lock()
	o.gvtValue = newGVT
	o.color = message.White
	o.tred = timestamp.Infinity
	o.colorLock.Unlock()

	kept := o.sentLog[:0]
	for _, m := range o.sentLog {
		if m.Time.Less(newGVT) || m.HasFlag(message.Kill) {
			continue
		}
		kept = append(kept, m)
	}
	o.sentLog = kept

	keptProc := o.processedLog[:0]
	for _, m := range o.processedLog {
		if m.Time.Less(newGVT) {
			continue
		}
		keptProc = append(keptProc, m)
	}
	o.processedLog = keptProc

	for _, inst := range o.models {
		inst.DropHistoryBefore(newGVT)
	}
}

// sendMessage paints msg with this core's current color, updates the
// Mattern counters, records it in the sent log (antimessages are not
// recorded), and hands it to the network. Used both for fresh output
// and for antimessage resends during revert.
func (o *OptimisticCore) sendMessage(msg *message.Message) {
	o.colorLock.Lock()
	c := o.color
	msg.Paint(c)
	if c == message.Red {
		if msg.Time.Less(o.tred) {
			o.tred = msg.Time
		}
	}
	o.colorLock.Unlock()

	if c == message.White {
		o.Matrix.IncSent(o.ID(), msg.Dst.CoreID)
	}
	if !msg.IsAnti() {
		o.sentLog = append(o.sentLog, msg)
	}
	o.Net.Accept(msg)
}

// receiveBatch applies the receive protocol of spec.md section 4.5 to
// every message pulled from the network this step, returning the
// earliest timestamp that requires a rollback (if any).
func (o *OptimisticCore) receiveBatch(drained []*message.Message) (timestamp.Timestamp, bool) {
	needRevert := false
	revertTo := timestamp.Infinity

	for _, msg := range drained {
		if msg.Color() == message.White {
			o.Matrix.DecReceived(o.ID())
		}
		if msg.Time.Less(o.Time) {
			needRevert = true
			revertTo = timestamp.Min(revertTo, msg.Time)
		}

		k := keyOf(msg)
		if msg.IsAnti() {
			if orig, ok := o.pendingByKey[k]; ok {
				orig.SetFlag(message.Erase)
				delete(o.pendingByKey, k)
				continue
			}
			annihilated := false
			for _, p := range o.processedLog {
				if keyOf(p) == k {
					p.SetFlag(message.Kill)
					annihilated = true
					break
				}
			}
			if !annihilated {
				msg.SetFlag(message.Delete)
				o.awaitingAnti[k] = msg
			}
			continue
		}

		if anti, ok := o.awaitingAnti[k]; ok && anti.HasFlag(message.Delete) {
			delete(o.awaitingAnti, k)
			continue
		}
		msg.SetFlag(message.Heaped)
		heap.Push(&o.pending, msg)
		o.pendingByKey[k] = msg
	}
	return revertTo, needRevert
}

// revert implements spec.md section 4.5's revert(t): unsend, un-
// process, restore state, rewind the clock and rebuild the scheduler.
func (o *OptimisticCore) revert(t timestamp.Timestamp) error {
	for len(o.sentLog) > 0 && !o.sentLog[len(o.sentLog)-1].Time.Less(t) {
		victim := o.sentLog[len(o.sentLog)-1]
		o.sentLog = o.sentLog[:len(o.sentLog)-1]
		if !victim.HasFlag(message.Kill) {
			o.sendMessage(victim.Antimessage())
		}
	}

	for len(o.processedLog) > 0 && !o.processedLog[len(o.processedLog)-1].Time.Less(t) {
		tomb := o.processedLog[len(o.processedLog)-1]
		o.processedLog = o.processedLog[:len(o.processedLog)-1]
		if tomb.HasFlag(message.Anti) || tomb.HasFlag(message.Kill) {
			continue
		}
		tomb.SetFlag(message.Heaped)
		k := keyOf(tomb)
		o.pendingByKey[k] = tomb
		heap.Push(&o.pending, tomb)
	}

	for _, inst := range o.models {
		if _, err := inst.RevertTo(t); err != nil {
			return err
		}
	}
	o.Tracer.RevertBeyond(t)

	o.Time = t
	o.Sched.Reset()
	for id, inst := range o.models {
		o.Sched.Push(id, inst.TimeNext)
	}
	return nil
}

// popPendingUntil drains every non-annihilated pending message with
// timestamp <= mark into per-model buckets, moving each into the
// processed log as it is delivered.
func (o *OptimisticCore) popPendingUntil(mark timestamp.Timestamp) map[int][]*message.Message {
	due := make(map[int][]*message.Message)
	for len(o.pending) > 0 && o.pending[0].Time.LessEqual(mark) {
		msg := heap.Pop(&o.pending).(*message.Message)
		delete(o.pendingByKey, keyOf(msg))
		if msg.HasFlag(message.Erase) {
			continue
		}
		msg.SetFlag(message.Processed)
		o.processedLog = append(o.processedLog, msg)
		due[msg.Dst.LocalID] = append(due[msg.Dst.LocalID], msg)
	}
	return due
}

func (o *OptimisticCore) peekPending() (timestamp.Timestamp, bool) {
	for len(o.pending) > 0 && o.pending[0].HasFlag(message.Erase) {
		heap.Pop(&o.pending)
	}
	if len(o.pending) == 0 {
		return timestamp.Zero, false
	}
	return o.pending[0].Time, true
}

// RunSmallStep overrides Core.RunSmallStep with the optimistic
// receive/rollback protocol on top of the same output/transition/
// reschedule shape.
func (o *OptimisticCore) RunSmallStep() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.Live {
		return false
	}
	o.loops++
	if o.LoopCap > 0 && o.loops > o.LoopCap {
		simlog.Warnf("optimistic core %d: loop cap exceeded, forcing idle", o.ID())
		o.Live = false
		return false
	}

	drained := o.Net.Drain(o.ID())
	if revertTo, need := o.receiveBatch(drained); need {
		if err := o.revert(revertTo); err != nil {
			o.fail(err.(*simerrors.SimError))
			return false
		}
	}

	schedTop, schedOK := o.Sched.Top()
	pendTop, pendOK := o.peekPending()
	next := o.Term.Time
	if schedOK {
		next = timestamp.Min(next, schedTop.Time)
	}
	if pendOK {
		next = timestamp.Min(next, pendTop.Time)
	}
	if !schedOK && !pendOK {
		o.ZombieRounds++
		o.Time = next
		if o.Term.ShouldStop(o.Time, o.Resident()) || o.ZombieRounds > o.ZombieThreshold {
			o.Live = false
		}
		return o.Live
	}
	o.Time = next

	imminent := o.Sched.FindUntil(o.Time)
	imminentSet := make(map[int]bool, len(imminent))
	due := o.popPendingUntil(o.Time)

	for _, id := range imminent {
		imminentSet[id] = true
		inst := o.models[id]
		events := inst.Model.Output()
		for _, ev := range events {
			o.Tracer.Trace(tracer.OutputRecord(o.Time, o.ID(), inst.Model.Name(), ev))
		}
		for _, msg := range o.route(id, events, due) {
			o.sendMessage(msg)
		}
	}

	touched := make(map[int]bool, len(imminentSet)+len(due))
	for id := range imminentSet {
		touched[id] = true
	}
	for id := range due {
		touched[id] = true
	}

	if len(touched) == 0 {
		o.ZombieRounds++
	} else {
		o.ZombieRounds = 0
		for id := range touched {
			inst := o.models[id]
			transitionOne(o.Tracer, o.ID(), inst, o.Time, imminentSet[id], due[id])
			inst.SaveSnapshot()
			if err := inst.Refresh(); err != nil {
				o.fail(err.(*simerrors.SimError))
				return false
			}
			o.Sched.Push(id, inst.TimeNext)
		}
	}

	if o.Term.ShouldStop(o.Time, o.Resident()) || o.ZombieRounds > o.ZombieThreshold {
		o.Live = false
	}
	return o.Live
}
