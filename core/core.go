// Package core implements the small-step simulation engine: the
// sequential baseline of spec.md section 4.4 plus, in separate files,
// the optimistic and conservative extensions of sections 4.5/4.6.
// Grounded on storage/cc_2pl_nw.go's go-lock-protected manager shape
// for the per-step mutex, and on network/coordinator/manager.go's
// per-core ownership model for the model table / scheduler.
package core

import (
	"github.com/viney-shih/go-lock"

	"pdevscore/message"
	"pdevscore/model"
	"pdevscore/network"
	"pdevscore/scheduler"
	"pdevscore/simerrors"
	"pdevscore/simlog"
	"pdevscore/termination"
	"pdevscore/timestamp"
	"pdevscore/tracer"
)

// Build is the output of flattening and allocating a model hierarchy:
// every piece a Core needs to address its own and other cores' models
// without re-walking the coupled tree.
type Build struct {
	Routing model.RoutingTable
	CoreOf  map[string]int // atomic name -> assigned core id
	IDOf    map[string]int // atomic name -> global model id
	NameOf  map[int]string // global model id -> atomic name
}

// AssignIDs gives every atomic model a stable global id, used as the
// "local-id" half of a message.Address. A single global id space
// (rather than a second per-core compaction table) is a deliberate
// simplification: Go's map-based model tables have no need for dense
// per-core indices the way the original engine's vector-backed tables
// did.
func AssignIDs(atomics []model.AtomicModel) (map[string]int, map[int]string) {
	idOf := make(map[string]int, len(atomics))
	nameOf := make(map[int]string, len(atomics))
	for i, m := range atomics {
		idOf[m.Name()] = i
		nameOf[i] = m.Name()
	}
	return idOf, nameOf
}

// Core is the sequential small-step engine: the model table, the
// scheduler, the local clock, and termination -- section 4.4's state
// list. OptimisticCore and ConservativeCore embed a Core and override
// RunSmallStep with their own receive/stall protocols.
type Core struct {
	id int

	models map[int]*model.Instance
	build  Build

	Sched  *scheduler.Scheduler
	Net    *network.Network
	Term   termination.Condition
	Tracer tracer.Tracer

	Time timestamp.Timestamp
	Live bool

	// FatalErr is set and Live cleared the moment a model breaks its
	// contract (a negative time_advance, a zero lookahead under
	// conservative sync); the controller's worker loop checks it after
	// the core goes non-live and surfaces it as the run's error.
	FatalErr *simerrors.SimError

	ZombieRounds    uint32
	ZombieThreshold uint32

	LoopCap  uint64
	loops    uint64
	causal   uint64
	mu       lock.Mutex
}

// fail records a fatal model-contract violation and stops the core.
func (c *Core) fail(err *simerrors.SimError) {
	c.FatalErr = err
	c.Live = false
}

// New builds a Core owning the given instances (already filtered to
// this core's allocation) and pushes their initial schedule. A nil tr
// is replaced with tracer.NopTracer{}.
func New(id int, instances []*model.Instance, build Build, net *network.Network, term termination.Condition, zombieThreshold uint32, loopCap uint64, tr tracer.Tracer) *Core {
	if tr == nil {
		tr = tracer.NopTracer{}
	}
	c := &Core{
		id:              id,
		models:          make(map[int]*model.Instance, len(instances)),
		build:           build,
		Sched:           scheduler.New(),
		Net:             net,
		Term:            term,
		Tracer:          tr,
		Live:            true,
		ZombieThreshold: zombieThreshold,
		LoopCap:         loopCap,
		mu:              lock.NewCASMutex(),
	}
	for _, inst := range instances {
		id := build.IDOf[inst.Model.Name()]
		inst.UUID = message.Address{CoreID: c.ID(), LocalID: id}
		c.models[id] = inst
		c.Sched.Push(id, inst.TimeNext)
	}
	return c
}

// AssignIDsStable re-derives ids after a DS-phase re-flatten: a
// surviving atomic keeps the id it already had in oldIDOf, and next
// hands out a fresh id for anything new. A DS phase may shuffle which
// atomics exist but must never renumber one that was already
// addressed by in-flight instance state or scheduler entries.
func AssignIDsStable(atomics []model.AtomicModel, oldIDOf map[string]int, next func() int) (map[string]int, map[int]string) {
	idOf := make(map[string]int, len(atomics))
	nameOf := make(map[int]string, len(atomics))
	for _, m := range atomics {
		name := m.Name()
		id, ok := oldIDOf[name]
		if !ok {
			id = next()
		}
		idOf[name] = id
		nameOf[id] = name
	}
	return idOf, nameOf
}

// Rebuild installs a freshly-flattened routing table after a
// dynamic-structure phase and re-synchronizes the scheduler against
// every resident model's current time_next, per spec.md section
// 4.7's "run direct-connect again ... validate_models on the core to
// reset the scheduler".
func (c *Core) Rebuild(build Build) error {
	c.build = build
	c.Sched.Reset()
	for id, inst := range c.models {
		if err := inst.Refresh(); err != nil {
			return err
		}
		c.Sched.Push(id, inst.TimeNext)
	}
	return nil
}

// AddModel admits a newly-created instance mid DS-phase, assigning it
// the global id the build already reserved for it.
func (c *Core) AddModel(inst *model.Instance, id int) {
	c.models[id] = inst
	inst.UUID = message.Address{CoreID: c.ID(), LocalID: id}
	c.Sched.Push(id, inst.TimeNext)
}

// RemoveModel retires a model mid DS-phase.
func (c *Core) RemoveModel(id int) {
	delete(c.models, id)
	c.Sched.Remove(id)
}

// ModelID looks up the global id currently assigned to a resident
// atomic by name, for callers (the DS phase) that need to recover a
// Core's internal name->id assignment without reaching into its
// private build field.
func (c *Core) ModelID(name string) int {
	return c.build.IDOf[name]
}

// ID returns the core's own id, satisfying gvt.CorePort for embedders
// that expose no ID of their own.
func (c *Core) ID() int {
	return c.id
}

// Resident returns the atomic models this core currently hosts, for
// the termination functor and for DS-phase propagation.
func (c *Core) Resident() []model.AtomicModel {
	out := make([]model.AtomicModel, 0, len(c.models))
	for _, inst := range c.models {
		out = append(out, inst.Model)
	}
	return out
}

// nextCausal hands out a monotonically increasing tiebreak for
// messages this core produces at the same real time.
func (c *Core) nextCausal() uint64 {
	c.causal++
	return c.causal
}

// route runs one atomic model's output through direct-connect, either
// appending to local (same-core) if it's destined for this core or
// handing off to the network otherwise. Shared by all three core
// flavors; the optimistic core additionally records sent entries and
// paints the message's color after this returns.
func (c *Core) route(srcID int, events []model.OutputEvent, local map[int][]*message.Message) []*message.Message {
	var sent []*message.Message
	srcName := c.build.NameOf[srcID]
	for _, ev := range events {
		for _, edge := range c.build.Routing.Edges(srcName, ev.Port) {
			destID := c.build.IDOf[edge.DestAtomic]
			destCore := c.build.CoreOf[edge.DestAtomic]
			payload := ev.Payload
			if edge.Z != nil {
				payload = edge.Z(payload)
			}
			msg := message.New(
				message.Address{CoreID: c.ID(), LocalID: srcID}, ev.Port,
				message.Address{CoreID: destCore, LocalID: destID}, edge.DestPort,
				timestamp.New(c.Time.Time, c.nextCausal()), payload,
			)
			if destCore == c.ID() {
				local[destID] = append(local[destID], msg)
			} else {
				sent = append(sent, msg)
			}
		}
	}
	return sent
}

// transitionOne applies the correct transition for a model that was
// imminent, received external messages, or both, tracing whichever
// kind actually ran.
func transitionOne(tr tracer.Tracer, coreID int, inst *model.Instance, now timestamp.Timestamp, imminent bool, msgs []*message.Message) {
	name := inst.Model.Name()
	switch {
	case imminent && len(msgs) > 0:
		if ct, ok := inst.Model.(model.ConfluentTransitioner); ok {
			ct.ConfluentTransition(msgs)
		} else {
			inst.Model.InternalTransition()
			inst.Model.ExternalTransition(timestamp.Zero, msgs)
		}
		inst.TimeLast = now
		tr.Trace(tracer.TransitionRecord(now, coreID, name, tracer.KindConflu))
	case imminent:
		inst.Model.InternalTransition()
		inst.TimeLast = now
		tr.Trace(tracer.TransitionRecord(now, coreID, name, tracer.KindInternal))
	default:
		elapsed := timestamp.Sub(now, inst.TimeLast)
		inst.Model.ExternalTransition(elapsed, msgs)
		inst.TimeLast = now
		tr.Trace(tracer.TransitionRecord(now, coreID, name, tracer.KindExternal))
	}
}

// RunSmallStep performs one unit of progress: drain, produce output,
// transition, reschedule, advance time. Returns whether the core is
// still live.
func (c *Core) RunSmallStep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Live {
		return false
	}
	c.loops++
	if c.LoopCap > 0 && c.loops > c.LoopCap {
		simlog.Warnf("core %d: loop cap exceeded, forcing idle", c.ID())
		c.Live = false
		return false
	}

	drained := c.Net.Drain(c.ID())
	local := make(map[int][]*message.Message)
	for _, msg := range drained {
		local[msg.Dst.LocalID] = append(local[msg.Dst.LocalID], msg)
	}

	imminent := c.Sched.FindUntil(c.Time)
	imminentSet := make(map[int]bool, len(imminent))
	for _, id := range imminent {
		imminentSet[id] = true
		inst := c.models[id]
		events := inst.Model.Output()
		for _, ev := range events {
			c.Tracer.Trace(tracer.OutputRecord(c.Time, c.ID(), inst.Model.Name(), ev))
		}
		for _, msg := range c.route(id, events, local) {
			c.Net.Accept(msg)
		}
	}

	touched := make(map[int]bool, len(imminentSet)+len(local))
	for id := range imminentSet {
		touched[id] = true
	}
	for id := range local {
		touched[id] = true
	}

	if len(touched) == 0 {
		c.ZombieRounds++
	} else {
		c.ZombieRounds = 0
		for id := range touched {
			inst := c.models[id]
			transitionOne(c.Tracer, c.ID(), inst, c.Time, imminentSet[id], local[id])
			inst.SaveSnapshot()
			if err := inst.Refresh(); err != nil {
				c.fail(err.(*simerrors.SimError))
				return false
			}
			c.Sched.Push(id, inst.TimeNext)
		}
	}

	next := c.Term.Time
	if top, ok := c.Sched.Top(); ok {
		next = timestamp.Min(next, top.Time)
	}
	c.Time = next

	if c.Term.ShouldStop(c.Time, c.Resident()) || c.ZombieRounds > c.ZombieThreshold {
		c.Live = false
	}
	return c.Live
}
