package core

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"
	"github.com/viney-shih/go-lock"

	"pdevscore/message"
	"pdevscore/model"
	"pdevscore/network"
	"pdevscore/simerrors"
	"pdevscore/simlog"
	"pdevscore/termination"
	"pdevscore/timestamp"
	"pdevscore/tracer"
)

// EOTVector is the shared vector of earliest-output-time promises:
// only core i writes slot i, every core reads any slot while
// computing its own EIT (spec.md section 4.6).
type EOTVector struct {
	mu   lock.Mutex
	vals []timestamp.Timestamp
}

// NewEOTVector allocates a vector for n cores, every slot starting at
// zero (a core promises nothing until its first step runs).
func NewEOTVector(n int) *EOTVector {
	v := &EOTVector{mu: lock.NewCASMutex(), vals: make([]timestamp.Timestamp, n)}
	return v
}

// Get reads core i's published EOT.
func (v *EOTVector) Get(i int) timestamp.Timestamp {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vals[i]
}

// Set publishes core i's EOT.
func (v *EOTVector) Set(i int, t timestamp.Timestamp) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vals[i] = t
}

// DiscoverInfluencers derives, from the flattened routing table, the
// set of core ids hosting atomics that can send to any atomic named
// in resident. Computed structurally from direct-connect rather than
// from a model-reported interface: the routing table already encodes
// exactly this reachability, so there is nothing left for a model to
// self-report (spec.md section 4.6's "influencee discovery", adapted
// to derive the set from the graph instead of duplicating it).
func DiscoverInfluencers(build Build, selfCore int, resident []string) mapset.Set {
	residentSet := make(map[string]bool, len(resident))
	for _, name := range resident {
		residentSet[name] = true
	}
	influencers := mapset.NewSet()
	for srcName, ports := range build.Routing {
		srcCore, ok := build.CoreOf[srcName]
		if !ok || srcCore == selfCore {
			continue
		}
		for _, edges := range ports {
			for _, e := range edges {
				if residentSet[e.DestAtomic] {
					influencers.Add(srcCore)
				}
			}
		}
	}
	return influencers
}

// ConservativeCore extends Core with Chandy-Misra-Bryant lookahead
// synchronization: EOT/EIT accounting and the stalled step. Grounded
// on original_source/main/src/model/conservativecore.h's state set.
type ConservativeCore struct {
	*Core

	EOT         *EOTVector
	Influencers mapset.Set

	minLookahead    timestamp.Timestamp
	generatedOutput map[int]timestamp.Timestamp
	stalled         bool
}

// NewConservativeCore builds a ConservativeCore. eot must be shared
// across every core in the simulation; influencers is typically the
// result of DiscoverInfluencers. Returns a fatal ModelContract error
// if any resident model declares a zero lookahead (spec.md section
// 4.6/9: a conservative core with lookahead==0 is a user error, not
// silently clamped).
func NewConservativeCore(id int, instances []*model.Instance, build Build, net *network.Network, term termination.Condition, zombieThreshold uint32, loopCap uint64, eot *EOTVector, influencers mapset.Set, tr tracer.Tracer) (*ConservativeCore, error) {
	cc := &ConservativeCore{
		Core:            New(id, instances, build, net, term, zombieThreshold, loopCap, tr),
		EOT:             eot,
		Influencers:     influencers,
		generatedOutput: make(map[int]timestamp.Timestamp),
	}
	la, err := cc.computeLookahead()
	if err != nil {
		return nil, err
	}
	cc.minLookahead = la
	return cc, nil
}

// computeLookahead returns the minimum lookahead across resident
// models, or a fatal ModelContract error if any resident declares a
// zero lookahead under conservative synchronization.
func (cc *ConservativeCore) computeLookahead() (timestamp.Timestamp, error) {
	min := timestamp.Infinity
	for id, inst := range cc.models {
		la := inst.Lookahead()
		if la.Time == 0 {
			return timestamp.Zero, simerrors.WithModel(simerrors.ModelContract, cc.ID(), id,
				fmt.Sprintf("model %q declared a zero lookahead under conservative synchronization", inst.Model.Name()))
		}
		min = timestamp.Min(min, la)
	}
	return min, nil
}

// computeEIT is min(EOT[k]) over every influencing core; a core with
// no influencers may always progress.
func (cc *ConservativeCore) computeEIT() timestamp.Timestamp {
	if cc.Influencers == nil || cc.Influencers.Cardinality() == 0 {
		return timestamp.Infinity
	}
	eit := timestamp.Infinity
	for k := range cc.Influencers.Iter() {
		eit = timestamp.Min(eit, cc.EOT.Get(k.(int)))
	}
	return eit
}

// publishIdleEOT implements "for a core stalled with no pending
// output and nothing to do, EOT is max(scheduled_min, now) +
// lookahead". A core that has gone idle can never produce another
// message, so it publishes infinity immediately instead of making
// its influencees wait out the rest of the run behind a stale
// finite promise.
func (cc *ConservativeCore) publishIdleEOT() {
	if !cc.Live {
		cc.EOT.Set(cc.ID(), timestamp.Infinity)
		return
	}
	base := cc.Time
	if top, ok := cc.Sched.Top(); ok {
		base = timestamp.Max(base, top.Time)
	}
	cc.EOT.Set(cc.ID(), base.AddTimestamp(cc.minLookahead))
}

// sendConservative routes msg and clamps this core's published EOT to
// the send timestamp so no influencee ever observes a retraction.
func (cc *ConservativeCore) sendConservative(msg *message.Message) {
	cc.Net.Accept(msg)
	cc.EOT.Set(cc.ID(), msg.Time)
}

// routeViaNetwork resolves one model's output through direct-connect
// and hands every resulting message to the network, including
// same-core destinations: while stalled the core must not transition,
// so a same-core receiver cannot consume the message locally this
// step the way Core.route's fast path assumes -- it needs to sit in
// the network until a later, non-stalled step drains and delivers it.
func (cc *ConservativeCore) routeViaNetwork(srcID int, events []model.OutputEvent) []*message.Message {
	srcName := cc.build.NameOf[srcID]
	var sent []*message.Message
	for _, ev := range events {
		for _, edge := range cc.build.Routing.Edges(srcName, ev.Port) {
			destID := cc.build.IDOf[edge.DestAtomic]
			destCore := cc.build.CoreOf[edge.DestAtomic]
			payload := ev.Payload
			if edge.Z != nil {
				payload = edge.Z(payload)
			}
			msg := message.New(
				message.Address{CoreID: cc.ID(), LocalID: srcID}, ev.Port,
				message.Address{CoreID: destCore, LocalID: destID}, edge.DestPort,
				timestamp.New(cc.Time.Time, cc.nextCausal()), payload,
			)
			sent = append(sent, msg)
		}
	}
	return sent
}

// stalledStep implements "if time == EIT, the core may generate
// output for models whose time_next == time (once per such model),
// refresh its EOT, and yield, but it must not transition."
func (cc *ConservativeCore) stalledStep() {
	imminent := cc.Sched.FindUntil(cc.Time)
	for _, id := range imminent {
		if already, ok := cc.generatedOutput[id]; ok && already.Equal(cc.Time) {
			continue
		}
		inst := cc.models[id]
		events := inst.Model.Output()
		for _, ev := range events {
			cc.Tracer.Trace(tracer.OutputRecord(cc.Time, cc.ID(), inst.Model.Name(), ev))
		}
		for _, msg := range cc.routeViaNetwork(id, events) {
			cc.sendConservative(msg)
		}
		cc.generatedOutput[id] = cc.Time
	}
	cc.publishIdleEOT()
}

// Stalled reports whether the most recent RunSmallStep was a stalled
// step (time == EIT, output only, no transition). The controller's
// conservative worker loop uses this to back off instead of spinning
// while waiting on an influencer's EOT to advance.
func (cc *ConservativeCore) Stalled() bool { return cc.stalled }

// RunSmallStep overrides Core.RunSmallStep: below EIT it behaves
// exactly like the sequential step (bounded so it never overshoots
// EIT); at EIT it performs a stalled step instead of transitioning.
func (cc *ConservativeCore) RunSmallStep() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if !cc.Live {
		return false
	}
	cc.loops++
	if cc.LoopCap > 0 && cc.loops > cc.LoopCap {
		simlog.Warnf("conservative core %d: loop cap exceeded, forcing idle", cc.ID())
		cc.Live = false
		return false
	}

	eit := cc.computeEIT()
	trueNext := cc.Term.Time
	if top, ok := cc.Sched.Top(); ok {
		trueNext = timestamp.Min(trueNext, top.Time)
	}
	boundedNext := timestamp.Min(trueNext, eit)
	cc.stalled = boundedNext.Less(trueNext)

	if cc.stalled {
		// Stalled: do not drain the network yet, or an inbound message
		// arriving this round would be lost without a transition to
		// hand it to -- it stays queued until a non-stalled step runs.
		cc.Time = boundedNext
		cc.stalledStep()
		if cc.Term.ShouldStop(cc.Time, cc.Resident()) {
			cc.Live = false
		}
		return cc.Live
	}

	drained := cc.Net.Drain(cc.ID())
	local := make(map[int][]*message.Message)
	for _, msg := range drained {
		local[msg.Dst.LocalID] = append(local[msg.Dst.LocalID], msg)
	}

	cc.generatedOutput = make(map[int]timestamp.Timestamp)
	cc.Time = boundedNext

	imminent := cc.Sched.FindUntil(cc.Time)
	imminentSet := make(map[int]bool, len(imminent))
	for _, id := range imminent {
		imminentSet[id] = true
		inst := cc.models[id]
		events := inst.Model.Output()
		for _, ev := range events {
			cc.Tracer.Trace(tracer.OutputRecord(cc.Time, cc.ID(), inst.Model.Name(), ev))
		}
		for _, msg := range cc.route(id, events, local) {
			cc.sendConservative(msg)
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
		cc.ZombieRounds++
	} else {
		cc.ZombieRounds = 0
		for id := range touched {
			inst := cc.models[id]
			transitionOne(cc.Tracer, cc.ID(), inst, cc.Time, imminentSet[id], local[id])
			if err := inst.Refresh(); err != nil {
				cc.fail(err.(*simerrors.SimError))
				return false
			}
			cc.Sched.Push(id, inst.TimeNext)
		}
		la, err := cc.computeLookahead()
		if err != nil {
			cc.fail(err.(*simerrors.SimError))
			return false
		}
		cc.minLookahead = la
	}

	if cc.Term.ShouldStop(cc.Time, cc.Resident()) || cc.ZombieRounds > cc.ZombieThreshold {
		cc.Live = false
	}
	cc.publishIdleEOT()
	return cc.Live
}
