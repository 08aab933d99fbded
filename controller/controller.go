// Package controller implements the four simulation loops of spec.md
// section 4.7: sequential, dynamic-structure, optimistic and
// conservative. It owns the cores, the allocator, the tracer and the
// model root, and is the one place GVT rounds and the DS-phase
// protocol are driven from.
//
// Grounded on network/coordinator/manager.go's worker-pool shape
// (per-connection goroutines cooperating through shared maps and a
// finish channel) generalized from a fixed two-goroutine handshake
// into an arbitrary-width worker fan-out via golang.org/x/sync/errgroup.
package controller

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pdevscore/config"
	"pdevscore/core"
	"pdevscore/gvt"
	"pdevscore/model"
	"pdevscore/network"
	"pdevscore/simerrors"
	"pdevscore/simlog"
	"pdevscore/termination"
	"pdevscore/tracer"
)

// maxGVTRounds bounds how many GVT rounds an optimistic run will ever
// attempt, per spec.md section 4.7's "a guard counter bounds the
// number of GVT invocations" -- a backstop against a pathological
// configuration (interval far shorter than a step) rather than a
// tuning knob.
const maxGVTRounds = 1 << 20

// GVTStats mirrors the original engine's controller-level counters
// GVT_START/GVT_FOUND/GVT_FAILED, kept here as plain fields for
// observability rather than routed through the tracer: they describe
// the controller's own health, not model events. Second rounds are
// not counted separately.
type GVTStats struct {
	Started int
	Found   int
	Failed  int
}

// Controller owns a simulation run: the model root, the build it was
// flattened into, the core(s) it was allocated to, and the shared
// infrastructure (network, GVT matrix, tracer) those cores use.
type Controller struct {
	Config config.Config
	Root   *model.Coupled
	Tracer tracer.Tracer

	net *network.Network

	seqCore *core.Core              // sequential / dynamic-structure
	optCore []*core.OptimisticCore  // optimistic
	conCore []*core.ConservativeCore // conservative

	gvtMatrix *gvt.Matrix
	GVTStats  GVTStats

	nextModelID int // DS-phase id allocation watermark
}

// New flattens root, validates cfg, allocates atomics to cores and
// builds the core set cfg.SimType calls for. tr may be tracer.NopTracer{}.
func New(cfg config.Config, root *model.Coupled, tr tracer.Tracer) (*Controller, error) {
	if err := cfg.Validate(runtime.NumCPU()); err != nil {
		return nil, err
	}
	if tr == nil {
		tr = tracer.NopTracer{}
	}

	atomics, routing := model.Flatten(root)
	idOf, nameOf := core.AssignIDs(atomics)

	coreOf, err := cfg.Allocator.Allocate(atomics, cfg.CoreCount)
	if err != nil {
		return nil, err
	}
	build := core.Build{Routing: routing, CoreOf: coreOf, IDOf: idOf, NameOf: nameOf}

	byCore := make([][]*model.Instance, cfg.CoreCount)
	for _, m := range atomics {
		inst, err := model.NewInstance(m, -1)
		if err != nil {
			return nil, err
		}
		c := coreOf[m.Name()]
		byCore[c] = append(byCore[c], inst)
	}

	ctl := &Controller{
		Config:      cfg,
		Root:        root,
		Tracer:      tr,
		net:         network.New(cfg.CoreCount),
		nextModelID: len(atomics),
	}

	// shared is consulted by every core's Condition so a functor
	// firing early on one core broadcasts its stop instant to every
	// peer (spec.md section 4.9) instead of each core running to the
	// originally configured termination time independently.
	shared := termination.NewSharedClock(cfg.TerminationTime)
	term := termination.New(cfg.TerminationTime, termination.Functor(cfg.TerminationFunctor), shared)

	switch cfg.SimType {
	case config.Sequential, config.DynamicStructure:
		if cfg.CoreCount != 1 {
			return nil, simerrors.New(simerrors.Allocator, "sequential and dynamic_structure sim types require core_count=1")
		}
		ctl.seqCore = core.New(0, byCore[0], build, ctl.net, term, cfg.ZombieIdleThreshold, cfg.LoopCap, tr)

	case config.Optimistic:
		ctl.gvtMatrix = gvt.NewMatrix(cfg.CoreCount)
		for i := 0; i < cfg.CoreCount; i++ {
			oc := core.NewOptimisticCore(i, byCore[i], build, ctl.net, term, cfg.ZombieIdleThreshold, cfg.LoopCap, ctl.gvtMatrix, tr)
			ctl.optCore = append(ctl.optCore, oc)
		}

	case config.Conservative:
		eot := core.NewEOTVector(cfg.CoreCount)
		names := make([][]string, cfg.CoreCount)
		for _, m := range atomics {
			c := coreOf[m.Name()]
			names[c] = append(names[c], m.Name())
		}
		for i := 0; i < cfg.CoreCount; i++ {
			influencers := core.DiscoverInfluencers(build, i, names[i])
			cc, err := core.NewConservativeCore(i, byCore[i], build, ctl.net, term, cfg.ZombieIdleThreshold, cfg.LoopCap, eot, influencers, tr)
			if err != nil {
				return nil, err
			}
			ctl.conCore = append(ctl.conCore, cc)
		}

	default:
		return nil, simerrors.New(simerrors.ModelContract, "unknown sim_type")
	}

	return ctl, nil
}

// Simulate runs the configured loop to completion, returning the
// first fatal SimError. A failed GVT round is logged and retried,
// never returned; exceeding the GVT round guard (maxGVTRounds) is
// returned as a GVTProtocol error.
func (ctl *Controller) Simulate() error {
	switch ctl.Config.SimType {
	case config.Sequential:
		return ctl.runSequential()
	case config.DynamicStructure:
		return ctl.runDynamicStructure()
	case config.Optimistic:
		return ctl.runOptimistic()
	case config.Conservative:
		return ctl.runConservative()
	default:
		return simerrors.New(simerrors.ModelContract, "unknown sim_type")
	}
}

// fatalOf returns a core's FatalErr as a plain error, nil if none was
// set. A bare `return c.FatalErr` would hand back a non-nil error
// interface wrapping a nil *SimError once the field's type is no
// longer untyped nil.
func fatalOf(err *simerrors.SimError) error {
	if err == nil {
		return nil
	}
	return err
}

// runSequential implements spec.md section 4.7's sequential loop.
func (ctl *Controller) runSequential() error {
	for ctl.seqCore.RunSmallStep() {
	}
	return fatalOf(ctl.seqCore.FatalErr)
}

// runDynamicStructure is the sequential loop plus, after every step,
// a check for a fired model_transition and a DS-phase reconfiguration
// when one fires.
func (ctl *Controller) runDynamicStructure() error {
	for {
		live := ctl.seqCore.RunSmallStep()
		if ctl.anyModelTransitionFired() {
			if err := ctl.runDSPhase(); err != nil {
				return err
			}
		}
		if !live {
			return fatalOf(ctl.seqCore.FatalErr)
		}
	}
}

// anyModelTransitionFired polls every resident model implementing
// model.DSModel; the coupled hierarchy's own hooks are polled later,
// by runDSPhase. A model's ModelTransition is free to mutate the
// shared Coupled tree directly (it is only ever called from inside a
// bracketed DS phase window, opened here around the poll) before
// reporting whether it changed anything.
func (ctl *Controller) anyModelTransitionFired() bool {
	ctl.Root.BeginDSPhase()
	defer ctl.Root.EndDSPhase()
	for _, m := range ctl.seqCore.Resident() {
		if ds, ok := m.(model.DSModel); ok && ds.ModelTransition() {
			return true
		}
	}
	return false
}

// runDSPhase implements spec.md section 4.7's DS phase: propagate
// transitions bottom-up until quiescent, re-run direct-connect, then
// reset the core's scheduler against the new flat model set.
func (ctl *Controller) runDSPhase() error {
	ctl.Root.BeginDSPhase()
	defer ctl.Root.EndDSPhase()

	for ctl.Root.PropagateDS() {
	}

	oldIDOf := make(map[string]int)
	oldResident := make(map[string]bool)
	for _, m := range ctl.seqCore.Resident() {
		oldResident[m.Name()] = true
	}
	// oldIDOf is recovered from the routing table's own id space via
	// the core's resident set; AssignIDsStable only needs it to decide
	// which names are "already addressed", so any id->name witness the
	// core already carries will do -- we rebuild it from scratch here
	// since Core does not expose its internal id map directly.
	for id, name := range ctl.idSnapshot() {
		oldIDOf[name] = id
	}

	atomics, routing := model.Flatten(ctl.Root)
	next := func() int {
		id := ctl.nextModelID
		ctl.nextModelID++
		return id
	}
	idOf, nameOf := core.AssignIDsStable(atomics, oldIDOf, next)

	coreOf := make(map[string]int, len(atomics))
	newResident := make(map[string]bool, len(atomics))
	for _, m := range atomics {
		coreOf[m.Name()] = ctl.seqCore.ID()
		newResident[m.Name()] = true
	}
	build := core.Build{Routing: routing, CoreOf: coreOf, IDOf: idOf, NameOf: nameOf}

	for _, m := range atomics {
		if !oldResident[m.Name()] {
			inst, err := model.NewInstance(m, -1)
			if err != nil {
				return err
			}
			ctl.seqCore.AddModel(inst, idOf[m.Name()])
		}
	}
	for name := range oldResident {
		if !newResident[name] {
			ctl.seqCore.RemoveModel(oldIDOf[name])
		}
	}
	return ctl.seqCore.Rebuild(build)
}

// idSnapshot reconstructs the current id->name map for ctl.seqCore's
// resident atomics from its build-time assignment; used only by
// runDSPhase to seed AssignIDsStable.
func (ctl *Controller) idSnapshot() map[int]string {
	out := make(map[int]string)
	for _, m := range ctl.seqCore.Resident() {
		out[ctl.seqCore.ModelID(m.Name())] = m.Name()
	}
	return out
}

// terminationBarrier is spec.md section 4.7's worker termination
// barrier: an atomically-decremented "workers alive" counter guarded
// by a condition variable. A pump goroutine broadcasts it on a short
// interval so a worker that went idle notices a message that arrived
// for it without every send path needing to know about the barrier --
// the literal wording calls for the sender to wake it, but nothing in
// the network layer currently threads a wake-up hook through every
// Accept call, so a bounded poll interval stands in for that signal.
type terminationBarrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	alive int
}

func newTerminationBarrier(n int) *terminationBarrier {
	b := &terminationBarrier{alive: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *terminationBarrier) markDone() {
	b.mu.Lock()
	b.alive--
	if b.alive <= 0 {
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}

func (b *terminationBarrier) markRevived() {
	b.mu.Lock()
	b.alive++
	b.mu.Unlock()
}

func (b *terminationBarrier) settled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive <= 0
}

func (b *terminationBarrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.alive > 0 {
		b.cond.Wait()
	}
}

func (b *terminationBarrier) pump(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		case <-ticker.C:
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		}
	}
}

// runOptimistic spawns one worker per core plus a GVT goroutine, per
// spec.md section 4.7. The GVT goroutine only knows to stop once every
// core worker has permanently settled, so a dedicated watcher
// goroutine waits on the workers alone and cancels the shared context
// to unblock it -- errgroup's own cancellation only fires on a fatal
// error, which a clean finish never produces.
func (ctl *Controller) runOptimistic() error {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(parent)

	bar := newTerminationBarrier(len(ctl.optCore))
	go bar.pump(ctx, 5*time.Millisecond)

	ports := make([]gvt.CorePort, len(ctl.optCore))
	for i, oc := range ctl.optCore {
		ports[i] = oc
	}

	var workers sync.WaitGroup
	for _, oc := range ctl.optCore {
		oc := oc
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return ctl.optimisticWorker(ctx, oc, bar)
		})
	}
	g.Go(func() error {
		workers.Wait()
		cancel()
		return nil
	})
	g.Go(func() error {
		return ctl.runGVTLoop(ctx, ports)
	})

	return g.Wait()
}

// optimisticWorker loops run_small_step until the barrier settles,
// going idle (marking the barrier) whenever a step reports the core
// no longer live and re-entering the loop if a later message makes
// the core live again.
func (ctl *Controller) optimisticWorker(ctx context.Context, oc *core.OptimisticCore, bar *terminationBarrier) error {
	idle := false
	for {
		select {
		case <-ctx.Done():
			if idle {
				return nil
			}
			bar.markDone()
			return fatalOf(oc.FatalErr)
		default:
		}

		if oc.Live {
			if idle {
				bar.markRevived()
				idle = false
			}
			oc.RunSmallStep()
			if err := fatalOf(oc.FatalErr); err != nil {
				bar.markDone()
				return err
			}
			continue
		}

		if !idle {
			idle = true
			bar.markDone()
		}
		if oc.Net.Pending(oc.ID()) {
			oc.Live = true
			continue
		}
		if bar.settled() {
			return nil
		}
		bar.wait()
	}
}

// runGVTLoop drives Mattern rounds on the configured interval until
// the context is cancelled (every worker has permanently settled) or
// the guard counter trips.
func (ctl *Controller) runGVTLoop(ctx context.Context, ports []gvt.CorePort) error {
	interval := time.Duration(ctl.Config.GVTIntervalMS) * time.Millisecond
	coordinator := gvt.NewCoordinator(ports, ctl.gvtMatrix)

	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
		if round > maxGVTRounds {
			return simerrors.New(simerrors.GVTProtocol, "gvt round guard counter exceeded")
		}
		ctl.GVTStats.Started++
		newGVT, err := coordinator.RunRound()
		if err != nil {
			ctl.GVTStats.Failed++
			simlog.Warnf("controller: gvt round failed: %v", err)
			continue
		}
		ctl.GVTStats.Found++
		if err := ctl.Tracer.Flush(); err != nil {
			simlog.Warnf("controller: trace flush after gvt round failed: %v", err)
		}
		simlog.Tracef("controller: gvt advanced to %s", newGVT)
	}
}

// runConservative spawns one worker per core; a stalled core yields
// instead of spinning while waiting on an influencer's EOT.
func (ctl *Controller) runConservative() error {
	g, ctx := errgroup.WithContext(context.Background())
	for _, cc := range ctl.conCore {
		cc := cc
		g.Go(func() error { return ctl.conservativeWorker(ctx, cc) })
	}
	return g.Wait()
}

func (ctl *Controller) conservativeWorker(ctx context.Context, cc *core.ConservativeCore) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		live := cc.RunSmallStep()
		if err := fatalOf(cc.FatalErr); err != nil {
			return err
		}
		if cc.Stalled() {
			runtime.Gosched()
		}
		if !live {
			return nil
		}
	}
}
