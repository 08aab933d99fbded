// Package config collects the simulation's tunable options into a
// single value so multiple simulations can run in the same process,
// grounded on configs/glob_var.go's knob set but gathered into a
// struct instead of package globals.
package config

import (
	"pdevscore/model"
	"pdevscore/simerrors"
	"pdevscore/timestamp"
)

// SimType selects one of the four simulation loops of spec.md
// section 4.7.
type SimType uint8

const (
	Sequential SimType = iota
	DynamicStructure
	Optimistic
	Conservative
)

func (s SimType) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case DynamicStructure:
		return "dynamic_structure"
	case Optimistic:
		return "optimistic"
	case Conservative:
		return "conservative"
	default:
		return "unknown"
	}
}

// TerminationFunctor inspects the resident models of one core and
// decides whether the simulation should stop.
type TerminationFunctor func(resident []model.AtomicModel) bool

// Allocator assigns atomic models to cores; satisfied by
// allocator.RoundRobin or a caller-supplied strategy.
type Allocator interface {
	Allocate(atomics []model.AtomicModel, coreCount int) (coreOf map[string]int, err error)
}

// Config is the full set of options spec.md section 6 recognizes; any
// field left at its zero value that has no sensible zero default is
// rejected by Validate.
type Config struct {
	SimType             SimType
	CoreCount           int
	TerminationTime     timestamp.Timestamp
	TerminationFunctor  TerminationFunctor
	GVTIntervalMS       uint32
	ZombieIdleThreshold uint32
	SaveInterval        uint32
	LoopCap             uint64
	Allocator           Allocator
}

const (
	defaultGVTIntervalMS       = 200
	defaultZombieIdleThreshold = 10
)

// Defaults returns a Config with spec.md section 6's documented
// defaults applied, leaving SimType/CoreCount/TerminationTime/
// Allocator for the caller to fill in.
func Defaults() Config {
	return Config{
		GVTIntervalMS:       defaultGVTIntervalMS,
		ZombieIdleThreshold: defaultZombieIdleThreshold,
	}
}

// Validate rejects unknown or out-of-range values, per spec.md section
// 6 ("all others rejected").
func (c Config) Validate(hardwareThreads int) error {
	if c.SimType > Conservative {
		return simerrors.New(simerrors.ModelContract, "unknown sim_type")
	}
	if c.CoreCount < 1 || c.CoreCount > hardwareThreads {
		return simerrors.New(simerrors.Allocator, "core_count out of range [1, hardware_threads]")
	}
	if c.TerminationTime.IsInfinite() {
		return simerrors.New(simerrors.ModelContract, "termination_time must be finite")
	}
	if (c.SimType == Optimistic) && c.GVTIntervalMS == 0 {
		return simerrors.New(simerrors.ModelContract, "gvt_interval_ms must be positive under optimistic sim_type")
	}
	if c.Allocator == nil {
		return simerrors.New(simerrors.Allocator, "allocator must be set")
	}
	return nil
}
