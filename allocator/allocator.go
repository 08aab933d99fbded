// Package allocator assigns flattened atomic models to cores.
// Grounded on original_source/main/src/model/simpleallocator.h's
// SimpleAllocator::allocate: round-robin assignment honoring a
// model's preferred core, clamped modulo the core count.
package allocator

import (
	mapset "github.com/deckarep/golang-set"

	"pdevscore/model"
	"pdevscore/simerrors"
)

// PreferredCoreModel is implemented by atomic models that request a
// specific core; a model without this interface gets pure round-robin
// placement.
type PreferredCoreModel interface {
	PreferredCore() int
}

// RoundRobin is the default Allocator (config.Allocator): it assigns
// models in iteration order, clamping any requested preferred core
// into [0, coreCount) with a modulo rather than rejecting it.
type RoundRobin struct{}

// Allocate assigns every atomic in atomics to a core in
// [0, coreCount), returning the full model-name -> core-id map. All
// models are allocated before simulation starts, per spec.md section
// 4.8: there is no late allocation path.
func (RoundRobin) Allocate(atomics []model.AtomicModel, coreCount int) (map[string]int, error) {
	if coreCount < 1 {
		return nil, simerrors.New(simerrors.Allocator, "core count must be at least 1")
	}
	assigned := mapset.NewSet()
	coreOf := make(map[string]int, len(atomics))
	next := 0
	for _, m := range atomics {
		name := m.Name()
		if assigned.Contains(name) {
			return nil, simerrors.New(simerrors.Allocator, "duplicate atomic model name: "+name)
		}
		assigned.Add(name)

		var core int
		if pref, ok := m.(PreferredCoreModel); ok && pref.PreferredCore() >= 0 {
			core = pref.PreferredCore() % coreCount
		} else {
			core = next % coreCount
			next++
		}
		if core < 0 || core >= coreCount {
			return nil, simerrors.New(simerrors.Allocator, "allocator produced an out-of-range core id for "+name)
		}
		coreOf[name] = core
	}
	return coreOf, nil
}
