// Package model defines the atomic-model capability set the core
// drives, the per-core model instance wrapper, and port addressing.
// Grounded on the five callback interface of spec.md section 3/4.4
// and original_source/main/src/model/atomicmodel.h, re-architected
// away from its deep class hierarchy into a small capability set plus
// optional interfaces (spec.md section 9).
package model

import (
	"fmt"

	"pdevscore/message"
	"pdevscore/simerrors"
	"pdevscore/timestamp"
)

// OutputEvent is one message a model's Output produced, addressed
// only by local output port id -- the core fills in source identity
// and timestamp (the Port.Emit contract of spec.md section 6).
type OutputEvent struct {
	Port    int
	Payload interface{}
}

// AtomicModel is the capability set the core requires of every atomic
// model: time-advance, output, and the three transition functions.
type AtomicModel interface {
	Name() string
	TimeAdvance() timestamp.Timestamp
	Output() []OutputEvent
	InternalTransition()
	ExternalTransition(elapsed timestamp.Timestamp, msgs []*message.Message)
}

// Lookaheader is implemented by models that participate in
// conservative synchronization. A model without this interface is
// treated as having zero lookahead, which is a ModelContract error in
// conservative mode (spec.md section 4.6/9, Open Questions: treated
// as user error, not silently clamped).
type Lookaheader interface {
	Lookahead() timestamp.Timestamp
}

// ConfluentTransitioner is implemented by models that need a
// non-default confluent transition. Without it, the core applies the
// documented default: internal transition then external transition
// with elapsed = 0 (spec.md section 4.4).
type ConfluentTransitioner interface {
	ConfluentTransition(msgs []*message.Message)
}

// DSModel is implemented by models that participate in dynamic
// structure reconfiguration. ModelTransition returns true if the
// model's structure changed and a DS phase must run.
type DSModel interface {
	ModelTransition() bool
}

// StateSaver is implemented by models used under the optimistic core,
// which needs to snapshot and restore state across a rollback.
type StateSaver interface {
	SaveState() interface{}
	RestoreState(interface{})
}

// Instance is the per-core wrapper around one atomic model: its
// schedule bookkeeping (time_last/time_next), its uuid once allocated,
// and -- for the optimistic core -- a bounded history of saved states.
// Instances are owned exclusively by one core's model table,
// addressed by (core-id, local-id); there is no shared ownership.
type Instance struct {
	Model         AtomicModel
	UUID          message.Address
	PreferredCore int // -1 = no preference

	TimeLast timestamp.Timestamp
	TimeNext timestamp.Timestamp

	// KeepOldStates enables the optimistic core's history; the
	// sequential and conservative cores never roll back and leave it
	// false.
	KeepOldStates bool
	oldStates     []savedState
}

type savedState struct {
	TimeLast timestamp.Timestamp
	Snapshot interface{}
}

// NewInstance wraps m, computing its first time_next from time_last=0.
// Returns a fatal ModelContract error if m's initial time_advance is
// negative (spec.md section 4.4: time_advance = 0 is legal, < 0 is
// fatal).
func NewInstance(m AtomicModel, preferredCore int) (*Instance, error) {
	ta := m.TimeAdvance()
	if ta.Time < 0 {
		return nil, simerrors.New(simerrors.ModelContract,
			fmt.Sprintf("model %q returned a negative time_advance", m.Name()))
	}
	i := &Instance{Model: m, PreferredCore: preferredCore, TimeLast: timestamp.Zero}
	i.TimeNext = i.TimeLast.AddTimestamp(ta)
	return i, nil
}

// Lookahead returns the model's lookahead, or zero if it does not
// implement Lookaheader.
func (i *Instance) Lookahead() timestamp.Timestamp {
	if la, ok := i.Model.(Lookaheader); ok {
		return la.Lookahead()
	}
	return timestamp.Zero
}

// Refresh re-establishes time_next = time_last + time_advance. Any
// operation on the model must call this before returning control to
// the scheduler, per spec.md section 3's lifecycle invariant. Returns
// a fatal ModelContract error if the model's time_advance went
// negative.
func (i *Instance) Refresh() error {
	ta := i.Model.TimeAdvance()
	if ta.Time < 0 {
		return simerrors.WithModel(simerrors.ModelContract, i.UUID.CoreID, i.UUID.LocalID,
			fmt.Sprintf("model %q returned a negative time_advance", i.Model.Name()))
	}
	i.TimeNext = i.TimeLast.AddTimestamp(ta)
	return nil
}

// SaveSnapshot pushes the model's current state onto the bounded
// history, if KeepOldStates is set and the model implements
// StateSaver. A no-op otherwise -- the sequential core calls this
// too, but its instances leave KeepOldStates false; the conservative
// core never calls it.
func (i *Instance) SaveSnapshot() {
	if !i.KeepOldStates {
		return
	}
	saver, ok := i.Model.(StateSaver)
	if !ok {
		return
	}
	i.oldStates = append(i.oldStates, savedState{TimeLast: i.TimeLast, Snapshot: saver.SaveState()})
}

// RevertTo pops saved states until the top one has TimeLast < t, then
// restores it, returning whether any state was restored. Used by the
// optimistic core's revert(t) per spec.md section 4.5.
func (i *Instance) RevertTo(t timestamp.Timestamp) (bool, error) {
	saver, ok := i.Model.(StateSaver)
	if !ok {
		return false, nil
	}
	restored := false
	for len(i.oldStates) > 0 {
		top := i.oldStates[len(i.oldStates)-1]
		if top.TimeLast.Less(t) {
			saver.RestoreState(top.Snapshot)
			i.TimeLast = top.TimeLast
			restored = true
			break
		}
		i.oldStates = i.oldStates[:len(i.oldStates)-1]
	}
	if err := i.Refresh(); err != nil {
		return restored, err
	}
	return restored, nil
}

// DropHistoryBefore discards saved states older than gvt, reclaiming
// memory the optimistic core no longer needs for rollback.
func (i *Instance) DropHistoryBefore(gvt timestamp.Timestamp) {
	kept := i.oldStates[:0]
	for _, s := range i.oldStates {
		if !s.TimeLast.Less(gvt) {
			kept = append(kept, s)
		}
	}
	i.oldStates = kept
}
