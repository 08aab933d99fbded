// Package simerrors defines the simulator's single returned error
// type (kind + message + optional model/core identifier), replacing
// the teacher's raw-panic style (configs.CheckError, configs.Assert)
// at the one boundary spec.md requires it: Controller.Simulate.
package simerrors

import "fmt"

// Kind classifies a SimError per spec.md section 7.
type Kind uint8

const (
	// ModelContract covers a negative time-advance, lookahead == 0 in
	// conservative mode, unknown port name, payload type mismatch.
	ModelContract Kind = iota
	// SchedulingInvariant covers scheduler index desync or an update
	// against an entry that is not present.
	SchedulingInvariant
	// GVTProtocol covers a second Mattern round that still has
	// non-zero counts, or a GVT regression. Recoverable.
	GVTProtocol
	// Network covers a negative transient count or a drain-before-
	// accept race.
	Network
	// DSPhase covers a port/connection mutation attempted outside the
	// dynamic-structure phase.
	DSPhase
	// Allocator covers an assigned core id >= core count.
	Allocator
)

func (k Kind) String() string {
	switch k {
	case ModelContract:
		return "ModelContract"
	case SchedulingInvariant:
		return "SchedulingInvariant"
	case GVTProtocol:
		return "GVTProtocol"
	case Network:
		return "Network"
	case DSPhase:
		return "DSPhase"
	case Allocator:
		return "Allocator"
	default:
		return "Unknown"
	}
}

// SimError is the user-visible failure value returned from
// Controller.Simulate.
type SimError struct {
	Kind    Kind
	Message string
	CoreID  int // -1 if not applicable
	ModelID int // -1 if not applicable
}

func (e *SimError) Error() string {
	switch {
	case e.CoreID >= 0 && e.ModelID >= 0:
		return fmt.Sprintf("%s: %s (core=%d model=%d)", e.Kind, e.Message, e.CoreID, e.ModelID)
	case e.CoreID >= 0:
		return fmt.Sprintf("%s: %s (core=%d)", e.Kind, e.Message, e.CoreID)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// IsFatal reports whether this error kind must stop simulation. Only
// GVTProtocol errors are recoverable per spec.md section 7.
func (e *SimError) IsFatal() bool {
	return e.Kind != GVTProtocol
}

// New builds a SimError with no core/model context.
func New(kind Kind, msg string) *SimError {
	return &SimError{Kind: kind, Message: msg, CoreID: -1, ModelID: -1}
}

// WithCore builds a SimError attributed to a core.
func WithCore(kind Kind, coreID int, msg string) *SimError {
	return &SimError{Kind: kind, Message: msg, CoreID: coreID, ModelID: -1}
}

// WithModel builds a SimError attributed to a core and a model.
func WithModel(kind Kind, coreID, modelID int, msg string) *SimError {
	return &SimError{Kind: kind, Message: msg, CoreID: coreID, ModelID: modelID}
}
