package gvt

import (
	"runtime"

	"pdevscore/message"
	"pdevscore/simerrors"
	"pdevscore/timestamp"
)

// CorePort is the view of one optimistic core the GVT round driver
// needs. The optimistic core in package core implements it.
type CorePort interface {
	ID() int
	Paint(message.Color)
	Color() message.Color
	LocalTime() timestamp.Timestamp
	TredMark() timestamp.Timestamp
	ApplyGVT(timestamp.Timestamp)
}

// Token is the control message Mattern's algorithm circulates around
// the ring: the running minima. The in-transit counts it checks are
// read from the shared Matrix, not carried in the token.
type Token struct {
	Tmin     timestamp.Timestamp
	Tred     timestamp.Timestamp
	GVTFound bool
}

// maxSpins bounds how long a round waits at one core for its row of M
// to settle before giving up on the round -- a core that never drains
// its in-transit count is a protocol bug, not something to block on
// forever.
const maxSpins = 1 << 16

// Coordinator drives Mattern rounds over a fixed ring of cores sharing
// one count matrix.
type Coordinator struct {
	Cores  []CorePort
	Matrix *Matrix
}

// NewCoordinator builds a coordinator over cores sharing m.
func NewCoordinator(cores []CorePort, m *Matrix) *Coordinator {
	return &Coordinator{Cores: cores, Matrix: m}
}

// runOnce performs a single walk of the ring, painting each core RED
// as the token reaches it (spec.md section 4.5). Painting every core
// on arrival, not just the first, is what keeps the matrix check
// sound: a core visited later in the walk runs concurrently with this
// coordinator, and any message it sends after its row was certified
// clean must turn RED (and feed Tred) instead of silently repopulating
// an already-checked row as a fresh WHITE send would. It returns the
// round's (Tmin, Tred) and whether the matrix was clean (every row
// settled to zero) by the time the walk completed.
func (c *Coordinator) runOnce() (Token, bool) {
	if len(c.Cores) == 0 {
		return Token{Tmin: timestamp.Infinity, Tred: timestamp.Infinity}, true
	}
	tok := Token{Tmin: timestamp.Infinity, Tred: timestamp.Infinity}
	clean := true

	for _, core := range c.Cores {
		core.Paint(message.Red)
		spins := 0
		for c.Matrix.RowSum(core.ID()) > 0 {
			spins++
			if spins > maxSpins {
				clean = false
				break
			}
			runtime.Gosched()
		}
		tok.Tred = timestamp.Min(tok.Tred, core.TredMark())
		tok.Tmin = timestamp.Min(tok.Tmin, core.LocalTime())
		if c.Matrix.RowSum(core.ID()) > 0 {
			clean = false
		}
	}
	return tok, clean
}

// RunRound runs up to two rounds, per spec.md section 4.5: a clean
// first round settles the GVT immediately; otherwise a second round
// is attempted before giving up. On success, the new GVT is applied
// to every core and returned; on failure, a non-fatal GVTProtocol
// error is returned for the caller to log and retry next interval.
func (c *Coordinator) RunRound() (timestamp.Timestamp, error) {
	tok, clean := c.runOnce()
	if !clean {
		tok, clean = c.runOnce()
	}
	if !clean {
		return timestamp.Zero, simerrors.New(simerrors.GVTProtocol, "gvt round did not settle after two attempts")
	}
	newGVT := timestamp.Min(tok.Tmin, tok.Tred)
	for _, core := range c.Cores {
		core.ApplyGVT(newGVT)
		c.Matrix.ResetRow(core.ID())
	}
	return newGVT, nil
}
