// Package gvt implements the Mattern-style global virtual time
// algorithm the optimistic controller drives: per-core WHITE/RED
// coloring, the shared in-transit count matrix, and the two-round
// token walk that produces a new GVT. Grounded on spec.md section 4.5
// ("Mattern color rules" / "GVT application") and
// original_source/main/src/model/optimisticcore.cpp's gvt handling.
package gvt

import "sync/atomic"

// Matrix is the shared count matrix M: M[i][j] counts WHITE messages
// core i has sent to core j minus those j has received. Senders
// increment their own row; receivers decrement their own diagonal
// cell, per spec.md's literal accounting rule.
type Matrix struct {
	n    int
	cell []atomic.Int64 // row-major n*n
}

// NewMatrix allocates a zeroed n x n count matrix for n cores.
func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, cell: make([]atomic.Int64, n*n)}
}

func (m *Matrix) at(i, j int) *atomic.Int64 { return &m.cell[i*m.n+j] }

// IncSent records one WHITE message sent from i to j.
func (m *Matrix) IncSent(i, j int) {
	m.at(i, j).Add(1)
}

// DecReceived records one WHITE message received at j.
func (m *Matrix) DecReceived(j int) {
	m.at(j, j).Add(-1)
}

// RowSum returns the current in-transit count attributed to core i's
// row: non-positive once every WHITE message core i sent has been
// accounted for as received.
func (m *Matrix) RowSum(i int) int64 {
	var sum int64
	for j := 0; j < m.n; j++ {
		sum += m.at(i, j).Load()
	}
	return sum
}

// ResetRow zeroes core i's row after it repaints WHITE at the start
// of a fresh GVT epoch.
func (m *Matrix) ResetRow(i int) {
	for j := 0; j < m.n; j++ {
		m.at(i, j).Store(0)
	}
}
