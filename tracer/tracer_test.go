package tracer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pdevscore/timestamp"
)

func TestWALTracerFlushesOnInterval(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	tr, err := NewWALTracer(dir, 2)
	require.NoError(t, err)
	defer tr.Close()

	tr.Trace(OutputRecord(timestamp.At(1), 0, "a", "x"))
	require.Len(t, tr.buffered, 1)
	tr.Trace(OutputRecord(timestamp.At(2), 0, "a", "y"))
	require.Empty(t, tr.buffered) // flushed at interval=2
}

func TestRevertBeyondDropsUnflushed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	tr, err := NewWALTracer(dir, 100)
	require.NoError(t, err)
	defer tr.Close()

	tr.Trace(TransitionRecord(timestamp.At(1), 0, "a", KindInternal))
	tr.Trace(TransitionRecord(timestamp.At(5), 0, "a", KindInternal))
	tr.RevertBeyond(timestamp.At(2))
	require.Len(t, tr.buffered, 1)
	require.Equal(t, timestamp.At(1), tr.buffered[0].Time)
}

func TestNopTracerDiscardsEverything(t *testing.T) {
	var n NopTracer
	n.Trace(OutputRecord(timestamp.At(1), 0, "a", nil))
	require.NoError(t, n.Flush())
	require.NoError(t, n.Close())
}
