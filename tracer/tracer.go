// Package tracer records per-step model events for later inspection
// and, under the optimistic core, must be revertible past a rollback
// point. Grounded on storage/log_manager.go and
// network/coordinator/log_manager.go's LogManager shape: an in-memory
// wal.Batch flushed to a wal.Log on an interval, behind a latch.
package tracer

import (
	"fmt"
	"sync"

	"github.com/tidwall/wal"

	"pdevscore/simlog"
	"pdevscore/timestamp"
)

// Record is one traced model event.
type Record struct {
	Time    timestamp.Timestamp `json:"time"`
	Core    int                 `json:"core"`
	Model   string              `json:"model"`
	Kind    string              `json:"kind"`
	Payload interface{}         `json:"payload,omitempty"`
}

// Tracer is the interface the controller writes model events through.
// RevertBeyond is only meaningful for the optimistic core: sequential
// and conservative engines never roll back, so it is a no-op there.
type Tracer interface {
	Trace(r Record)
	RevertBeyond(t timestamp.Timestamp)
	Flush() error
	Close() error
}

// NopTracer discards everything; the zero value for engines that
// don't need a trace.
type NopTracer struct{}

func (NopTracer) Trace(Record)                     {}
func (NopTracer) RevertBeyond(timestamp.Timestamp)  {}
func (NopTracer) Flush() error                      { return nil }
func (NopTracer) Close() error                      { return nil }

// WALTracer batches Records in memory and flushes them to a wal.Log
// every SaveInterval calls to Trace, mirroring LogManager's
// lsn-indexed wal.Batch pattern. Kept entirely in memory between
// flushes also lets RevertBeyond drop unflushed, rolled-back records
// without touching the on-disk log.
type WALTracer struct {
	mu           sync.Mutex
	log          *wal.Log
	batch        *wal.Batch
	lsn          uint64
	lastFlushLSN uint64
	saveInterval uint32
	sinceFlush   uint32
	buffered     []Record // unflushed records, in lsn order, for RevertBeyond
}

// NewWALTracer opens (or creates) a WAL at dir and batches writes,
// flushing every saveInterval recorded events.
func NewWALTracer(dir string, saveInterval uint32) (*WALTracer, error) {
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("tracer: opening wal at %s: %w", dir, err)
	}
	lsn, err := log.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("tracer: reading wal last index: %w", err)
	}
	if saveInterval == 0 {
		saveInterval = 1
	}
	return &WALTracer{
		log:          log,
		batch:        &wal.Batch{},
		lsn:          lsn,
		lastFlushLSN: lsn,
		saveInterval: saveInterval,
	}, nil
}

// Trace appends r to the pending batch, flushing once saveInterval
// records have accumulated since the last flush.
func (t *WALTracer) Trace(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lsn++
	t.batch.Write(t.lsn, []byte(simlog.JSON(r)))
	t.buffered = append(t.buffered, r)
	t.sinceFlush++
	if t.sinceFlush >= t.saveInterval {
		t.flushLocked()
	}
}

func (t *WALTracer) flushLocked() {
	if t.lsn == t.lastFlushLSN {
		return
	}
	if err := t.log.WriteBatch(t.batch); err != nil {
		simlog.Warnf("tracer: wal batch write failed: %v", err)
		return
	}
	t.batch.Clear()
	t.lastFlushLSN = t.lsn
	t.sinceFlush = 0
	t.buffered = nil
}

// Flush forces any pending batch to disk.
func (t *WALTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
	return nil
}

// RevertBeyond drops every buffered (not yet flushed) record with
// time >= t, mirroring the optimistic core's own rollback. Already
// flushed records are left on disk -- an optimistic core that keeps
// SaveInterval at least as large as its expected rollback depth never
// observes a flushed-then-reverted inconsistency in practice; a
// tighter guarantee would require rewriting the WAL file itself,
// which spec.md's tracer scope does not ask for.
func (t *WALTracer) RevertBeyond(mark timestamp.Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.buffered[:0]
	for _, r := range t.buffered {
		if r.Time.Less(mark) {
			kept = append(kept, r)
		}
	}
	t.buffered = kept
	t.batch.Clear()
	t.lsn = t.lastFlushLSN
	for _, r := range kept {
		t.lsn++
		t.batch.Write(t.lsn, []byte(simlog.JSON(r)))
	}
	t.sinceFlush = uint32(len(kept))
}

func (t *WALTracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
	return t.log.Close()
}

// Record.Kind values used by the cores when they call Trace.
const (
	KindOutput   = "output"
	KindInternal = "internal"
	KindExternal = "external"
	KindConflu   = "confluent"
)

// OutputRecord and TransitionRecord are small helpers the cores use
// to build Records without repeating field names at every call site.
func OutputRecord(t timestamp.Timestamp, core int, modelName string, ev interface{}) Record {
	return Record{Time: t, Core: core, Model: modelName, Kind: KindOutput, Payload: ev}
}

func TransitionRecord(t timestamp.Timestamp, core int, modelName, kind string) Record {
	return Record{Time: t, Core: core, Model: modelName, Kind: kind}
}
