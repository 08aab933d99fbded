// Package simlog provides the simulator's ambient, flag-gated logging.
// It mirrors the teacher's configs package (TPrintf/DPrintf/LPrintf,
// gated by package-level booleans and routed through log.Printf when
// file logging is enabled): the core never logs unconditionally, and
// never through a third-party structured logger the teacher doesn't
// already use.
package simlog

import (
	"fmt"
	"log"
	"time"

	"github.com/goccy/go-json"
)

// Debugging switches. Flip these from a driver program; the core
// itself never changes them.
var (
	ShowDebugInfo = false
	ShowTraceInfo = false
	ShowWarnings  = true
	LogToFile     = false
)

func emit(format string, a ...interface{}) {
	line := time.Now().Format("15:04:05.000") + " <---> " + fmt.Sprintf(format, a...)
	if LogToFile {
		log.Print(line)
	} else {
		fmt.Println(line)
	}
}

// Debugf logs step-by-step core activity (routing, transitions,
// rollback bookkeeping) when ShowDebugInfo is set.
func Debugf(format string, a ...interface{}) {
	if ShowDebugInfo {
		emit(format, a...)
	}
}

// Tracef logs coarser progress (GVT rounds, DS phases) when
// ShowTraceInfo is set.
func Tracef(format string, a ...interface{}) {
	if ShowTraceInfo {
		emit(format, a...)
	}
}

// Warnf logs recoverable protocol issues (a failed GVT round) that
// never abort simulation.
func Warnf(format string, a ...interface{}) {
	if ShowWarnings {
		emit("[WARN] "+format, a...)
	}
}

// JSON marshals v for debug dumps of messages, tokens, and snapshots.
func JSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unmarshalable: %v>", err)
	}
	return string(b)
}

// Assert panics with msg if cond is false. Reserved for invariants
// that indicate a bug in the core itself (scheduler desync, negative
// transient counts) -- never for model-contract violations, which
// return a simerrors.SimError instead.
func Assert(cond bool, msg string) {
	if !cond {
		panic("[ASSERT] " + msg)
	}
}
