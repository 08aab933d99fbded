// Package message implements the addressed, color-tagged event that
// flows between atomic models.
package message

import (
	"fmt"
	"sync/atomic"

	"pdevscore/timestamp"
)

// Color is the Mattern coloring of a message, assigned at send time
// under the sending core's color lock.
type Color uint8

const (
	White Color = iota
	Red
)

func (c Color) String() string {
	if c == Red {
		return "RED"
	}
	return "WHITE"
}

// Flag is a bit in the message's mutable flags bitset. Flags other
// than Anti are set after construction, while the message sits in a
// receiving core's pending scheduler or sent-log, so they are stored
// behind an atomic.
type Flag uint32

const (
	Anti Flag = 1 << iota
	Heaped
	Processed
	Erase
	Delete
	Kill
)

// Address identifies a model instance once it has been assigned to a
// core: (core-id, local-id) per spec.md section 3.
type Address struct {
	CoreID  int
	LocalID int
}

func (a Address) String() string {
	return fmt.Sprintf("(%d,%d)", a.CoreID, a.LocalID)
}

// Message is an immutable addressed event apart from its color and
// flags bitset, which are mutated in place as the message is colored
// for GVT and annihilated by antimessages.
type Message struct {
	Src     Address
	SrcPort int
	Dst     Address
	DstPort int
	Time    timestamp.Timestamp
	Payload interface{}

	color atomic.Uint32
	flags atomic.Uint32
}

// New builds a message. Color defaults to White; callers paint it
// when it leaves the producing core.
func New(src Address, srcPort int, dst Address, dstPort int, t timestamp.Timestamp, payload interface{}) *Message {
	return &Message{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort, Time: t, Payload: payload}
}

// Antimessage builds the antimessage for msg: same identity fields,
// Anti flag set, same color (coloring must not change once a message
// is counted, or GVT accounting is corrupted).
func (m *Message) Antimessage() *Message {
	anti := New(m.Src, m.SrcPort, m.Dst, m.DstPort, m.Time, nil)
	anti.color.Store(m.color.Load())
	anti.flags.Store(uint32(Anti))
	return anti
}

// Color returns the message's current Mattern color.
func (m *Message) Color() Color { return Color(m.color.Load()) }

// Paint sets the message's color. Must only be called once, under the
// sending core's color lock, per spec.md section 4.5.
func (m *Message) Paint(c Color) { m.color.Store(uint32(c)) }

// SetFlag sets f in the flags bitset (idempotent, safe for concurrent
// callers racing to mark the same message).
func (m *Message) SetFlag(f Flag) {
	for {
		old := m.flags.Load()
		next := old | uint32(f)
		if next == old || m.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// HasFlag reports whether f is set.
func (m *Message) HasFlag(f Flag) bool {
	return m.flags.Load()&uint32(f) != 0
}

// IsAnti reports whether this message is an antimessage.
func (m *Message) IsAnti() bool { return m.HasFlag(Anti) }

// Identity fields used to match a message with its antimessage: same
// source, destination, ports and timestamp denote the same event.
func (m *Message) sameEvent(o *Message) bool {
	return m.Src == o.Src && m.SrcPort == o.SrcPort &&
		m.Dst == o.Dst && m.DstPort == o.DstPort &&
		m.Time.Equal(o.Time)
}

// Matches reports whether o is the antimessage (or original) paired
// with m.
func (m *Message) Matches(o *Message) bool {
	return m.sameEvent(o)
}

// Less orders messages by timestamp then by (dst, src) identity, the
// order the pending-message scheduler maintains.
func Less(a, b *Message) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Less(b.Time)
	}
	if a.Dst != b.Dst {
		return a.Dst.CoreID < b.Dst.CoreID || (a.Dst.CoreID == b.Dst.CoreID && a.Dst.LocalID < b.Dst.LocalID)
	}
	return a.Src.CoreID < b.Src.CoreID || (a.Src.CoreID == b.Src.CoreID && a.Src.LocalID < b.Src.LocalID)
}

func (m *Message) String() string {
	return fmt.Sprintf("msg[%s:%d -> %s:%d @%s anti=%v color=%s]",
		m.Src, m.SrcPort, m.Dst, m.DstPort, m.Time, m.IsAnti(), m.Color())
}
