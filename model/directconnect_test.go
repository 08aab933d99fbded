package model

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/magiconair/properties/assert"

	"pdevscore/message"
	"pdevscore/timestamp"
)

type stubModel struct{ name string }

func (s *stubModel) Name() string                      { return s.name }
func (s *stubModel) TimeAdvance() timestamp.Timestamp   { return timestamp.Infinity }
func (s *stubModel) Output() []OutputEvent              { return nil }
func (s *stubModel) InternalTransition()                {}
func (s *stubModel) ExternalTransition(timestamp.Timestamp, []*message.Message) {}

func TestFlattenDirectIC(t *testing.T) {
	root := NewCoupled("root")
	a := &stubModel{name: "a"}
	b := &stubModel{name: "b"}
	root.AddAtomic(a)
	root.AddAtomic(b)
	root.Connect(PortRef{Owner: "a", Port: 0}, PortRef{Owner: "b", Port: 0}, nil)

	atomics, routing := Flatten(root)
	assert.Equal(t, len(atomics), 2)
	edges := routing.Edges("a", 0)
	assert.Equal(t, len(edges), 1)
	assert.Equal(t, edges[0].DestAtomic, "b")
	assert.Equal(t, edges[0].DestPort, 0)
}

func TestFlattenEICDescendsIntoChild(t *testing.T) {
	root := NewCoupled("root")
	child := NewCoupled("child")
	inner := &stubModel{name: "inner"}
	outer := &stubModel{name: "outer"}
	child.AddAtomic(inner)
	root.AddAtomic(outer)
	root.AddChild(child)

	// EIC: root's child boundary port 1 -> child's inner atomic port 0
	child.Connect(PortRef{Owner: "", Port: 1}, PortRef{Owner: "inner", Port: 0}, nil)
	root.Connect(PortRef{Owner: "outer", Port: 0}, PortRef{Owner: "child", Port: 1}, nil)

	_, routing := Flatten(root)
	edges := routing.Edges("outer", 0)
	assert.Equal(t, len(edges), 1)
	assert.Equal(t, edges[0].DestAtomic, "inner")
}

func TestFlattenEOCBubblesToParent(t *testing.T) {
	root := NewCoupled("root")
	child := NewCoupled("child")
	inner := &stubModel{name: "inner"}
	sibling := &stubModel{name: "sibling"}
	child.AddAtomic(inner)
	root.AddAtomic(sibling)
	root.AddChild(child)

	// EOC: child's inner atomic port 0 -> child's own boundary port 2
	child.Connect(PortRef{Owner: "inner", Port: 0}, PortRef{Owner: "", Port: 2}, nil)
	// IC at root level: child's boundary port 2 -> sibling port 0
	root.Connect(PortRef{Owner: "child", Port: 2}, PortRef{Owner: "sibling", Port: 0}, nil)

	_, routing := Flatten(root)
	edges := routing.Edges("inner", 0)
	assert.Equal(t, len(edges), 1)
	assert.Equal(t, edges[0].DestAtomic, "sibling")
}

func TestFlattenComposesZFunctions(t *testing.T) {
	root := NewCoupled("root")
	child := NewCoupled("child")
	inner := &stubModel{name: "inner"}
	outer := &stubModel{name: "outer"}
	child.AddAtomic(inner)
	root.AddAtomic(outer)
	root.AddChild(child)

	double := func(p interface{}) interface{} { return p.(int) * 2 }
	incr := func(p interface{}) interface{} { return p.(int) + 1 }

	child.Connect(PortRef{Owner: "", Port: 1}, PortRef{Owner: "inner", Port: 0}, double)
	root.Connect(PortRef{Owner: "outer", Port: 0}, PortRef{Owner: "child", Port: 1}, incr)

	_, routing := Flatten(root)
	edges := routing.Edges("outer", 0)
	assert.Equal(t, len(edges), 1)
	// outer -> incr -> child boundary -> double -> inner
	assert.Equal(t, edges[0].Z(5), 12)
}

func TestFlattenAtomicNamesMatchHierarchy(t *testing.T) {
	root := NewCoupled("root")
	child := NewCoupled("child")
	inner := &stubModel{name: "inner"}
	outer := &stubModel{name: "outer"}
	child.AddAtomic(inner)
	root.AddAtomic(outer)
	root.AddChild(child)

	atomics, _ := Flatten(root)
	got := make([]string, len(atomics))
	for i, a := range atomics {
		got[i] = a.Name()
	}
	sort.Strings(got)

	want := []string{"inner", "outer"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flattened atomic names mismatch (-want +got):\n%s", diff)
	}
}

func TestFlattenUnresolvedEOCAtRootIsDropped(t *testing.T) {
	root := NewCoupled("root")
	a := &stubModel{name: "a"}
	root.AddAtomic(a)
	root.Connect(PortRef{Owner: "a", Port: 0}, PortRef{Owner: "", Port: 9}, nil)

	_, routing := Flatten(root)
	edges := routing.Edges("a", 0)
	assert.Equal(t, len(edges), 0)
}
