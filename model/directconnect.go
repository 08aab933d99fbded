// Direct-connect: flattening a coupled-model hierarchy into a flat
// set of atomic models plus atomic-to-atomic port routing with
// composed Z-functions, per spec.md section 4.3. Grounded on
// original_source's IC/EIC/EOC coupling resolution (rootmodel.cpp),
// re-expressed as plain recursive Go rather than a class hierarchy.
package model

// ZFunc transforms a payload as it crosses one connection edge.
type ZFunc func(payload interface{}) interface{}

func identity(p interface{}) interface{} { return p }

func compose(outer, inner ZFunc) ZFunc {
	if outer == nil {
		outer = identity
	}
	if inner == nil {
		inner = identity
	}
	return func(p interface{}) interface{} { return inner(outer(p)) }
}

// PortRef names an endpoint of a Connection relative to one Coupled
// node: Owner is the child's name (atomic or nested coupled) the port
// belongs to, or "" to mean the Coupled node's own external boundary
// port (an EIC source or an EOC destination).
type PortRef struct {
	Owner string
	Port  int
}

// Connection is one edge declared at a single level of the hierarchy:
// an IC (both Owner fields non-empty, naming sibling children), an
// EIC (From.Owner == ""), or an EOC (To.Owner == "").
type Connection struct {
	From PortRef
	To   PortRef
	Z    ZFunc
}

// Coupled is a node in the model hierarchy: a named set of atomic and
// coupled children plus the connections between them (and to its own
// boundary). Atomic model names must be unique across the whole tree
// -- routing addresses atomics by name, exactly as the original
// engine's core addresses models by (globally unique) name.
type Coupled struct {
	Name        string
	Atomics     map[string]AtomicModel
	Children    map[string]*Coupled
	Connections []Connection

	parent       *Coupled
	nameInParent string
	dsHook       CoupledDSModel
	dsActive     bool
}

// NewCoupled builds an empty coupled model node.
func NewCoupled(name string) *Coupled {
	return &Coupled{Name: name, Atomics: map[string]AtomicModel{}, Children: map[string]*Coupled{}}
}

// AddAtomic attaches an atomic model as a direct child.
func (c *Coupled) AddAtomic(m AtomicModel) {
	c.Atomics[m.Name()] = m
}

// RemoveAtomic detaches an atomic model, for use during a DS phase.
func (c *Coupled) RemoveAtomic(name string) {
	delete(c.Atomics, name)
}

// CoupledDSModel is the optional coupled-level counterpart to
// DSModel: a Coupled whose own membership or wiring needs to react to
// a child's structural change implements it and is polled bottom-up
// alongside the atomic models during a DS phase.
type CoupledDSModel interface {
	ModelTransition() bool
}

// dsHook, if set, is consulted by PropagateDS for this node.
func (c *Coupled) SetDSHook(h CoupledDSModel) { c.dsHook = h }

// PropagateDS walks the hierarchy bottom-up, polling every node's
// DSHook (if any), and reports whether anything fired -- spec.md
// section 4.7's "propagate transitions bottom-up through parents".
// The caller (controller.runDSPhase) repeats this until a full pass
// reports no change; the atomic models' own ModelTransition is polled
// separately, before runDSPhase starts.
func (c *Coupled) PropagateDS() bool {
	changed := false
	for _, child := range c.Children {
		if child.PropagateDS() {
			changed = true
		}
	}
	if c.dsHook != nil && c.dsHook.ModelTransition() {
		changed = true
	}
	return changed
}

// BeginDSPhase/EndDSPhase bracket a dynamic-structure reconfiguration,
// during which AddAtomic/RemoveAtomic/Connect are permitted; outside
// this bracket on a Coupled the controller has already started
// simulating, such a call is a DSPhase contract violation the caller
// is responsible for rejecting (spec.md section 4.3: "the core
// forbids DS calls outside this phase").
func (c *Coupled) BeginDSPhase() { c.dsActive = true }
func (c *Coupled) EndDSPhase()   { c.dsActive = false }

// InDSPhase reports whether this node is currently inside a bracketed
// DS phase.
func (c *Coupled) InDSPhase() bool { return c.dsActive }

// AddChild attaches a nested coupled model, recording the parent link
// direct-connect uses to bubble an EOC up through ancestor levels.
func (c *Coupled) AddChild(child *Coupled) {
	child.parent = c
	child.nameInParent = child.Name
	c.Children[child.Name] = child
}

// Connect declares one connection at this level.
func (c *Coupled) Connect(from, to PortRef, z ZFunc) {
	c.Connections = append(c.Connections, Connection{From: from, To: to, Z: z})
}

// ResolvedEdge is a fully-composed atomic-to-atomic route produced by
// Flatten.
type ResolvedEdge struct {
	DestAtomic string
	DestPort   int
	Z          ZFunc
}

// RoutingTable maps an atomic model's (name, output port) to the
// atomic destinations its output ultimately reaches, after composing
// every Z-function along the way.
type RoutingTable map[string]map[int][]ResolvedEdge

func (rt RoutingTable) add(atomic string, port int, edges []ResolvedEdge) {
	if rt[atomic] == nil {
		rt[atomic] = make(map[int][]ResolvedEdge)
	}
	rt[atomic][port] = append(rt[atomic][port], edges...)
}

// Edges returns the resolved routes for an atomic's output port.
func (rt RoutingTable) Edges(atomic string, port int) []ResolvedEdge {
	if rt[atomic] == nil {
		return nil
	}
	return rt[atomic][port]
}

// resolved is an internal resolution result: either a final atomic
// destination (atomic != "") or an escape to the enclosing coupled's
// own boundary port (atomic == "", meaning "continue resolution from
// (c, port) in c's own Connections, owner=="").
type resolved struct {
	atomic string
	port   int
	z      ZFunc
}

// resolveDown answers: given output produced at (owner, port) inside
// c, where does it ultimately go? Follows IC edges directly to
// sibling atomics, descends into child coupled models for EIC, and
// bubbles up to c's parent for EOC.
func resolveDown(c *Coupled, owner string, port int, z ZFunc, depth int) []resolved {
	if depth > 64 {
		// A connection graph this deep is almost certainly cyclic;
		// direct-connect graphs are acyclic by construction.
		return nil
	}
	var out []resolved
	for _, conn := range c.Connections {
		if conn.From.Owner != owner || conn.From.Port != port {
			continue
		}
		zz := compose(z, conn.Z)
		switch {
		case conn.To.Owner == "":
			// EOC: escapes to c's own external port. Bubble to the
			// parent, continuing resolution as if emitted from c
			// (named c.nameInParent in the parent's Connections).
			if c.parent == nil {
				continue // dangling boundary port at the root: no-op
			}
			out = append(out, resolveDown(c.parent, c.nameInParent, conn.To.Port, zz, depth+1)...)
		case c.Atomics[conn.To.Owner] != nil:
			out = append(out, resolved{atomic: conn.To.Owner, port: conn.To.Port, z: zz})
		case c.Children[conn.To.Owner] != nil:
			// EIC: entering a child's internal wiring from its own
			// external input port (owner == "" within the child).
			out = append(out, resolveDown(c.Children[conn.To.Owner], "", conn.To.Port, zz, depth+1)...)
		}
	}
	return out
}

// Flatten walks the full hierarchy and produces the flat atomic model
// list plus the fully-composed routing table. DS-phase mutations
// invalidate this result: the controller re-runs Flatten after any
// ModelTransition returns true (spec.md section 4.3).
func Flatten(root *Coupled) ([]AtomicModel, RoutingTable) {
	var atomics []AtomicModel
	routing := make(RoutingTable)

	var walk func(c *Coupled)
	walk = func(c *Coupled) {
		for name, m := range c.Atomics {
			atomics = append(atomics, m)
			seenPort := make(map[int]bool)
			for _, conn := range c.Connections {
				if conn.From.Owner != name || seenPort[conn.From.Port] {
					continue
				}
				seenPort[conn.From.Port] = true
				edges := resolveDown(c, name, conn.From.Port, identity, 0)
				var finals []ResolvedEdge
				for _, r := range edges {
					if r.atomic == "" {
						continue // unresolved escape past the root
					}
					finals = append(finals, ResolvedEdge{DestAtomic: r.atomic, DestPort: r.port, Z: r.z})
				}
				routing.add(name, conn.From.Port, finals)
			}
		}
		for _, child := range c.Children {
			walk(child)
		}
	}
	walk(root)
	return atomics, routing
}
