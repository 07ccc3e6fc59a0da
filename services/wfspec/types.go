// Package wfspec holds the specification entities (workflows, courses,
// nodes, transitions) and the structural validator that enforces the
// invariants of spec.md §3 and §4.2. Spec entities are immutable once
// produced by the install package.
package wfspec

import "regexp"

// NodeKind identifies the behavioural role of a NodeSpec.
type NodeKind string

const (
	KindEnter       NodeKind = "enter"
	KindExit        NodeKind = "exit"
	KindCancel      NodeKind = "cancel"
	KindJoined      NodeKind = "joined"
	KindInput       NodeKind = "input"
	KindStep        NodeKind = "step"
	KindMultiplexer NodeKind = "multiplexer"
	KindSplit       NodeKind = "split"
)

// Persistent reports whether a node of this kind gets its own NodeInstance
// row when the runner lands on it (spec.md §3.2). Enter, step and
// multiplexer are transient: the runner passes through them within a
// single _runTransition chain and never records them as the current node.
func (k NodeKind) Persistent() bool {
	switch k {
	case KindInput, KindSplit, KindExit, KindCancel, KindJoined:
		return true
	default:
		return false
	}
}

// Terminal reports whether a course whose current node is of this kind is
// terminated (immutable thereafter).
func (k NodeKind) Terminal() bool {
	switch k {
	case KindExit, KindCancel, KindJoined:
		return true
	default:
		return false
	}
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,19}$`)

// IsSlug reports whether s is a valid spec code: lowercase alphanumeric
// with hyphens, starting with a letter, at most 20 characters (spec.md
// §4.1 step 2).
func IsSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// WorkflowSpec is the top-level, immutable workflow definition bound to a
// host document type.
type WorkflowSpec struct {
	Code             string
	Name             string
	Description      string
	DocumentType     string
	CreatePermission string // empty means no create-time permission check
	CancelPermission string // empty means no workflow-level cancel check

	// Courses is the ordered set of courses owned by this workflow.
	// Exactly one has Depth == 0 (the root).
	Courses []*CourseSpec
}

// RootCourse returns the course with Depth == 0, or nil if none exists
// yet (only possible before/during installation — Validate rejects a
// finished spec with no root).
func (w *WorkflowSpec) RootCourse() *CourseSpec {
	for _, c := range w.Courses {
		if c.Depth == 0 {
			return c
		}
	}
	return nil
}

// Course looks up a course by its slug code within this workflow.
func (w *WorkflowSpec) Course(code string) (*CourseSpec, bool) {
	for _, c := range w.Courses {
		if c.Code == code {
			return c, true
		}
	}
	return nil, false
}

// CourseSpec is a subgraph of nodes forming one parallel path through a
// workflow. The root course has an empty Code and Depth == 0; non-root
// courses are opened by split nodes and have Depth > 0.
type CourseSpec struct {
	Workflow         *WorkflowSpec
	Code             string // "" iff Depth == 0
	Name             string
	Description      string
	Depth            int
	CancelPermission string

	Nodes []*NodeSpec

	// Callers is the set of split NodeSpecs (in lower-depth courses of
	// the same workflow) that list this course in their Branches.
	Callers []*NodeSpec
}

// Node looks up a node by its slug code within this course.
func (c *CourseSpec) Node(code string) (*NodeSpec, bool) {
	for _, n := range c.Nodes {
		if n.Code == code {
			return n, true
		}
	}
	return nil, false
}

// NodesOfKind returns every node of the given kind, in declaration order.
func (c *CourseSpec) NodesOfKind(k NodeKind) []*NodeSpec {
	var out []*NodeSpec
	for _, n := range c.Nodes {
		if n.Type == k {
			out = append(out, n)
		}
	}
	return out
}

// EnterNode returns the course's single enter node, or nil if the course
// is not yet well-formed.
func (c *CourseSpec) EnterNode() *NodeSpec {
	if nodes := c.NodesOfKind(KindEnter); len(nodes) == 1 {
		return nodes[0]
	}
	return nil
}

// CancelNode returns the course's single cancel node, or nil.
func (c *CourseSpec) CancelNode() *NodeSpec {
	if nodes := c.NodesOfKind(KindCancel); len(nodes) == 1 {
		return nodes[0]
	}
	return nil
}

// JoinedNode returns the course's single joined node, or nil if it has
// none (only required when some caller split has a joiner).
func (c *CourseSpec) JoinedNode() *NodeSpec {
	if nodes := c.NodesOfKind(KindJoined); len(nodes) == 1 {
		return nodes[0]
	}
	return nil
}

// NodeSpec is a vertex in a course's graph. Field applicability by Type
// is enforced by Validate, not by the zero value here.
type NodeSpec struct {
	Course      *CourseSpec
	Type        NodeKind
	Code        string
	Name        string
	Description string

	// LandingHandler is a dotted path resolved by the callables registry;
	// valid on any node type, invoked whenever the runner lands on it.
	LandingHandler string

	// ExitValue is required (and non-negative) for exit nodes only.
	ExitValue *uint8

	// Joiner is a dotted path resolved by the callables registry; only
	// meaningful on a split node whose Outbound has 2+ transitions.
	Joiner string

	// ExecutePermission is optional, input nodes only.
	ExecutePermission string

	// Branches holds the child CourseSpecs this split node opens. Only
	// split nodes may set this, and it must have at least 2 entries.
	Branches []*CourseSpec

	Inbound  []*TransitionSpec
	Outbound []*TransitionSpec
}

// OutboundByAction finds the outbound transition whose ActionName matches
// name, used by Execute and by the joiner dispatch in _testSplitBranchReached.
func (n *NodeSpec) OutboundByAction(name string) (*TransitionSpec, bool) {
	for _, t := range n.Outbound {
		if t.ActionName == name {
			return t, true
		}
	}
	return nil, false
}

// TransitionSpec is a directed edge between two nodes of the same course.
type TransitionSpec struct {
	Course      *CourseSpec
	Origin      *NodeSpec
	Destination *NodeSpec
	Name        string
	Description string

	// ActionName is required (and unique per origin) for split/input
	// origins; forbidden otherwise.
	ActionName string

	// Permission is optional for enter/input origins; forbidden otherwise.
	Permission string

	// Condition is a dotted path (or "cel:<expr>") resolved by the
	// callables registry; required for multiplexer origins, forbidden
	// otherwise.
	Condition string

	// Priority orders a multiplexer's outbound transitions for condition
	// evaluation; required (and unique per origin) for multiplexer
	// origins, forbidden otherwise.
	Priority *uint8
}
