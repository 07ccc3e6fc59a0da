package wfspec

import (
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/caseflow/engine/pkg/wferr"
)

// Validate runs the six ordered structural checks of spec.md §4.2 against
// a fully-linked WorkflowSpec and reports the first failure encountered,
// as a *wferr.Error carrying the offending entity.
func Validate(w *WorkflowSpec) error {
	root := w.RootCourse()
	if root == nil {
		return wferr.InvalidState(wferr.CodeWorkflowHasNoMainCourse, w, "")
	}
	if err := validateBranchGraphAcyclic(w); err != nil {
		return err
	}

	for _, c := range w.Courses {
		if err := validateCourseLevel(c); err != nil {
			return err
		}
	}

	for _, c := range w.Courses {
		for _, n := range c.Nodes {
			if err := validateNodeLevel(n); err != nil {
				return err
			}
		}
	}

	for _, c := range w.Courses {
		if err := validateTransitionLevel(c); err != nil {
			return err
		}
	}

	for _, c := range w.Courses {
		if err := validateReachability(c); err != nil {
			return err
		}
	}

	for _, c := range w.Courses {
		if c.Depth == 0 {
			continue
		}
		if err := validateNoAutomaticPath(c); err != nil {
			return err
		}
	}

	return nil
}

func idHash(i int) int { return i }

// validateBranchGraphAcyclic builds the branch graph (course -> course,
// one edge per split -> branch) with dominikbraun/graph's cycle
// prevention, so the first edge that would close a cycle surfaces
// directly as the workflow-level failure.
func validateBranchGraphAcyclic(w *WorkflowSpec) error {
	index := make(map[*CourseSpec]int, len(w.Courses))
	for i, c := range w.Courses {
		index[c] = i
	}

	g := graph.New(idHash, graph.Directed(), graph.PreventCycles())
	for i := range w.Courses {
		if err := g.AddVertex(i); err != nil && err != graph.ErrVertexAlreadyExists {
			return wferr.Runtime(wferr.CodeExecutionError, w, err)
		}
	}

	for _, c := range w.Courses {
		for _, n := range c.Nodes {
			if n.Type != KindSplit {
				continue
			}
			for _, b := range n.Branches {
				bi, ok := index[b]
				if !ok {
					continue
				}
				if err := g.AddEdge(index[c], bi); err != nil {
					if err == graph.ErrEdgeAlreadyExists {
						continue
					}
					return wferr.InvalidState(wferr.CodeWorkflowCircularDependentCourses, n, err.Error())
				}
			}
		}
	}
	return nil
}

// validateCourseLevel checks exactly-one enter, exactly-one cancel, at
// least one exit, the conditional joined-node requirement, and caller
// consistency (spec.md §4.2 step 2).
func validateCourseLevel(c *CourseSpec) error {
	if n := len(c.NodesOfKind(KindEnter)); n == 0 {
		return wferr.InvalidState(wferr.CodeCourseMissingRequiredNode, c, "enter")
	} else if n > 1 {
		return wferr.InvalidState(wferr.CodeCourseMultipleRequiredNodes, c, "enter")
	}

	if n := len(c.NodesOfKind(KindCancel)); n == 0 {
		return wferr.InvalidState(wferr.CodeCourseMissingRequiredNode, c, "cancel")
	} else if n > 1 {
		return wferr.InvalidState(wferr.CodeCourseMultipleRequiredNodes, c, "cancel")
	}

	if n := len(c.NodesOfKind(KindExit)); n == 0 {
		return wferr.InvalidState(wferr.CodeCourseMissingRequiredNode, c, "exit")
	}

	needsJoined := false
	for _, caller := range c.Callers {
		if caller.Joiner != "" {
			needsJoined = true
			break
		}
	}
	joined := c.NodesOfKind(KindJoined)
	if needsJoined && len(joined) == 0 {
		return wferr.InvalidState(wferr.CodeCourseMissingRequiredNode, c, "joined")
	}
	if len(joined) > 1 {
		return wferr.InvalidState(wferr.CodeCourseMultipleRequiredNodes, c, "joined")
	}

	if c.Depth == 0 && len(c.Callers) != 0 {
		return wferr.InvalidState(wferr.CodeCourseHasInvalidCallers, c, "root course must have no callers")
	}
	for _, caller := range c.Callers {
		if caller.Type != KindSplit {
			return wferr.InvalidState(wferr.CodeCourseHasInvalidCallers, c, "caller must be a split node")
		}
		if caller.Course.Depth >= c.Depth {
			return wferr.InvalidState(wferr.CodeCourseHasInvalidCallers, c, "caller course must have strictly lower depth")
		}
	}
	return nil
}

func mustBeNull(n *NodeSpec, field string) error {
	return wferr.InvalidState(wferr.FieldMustBeNullCode(field), n, field)
}

func required(n *NodeSpec, field string) error {
	return wferr.InvalidState(wferr.FieldRequiredCode(field), n, field)
}

// validateNodeLevel enforces the inbound/outbound counts and field
// applicability table of spec.md §3.1 for a single node.
func validateNodeLevel(n *NodeSpec) error {
	in, out := len(n.Inbound), len(n.Outbound)

	switch n.Type {
	case KindEnter:
		if in != 0 {
			return wferr.InvalidState(wferr.CodeNodeHasInbounds, n, "")
		}
		if out == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoOutbound, n, "")
		}
		if out > 1 {
			return wferr.InvalidState(wferr.CodeNodeHasMultipleOutbounds, n, "")
		}
		return requireNilExtras(n)

	case KindExit:
		if in == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoInbound, n, "")
		}
		if out != 0 {
			return wferr.InvalidState(wferr.CodeNodeHasOutbounds, n, "")
		}
		if n.ExitValue == nil {
			return required(n, "exitValue")
		}
		if n.Joiner != "" {
			return mustBeNull(n, "joiner")
		}
		if n.ExecutePermission != "" {
			return mustBeNull(n, "executePermission")
		}
		if n.Branches != nil {
			return mustBeNull(n, "branches")
		}
		return nil

	case KindCancel, KindJoined:
		if in != 0 {
			return wferr.InvalidState(wferr.CodeNodeHasInbounds, n, "")
		}
		if out != 0 {
			return wferr.InvalidState(wferr.CodeNodeHasOutbounds, n, "")
		}
		return requireNilExtras(n)

	case KindInput:
		if in == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoInbound, n, "")
		}
		if out == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoOutbound, n, "")
		}
		if n.ExitValue != nil {
			return mustBeNull(n, "exitValue")
		}
		if n.Joiner != "" {
			return mustBeNull(n, "joiner")
		}
		if n.Branches != nil {
			return mustBeNull(n, "branches")
		}
		return nil

	case KindStep:
		if in == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoInbound, n, "")
		}
		if out == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoOutbound, n, "")
		}
		if out > 1 {
			return wferr.InvalidState(wferr.CodeNodeHasMultipleOutbounds, n, "")
		}
		return requireNilExtras(n)

	case KindMultiplexer:
		if in == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoInbound, n, "")
		}
		if out < 2 {
			return wferr.InvalidState(wferr.CodeNodeHasOneOutbound, n, "")
		}
		return requireNilExtras(n)

	case KindSplit:
		if in == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoInbound, n, "")
		}
		if out == 0 {
			return wferr.InvalidState(wferr.CodeNodeHasNoOutbound, n, "")
		}
		if n.Joiner == "" {
			if out != 1 {
				return wferr.InvalidState(wferr.CodeNodeInconsistentJoiner, n, "split without a joiner must have exactly one outbound")
			}
		} else if out < 2 {
			return wferr.InvalidState(wferr.CodeNodeHasOneOutbound, n, "split with a joiner must have at least two outbounds")
		}
		if n.ExitValue != nil {
			return mustBeNull(n, "exitValue")
		}
		if n.ExecutePermission != "" {
			return mustBeNull(n, "executePermission")
		}
		if len(n.Branches) < 2 {
			return wferr.InvalidState(wferr.CodeNodeNotEnoughBranches, n, "")
		}
		for _, b := range n.Branches {
			if b.Workflow != n.Course.Workflow {
				return wferr.InvalidState(wferr.CodeNodeInconsistentBranches, n, "branch must belong to the same workflow")
			}
			if b.Depth <= n.Course.Depth {
				return wferr.InvalidState(wferr.CodeNodeInconsistentBranches, n, "branch must have strictly greater depth")
			}
		}
		return nil

	default:
		return wferr.InvalidState(wferr.CodeSpecMalformed, n, fmt.Sprintf("unknown node type %q", n.Type))
	}
}

// requireNilExtras checks the fields that every non-exit, non-input,
// non-split node kind must leave unset.
func requireNilExtras(n *NodeSpec) error {
	if n.ExitValue != nil {
		return mustBeNull(n, "exitValue")
	}
	if n.Joiner != "" {
		return mustBeNull(n, "joiner")
	}
	if n.ExecutePermission != "" {
		return mustBeNull(n, "executePermission")
	}
	if n.Branches != nil {
		return mustBeNull(n, "branches")
	}
	return nil
}

func mustBeNullT(t *TransitionSpec, field string) error {
	return wferr.InvalidState(wferr.FieldMustBeNullCode(field), t, field)
}

func requiredT(t *TransitionSpec, field string) error {
	return wferr.InvalidState(wferr.FieldRequiredCode(field), t, field)
}

// validateTransitionLevel enforces the origin-kind field table of
// spec.md §3.1 and the two uniqueness constraints (action name per
// split/input origin, priority per multiplexer origin).
func validateTransitionLevel(c *CourseSpec) error {
	for _, n := range c.Nodes {
		seenAction := map[string]bool{}
		seenPriority := map[uint8]bool{}

		for _, t := range n.Outbound {
			if t.Origin != n {
				return wferr.InvalidState(wferr.CodeTransitionInconsistent, t, "outbound origin mismatch")
			}
			if t.Course != c || t.Origin.Course != c || t.Destination.Course != c {
				return wferr.InvalidState(wferr.CodeTransitionInconsistent, t, "origin and destination must share the same course")
			}

			switch n.Type {
			case KindEnter:
				if t.ActionName != "" {
					return mustBeNullT(t, "actionName")
				}
				if t.Condition != "" {
					return mustBeNullT(t, "condition")
				}
				if t.Priority != nil {
					return mustBeNullT(t, "priority")
				}

			case KindStep:
				if t.ActionName != "" {
					return mustBeNullT(t, "actionName")
				}
				if t.Permission != "" {
					return mustBeNullT(t, "permission")
				}
				if t.Condition != "" {
					return mustBeNullT(t, "condition")
				}
				if t.Priority != nil {
					return mustBeNullT(t, "priority")
				}

			case KindInput:
				if t.ActionName == "" {
					return requiredT(t, "actionName")
				}
				if seenAction[t.ActionName] {
					return wferr.InvalidState(wferr.CodeTransitionActionNameNotUnique, t, t.ActionName)
				}
				seenAction[t.ActionName] = true
				if t.Condition != "" {
					return mustBeNullT(t, "condition")
				}
				if t.Priority != nil {
					return mustBeNullT(t, "priority")
				}

			case KindSplit:
				if t.ActionName == "" {
					return requiredT(t, "actionName")
				}
				if seenAction[t.ActionName] {
					return wferr.InvalidState(wferr.CodeTransitionActionNameNotUnique, t, t.ActionName)
				}
				seenAction[t.ActionName] = true
				if t.Permission != "" {
					return mustBeNullT(t, "permission")
				}
				if t.Condition != "" {
					return mustBeNullT(t, "condition")
				}
				if t.Priority != nil {
					return mustBeNullT(t, "priority")
				}

			case KindMultiplexer:
				if t.ActionName != "" {
					return mustBeNullT(t, "actionName")
				}
				if t.Permission != "" {
					return mustBeNullT(t, "permission")
				}
				if t.Condition == "" {
					return requiredT(t, "condition")
				}
				if t.Priority == nil {
					return requiredT(t, "priority")
				}
				if seenPriority[*t.Priority] {
					return wferr.InvalidState(wferr.CodeTransitionPriorityNotUnique, t, fmt.Sprintf("%d", *t.Priority))
				}
				seenPriority[*t.Priority] = true
			}
		}
	}
	return nil
}

// buildNodeGraph builds the per-course node graph (vertex per node code,
// edge per transition) without cycle prevention: input loops are a valid
// pattern within a course (spec.md §9).
func buildNodeGraph(c *CourseSpec, reverse bool) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed())
	for _, n := range c.Nodes {
		if err := g.AddVertex(n.Code); err != nil && err != graph.ErrVertexAlreadyExists {
			return nil, err
		}
	}
	for _, n := range c.Nodes {
		for _, t := range n.Outbound {
			src, dst := t.Origin.Code, t.Destination.Code
			if reverse {
				src, dst = dst, src
			}
			if err := g.AddEdge(src, dst); err != nil && err != graph.ErrEdgeAlreadyExists {
				return nil, err
			}
		}
	}
	return g, nil
}

// validateReachability performs the forward (from enter) and reverse
// (from the union of exits) BFS coverage checks of spec.md §4.2 step 5.
func validateReachability(c *CourseSpec) error {
	enter := c.EnterNode()
	if enter == nil {
		// already reported by validateCourseLevel, but guard defensively
		return wferr.InvalidState(wferr.CodeCourseMissingRequiredNode, c, "enter")
	}

	fwd, err := buildNodeGraph(c, false)
	if err != nil {
		return wferr.Runtime(wferr.CodeExecutionError, c, err)
	}
	reachedFwd := map[string]bool{}
	if err := graph.BFS(fwd, enter.Code, func(k string) bool {
		reachedFwd[k] = true
		return false
	}); err != nil {
		return wferr.Runtime(wferr.CodeExecutionError, c, err)
	}
	for _, n := range c.Nodes {
		if n.Type == KindCancel || n.Type == KindJoined {
			// Neither kind ever has an inbound transition (enforced above in
			// validateNodeLevel): both are reached only by the runner
			// directly overwriting a course's current node, never by
			// traversing the transition graph.
			continue
		}
		if !reachedFwd[n.Code] {
			return wferr.InvalidState(wferr.CodeCourseUnreachableByEnter, n, "")
		}
	}

	rev, err := buildNodeGraph(c, true)
	if err != nil {
		return wferr.Runtime(wferr.CodeExecutionError, c, err)
	}
	reachedRev := map[string]bool{}
	for _, ex := range c.NodesOfKind(KindExit) {
		if err := graph.BFS(rev, ex.Code, func(k string) bool {
			reachedRev[k] = true
			return false
		}); err != nil {
			return wferr.Runtime(wferr.CodeExecutionError, c, err)
		}
	}
	for _, n := range c.Nodes {
		if n.Type == KindCancel || n.Type == KindJoined {
			continue
		}
		if !reachedRev[n.Code] {
			return wferr.InvalidState(wferr.CodeCourseUnreachableByExit, n, "")
		}
	}
	return nil
}

// validateNoAutomaticPath enforces the "no automatic path" rule for
// non-root courses (spec.md §3.1): no enter-to-exit path may avoid every
// input and split node. Implemented exactly as spec.md §4.2 step 6
// prescribes: remove input/split nodes and check whether any exit is
// still reachable from enter.
func validateNoAutomaticPath(c *CourseSpec) error {
	g := graph.New(graph.StringHash, graph.Directed())
	blocked := map[string]bool{}
	for _, n := range c.Nodes {
		if n.Type == KindInput || n.Type == KindSplit {
			blocked[n.Code] = true
			continue
		}
		if err := g.AddVertex(n.Code); err != nil && err != graph.ErrVertexAlreadyExists {
			return wferr.Runtime(wferr.CodeExecutionError, c, err)
		}
	}
	for _, n := range c.Nodes {
		if blocked[n.Code] {
			continue
		}
		for _, t := range n.Outbound {
			if blocked[t.Destination.Code] {
				continue
			}
			if err := g.AddEdge(t.Origin.Code, t.Destination.Code); err != nil && err != graph.ErrEdgeAlreadyExists {
				return wferr.Runtime(wferr.CodeExecutionError, c, err)
			}
		}
	}

	enter := c.EnterNode()
	reached := map[string]bool{}
	_ = graph.BFS(g, enter.Code, func(k string) bool {
		reached[k] = true
		return false
	})
	for _, ex := range c.NodesOfKind(KindExit) {
		if reached[ex.Code] {
			return wferr.InvalidState(wferr.CodeCourseHasAutomaticPath, c, "")
		}
	}
	return nil
}
