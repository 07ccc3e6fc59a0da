package wfspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/engine/pkg/wferr"
)

// link wires a transition between two nodes of the same course, appending
// to both sides' Inbound/Outbound slices, and returns it for further field
// assignment by the caller.
func link(c *CourseSpec, from, to *NodeSpec) *TransitionSpec {
	t := &TransitionSpec{Course: c, Origin: from, Destination: to}
	from.Outbound = append(from.Outbound, t)
	to.Inbound = append(to.Inbound, t)
	return t
}

func u8(v uint8) *uint8 { return &v }

// minimalWorkflow builds the smallest valid single-course workflow:
// enter -> step -> exit, plus a cancel node with no inbound/outbound.
func minimalWorkflow() (*WorkflowSpec, *CourseSpec) {
	w := &WorkflowSpec{Code: "onboarding", Name: "Onboarding", DocumentType: "application"}
	root := &CourseSpec{Workflow: w, Code: "", Depth: 0}
	w.Courses = []*CourseSpec{root}

	enter := &NodeSpec{Course: root, Type: KindEnter, Code: "enter"}
	step := &NodeSpec{Course: root, Type: KindStep, Code: "review"}
	exit := &NodeSpec{Course: root, Type: KindExit, Code: "done", ExitValue: u8(0)}
	cancel := &NodeSpec{Course: root, Type: KindCancel, Code: "cancelled"}
	root.Nodes = []*NodeSpec{enter, step, exit, cancel}

	link(root, enter, step)
	link(root, step, exit)
	return w, root
}

func TestValidateMinimalWorkflowPasses(t *testing.T) {
	w, _ := minimalWorkflow()
	assert.NoError(t, Validate(w))
}

func TestValidateNoMainCourse(t *testing.T) {
	w := &WorkflowSpec{Code: "empty"}
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeWorkflowHasNoMainCourse))
}

func TestValidateCourseMissingEnter(t *testing.T) {
	w, root := minimalWorkflow()
	for i, n := range root.Nodes {
		if n.Type == KindEnter {
			root.Nodes = append(root.Nodes[:i], root.Nodes[i+1:]...)
			break
		}
	}
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCourseMissingRequiredNode))
}

func TestValidateCourseMultipleEnter(t *testing.T) {
	w, root := minimalWorkflow()
	extra := &NodeSpec{Course: root, Type: KindEnter, Code: "enter2"}
	root.Nodes = append(root.Nodes, extra)
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCourseMultipleRequiredNodes))
}

func TestValidateCourseMissingExit(t *testing.T) {
	w, root := minimalWorkflow()
	var kept []*NodeSpec
	for _, n := range root.Nodes {
		if n.Type == KindExit {
			continue
		}
		kept = append(kept, n)
	}
	root.Nodes = kept
	for _, n := range root.Nodes {
		n.Outbound = nil
		n.Inbound = nil
	}
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]
	link(root, enter, step)
	link(root, step, enter) // loop back so step still has an outbound
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCourseMissingRequiredNode))
}

func TestValidateEnterHasInbound(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]
	link(root, step, enter)
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeNodeHasInbounds))
}

func TestValidateExitRequiresExitValue(t *testing.T) {
	w, root := minimalWorkflow()
	exit := root.NodesOfKind(KindExit)[0]
	exit.ExitValue = nil
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.FieldRequiredCode("exitValue")))
}

func TestValidateExitForbidsJoiner(t *testing.T) {
	w, root := minimalWorkflow()
	exit := root.NodesOfKind(KindExit)[0]
	exit.Joiner = "callables.auto"
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.FieldMustBeNullCode("joiner")))
}

func TestValidateStepSingleOutboundOnly(t *testing.T) {
	w, root := minimalWorkflow()
	step := root.NodesOfKind(KindStep)[0]
	exit := root.NodesOfKind(KindExit)[0]
	link(root, step, exit)
	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeNodeHasMultipleOutbounds))
}

func TestValidateInputRequiresActionName(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]
	input := &NodeSpec{Course: root, Type: KindInput, Code: "awaiting"}
	root.Nodes = append(root.Nodes, input)

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, input)
	link(root, input, step)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.FieldRequiredCode("actionName")))
}

func TestValidateInputDuplicateActionName(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]
	exit := root.NodesOfKind(KindExit)[0]
	input := &NodeSpec{Course: root, Type: KindInput, Code: "awaiting"}
	root.Nodes = append(root.Nodes, input)

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, input)
	t1 := link(root, input, step)
	t1.ActionName = "approve"
	t2 := link(root, input, exit)
	t2.ActionName = "approve"

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeTransitionActionNameNotUnique))
}

func TestValidateMultiplexerRequiresConditionAndPriority(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]
	exit := root.NodesOfKind(KindExit)[0]
	mux := &NodeSpec{Course: root, Type: KindMultiplexer, Code: "route"}
	root.Nodes = append(root.Nodes, mux)

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, mux)
	link(root, mux, step)
	t2 := link(root, mux, exit)
	t2.Condition = "cel:output.approved"
	t2.Priority = u8(1)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.FieldRequiredCode("condition")))
}

func TestValidateMultiplexerDuplicatePriority(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]
	exit := root.NodesOfKind(KindExit)[0]
	mux := &NodeSpec{Course: root, Type: KindMultiplexer, Code: "route"}
	root.Nodes = append(root.Nodes, mux)

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, mux)
	t1 := link(root, mux, step)
	t1.Condition = "cel:!output.approved"
	t1.Priority = u8(1)
	t2 := link(root, mux, exit)
	t2.Condition = "cel:output.approved"
	t2.Priority = u8(1)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeTransitionPriorityNotUnique))
}

func TestValidateSplitNeedsTwoBranches(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]

	child := &CourseSpec{Workflow: w, Code: "branch-a", Depth: 1}
	childEnter := &NodeSpec{Course: child, Type: KindEnter, Code: "enter"}
	childExit := &NodeSpec{Course: child, Type: KindExit, Code: "done", ExitValue: u8(0)}
	childCancel := &NodeSpec{Course: child, Type: KindCancel, Code: "cancelled"}
	child.Nodes = []*NodeSpec{childEnter, childExit, childCancel}
	link(child, childEnter, childExit)
	w.Courses = append(w.Courses, child)

	split := &NodeSpec{Course: root, Type: KindSplit, Code: "fanout", Branches: []*CourseSpec{child}}
	root.Nodes = append(root.Nodes, split)
	child.Callers = []*NodeSpec{split}

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, split)
	link(root, split, step)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeNodeNotEnoughBranches))
}

func TestValidateSplitWithJoinerTwoBranchesAndJoinedNode(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]

	branchA := &CourseSpec{Workflow: w, Code: "branch-a", Depth: 1}
	branchB := &CourseSpec{Workflow: w, Code: "branch-b", Depth: 1}
	for _, c := range []*CourseSpec{branchA, branchB} {
		e := &NodeSpec{Course: c, Type: KindEnter, Code: "enter"}
		in := &NodeSpec{Course: c, Type: KindInput, Code: "awaiting"}
		x := &NodeSpec{Course: c, Type: KindExit, Code: "done", ExitValue: u8(0)}
		cn := &NodeSpec{Course: c, Type: KindCancel, Code: "cancelled"}
		j := &NodeSpec{Course: c, Type: KindJoined, Code: "joined"}
		c.Nodes = []*NodeSpec{e, in, x, cn, j}
		link(c, e, in)
		fin := link(c, in, x)
		fin.ActionName = "finish"
	}
	w.Courses = append(w.Courses, branchA, branchB)

	split := &NodeSpec{Course: root, Type: KindSplit, Code: "fanout", Joiner: "callables.allJoined", Branches: []*CourseSpec{branchA, branchB}}
	rejected := &NodeSpec{Course: root, Type: KindExit, Code: "rejected", ExitValue: u8(1)}
	root.Nodes = append(root.Nodes, split, rejected)
	branchA.Callers = []*NodeSpec{split}
	branchB.Callers = []*NodeSpec{split}

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, split)
	t1 := link(root, split, step)
	t1.ActionName = "continue"
	t2 := link(root, split, rejected)
	t2.ActionName = "rejected"

	assert.NoError(t, Validate(w))
}

func TestValidateSplitBranchMustHaveGreaterDepth(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]

	sibling := &CourseSpec{Workflow: w, Code: "sibling", Depth: 0}
	e := &NodeSpec{Course: sibling, Type: KindEnter, Code: "enter"}
	x := &NodeSpec{Course: sibling, Type: KindExit, Code: "done", ExitValue: u8(0)}
	cn := &NodeSpec{Course: sibling, Type: KindCancel, Code: "cancelled"}
	sibling.Nodes = []*NodeSpec{e, x, cn}
	link(sibling, e, x)
	w.Courses = append(w.Courses, sibling)

	split := &NodeSpec{Course: root, Type: KindSplit, Code: "fanout", Branches: []*CourseSpec{sibling, sibling}}
	root.Nodes = append(root.Nodes, split)
	// sibling.Callers stays unset: a depth-0 course with callers fails the
	// course-level caller check before the split's branches are examined.

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, split)
	link(root, split, step)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeNodeInconsistentBranches))
}

func TestValidateCircularDependentCourses(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]

	child := &CourseSpec{Workflow: w, Code: "child", Depth: 1}
	childEnter := &NodeSpec{Course: child, Type: KindEnter, Code: "enter"}
	childExit := &NodeSpec{Course: child, Type: KindExit, Code: "done", ExitValue: u8(0)}
	childCancel := &NodeSpec{Course: child, Type: KindCancel, Code: "cancelled"}
	childSplit := &NodeSpec{Course: child, Type: KindSplit, Code: "back", Branches: []*CourseSpec{root}}
	child.Nodes = []*NodeSpec{childEnter, childExit, childCancel, childSplit}
	link(child, childEnter, childSplit)
	link(child, childSplit, childExit)
	w.Courses = append(w.Courses, child)

	split := &NodeSpec{Course: root, Type: KindSplit, Code: "fanout", Branches: []*CourseSpec{child, child}}
	root.Nodes = append(root.Nodes, split)
	child.Callers = []*NodeSpec{split}
	root.Callers = []*NodeSpec{childSplit}

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, split)
	link(root, split, step)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeWorkflowCircularDependentCourses))
}

func TestValidateUnreachableByEnter(t *testing.T) {
	w, root := minimalWorkflow()
	// orphanWait loops on itself so every node has an inbound, yet none of
	// them can be reached from enter.
	orphanWait := &NodeSpec{Course: root, Type: KindInput, Code: "orphan-wait"}
	orphan := &NodeSpec{Course: root, Type: KindStep, Code: "orphan"}
	exit2 := &NodeSpec{Course: root, Type: KindExit, Code: "done2", ExitValue: u8(1)}
	root.Nodes = append(root.Nodes, orphanWait, orphan, exit2)
	again := link(root, orphanWait, orphanWait)
	again.ActionName = "again"
	proceed := link(root, orphanWait, orphan)
	proceed.ActionName = "proceed"
	link(root, orphan, exit2)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCourseUnreachableByEnter))
}

func TestValidateAutomaticPathForbiddenInNonRootCourse(t *testing.T) {
	w, root := minimalWorkflow()
	enter := root.NodesOfKind(KindEnter)[0]
	step := root.NodesOfKind(KindStep)[0]

	child := &CourseSpec{Workflow: w, Code: "branch-a", Depth: 1}
	childEnter := &NodeSpec{Course: child, Type: KindEnter, Code: "enter"}
	childExit := &NodeSpec{Course: child, Type: KindExit, Code: "done", ExitValue: u8(0)}
	childCancel := &NodeSpec{Course: child, Type: KindCancel, Code: "cancelled"}
	child.Nodes = []*NodeSpec{childEnter, childExit, childCancel}
	link(child, childEnter, childExit) // automatic path: no input/split between enter and exit

	sibling := &CourseSpec{Workflow: w, Code: "branch-b", Depth: 1}
	sibE := &NodeSpec{Course: sibling, Type: KindEnter, Code: "enter"}
	sibX := &NodeSpec{Course: sibling, Type: KindExit, Code: "done", ExitValue: u8(0)}
	sibC := &NodeSpec{Course: sibling, Type: KindCancel, Code: "cancelled"}
	sibling.Nodes = []*NodeSpec{sibE, sibX, sibC}
	link(sibling, sibE, sibX)

	w.Courses = append(w.Courses, child, sibling)
	split := &NodeSpec{Course: root, Type: KindSplit, Code: "fanout", Branches: []*CourseSpec{child, sibling}}
	root.Nodes = append(root.Nodes, split)
	child.Callers = []*NodeSpec{split}
	sibling.Callers = []*NodeSpec{split}

	enter.Outbound = nil
	step.Inbound = nil
	link(root, enter, split)
	link(root, split, step)

	err := Validate(w)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCourseHasAutomaticPath))
}

func TestValidateRootCourseMayHaveAutomaticPath(t *testing.T) {
	// The root course's enter->step->exit chain has no input/split node at
	// all, but the automatic-path rule only applies to non-root courses.
	w, _ := minimalWorkflow()
	assert.NoError(t, Validate(w))
}
