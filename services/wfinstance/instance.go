// Package wfinstance holds the runtime counterparts of wfspec entities: a
// tree of course instances tracking which node each live course currently
// sits at. Unlike wfspec, instances mutate: _move (in the runner package)
// atomically replaces a course's current NodeInstance.
package wfinstance

import (
	"strings"

	"github.com/google/uuid"

	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/services/wfspec"
)

// WorkflowInstance binds a WorkflowSpec to one external Document. A
// document identity is unique across all instances (spec.md §3.2); the
// store enforces that uniqueness.
type WorkflowInstance struct {
	ID       uuid.UUID
	Spec     *wfspec.WorkflowSpec
	Document wfdoc.Document
	Root     *CourseInstance
}

// CourseInstance is one node in the tree of live courses rooted at a
// WorkflowInstance. Parent is nil iff this is the instance's root course.
// TermLevel records the depth-first order _cancel/_join assigned when
// this course terminated as part of a cascade; it is a diagnostic only
// and zero for a course that terminated on its own.
type CourseInstance struct {
	Workflow *WorkflowInstance
	Spec     *wfspec.CourseSpec
	Parent   *NodeInstance // the split NodeInstance that opened this course, or nil
	Current  *NodeInstance // nil iff the course is pending (not yet started)
	TermLevel int
}

// NodeInstance is the course's current position. Only persistent node
// kinds (input, split, exit, cancel, joined) are ever represented here;
// transient kinds (enter, step, multiplexer) are passed through within a
// single _runTransition chain and never recorded.
type NodeInstance struct {
	Course   *CourseInstance
	Spec     *wfspec.NodeSpec
	Branches []*CourseInstance // populated iff Spec.Type == KindSplit
}

// isStatus mirrors the original CourseHelpers._check_status: a pending
// course (no current node) matches no kind.
func isStatus(c *CourseInstance, kinds ...wfspec.NodeKind) bool {
	if c.Current == nil {
		return false
	}
	for _, k := range kinds {
		if c.Current.Spec.Type == k {
			return true
		}
	}
	return false
}

// IsPending reports whether the course has not yet been started.
func IsPending(c *CourseInstance) bool { return c.Current == nil }

// IsWaiting reports whether the course is suspended at an input node.
func IsWaiting(c *CourseInstance) bool { return isStatus(c, wfspec.KindInput) }

// IsCancelled reports whether the course ended at its cancel node.
func IsCancelled(c *CourseInstance) bool { return isStatus(c, wfspec.KindCancel) }

// IsEnded reports whether the course ended at an exit node.
func IsEnded(c *CourseInstance) bool { return isStatus(c, wfspec.KindExit) }

// IsSplitting reports whether the course is currently at a split node.
func IsSplitting(c *CourseInstance) bool { return isStatus(c, wfspec.KindSplit) }

// IsJoined reports whether the course was forcibly joined.
func IsJoined(c *CourseInstance) bool { return isStatus(c, wfspec.KindJoined) }

// IsTerminated reports whether the course is in any terminal state
// (joined, exit, cancel) and therefore immutable.
func IsTerminated(c *CourseInstance) bool {
	return isStatus(c, wfspec.KindJoined, wfspec.KindExit, wfspec.KindCancel)
}

// ExitValue returns the course's terminal status code: -1 for a
// cancelled or joined course, the node's exitValue for an ended one, and
// ok=false if the course has not terminated.
func ExitValue(c *CourseInstance) (value int, ok bool) {
	switch {
	case IsCancelled(c), IsJoined(c):
		return -1, true
	case IsEnded(c):
		return int(*c.Current.Spec.ExitValue), true
	default:
		return 0, false
	}
}

// noSuchElement is returned by FindCourse; callers translate it to a
// wferr.Error, since the entity (a path string) is not itself a
// spec/instance value. noChildren distinguishes "path descends into a
// course that isn't at a split" (spec.md §4.4's no-children case) from
// "path names a child course that doesn't exist" (course-instance-does-
// not-exist), so the two map to different wferr codes.
type noSuchElement struct {
	detail     string
	noChildren bool
}

func (e *noSuchElement) Error() string { return e.detail }

// FindCourse walks path (a dot-separated sequence of course codes) from
// root, descending through split branches. An empty path returns root
// unchanged. Ported from the original CourseHelpers.find_course.
func FindCourse(root *CourseInstance, path string) (*CourseInstance, error) {
	if path == "" {
		return root, nil
	}
	if !IsSplitting(root) {
		return nil, &noSuchElement{detail: "course does not have children", noChildren: true}
	}
	head, tail, _ := strings.Cut(path, ".")

	var matches []*CourseInstance
	for _, b := range root.Current.Branches {
		if b.Spec.Code == head {
			matches = append(matches, b)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &noSuchElement{detail: "child course does not exist: " + head}
	case 1:
		return FindCourse(matches[0], tail)
	default:
		return nil, &noSuchElement{detail: "multiple children courses exist with code: " + head}
	}
}

// IsNoSuchElement reports whether err was returned by FindCourse because
// no course matched the given path.
func IsNoSuchElement(err error) bool {
	_, ok := err.(*noSuchElement)
	return ok
}

// IsNoChildren reports whether err was returned by FindCourse because an
// intermediate course in the path isn't at a split, so it has no
// children to descend into at all.
func IsNoChildren(err error) bool {
	nse, ok := err.(*noSuchElement)
	return ok && nse.noChildren
}

// Path reconstructs the dotted path from root to c by walking Parent
// links, the inverse of FindCourse. Used by the status/availableActions
// queries to key their result maps.
func Path(c *CourseInstance) string {
	var parts []string
	for cur := c; cur.Parent != nil; cur = cur.Parent.Course {
		parts = append([]string{cur.Spec.Code}, parts...)
	}
	return strings.Join(parts, ".")
}

// Walk visits c and every live descendant course in the instance tree,
// depth-first, calling fn for each. The runner's queries and cascades
// use their own traversals rather than Walk.
func Walk(c *CourseInstance, fn func(*CourseInstance)) {
	fn(c)
	if c.Current == nil {
		return
	}
	for _, b := range c.Current.Branches {
		Walk(b, fn)
	}
}
