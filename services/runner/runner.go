// Package runner implements the traversal engine that drives a
// WorkflowInstance through its spec graph: Start, Execute, Cancel, and
// the internal _move/_runTransition/_join/_cancel/_testSplitBranchReached
// machinery of spec.md §4.4. An Engine is stateless apart from its
// callable registry and timeout configuration; all mutable state lives in
// the wfinstance tree the caller passes in, so a host can load that tree
// from storage, call an Engine method, and persist the (possibly deeply
// mutated) tree back inside the same transaction.
package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/caseflow/engine/pkg/config"
	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/pkg/wferr"
	"github.com/caseflow/engine/services/callables"
	"github.com/caseflow/engine/services/permission"
	"github.com/caseflow/engine/services/store"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

// Engine runs the traversal algorithm against callables resolved from a
// shared Registry.
type Engine struct {
	registry *callables.Registry
	cfg      config.EngineConfig
}

// New builds an Engine bound to registry, using cfg for per-callable
// timeouts.
func New(registry *callables.Registry, cfg config.EngineConfig) *Engine {
	return &Engine{registry: registry, cfg: cfg}
}

// Create builds a new WorkflowInstance rooted at w's root course, after
// checking the workflow's create-time permission.
func (e *Engine) Create(ctx context.Context, w *wfspec.WorkflowSpec, user wfdoc.User, doc wfdoc.Document) (*wfinstance.WorkflowInstance, error) {
	if err := permission.CanInstantiate(ctx, w, user, doc); err != nil {
		return nil, err
	}
	inst := &wfinstance.WorkflowInstance{ID: uuid.New(), Spec: w, Document: doc}
	inst.Root = &wfinstance.CourseInstance{Workflow: inst, Spec: w.RootCourse()}
	return inst, nil
}

// Get resolves the instance bound to the document identified by
// (docType, docID), the get(document) operation of spec.md §6.2. It is a
// plain read against s, outside any WithInstance lock: callers that mean
// to mutate the result should re-resolve it through WithInstance by ID,
// not reuse the tree Get returns.
func (e *Engine) Get(ctx context.Context, s store.Store, docType, docID string) (*wfinstance.WorkflowInstance, error) {
	return s.GetInstanceByDocument(ctx, docType, docID)
}

// Start moves the pending course at path to its enter node and runs the
// transition chain along the enter node's unique outbound.
func (e *Engine) Start(ctx context.Context, inst *wfinstance.WorkflowInstance, user wfdoc.User, path string) error {
	course, err := e.resolveCourse(inst, path)
	if err != nil {
		return err
	}
	if !wfinstance.IsPending(course) {
		return wferr.Runtime(wferr.CodeCourseNotPending, course.Spec, nil)
	}

	enter := course.Spec.EnterNode()
	if err := e.move(ctx, course, enter, user); err != nil {
		return err
	}
	return e.runTransition(ctx, course, enter.Outbound[0], user)
}

// Execute looks up actionName among the course's current input node's
// outbounds and runs the transition chain along it.
func (e *Engine) Execute(ctx context.Context, inst *wfinstance.WorkflowInstance, user wfdoc.User, path, actionName string) error {
	course, err := e.resolveCourse(inst, path)
	if err != nil {
		return err
	}
	if !wfinstance.IsWaiting(course) {
		return wferr.Runtime(wferr.CodeCourseNotWaiting, course.Spec, nil)
	}
	t, ok := course.Current.Spec.OutboundByAction(actionName)
	if !ok {
		return wferr.Runtime(wferr.CodeNoSuchTransition, course.Current.Spec, fmt.Errorf("no outbound named %q", actionName))
	}
	return e.runTransition(ctx, course, t, user)
}

// Cancel terminates the course at path and cascades into its live
// children, then notifies the parent split (if any) that a branch just
// terminated.
func (e *Engine) Cancel(ctx context.Context, inst *wfinstance.WorkflowInstance, user wfdoc.User, path string) error {
	course, err := e.resolveCourse(inst, path)
	if err != nil {
		return err
	}
	if wfinstance.IsTerminated(course) {
		return wferr.Runtime(wferr.CodeCourseAlreadyTerminated, course.Spec, nil)
	}
	if err := permission.CanCancel(ctx, course, user, inst.Document); err != nil {
		return err
	}

	parent := course.Parent
	if err := e.cancelCourse(ctx, course, user, 0); err != nil {
		return err
	}
	if parent != nil {
		return e.testSplitBranchReached(ctx, parent.Course, user, course)
	}
	return nil
}

func (e *Engine) resolveCourse(inst *wfinstance.WorkflowInstance, path string) (*wfinstance.CourseInstance, error) {
	c, err := wfinstance.FindCourse(inst.Root, path)
	if err != nil {
		if wfinstance.IsNoChildren(err) {
			return nil, wferr.Runtime(wferr.CodeNoChildren, path, err)
		}
		return nil, wferr.Runtime(wferr.CodeCourseInstanceNotExist, path, err)
	}
	return c, nil
}

// move is the atomic step of spec.md §4.4.1: it runs node's
// landingHandler (if any), then either persists a new NodeInstance (for a
// persistent kind, opening child CourseInstances if node is a split) or
// leaves the course's current node untouched (for a transient kind).
func (e *Engine) move(ctx context.Context, course *wfinstance.CourseInstance, node *wfspec.NodeSpec, user wfdoc.User) error {
	if node.Course != course.Spec {
		return wferr.Runtime(wferr.CodeForeignNode, node, nil)
	}

	if node.LandingHandler != "" {
		h, err := e.registry.ResolveHandler(node.LandingHandler)
		if err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.NodeCallableTimeout)
		err = h(cctx, course.Workflow.Document, user)
		cancel()
		if err != nil {
			return wferr.Runtime(wferr.CodeExecutionError, node, err)
		}
	}

	if !node.Type.Persistent() {
		return nil
	}

	ni := &wfinstance.NodeInstance{Course: course, Spec: node}
	if node.Type == wfspec.KindSplit {
		branches := make([]*wfinstance.CourseInstance, 0, len(node.Branches))
		for _, bc := range node.Branches {
			branches = append(branches, &wfinstance.CourseInstance{Workflow: course.Workflow, Spec: bc, Parent: ni})
		}
		ni.Branches = branches
	}
	course.Current = ni
	return nil
}

// runTransition is spec.md §4.4.2: a defensive re-check, the permission
// gate, the atomic move, then dispatch on the destination's kind.
func (e *Engine) runTransition(ctx context.Context, course *wfinstance.CourseInstance, t *wfspec.TransitionSpec, user wfdoc.User) error {
	if t.Course != course.Spec || t.Origin.Course != course.Spec || t.Destination.Course != course.Spec {
		return wferr.InvalidState(wferr.CodeTransitionInconsistent, t, "origin/destination course mismatch")
	}
	if err := permission.CanAdvance(ctx, course, t, user, course.Workflow.Document); err != nil {
		return err
	}
	if err := e.move(ctx, course, t.Destination, user); err != nil {
		return err
	}
	return e.dispatch(ctx, course, t.Destination, user)
}

// dispatch continues the transition chain from node, the node course just
// landed on. It takes node explicitly rather than reading
// course.Current.Spec: transient kinds (enter, step, multiplexer) never
// update Current, so Current may still reflect the node the course was at
// before this move.
func (e *Engine) dispatch(ctx context.Context, course *wfinstance.CourseInstance, node *wfspec.NodeSpec, user wfdoc.User) error {
	switch node.Type {
	case wfspec.KindInput, wfspec.KindSplit:
		return nil

	case wfspec.KindStep:
		return e.runTransition(ctx, course, node.Outbound[0], user)

	case wfspec.KindMultiplexer:
		outbounds := append([]*wfspec.TransitionSpec(nil), node.Outbound...)
		sort.Slice(outbounds, func(i, j int) bool { return *outbounds[i].Priority < *outbounds[j].Priority })
		for _, t := range outbounds {
			cond, err := e.registry.ResolveCondition(t.Condition)
			if err != nil {
				return err
			}
			cctx, cancel := context.WithTimeout(ctx, e.cfg.NodeCallableTimeout)
			ok, err := cond(cctx, course.Workflow.Document, user)
			cancel()
			if err != nil {
				return wferr.Runtime(wferr.CodeExecutionError, t, err)
			}
			if ok {
				return e.runTransition(ctx, course, t, user)
			}
		}
		return wferr.Runtime(wferr.CodeMultiplexerUnsatisfied, node, nil)

	case wfspec.KindExit:
		if course.Parent != nil {
			return e.testSplitBranchReached(ctx, course.Parent.Course, user, course)
		}
		return nil

	default:
		return wferr.Runtime(wferr.CodeExecutionError, node, fmt.Errorf("unreachable destination kind %q", node.Type))
	}
}

// testSplitBranchReached implements spec.md §4.4.3: a split without a
// joiner completes only once every branch is terminated; a split with a
// joiner delegates the decision to the user-supplied callable every time
// any branch reaches a terminal state.
func (e *Engine) testSplitBranchReached(ctx context.Context, parent *wfinstance.CourseInstance, user wfdoc.User, reached *wfinstance.CourseInstance) error {
	split := parent.Current.Spec
	branches := parent.Current.Branches

	if split.Joiner == "" {
		for _, b := range branches {
			if !wfinstance.IsTerminated(b) {
				return nil
			}
		}
		return e.runTransition(ctx, parent, split.Outbound[0], user)
	}

	statuses := make(map[string]callables.BranchStatus, len(branches))
	allDone := true
	for _, b := range branches {
		if wfinstance.IsTerminated(b) {
			v, _ := wfinstance.ExitValue(b)
			statuses[b.Spec.Code] = callables.BranchStatus{Value: v}
		} else {
			statuses[b.Spec.Code] = callables.BranchStatus{Running: true}
			allDone = false
		}
	}

	joiner, err := e.registry.ResolveJoiner(split.Joiner)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.NodeCallableTimeout)
	action, decided, err := joiner(cctx, parent.Workflow.Document, user, statuses, reached.Spec.Code)
	cancel()
	if err != nil {
		return wferr.Runtime(wferr.CodeExecutionError, split, err)
	}
	if !decided {
		if allDone {
			return wferr.Runtime(wferr.CodeSplitJoinUnresolved, split, nil)
		}
		return nil
	}

	t, ok := split.OutboundByAction(action)
	if !ok {
		return wferr.Runtime(wferr.CodeInvalidJoinerResult, split, fmt.Errorf("joiner returned unknown action %q", action))
	}
	for _, b := range branches {
		if !wfinstance.IsTerminated(b) {
			if err := e.joinCourse(ctx, b, user, 0); err != nil {
				return err
			}
		}
	}
	return e.runTransition(ctx, parent, t, user)
}

// cancelCourse is _cancel (spec.md §4.4.4): idempotent against an
// already-terminated course, it moves course to its cancel node and
// recurses depth-first into any live branches, stamping TermLevel so the
// nesting order of a cascade is preserved for diagnostics.
func (e *Engine) cancelCourse(ctx context.Context, course *wfinstance.CourseInstance, user wfdoc.User, level int) error {
	if wfinstance.IsTerminated(course) {
		return nil
	}
	var branches []*wfinstance.CourseInstance
	if wfinstance.IsSplitting(course) {
		branches = course.Current.Branches
	}
	if err := e.move(ctx, course, course.Spec.CancelNode(), user); err != nil {
		return err
	}
	course.TermLevel = level
	for _, b := range branches {
		if err := e.cancelCourse(ctx, b, user, level+1); err != nil {
			return err
		}
	}
	return nil
}

// joinCourse is _join (spec.md §4.4.4): forces course, and recursively
// any live branches, to their joined node. Reachable only from
// testSplitBranchReached's joiner-decided path.
func (e *Engine) joinCourse(ctx context.Context, course *wfinstance.CourseInstance, user wfdoc.User, level int) error {
	if wfinstance.IsTerminated(course) {
		return nil
	}
	joined := course.Spec.JoinedNode()
	if joined == nil {
		return wferr.Runtime(wferr.CodeCourseNotJoinable, course.Spec, nil)
	}
	var branches []*wfinstance.CourseInstance
	if wfinstance.IsSplitting(course) {
		branches = course.Current.Branches
	}
	if err := e.move(ctx, course, joined, user); err != nil {
		return err
	}
	course.TermLevel = level
	for _, b := range branches {
		if err := e.joinCourse(ctx, b, user, level+1); err != nil {
			return err
		}
	}
	return nil
}

// ActionStatus is one course's entry in an AvailableActions result.
type ActionStatus struct {
	Status  string // "pending", "splitting", "cancelled", "ended", or "waiting"
	Actions []string
}

// AvailableActions implements spec.md §4.5: a map from each live course's
// dotted path to its status, recursing into split branches. Terminated
// joined courses are omitted.
func (e *Engine) AvailableActions(inst *wfinstance.WorkflowInstance) map[string]ActionStatus {
	out := make(map[string]ActionStatus)
	var walk func(c *wfinstance.CourseInstance)
	walk = func(c *wfinstance.CourseInstance) {
		if wfinstance.IsJoined(c) {
			return
		}
		path := wfinstance.Path(c)
		switch {
		case wfinstance.IsPending(c):
			out[path] = ActionStatus{Status: "pending"}
		case wfinstance.IsCancelled(c):
			out[path] = ActionStatus{Status: "cancelled"}
		case wfinstance.IsEnded(c):
			out[path] = ActionStatus{Status: "ended"}
		case wfinstance.IsSplitting(c):
			out[path] = ActionStatus{Status: "splitting"}
			for _, b := range c.Current.Branches {
				walk(b)
			}
		case wfinstance.IsWaiting(c):
			var actions []string
			for _, t := range c.Current.Spec.Outbound {
				actions = append(actions, t.ActionName)
			}
			out[path] = ActionStatus{Status: "waiting", Actions: actions}
		}
	}
	walk(inst.Root)
	return out
}

// StatusEntry is one course's entry in a Status result.
type StatusEntry struct {
	Kind   string // "pending", "waiting", "splitting", "cancelled", "ended"
	Detail string // current node code, or exit value for an ended course
}

// Status implements the status() query of spec.md §6.2. A joined course
// is reported with kind "ended" and detail "-1"; joined has no kind of
// its own in the documented enum. Branches are listed only while their
// parent course is splitting.
func (e *Engine) Status(inst *wfinstance.WorkflowInstance) map[string]StatusEntry {
	out := make(map[string]StatusEntry)
	var walk func(c *wfinstance.CourseInstance)
	walk = func(c *wfinstance.CourseInstance) {
		path := wfinstance.Path(c)
		switch {
		case wfinstance.IsPending(c):
			out[path] = StatusEntry{Kind: "pending"}
		case wfinstance.IsCancelled(c):
			out[path] = StatusEntry{Kind: "cancelled", Detail: c.Current.Spec.Code}
		case wfinstance.IsJoined(c):
			out[path] = StatusEntry{Kind: "ended", Detail: "-1"}
		case wfinstance.IsEnded(c):
			out[path] = StatusEntry{Kind: "ended", Detail: fmt.Sprintf("%d", *c.Current.Spec.ExitValue)}
		case wfinstance.IsSplitting(c):
			out[path] = StatusEntry{Kind: "splitting"}
			for _, b := range c.Current.Branches {
				walk(b)
			}
		case wfinstance.IsWaiting(c):
			out[path] = StatusEntry{Kind: "waiting", Detail: c.Current.Spec.Code}
		}
	}
	walk(inst.Root)
	return out
}
