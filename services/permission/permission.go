// Package permission gates the three user-triggered entry points of the
// runner against the host's wfdoc.User capability (spec.md §4.3). It is
// stateless: every check takes exactly the entities it needs and raises a
// *wferr.Error of FamilyDenial on failure.
package permission

import (
	"context"

	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/pkg/wferr"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

// CanInstantiate checks the workflow's create-time permission, if any,
// against the document the new instance will be attached to.
func CanInstantiate(ctx context.Context, w *wfspec.WorkflowSpec, user wfdoc.User, doc wfdoc.Document) error {
	if w.CreatePermission == "" {
		return nil
	}
	if !user.HasPermission(ctx, w.CreatePermission, doc) {
		return wferr.Denied(wferr.CodeCreateDenied, w)
	}
	return nil
}

// CanCancel checks the workflow-level then course-level cancel
// permission. The workflow's permission takes precedence: a user who
// fails it is denied *cancel-denied-by-workflow* without the course-level
// check ever running.
func CanCancel(ctx context.Context, c *wfinstance.CourseInstance, user wfdoc.User, doc wfdoc.Document) error {
	w := c.Spec.Workflow
	if w.CancelPermission != "" && !user.HasPermission(ctx, w.CancelPermission, doc) {
		return wferr.Denied(wferr.CodeCancelDeniedByWorkflow, w)
	}
	if c.Spec.CancelPermission != "" && !user.HasPermission(ctx, c.Spec.CancelPermission, doc) {
		return wferr.Denied(wferr.CodeCancelDeniedByCourse, c.Spec)
	}
	return nil
}

// CanAdvance checks whether user may take transition out of c's current
// node. A pending course (starting case) only checks the transition's own
// permission. A course sitting at an input node additionally needs the
// node's executePermission. A course sitting at a split is the runner's
// own joiner-decided continuation (spec.md §4.4.3) rather than a
// user-triggered Execute — split-origin transitions forbid a permission
// field (spec.md §3.1), so this case only exists to let that internal
// continuation through; any other current kind is a caller error.
func CanAdvance(ctx context.Context, c *wfinstance.CourseInstance, t *wfspec.TransitionSpec, user wfdoc.User, doc wfdoc.Document) error {
	if wfinstance.IsPending(c) {
		return checkTransitionPermission(ctx, t, user, doc)
	}
	switch c.Current.Spec.Type {
	case wfspec.KindInput:
		if ep := c.Current.Spec.ExecutePermission; ep != "" && !user.HasPermission(ctx, ep, doc) {
			return wferr.Denied(wferr.CodeAdvanceDeniedByNode, c.Current.Spec)
		}
	case wfspec.KindSplit:
		// no node-level permission applies to a split's own continuation
	default:
		return wferr.Denied(wferr.CodeAdvanceDeniedWrongNodeType, c.Current.Spec)
	}
	return checkTransitionPermission(ctx, t, user, doc)
}

func checkTransitionPermission(ctx context.Context, t *wfspec.TransitionSpec, user wfdoc.User, doc wfdoc.Document) error {
	if t.Permission != "" && !user.HasPermission(ctx, t.Permission, doc) {
		return wferr.Denied(wferr.CodeAdvanceDeniedByTransition, t)
	}
	return nil
}
