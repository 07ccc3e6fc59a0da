package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/pkg/wferr"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

type stubUser struct {
	granted map[string]bool
}

func (u stubUser) HasPermission(_ context.Context, code string, _ wfdoc.Document) bool {
	return u.granted[code]
}

var doc = wfdoc.Ref{DocType: "application", DocID: "1"}

func u8(v uint8) *uint8 { return &v }

func TestCanInstantiateNoPermissionRequired(t *testing.T) {
	w := &wfspec.WorkflowSpec{}
	assert.NoError(t, CanInstantiate(context.Background(), w, stubUser{}, doc))
}

func TestCanInstantiateDenied(t *testing.T) {
	w := &wfspec.WorkflowSpec{CreatePermission: "app.create"}
	err := CanInstantiate(context.Background(), w, stubUser{}, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCreateDenied))
}

func TestCanInstantiateGranted(t *testing.T) {
	w := &wfspec.WorkflowSpec{CreatePermission: "app.create"}
	user := stubUser{granted: map[string]bool{"app.create": true}}
	assert.NoError(t, CanInstantiate(context.Background(), w, user, doc))
}

func TestCanCancelWorkflowLevelDeniedBeforeCourseLevel(t *testing.T) {
	w := &wfspec.WorkflowSpec{CancelPermission: "app.cancel-wf"}
	cs := &wfspec.CourseSpec{Workflow: w, CancelPermission: "app.cancel-course"}
	c := &wfinstance.CourseInstance{Spec: cs}

	err := CanCancel(context.Background(), c, stubUser{}, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCancelDeniedByWorkflow))
}

func TestCanCancelCourseLevelDenied(t *testing.T) {
	w := &wfspec.WorkflowSpec{}
	cs := &wfspec.CourseSpec{Workflow: w, CancelPermission: "app.cancel-course"}
	c := &wfinstance.CourseInstance{Spec: cs}

	err := CanCancel(context.Background(), c, stubUser{}, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeCancelDeniedByCourse))
}

func TestCanAdvancePendingCourseOnlyChecksTransition(t *testing.T) {
	w := &wfspec.WorkflowSpec{}
	cs := &wfspec.CourseSpec{Workflow: w}
	c := &wfinstance.CourseInstance{Spec: cs}
	tr := &wfspec.TransitionSpec{Permission: "app.start"}

	err := CanAdvance(context.Background(), c, tr, stubUser{}, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeAdvanceDeniedByTransition))
}

func TestCanAdvanceRequiresInputOrSplitNode(t *testing.T) {
	cs := &wfspec.CourseSpec{Workflow: &wfspec.WorkflowSpec{}}
	c := &wfinstance.CourseInstance{Spec: cs}
	c.Current = &wfinstance.NodeInstance{Course: c, Spec: &wfspec.NodeSpec{Type: wfspec.KindExit, ExitValue: u8(0)}}

	err := CanAdvance(context.Background(), c, &wfspec.TransitionSpec{}, stubUser{}, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeAdvanceDeniedWrongNodeType))
}

func TestCanAdvanceFromSplitSkipsNodePermission(t *testing.T) {
	cs := &wfspec.CourseSpec{Workflow: &wfspec.WorkflowSpec{}}
	c := &wfinstance.CourseInstance{Spec: cs}
	c.Current = &wfinstance.NodeInstance{Course: c, Spec: &wfspec.NodeSpec{Type: wfspec.KindSplit}}

	assert.NoError(t, CanAdvance(context.Background(), c, &wfspec.TransitionSpec{}, stubUser{}, doc))
}

func TestCanAdvanceChecksNodeThenTransitionPermission(t *testing.T) {
	cs := &wfspec.CourseSpec{Workflow: &wfspec.WorkflowSpec{}}
	c := &wfinstance.CourseInstance{Spec: cs}
	nodeSpec := &wfspec.NodeSpec{Type: wfspec.KindInput, ExecutePermission: "app.execute"}
	c.Current = &wfinstance.NodeInstance{Course: c, Spec: nodeSpec}
	tr := &wfspec.TransitionSpec{Permission: "app.submit"}

	err := CanAdvance(context.Background(), c, tr, stubUser{}, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeAdvanceDeniedByNode))

	user := stubUser{granted: map[string]bool{"app.execute": true}}
	err = CanAdvance(context.Background(), c, tr, user, doc)
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeAdvanceDeniedByTransition))

	user = stubUser{granted: map[string]bool{"app.execute": true, "app.submit": true}}
	assert.NoError(t, CanAdvance(context.Background(), c, tr, user, doc))
}
