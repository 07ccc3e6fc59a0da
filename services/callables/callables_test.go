package callables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/pkg/wferr"
)

type fakeDoc struct {
	wfdoc.Ref
	data map[string]any
}

func (d fakeDoc) Data() map[string]any { return d.data }

func TestResolveHandlerMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.ResolveHandler("callables.notRegistered")
	require.Error(t, err)
	assert.True(t, wferr.CodeMatches(err, wferr.CodeExecutionError))
}

func TestResolveHandlerRegistered(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RegisterHandler("callables.mark", func(ctx context.Context, doc wfdoc.Document, user wfdoc.User) error {
		called = true
		return nil
	})

	h, err := r.ResolveHandler("callables.mark")
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), wfdoc.Ref{}, nil))
	assert.True(t, called)
}

func TestResolveConditionCELTrue(t *testing.T) {
	r := NewRegistry()
	c, err := r.ResolveCondition("cel:document.approved == true")
	require.NoError(t, err)

	doc := fakeDoc{Ref: wfdoc.Ref{DocType: "application", DocID: "1"}, data: map[string]any{"approved": true}}
	ok, err := c(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveConditionCELFalseOnMissingData(t *testing.T) {
	r := NewRegistry()
	c, err := r.ResolveCondition("cel:document.approved == true")
	require.NoError(t, err)

	ok, err := c(context.Background(), wfdoc.Ref{DocType: "application", DocID: "1"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveConditionCELCompileError(t *testing.T) {
	r := NewRegistry()
	_, err := r.ResolveCondition("cel:this is not valid cel (((")
	require.Error(t, err)
}

func TestResolveConditionCELNonBooleanResult(t *testing.T) {
	r := NewRegistry()
	c, err := r.ResolveCondition("cel:document.count")
	require.NoError(t, err)

	doc := fakeDoc{Ref: wfdoc.Ref{DocType: "application", DocID: "1"}, data: map[string]any{"count": 3}}
	_, err = c(context.Background(), doc, nil)
	require.Error(t, err)
}

func TestResolveJoinerRegistered(t *testing.T) {
	r := NewRegistry()
	r.RegisterJoiner("callables.allJoined", func(ctx context.Context, doc wfdoc.Document, user wfdoc.User, statuses map[string]BranchStatus, reached string) (string, bool, error) {
		for _, s := range statuses {
			if s.Running {
				return "", false, nil
			}
		}
		return "continue", true, nil
	})

	j, err := r.ResolveJoiner("callables.allJoined")
	require.NoError(t, err)
	action, decided, err := j(context.Background(), wfdoc.Ref{}, nil, map[string]BranchStatus{
		"a": {Running: false, Value: 0},
		"b": {Running: false, Value: -1},
	}, "b")
	require.NoError(t, err)
	assert.True(t, decided)
	assert.Equal(t, "continue", action)
}
