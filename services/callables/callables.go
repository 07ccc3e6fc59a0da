// Package callables resolves the dotted-string references a WorkflowSpec
// carries (landingHandler, joiner, condition) into the fixed-signature Go
// function values the runner invokes (spec.md §9: "Dynamic callables").
// A Registry is populated by the host at startup; resolution happens once
// per call and the result is never cached across calls, since a host may
// re-register callables between installs.
package callables

import (
	"context"
	"fmt"
	"strings"

	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/pkg/wferr"
)

// Handler is a landingHandler: invoked whenever the runner lands on a
// node that names one, before the node's outbound is considered.
type Handler func(ctx context.Context, doc wfdoc.Document, user wfdoc.User) error

// Condition is a multiplexer transition's routing predicate.
type Condition func(ctx context.Context, doc wfdoc.Document, user wfdoc.User) (bool, error)

// Joiner decides a split's completion. statuses maps each branch course's
// code to its exit status (-1 for cancelled/joined, the exit node's
// exitValue otherwise, or Running set for a still-running branch). reached is the code of the branch that just terminated,
// triggering this call. A zero return with decided=false means "wait".
type Joiner func(ctx context.Context, doc wfdoc.Document, user wfdoc.User, statuses map[string]BranchStatus, reached string) (action string, decided bool, err error)

// BranchStatus reports one split branch's completion state, as passed to
// a Joiner (spec.md §4.4.3).
type BranchStatus struct {
	Running bool
	Value   int // meaningful iff !Running: -1 for cancel/joined, else exitValue
}

// Registry is the host's table of named callables, keyed by the dotted
// path a NodeSpec/TransitionSpec carries.
type Registry struct {
	handlers   map[string]Handler
	conditions map[string]Condition
	joiners    map[string]Joiner
	cel        *celEvaluator
}

// NewRegistry builds an empty Registry with the built-in CEL condition
// adapter wired in under the "cel:" prefix.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]Handler),
		conditions: make(map[string]Condition),
		joiners:    make(map[string]Joiner),
		cel:        newCELEvaluator(),
	}
}

func (r *Registry) RegisterHandler(path string, h Handler)     { r.handlers[path] = h }
func (r *Registry) RegisterCondition(path string, c Condition) { r.conditions[path] = c }
func (r *Registry) RegisterJoiner(path string, j Joiner)       { r.joiners[path] = j }

// ResolveHandler looks up a landingHandler by dotted path.
func (r *Registry) ResolveHandler(path string) (Handler, error) {
	if h, ok := r.handlers[path]; ok {
		return h, nil
	}
	return nil, wferr.Runtime(wferr.CodeExecutionError, path, fmt.Errorf("no registered landing handler %q", path))
}

// ResolveCondition looks up a condition by dotted path, or compiles it as
// a CEL expression when the path carries the "cel:" prefix (spec.md §9
// describes conditions as dotted paths; the "cel:" convention is this
// implementation's concrete binding for inline expressions, documented in
// DESIGN.md).
func (r *Registry) ResolveCondition(path string) (Condition, error) {
	if expr, ok := strings.CutPrefix(path, "cel:"); ok {
		if _, err := r.cel.program(expr); err != nil {
			return nil, wferr.Runtime(wferr.CodeExecutionError, path, err)
		}
		return r.cel.condition(expr), nil
	}
	if c, ok := r.conditions[path]; ok {
		return c, nil
	}
	return nil, wferr.Runtime(wferr.CodeExecutionError, path, fmt.Errorf("no registered condition %q", path))
}

// ResolveJoiner looks up a joiner by dotted path.
func (r *Registry) ResolveJoiner(path string) (Joiner, error) {
	if j, ok := r.joiners[path]; ok {
		return j, nil
	}
	return nil, wferr.Runtime(wferr.CodeExecutionError, path, fmt.Errorf("no registered joiner %q", path))
}
