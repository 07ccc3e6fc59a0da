package callables

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/caseflow/engine/pkg/wfdoc"
)

// celEvaluator compiles and caches CEL programs for the "cel:<expr>"
// condition convention. Expressions see a single "document" variable
// bound to the document's Data() map when it implements
// wfdoc.DataDocument, or an empty map otherwise.
type celEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELEvaluator() *celEvaluator {
	return &celEvaluator{cache: make(map[string]cel.Program)}
}

func (e *celEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(cel.Variable("document", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("building CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling condition %q: %w", expr, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building CEL program for %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// condition returns a Condition closure evaluating expr against the
// transition's document on every call.
func (e *celEvaluator) condition(expr string) Condition {
	return func(_ context.Context, doc wfdoc.Document, _ wfdoc.User) (bool, error) {
		prg, err := e.program(expr)
		if err != nil {
			return false, err
		}

		data := map[string]any{}
		if dd, ok := doc.(wfdoc.DataDocument); ok {
			data = dd.Data()
		}

		out, _, err := prg.Eval(map[string]any{"document": data})
		if err != nil {
			return false, fmt.Errorf("evaluating condition %q: %w", expr, err)
		}
		result, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", expr, out.Value())
		}
		return result, nil
	}
}
