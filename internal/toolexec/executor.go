package toolexec

import (
	"context"
	"strings"

	"github.com/weavehub/weave/internal/detect"
)

// FailurePrefix is the reserved marker a capability uses to signal failure
// through its returned text.
const FailurePrefix = "ERROR:"

// Capability performs a named, argument-carrying action requested by model
// output. It is always supplied by the hosting application; the engine never
// implements one.
type Capability interface {
	Execute(ctx context.Context, name string, args map[string]string) (string, error)
}

// Result is the outcome of one capability invocation. Not persisted on its
// own; the engine folds results into a follow-up message.
type Result struct {
	Name    string
	Output  string
	Success bool
}

// Executor runs detected calls against the injected capability.
type Executor struct {
	capability Capability
}

func NewExecutor(capability Capability) *Executor {
	return &Executor{capability: capability}
}

// ExecuteAll runs calls sequentially in detection order: later calls may
// depend on the side effects of earlier ones, so they are never run
// concurrently. A failed call never aborts the remaining calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []detect.Call) []Result {
	if e == nil || e.capability == nil {
		return nil
	}

	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		output, err := e.capability.Execute(ctx, call.Name, call.Args)
		if err != nil {
			results = append(results, Result{Name: call.Name, Output: err.Error(), Success: false})
			continue
		}
		success := !strings.HasPrefix(strings.TrimSpace(output), FailurePrefix)
		results = append(results, Result{Name: call.Name, Output: output, Success: success})
	}
	return results
}
