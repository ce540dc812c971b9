package tools

import (
	"context"
	"sync"
)

type toolExecutionKey struct{}

// execution is attached to the context of a running tool call. A boundary
// violation raised anywhere under the call is kept here so the caller of
// Invoke sees it even when the tool swallows the error.
type execution struct {
	depth int

	mu        sync.Mutex
	violation *BoundaryViolation
}

// withToolExecution marks ctx as running inside a tool at the given depth.
func withToolExecution(ctx context.Context, depth int) (context.Context, *execution) {
	exec := &execution{depth: depth}
	return context.WithValue(ctx, toolExecutionKey{}, exec), exec
}

func (e *execution) record(v *BoundaryViolation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.violation == nil {
		e.violation = v
	}
}

func (e *execution) recorded() *BoundaryViolation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.violation
}

// InToolExecution reports whether ctx belongs to a running tool call.
// Entry points that start new turns reject such contexts.
func InToolExecution(ctx context.Context) bool {
	_, ok := ExecutionDepth(ctx)
	return ok
}

// ExecutionDepth returns the depth of the enclosing tool call, if any.
func ExecutionDepth(ctx context.Context) (int, bool) {
	exec, ok := ctx.Value(toolExecutionKey{}).(*execution)
	if !ok {
		return 0, false
	}
	return exec.depth, true
}

// ReportViolation records v against the tool call ctx belongs to. The
// call then fails with v no matter what the tool returns. It reports
// false when ctx is not inside a tool call.
func ReportViolation(ctx context.Context, v *BoundaryViolation) bool {
	exec, ok := ctx.Value(toolExecutionKey{}).(*execution)
	if !ok {
		return false
	}
	exec.record(v)
	return true
}
