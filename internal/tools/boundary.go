package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"turnstile/internal/audit"
	"turnstile/internal/logging"
	"turnstile/internal/metrics"
	"turnstile/internal/robustness"
	"turnstile/internal/security"

	"golang.org/x/sync/errgroup"
)

// ErrDepthExceeded is returned when a call's depth is above the limit.
var ErrDepthExceeded = errors.New("tool call depth exceeded")

// BoundaryViolation reports a call that would re-enter turn processing
// from inside a tool.
type BoundaryViolation struct {
	Tool   string
	Depth  int
	Reason string
}

func (e *BoundaryViolation) Error() string {
	return fmt.Sprintf("tool boundary violation: %s at depth %d: %s", e.Tool, e.Depth, e.Reason)
}

// BoundaryConfig bounds tool execution.
type BoundaryConfig struct {
	MaxDepth         int
	Timeout          time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultBoundaryConfig returns depth 5, a 30s call timeout and a breaker
// that opens after 5 consecutive failures for 30s.
func DefaultBoundaryConfig() BoundaryConfig {
	return BoundaryConfig{
		MaxDepth:         5,
		Timeout:          30 * time.Second,
		BreakerThreshold: 5,
		BreakerReset:     30 * time.Second,
	}
}

// Boundary is the only path from the router to tool providers.
type Boundary struct {
	registry *Registry
	config   BoundaryConfig
	audit    *audit.Logger
	metrics  *metrics.Metrics
	redactor *security.SecretRedactor

	mu       sync.Mutex
	breakers map[string]*robustness.CircuitBreaker
}

// BoundaryOption configures a Boundary.
type BoundaryOption func(*Boundary)

// WithAudit records every invocation in l.
func WithAudit(l *audit.Logger) BoundaryOption {
	return func(b *Boundary) { b.audit = l }
}

// WithMetrics reports invocations to m.
func WithMetrics(m *metrics.Metrics) BoundaryOption {
	return func(b *Boundary) { b.metrics = m }
}

// WithRedactor replaces the default secret redactor. nil disables redaction.
func WithRedactor(r *security.SecretRedactor) BoundaryOption {
	return func(b *Boundary) { b.redactor = r }
}

// NewBoundary creates a boundary over registry. Zero config fields take
// their defaults.
func NewBoundary(registry *Registry, cfg BoundaryConfig, opts ...BoundaryOption) *Boundary {
	def := DefaultBoundaryConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = def.BreakerReset
	}

	b := &Boundary{
		registry: registry,
		config:   cfg,
		redactor: security.NewSecretRedactor(),
		breakers: make(map[string]*robustness.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the registry calls are resolved against.
func (b *Boundary) Registry() *Registry {
	return b.registry
}

// MaxDepth returns the deepest allowed call depth.
func (b *Boundary) MaxDepth() int {
	return b.config.MaxDepth
}

// Invoke runs one call. Structural violations are returned as errors
// (*BoundaryViolation, ErrDepthExceeded); everything that goes wrong inside
// the tool comes back as a failed Result. A violation raised while the tool
// runs fails the call even if the tool recovers from it.
//
// Only provider errors, panics and timeouts count towards the tool's circuit
// breaker. A Result with Success false is an ordinary answer to bad input.
func (b *Boundary) Invoke(ctx context.Context, call Call) (Result, error) {
	if call.Depth < 1 {
		return Result{}, b.violation(ctx, call, "depth below 1 would start a new top-level request")
	}
	if call.Depth > b.config.MaxDepth {
		return Result{}, fmt.Errorf("%w: %s at depth %d, limit %d", ErrDepthExceeded, call.Name, call.Depth, b.config.MaxDepth)
	}
	if outer, ok := ExecutionDepth(ctx); ok && outer >= call.Depth {
		return Result{}, b.violation(ctx, call, fmt.Sprintf("re-entered from a tool running at depth %d", outer))
	}

	start := time.Now()

	spec, provider, ok := b.registry.Get(call.Name)
	if !ok {
		res := NewErrorResult(fmt.Sprintf("unknown tool: %s", call.Name))
		b.record(call, &res, time.Since(start))
		return res, nil
	}
	if err := ValidateArgs(spec.Input, call.Args); err != nil {
		res := NewErrorResult(fmt.Sprintf("validation error: %s", err))
		b.record(call, &res, time.Since(start))
		return res, nil
	}

	toolCtx, exec := withToolExecution(ctx, call.Depth)
	execCtx, cancel := context.WithTimeout(toolCtx, b.config.Timeout)
	defer cancel()

	cb := b.breaker(call.Name)
	var res Result
	var execErr error
	err := cb.Execute(execCtx, func(ctx context.Context) error {
		res, execErr = b.execute(ctx, provider, call)
		if execErr != nil {
			return execErr
		}
		if !res.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return nil
	})

	if v := exec.recorded(); v != nil {
		ReportViolation(ctx, v)
		res = NewErrorResult(v.Error())
		b.record(call, &res, time.Since(start))
		return Result{}, v
	}

	switch {
	case errors.Is(err, robustness.ErrCircuitOpen):
		logging.Warn("tool call rejected by circuit breaker",
			"tool", call.Name,
			"turn_id", call.TurnID,
			"state", cb.GetState().String())
		res = NewErrorResult(fmt.Sprintf("circuit breaker for '%s' is open after repeated failures; try again later", call.Name))
	case execErr != nil:
		res = NewErrorResult(execErr.Error())
	case err != nil && res.Error == "":
		res = NewErrorResult(err.Error())
	}

	b.record(call, &res, time.Since(start))
	return res, nil
}

// InvokeAll runs calls concurrently and returns their results in call
// order. The first structural error cancels the rest.
func (b *Boundary) InvokeAll(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))
	if len(calls) == 1 {
		res, err := b.Invoke(ctx, calls[0])
		results[0] = res
		return results, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			res, err := b.Invoke(gctx, call)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Boundary) execute(ctx context.Context, provider Provider, call Call) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			length := runtime.Stack(stack, false)
			logging.Error("tool execution panic",
				"tool", call.Name,
				"turn_id", call.TurnID,
				"panic", r,
				"stack", string(stack[:length]))
			res = Result{}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return provider.Execute(ctx, call.Name, call.Args)
}

func (b *Boundary) breaker(name string) *robustness.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[name]
	if !ok {
		cb = robustness.NewCircuitBreaker(name, b.config.BreakerThreshold, b.config.BreakerReset)
		b.breakers[name] = cb
	}
	return cb
}

func (b *Boundary) record(call Call, res *Result, d time.Duration) {
	res.DurationMs = d.Milliseconds()
	res.Payload = b.redactor.Redact(res.Payload)
	res.Error = b.redactor.Redact(res.Error)

	b.metrics.ObserveTool(call.Name, res.Success, d)

	if b.audit != nil {
		entry := audit.NewEntry(call.TurnID, call.Name, call.Depth, call.Args)
		entry.Complete(res.Payload, res.Success, res.Error, d)
		if err := b.audit.Log(entry); err != nil {
			logging.Warn("failed to write audit log", "error", err, "tool", call.Name)
		}
	}

	logging.Info("tool invocation completed",
		"tool", call.Name,
		"turn_id", call.TurnID,
		"depth", call.Depth,
		"success", res.Success,
		"duration", d)
}

// violation logs a structural violation and records it against the
// enclosing tool call, if any.
func (b *Boundary) violation(ctx context.Context, call Call, reason string) error {
	v := &BoundaryViolation{Tool: call.Name, Depth: call.Depth, Reason: reason}
	logging.Error("tool boundary violation",
		"tool", call.Name,
		"turn_id", call.TurnID,
		"depth", call.Depth,
		"reason", reason)
	ReportViolation(ctx, v)
	return v
}
