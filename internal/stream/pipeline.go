package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"turnstile/internal/client"
	"turnstile/internal/logging"
	"turnstile/internal/metrics"

	"google.golang.org/genai"
)

var (
	// ErrStalled marks a generation the stall detector cut short.
	ErrStalled = errors.New("stream: backend stalled")
	// ErrBackend wraps failures reported by the backend.
	ErrBackend = errors.New("stream: backend error")
)

// Config tunes batching and stall detection.
type Config struct {
	// BatchInterval coalesces text deltas; 0 forwards every delta as it arrives.
	BatchInterval time.Duration
	// StallThreshold is the longest silence tolerated before the generation
	// is forced to a TimedOut terminal.
	StallThreshold time.Duration
}

// DefaultConfig returns a 16ms batch interval and a 5s stall threshold.
func DefaultConfig() Config {
	return Config{
		BatchInterval:  16 * time.Millisecond,
		StallThreshold: 5 * time.Second,
	}
}

// Chunk is one batch of output forwarded downstream.
type Chunk struct {
	Text  string
	Calls []*genai.FunctionCall
}

// Outcome is the single terminal result of a generation.
type Outcome struct {
	Status Status
	// Text is everything received, including text already forwarded as chunks.
	Text  string
	Calls []*genai.FunctionCall
	Err   error

	Stalled    bool
	Diagnostic string

	Duration     time.Duration
	InputTokens  int
	OutputTokens int
}

// Pipeline wraps a backend's token stream with batching, stall detection
// and a guaranteed single terminal outcome.
type Pipeline struct {
	backend client.Backend
	config  Config
	metrics *metrics.Metrics
}

// New creates a pipeline. m may be nil.
func New(backend client.Backend, config Config, m *metrics.Metrics) *Pipeline {
	if config.StallThreshold <= 0 {
		config.StallThreshold = DefaultConfig().StallThreshold
	}
	if config.BatchInterval < 0 {
		config.BatchInterval = 0
	}
	return &Pipeline{backend: backend, config: config, metrics: m}
}

// Backend returns the wrapped backend.
func (p *Pipeline) Backend() client.Backend {
	return p.backend
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Generation is one in-flight generation.
type Generation struct {
	chunks  chan Chunk
	done    chan struct{}
	state   *State
	outcome Outcome
}

// Chunks delivers batches in backend order. It is closed before the
// outcome becomes available.
func (g *Generation) Chunks() <-chan Chunk {
	return g.chunks
}

// Wait discards any undelivered chunks and returns the terminal outcome.
func (g *Generation) Wait() Outcome {
	for range g.chunks {
	}
	<-g.done
	return g.outcome
}

// Status returns the current status of the generation.
func (g *Generation) Status() Status {
	return g.state.Status()
}

func (g *Generation) finish(out Outcome) bool {
	if err := g.state.Finish(out.Status); err != nil {
		logging.Error("rejected second terminal signal", "status", out.Status.String(), "error", err)
		return false
	}
	out.Text = g.state.Text()
	g.outcome = out
	return true
}

// Generate starts a generation. The caller must drain Chunks or call Wait.
func (p *Pipeline) Generate(ctx context.Context, req client.Request) *Generation {
	g := &Generation{
		chunks: make(chan Chunk),
		done:   make(chan struct{}),
		state:  NewState(time.Now()),
	}
	go p.run(ctx, req, g)
	return g
}

// Complete runs a single-prompt generation to its end and returns the text.
// A stalled generation returns the partial text together with ErrStalled.
func (p *Pipeline) Complete(ctx context.Context, prompt string) (string, error) {
	out := p.Generate(ctx, client.Request{
		Messages: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
	}).Wait()

	switch out.Status {
	case Completed:
		return out.Text, nil
	case TimedOut:
		return out.Text, fmt.Errorf("%w: %s", ErrStalled, out.Diagnostic)
	default:
		return "", out.Err
	}
}

func (p *Pipeline) run(ctx context.Context, req client.Request, g *Generation) {
	defer close(g.done)
	defer close(g.chunks)

	start := time.Now()
	out := p.pump(ctx, req, g)
	out.Duration = time.Since(start)

	if out.Status == Completed && len(req.Tools) > 0 && len(out.Calls) == 0 {
		out.Calls = client.ParseTextToolCalls(g.state.Text())
	}

	if g.finish(out) {
		p.metrics.ObserveGeneration(p.backend.Name(), out.Status.String(), out.Duration)
		logging.Debug("generation finished",
			"backend", p.backend.Name(),
			"status", out.Status.String(),
			"chars", len(g.outcome.Text),
			"calls", len(out.Calls),
			"duration", out.Duration)
	}
}

// pump moves backend chunks downstream until the stream ends, fails,
// stalls or ctx is cancelled.
func (p *Pipeline) pump(ctx context.Context, req client.Request, g *Generation) Outcome {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	threshold := p.config.StallThreshold
	stall := time.NewTimer(threshold)
	defer stall.Stop()

	type opened struct {
		resp *client.StreamingResponse
		err  error
	}
	openCh := make(chan opened, 1)
	go func() {
		resp, err := p.backend.Stream(streamCtx, req)
		openCh <- opened{resp, err}
	}()

	var resp *client.StreamingResponse
	select {
	case <-ctx.Done():
		return Outcome{Status: Failed, Err: ctx.Err()}
	case <-stall.C:
		return p.stalled(g, threshold)
	case o := <-openCh:
		if o.err != nil {
			if ctx.Err() != nil {
				return Outcome{Status: Failed, Err: ctx.Err()}
			}
			return Outcome{Status: Failed, Err: fmt.Errorf("%w: %w", ErrBackend, o.err)}
		}
		resp = o.resp
	}

	var tick <-chan time.Time
	if p.config.BatchInterval > 0 {
		ticker := time.NewTicker(p.config.BatchInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		pending      strings.Builder
		pendingCalls []*genai.FunctionCall
		calls        []*genai.FunctionCall
		inTokens     int
		outTokens    int
	)

	flush := func() bool {
		if pending.Len() == 0 && len(pendingCalls) == 0 {
			return true
		}
		chunk := Chunk{Text: pending.String(), Calls: pendingCalls}
		pending.Reset()
		pendingCalls = nil
		select {
		case g.chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}
	result := func(status Status, err error) Outcome {
		return Outcome{Status: status, Err: err, Calls: calls, InputTokens: inTokens, OutputTokens: outTokens}
	}

	for {
		select {
		case <-ctx.Done():
			return result(Failed, ctx.Err())

		case <-stall.C:
			cancel()
			flush()
			out := p.stalled(g, threshold)
			out.Calls = calls
			return out

		case <-tick:
			if !flush() {
				return result(Failed, ctx.Err())
			}

		case chunk, ok := <-resp.Chunks:
			if !ok {
				if ctx.Err() != nil {
					return result(Failed, ctx.Err())
				}
				if !flush() {
					return result(Failed, ctx.Err())
				}
				return result(Completed, nil)
			}

			resetTimer(stall, threshold)

			if chunk.Error != nil {
				flush()
				if ctx.Err() != nil {
					return result(Failed, ctx.Err())
				}
				return result(Failed, fmt.Errorf("%w: %w", ErrBackend, chunk.Error))
			}

			if err := g.state.Touch(chunk.Text, time.Now()); err != nil {
				logging.Error("stream state rejected delta", "error", err)
				return result(Failed, err)
			}
			pending.WriteString(chunk.Text)
			pendingCalls = append(pendingCalls, chunk.FunctionCalls...)
			calls = append(calls, chunk.FunctionCalls...)
			if chunk.InputTokens > 0 {
				inTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				outTokens = chunk.OutputTokens
			}

			if tick == nil || chunk.Done {
				if !flush() {
					return result(Failed, ctx.Err())
				}
			}
			if chunk.Done {
				return result(Completed, nil)
			}
		}
	}
}

func (p *Pipeline) stalled(g *Generation, threshold time.Duration) Outcome {
	received := len(g.state.Text())
	idle := time.Since(g.state.LastActivity()).Round(time.Millisecond)
	logging.Warn("stream stalled",
		"backend", p.backend.Name(),
		"model", p.backend.Model(),
		"threshold", threshold,
		"idle", idle,
		"chars_received", received)

	return Outcome{
		Status:  TimedOut,
		Err:     ErrStalled,
		Stalled: true,
		Diagnostic: fmt.Sprintf("%s produced no output for %s (threshold %s); returning the %d characters received so far",
			p.backend.Name(), idle, threshold, received),
	}
}

// resetTimer safely resets a timer, draining the channel if needed.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
