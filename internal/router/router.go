// Package router drives one user turn from classification to a single
// terminal event, choosing between command handling, direct generation
// and the tool loop.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"turnstile/internal/classify"
	"turnstile/internal/commands"
	"turnstile/internal/config"
	"turnstile/internal/logging"
	"turnstile/internal/metrics"
	"turnstile/internal/session"
	"turnstile/internal/stream"
	"turnstile/internal/tools"

	"github.com/google/uuid"
)

const eventBuffer = 64

var errTurnTimeout = errors.New("turn timeout")

// Config bounds turn execution.
type Config struct {
	MaxToolDepth  int
	TurnTimeout   time.Duration
	HistoryLimit  int
	SystemPrompt  string
	CommandPrefix string
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolDepth:  config.DefaultMaxToolDepth,
		TurnTimeout:   config.DefaultTurnTimeout,
		HistoryLimit:  config.DefaultHistoryLimit,
		CommandPrefix: config.DefaultCommandPrefix,
	}
}

// ConfigFrom extracts the router settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxToolDepth:  cfg.Router.MaxToolDepth,
		TurnTimeout:   cfg.Router.TurnTimeout,
		HistoryLimit:  cfg.Router.HistoryLimit,
		SystemPrompt:  cfg.Router.SystemPrompt,
		CommandPrefix: cfg.Classifier.CommandPrefix,
	}
}

// ModelSwitcher builds a pipeline for another model of the same backend.
type ModelSwitcher func(ctx context.Context, model string) (*stream.Pipeline, error)

// Option configures a Router.
type Option func(*Router)

// WithMetrics reports classifications and turns to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithVersion sets the version shown by /status.
func WithVersion(v string) Option {
	return func(r *Router) { r.version = v }
}

// WithModelSwitcher enables /model <name>.
func WithModelSwitcher(fn ModelSwitcher) Option {
	return func(r *Router) { r.switchModel = fn }
}

type classifierHolder struct {
	classify.Classifier
}

// Router selects and supervises the execution path of each turn.
type Router struct {
	config     Config
	classifier atomic.Pointer[classifierHolder]
	pipeline   atomic.Pointer[stream.Pipeline]
	boundary   *tools.Boundary
	commands   *commands.Handler
	sessions   session.Store

	metrics     *metrics.Metrics
	version     string
	switchModel ModelSwitcher
}

// New creates a router. Zero config fields take their defaults.
func New(cfg Config, pipeline *stream.Pipeline, classifier classify.Classifier, boundary *tools.Boundary, sessions session.Store, opts ...Option) *Router {
	def := DefaultConfig()
	if cfg.MaxToolDepth <= 0 {
		cfg.MaxToolDepth = def.MaxToolDepth
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = def.CommandPrefix
	}

	r := &Router{
		config:   cfg,
		boundary: boundary,
		commands: commands.NewHandler(),
		sessions: sessions,
	}
	r.classifier.Store(&classifierHolder{classifier})
	r.pipeline.Store(pipeline)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the router configuration.
func (r *Router) Config() Config {
	return r.config
}

// Classifier returns the classifier used for new turns.
func (r *Router) Classifier() classify.Classifier {
	return r.classifier.Load().Classifier
}

// SetClassifier replaces the classifier for subsequent turns. Turns
// already classified are unaffected.
func (r *Router) SetClassifier(c classify.Classifier) {
	r.classifier.Store(&classifierHolder{c})
	logging.Info("classifier replaced", "mode", classifierMode(c))
}

// Pipeline returns the pipeline used for new generations.
func (r *Router) Pipeline() *stream.Pipeline {
	return r.pipeline.Load()
}

// Commands returns the command handler.
func (r *Router) Commands() *commands.Handler {
	return r.commands
}

// Registry returns the tool registry.
func (r *Router) Registry() *tools.Registry {
	return r.boundary.Registry()
}

// RegisterCommand adds a command at startup.
func (r *Router) RegisterCommand(cmd commands.Command) {
	r.commands.Register(cmd)
}

// RegisterTool registers every tool the provider lists.
func (r *Router) RegisterTool(p tools.Provider) error {
	return r.boundary.Registry().Register(p)
}

// SwitchModel replaces the pipeline with one for model.
func (r *Router) SwitchModel(ctx context.Context, model string) error {
	if r.switchModel == nil {
		return fmt.Errorf("model switching is not configured")
	}
	p, err := r.switchModel(ctx, model)
	if err != nil {
		return err
	}
	prev := r.pipeline.Swap(p)
	logging.Info("model switched", "from", prev.Backend().Model(), "to", p.Backend().Model())
	return nil
}

// Info describes the running configuration.
func (r *Router) Info() commands.Info {
	backend := r.Pipeline().Backend()
	info := commands.Info{
		Version:        r.version,
		Provider:       backend.Name(),
		Model:          backend.Model(),
		ClassifierMode: classifierMode(r.Classifier()),
		MaxToolDepth:   r.config.MaxToolDepth,
	}
	if m, ok := r.Classifier().(*classify.Model); ok {
		info.Schema = m.Schema()
	}
	return info
}

func classifierMode(c classify.Classifier) string {
	if _, ok := c.(*classify.Model); ok {
		return "model"
	}
	return "rules"
}

// ProcessTurn classifies rawInput, routes it and records the completed
// exchange in the session history. Callers must drain the returned channel;
// it is closed after the terminal event.
func (r *Router) ProcessTurn(ctx context.Context, rawInput, sessionID string) <-chan Event {
	if sessionID == "" {
		sessionID = "default"
	}
	turnID := uuid.NewString()
	correlationID := uuid.NewString()

	if ev, rejected := r.rejectNested(ctx, turnID, correlationID); rejected {
		return single(ev)
	}

	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		log := logging.ForTurn(turnID, correlationID)

		history, err := r.sessions.History(ctx, sessionID, r.config.HistoryLimit)
		if err != nil {
			log.Warn("failed to load session history", "session_id", sessionID, "error", err)
			history = nil
		}

		result := r.Classifier().Classify(ctx, rawInput, history)
		r.metrics.ObserveClassification(string(result.Type), result.Method)
		log.Info("turn classified",
			"session_id", sessionID,
			"type", string(result.Type),
			"confidence", result.Confidence,
			"method", result.Method,
			"signal", result.MatchedSignal)

		req := &Request{
			TurnID:         turnID,
			SessionID:      sessionID,
			RawInput:       rawInput,
			History:        history,
			Classification: result,
			CorrelationID:  correlationID,
		}
		for ev := range r.Route(ctx, req) {
			if ev.Kind == Completed && result.Type != classify.Command {
				r.record(ctx, req, ev.Text)
			}
			out <- ev
		}
	}()
	return out
}

// record appends the user turn and the answer. Commands are not recorded.
func (r *Router) record(ctx context.Context, req *Request, answer string) {
	user := session.NewTurn(session.RoleUser, req.RawInput)
	user.Classification = string(req.Classification.Type)
	assistant := session.NewTurn(session.RoleAssistant, answer)

	if err := r.sessions.Append(context.WithoutCancel(ctx), req.SessionID, user, assistant); err != nil {
		logging.Warn("failed to record turn",
			"turn_id", req.TurnID,
			"session_id", req.SessionID,
			"error", err)
	}
}

// Route runs req on the path its classification selects. Callers must
// drain the returned channel; it is closed after the terminal event.
func (r *Router) Route(ctx context.Context, req *Request) <-chan Event {
	if ev, rejected := r.rejectNested(ctx, req.TurnID, req.CorrelationID); rejected {
		return single(ev)
	}
	out := make(chan Event, eventBuffer)
	go r.run(ctx, req, out)
	return out
}

func (r *Router) rejectNested(ctx context.Context, turnID, correlationID string) (Event, bool) {
	depth, ok := tools.ExecutionDepth(ctx)
	if !ok {
		return Event{}, false
	}
	v := &tools.BoundaryViolation{Tool: "process_turn", Depth: depth, Reason: "a tool attempted to start a new turn"}
	tools.ReportViolation(ctx, v)
	logging.Error("tool boundary violation",
		"turn_id", turnID,
		"correlation_id", correlationID,
		"depth", depth,
		"reason", v.Reason)
	r.metrics.ObserveTurn("rejected", string(CodeBoundaryViolation), 0)
	return Event{
		Kind:   Errored,
		TurnID: turnID,
		Text:   v.Error(),
		Err:    newTurnError(CodeBoundaryViolation, correlationID, v.Error(), v),
	}, true
}

func single(ev Event) <-chan Event {
	out := make(chan Event, 1)
	out <- ev
	close(out)
	return out
}

func (r *Router) run(parent context.Context, req *Request, out chan<- Event) {
	defer close(out)

	ctx, cancel := context.WithTimeoutCause(parent, r.config.TurnTimeout, errTurnTimeout)
	defer cancel()

	log := logging.ForTurn(req.TurnID, req.CorrelationID)
	t := &turn{
		r:     r,
		ctx:   ctx,
		req:   req,
		out:   out,
		log:   log,
		state: newTurnState(log),
		start: time.Now(),
	}
	t.finish(t.dispatch())
}
