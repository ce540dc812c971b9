package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"turnstile/internal/audit"
	"turnstile/internal/classify"
	"turnstile/internal/client"
	"turnstile/internal/config"
	"turnstile/internal/logging"
	"turnstile/internal/mcp"
	"turnstile/internal/metrics"
	"turnstile/internal/router"
	"turnstile/internal/security"
	"turnstile/internal/session"
	"turnstile/internal/stream"
	"turnstile/internal/tools"
	"turnstile/internal/watcher"
)

// Builder constructs an App step by step.
type Builder struct {
	cfg         *config.Config
	version     string
	newBackend  BackendFactory
	sessions    session.Store
	watchConfig bool

	// Built components.
	metrics    *metrics.Metrics
	backend    client.Backend
	pipeline   *stream.Pipeline
	rules      *classify.Rules
	classifier classify.Classifier
	registry   *tools.Registry
	boundary   *tools.Boundary
	auditLog   *audit.Logger
	mcpManager *mcp.Manager
	app        *App

	buildErrors []error
}

// NewBuilder creates a Builder for cfg.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		cfg:        cfg,
		version:    cfg.Version,
		newBackend: client.New,
	}
}

// WithVersion sets the version reported by /status and the servers.
func (b *Builder) WithVersion(v string) *Builder {
	b.version = v
	return b
}

// WithBackendFactory replaces the backend constructor.
func (b *Builder) WithBackendFactory(f BackendFactory) *Builder {
	b.newBackend = f
	return b
}

// WithSessionStore uses s instead of the configured store.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

// WithConfigWatch reloads the classifier when the config file changes.
func (b *Builder) WithConfigWatch(enabled bool) *Builder {
	b.watchConfig = enabled
	return b
}

// Build wires every component. Failures of optional integrations such as
// MCP servers are logged and do not fail the build.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.metrics = metrics.New()

	if err := b.initBackend(ctx); err != nil {
		b.addError(err)
		return nil, b.finalizeError()
	}
	if err := b.initClassifier(); err != nil {
		b.addError(err)
	}
	if err := b.initTools(); err != nil {
		b.addError(err)
	}
	if err := b.initSessions(); err != nil {
		b.addError(err)
	}
	if err := b.finalizeError(); err != nil {
		b.closePartial()
		return nil, err
	}

	b.initMCP(ctx)
	b.assembleApp()

	if err := b.initWatcher(); err != nil {
		logging.Warn("config watcher disabled", "error", err)
	}

	logging.Info("app initialized",
		"provider", b.backend.Name(),
		"model", b.backend.Model(),
		"classifier", b.cfg.Classifier.Mode,
		"tools", b.registry.Len(),
		"session_store", b.cfg.Session.Store)
	return b.app, nil
}

func (b *Builder) initBackend(ctx context.Context) error {
	backend, err := b.newBackend(ctx, b.cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	b.backend = backend
	b.pipeline = stream.New(backend, stream.Config{
		BatchInterval:  b.cfg.Stream.BatchInterval,
		StallThreshold: b.cfg.Stream.StallThresholdFor(backend.Name()),
	}, b.metrics)
	return nil
}

func (b *Builder) initClassifier() error {
	b.rules = classify.NewRules(classify.FromConfig(b.cfg.Classifier))
	c, err := classify.New(b.cfg.Classifier, b.pipeline)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	b.classifier = c
	return nil
}

func (b *Builder) initTools() error {
	workDir, err := filepath.Abs(b.cfg.Tools.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to resolve work dir: %w", err)
	}
	paths, err := security.NewPathValidator(workDir, b.cfg.Tools.AllowedPaths, false)
	if err != nil {
		return fmt.Errorf("failed to create path validator: %w", err)
	}

	b.registry = tools.NewRegistry()
	if err := b.registry.Register(tools.NewFileSystem(paths, b.pipeline)); err != nil {
		return fmt.Errorf("failed to register file tools: %w", err)
	}

	b.auditLog, err = audit.NewLogger(audit.Config{File: b.cfg.Tools.AuditFile})
	if err != nil {
		return err
	}

	b.boundary = tools.NewBoundary(b.registry, tools.BoundaryConfig{
		MaxDepth:         b.cfg.Router.MaxToolDepth,
		Timeout:          b.cfg.Tools.Timeout,
		BreakerThreshold: b.cfg.Tools.BreakerThreshold,
		BreakerReset:     b.cfg.Tools.BreakerReset,
	},
		tools.WithAudit(b.auditLog),
		tools.WithMetrics(b.metrics),
		tools.WithRedactor(security.NewSecretRedactor()),
	)
	return nil
}

func (b *Builder) initSessions() error {
	if b.sessions != nil {
		return nil
	}
	sc := b.cfg.Session
	switch sc.Store {
	case "", "memory":
		b.sessions = session.NewMemoryStore(sc.MaxTurns)
	case "redis":
		opts := []session.RedisOption{session.WithMaxTurns(sc.MaxTurns)}
		if sc.TTL > 0 {
			opts = append(opts, session.WithTTL(sc.TTL))
		}
		b.sessions = session.NewRedisStore(sc.RedisAddr, sc.RedisPassword, sc.RedisDB, opts...)
	default:
		return fmt.Errorf("unknown session store %q", sc.Store)
	}
	return nil
}

// initMCP registers the tools of the configured MCP servers. Servers that
// cannot be reached are skipped.
func (b *Builder) initMCP(ctx context.Context) {
	if len(b.cfg.Tools.MCPServers) == 0 {
		return
	}
	b.mcpManager = mcp.NewManager(b.version)
	if err := b.mcpManager.ConnectAll(ctx, b.cfg.Tools.MCPServers); err != nil {
		logging.Warn("some mcp servers are unavailable", "error", err)
	}
	for _, p := range b.mcpManager.Providers() {
		if err := b.registry.Register(p); err != nil {
			logging.Warn("mcp tools not registered", "server", p.Server(), "error", err)
		}
	}
}

func (b *Builder) assembleApp() {
	a := &App{
		Config:     b.cfg,
		Metrics:    b.metrics,
		Rules:      b.rules,
		Version:    b.version,
		newBackend: b.newBackend,
		sessions:   b.sessions,
		audit:      b.auditLog,
		mcp:        b.mcpManager,
	}
	a.Router = router.New(router.ConfigFrom(b.cfg), b.pipeline, b.classifier, b.boundary, b.sessions,
		router.WithMetrics(b.metrics),
		router.WithVersion(b.version),
		router.WithModelSwitcher(a.NewPipeline),
	)
	b.app = a
}

func (b *Builder) initWatcher() error {
	if !b.watchConfig || b.cfg.Path == "" {
		return nil
	}
	w, err := watcher.New(watcher.DefaultConfig(), b.cfg.Path)
	if err != nil {
		return err
	}
	w.SetOnChange(b.app.onConfigChange)
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}
	b.app.watcher = w
	logging.Debug("watching configuration", "path", b.cfg.Path)
	return nil
}

func (b *Builder) addError(err error) {
	b.buildErrors = append(b.buildErrors, err)
}

func (b *Builder) finalizeError() error {
	return errors.Join(b.buildErrors...)
}

func (b *Builder) closePartial() {
	if b.auditLog != nil {
		_ = b.auditLog.Close()
	}
	if c, ok := b.sessions.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
