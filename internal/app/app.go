// Package app assembles the router and its collaborators from the
// configuration and owns their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"turnstile/internal/audit"
	"turnstile/internal/classify"
	"turnstile/internal/client"
	"turnstile/internal/config"
	"turnstile/internal/httpapi"
	"turnstile/internal/logging"
	"turnstile/internal/mcp"
	"turnstile/internal/mcpserver"
	"turnstile/internal/metrics"
	"turnstile/internal/router"
	"turnstile/internal/session"
	"turnstile/internal/stream"
	"turnstile/internal/watcher"
)

// BackendFactory creates a model backend from its configuration.
type BackendFactory func(ctx context.Context, cfg config.BackendConfig) (client.Backend, error)

// App is a fully wired turn router.
type App struct {
	Config  *config.Config
	Router  *router.Router
	Metrics *metrics.Metrics
	Rules   *classify.Rules
	Version string

	newBackend BackendFactory
	sessions   session.Store
	audit      *audit.Logger
	mcp        *mcp.Manager
	watcher    *watcher.Watcher
}

// NewPipeline builds a streaming pipeline for model on the configured
// provider.
func (a *App) NewPipeline(ctx context.Context, model string) (*stream.Pipeline, error) {
	bc := a.Config.Backend
	bc.Model = model
	backend, err := a.newBackend(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend for %s: %w", bc.Provider, model, err)
	}
	return a.pipeline(backend), nil
}

func (a *App) pipeline(backend client.Backend) *stream.Pipeline {
	return stream.New(backend, stream.Config{
		BatchInterval:  a.Config.Stream.BatchInterval,
		StallThreshold: a.Config.Stream.StallThresholdFor(backend.Name()),
	}, a.Metrics)
}

// MCPServer returns an MCP server backed by the router.
func (a *App) MCPServer() *mcpserver.Server {
	return mcpserver.New(a.Router, a.Rules, func(ctx context.Context, model string) (classify.Generator, error) {
		return a.NewPipeline(ctx, model)
	}, a.Version)
}

// HTTPHandler returns the HTTP surface, with the MCP endpoint mounted.
func (a *App) HTTPHandler() http.Handler {
	opts := []httpapi.Option{
		httpapi.WithVersion(a.Version),
		httpapi.WithMCP(a.MCPServer().HTTPHandler()),
	}
	if a.Config.Server.Metrics {
		opts = append(opts, httpapi.WithMetrics(a.Metrics))
	}
	return httpapi.NewHandler(a.Router, opts...)
}

// Close stops the config watcher and releases MCP sessions, the audit log
// and the session store.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	if a.mcp != nil {
		errs = append(errs, a.mcp.Shutdown())
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if c, ok := a.sessions.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}

	err := errors.Join(errs...)
	if err != nil {
		logging.Warn("app shutdown completed with errors", "error", err)
	}
	return err
}
