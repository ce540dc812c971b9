package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"turnstile/internal/config"
	"turnstile/internal/logging"
)

// defaultServerTimeout is the per-server connection timeout.
const defaultServerTimeout = 15 * time.Second

// Dialer opens an initialized session with one configured server.
type Dialer func(ctx context.Context, cfg config.MCPServerConfig) (toolClient, error)

// Manager holds the providers of the connected MCP servers.
type Manager struct {
	version   string
	dial      Dialer
	providers map[string]*Provider
	mu        sync.RWMutex
}

// NewManager creates a manager that starts servers over stdio.
func NewManager(version string) *Manager {
	m := &Manager{
		version:   version,
		providers: make(map[string]*Provider),
	}
	m.dial = m.dialStdio
	return m
}

// ConnectAll connects to every server in parallel, each bounded by its own
// timeout. Servers that fail are logged and reported in the joined error;
// the others stay connected.
func (m *Manager) ConnectAll(ctx context.Context, servers []config.MCPServerConfig) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, cfg := range servers {
		g.Go(func() error {
			p, err := m.connect(ctx, cfg)
			if err != nil {
				logging.Warn("mcp server connection failed", "name", cfg.Name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", cfg.Name, err))
				mu.Unlock()
				return nil
			}

			m.mu.Lock()
			m.providers[cfg.Name] = p
			m.mu.Unlock()
			logging.Info("mcp server connected", "name", cfg.Name, "tools", len(p.specs))
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (m *Manager) connect(ctx context.Context, cfg config.MCPServerConfig) (*Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultServerTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := m.dial(connectCtx, cfg)
	if err != nil {
		return nil, err
	}

	p, err := NewProvider(connectCtx, cfg.Name, cfg.ToolPrefix, client, timeout)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

func (m *Manager) dialStdio(ctx context.Context, cfg config.MCPServerConfig) (toolClient, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	client, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: "turnstile", Version: m.version}
	if _, err := client.Initialize(ctx, req); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	return client, nil
}

// Providers returns the connected providers sorted by server name.
func (m *Manager) Providers() []*Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].server < out[j].server })
	return out
}

// Shutdown closes every server session.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, p := range m.providers {
		if err := p.Close(); err != nil {
			logging.Warn("mcp client close error", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	m.providers = make(map[string]*Provider)

	logging.Debug("mcp manager shutdown complete")
	return errors.Join(errs...)
}
