// Package mcp registers the tools of external MCP servers as tool providers.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"turnstile/internal/logging"
	"turnstile/internal/tools"
)

// toolClient is the part of an MCP client session the provider uses.
type toolClient interface {
	ListTools(ctx context.Context, request mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// Provider exposes the tools of one MCP server.
type Provider struct {
	server  string
	client  toolClient
	specs   []tools.Spec
	remote  map[string]string // registry name -> server tool name
	timeout time.Duration
}

var _ tools.Provider = (*Provider)(nil)

// NewProvider lists the server's tools and prepares their specs. prefix
// defaults to the server name.
func NewProvider(ctx context.Context, server, prefix string, client toolClient, timeout time.Duration) (*Provider, error) {
	if prefix == "" {
		prefix = server
	}

	res, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of %s: %w", server, err)
	}

	p := &Provider{
		server:  server,
		client:  client,
		remote:  make(map[string]string, len(res.Tools)),
		timeout: timeout,
	}
	for _, t := range res.Tools {
		name := toolName(prefix, t.Name)
		if _, dup := p.remote[name]; dup {
			logging.Warn("mcp tool name collision, skipping", "server", server, "tool", t.Name, "name", name)
			continue
		}
		p.remote[name] = t.Name

		desc := t.Description
		if desc == "" {
			desc = fmt.Sprintf("%s tool from the %s MCP server", t.Name, server)
		}
		p.specs = append(p.specs, tools.Spec{
			Name:        name,
			Description: desc,
			Input:       inputSchema(t.InputSchema),
			Output:      tools.OutputText,
			Keywords:    []string{strings.ReplaceAll(t.Name, "-", " ")},
		})
	}
	return p, nil
}

// Server returns the configured server name.
func (p *Provider) Server() string {
	return p.server
}

// ListTools returns the specs of the server's tools.
func (p *Provider) ListTools() []tools.Spec {
	return p.specs
}

// Execute calls the tool on the server. Failures reported by the server
// become failed results.
func (p *Provider) Execute(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	remote, ok := p.remote[name]
	if !ok {
		return tools.Result{}, fmt.Errorf("%s is not provided by MCP server %s", name, p.server)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = remote
	req.Params.Arguments = args

	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return tools.NewErrorResult(fmt.Sprintf("MCP call failed: %s", err)), nil
	}

	text := formatContent(res.Content)
	if res.IsError {
		return tools.NewErrorResult(text), nil
	}

	result := tools.NewSuccessResult(text)
	result.Data = map[string]any{
		"mcp_server": p.server,
		"mcp_tool":   remote,
	}
	return result, nil
}

// Close ends the server session.
func (p *Provider) Close() error {
	return p.client.Close()
}

// formatContent joins MCP content blocks into text.
func formatContent(blocks []mcpgo.Content) string {
	var parts []string
	for _, block := range blocks {
		switch c := block.(type) {
		case mcpgo.TextContent:
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		case *mcpgo.TextContent:
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s]", c.MIMEType))
		case mcpgo.EmbeddedResource:
			parts = append(parts, "[Resource]")
		}
	}

	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}
