// Package mcpserver exposes classification and turn processing as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"turnstile/internal/classify"
	"turnstile/internal/config"
	"turnstile/internal/logging"
	"turnstile/internal/router"
)

// GeneratorFactory returns a generator bound to the named model.
type GeneratorFactory func(ctx context.Context, model string) (classify.Generator, error)

// Server wraps a Router and exposes it as an MCP server.
type Server struct {
	router    *router.Router
	rules     *classify.Rules
	factory   GeneratorFactory
	mcpServer *server.MCPServer
}

// New creates the MCP server. factory may be nil, in which case only the
// router's current model can classify.
func New(r *router.Router, rules *classify.Rules, factory GeneratorFactory, version string) *Server {
	if rules == nil {
		rules = classify.NewRules(classify.DefaultConfig())
	}
	s := &Server{
		router:    r,
		rules:     rules,
		factory:   factory,
		mcpServer: server.NewMCPServer("turnstile", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the protocol on in and out until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info("mcp server listening", "transport", "stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// HTTPHandler serves the protocol over streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcpgo.NewTool("classify_input",
		mcpgo.WithDescription("Classify input text as prompt or workflow using model function calling"),
		mcpgo.WithString("input_text", mcpgo.Required(), mcpgo.Description("Text to classify")),
		mcpgo.WithString("schema_name",
			mcpgo.Description("Schema to use for classification"),
			mcpgo.Enum(classify.Schemas()...),
			mcpgo.DefaultString(classify.DefaultSchema)),
		mcpgo.WithString("model_id",
			mcpgo.Description("Model to use for classification"),
			mcpgo.DefaultString(config.DefaultModel)),
		mcpgo.WithNumber("temperature",
			mcpgo.Description("Temperature for model generation"),
			mcpgo.DefaultNumber(config.DefaultTemperature),
			mcpgo.Min(0),
			mcpgo.Max(2)),
	), s.handleClassify)

	s.mcpServer.AddTool(mcpgo.NewTool("list_schemas",
		mcpgo.WithDescription("List all available classification schemas"),
	), s.handleListSchemas)

	s.mcpServer.AddTool(mcpgo.NewTool("process_turn",
		mcpgo.WithDescription("Run one conversational turn: classify the input, then answer it, run a command or use tools"),
		mcpgo.WithString("input", mcpgo.Required(), mcpgo.Description("User input")),
		mcpgo.WithString("session_id", mcpgo.Description("Conversation to continue (default: default)")),
	), s.handleProcessTurn)
}

// ClassifyResponse is the classify_input result document.
type ClassifyResponse struct {
	Success      bool             `json:"success"`
	Result       *classify.Result `json:"result,omitempty"`
	SchemaName   string           `json:"schema_name"`
	ModelID      string           `json:"model_id"`
	LatencyMs    float64          `json:"latency_ms"`
	ErrorMessage string           `json:"error_message,omitempty"`
	// Fallback is the rule classification returned when the model failed.
	Fallback *classify.Result `json:"fallback,omitempty"`
}

func (s *Server) handleClassify(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	input, err := req.RequireString("input_text")
	if err != nil || input == "" {
		return mcpgo.NewToolResultError("input_text is required"), nil
	}
	schemaName := req.GetString("schema_name", classify.DefaultSchema)
	modelID := req.GetString("model_id", "")
	temperature := req.GetFloat("temperature", config.DefaultTemperature)

	if _, err := classify.LookupSchema(schemaName); err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	start := time.Now()
	resp := s.classify(ctx, input, schemaName, modelID, float32(temperature))
	resp.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	logging.Info("mcp classification completed",
		"schema", schemaName,
		"model", resp.ModelID,
		"success", resp.Success,
		"latency_ms", resp.LatencyMs)
	return jsonResult(resp, false)
}

func (s *Server) classify(ctx context.Context, input, schemaName, modelID string, temperature float32) ClassifyResponse {
	current := s.router.Pipeline()
	if modelID == "" {
		modelID = current.Backend().Model()
	}
	resp := ClassifyResponse{SchemaName: schemaName, ModelID: modelID}

	fail := func(err error) ClassifyResponse {
		fallback := s.rules.Classify(ctx, input, nil)
		fallback.Method = classify.MethodFallback
		resp.ErrorMessage = err.Error()
		resp.Fallback = &fallback
		return resp
	}

	var gen classify.Generator = current
	if modelID != current.Backend().Model() {
		if s.factory == nil {
			return fail(fmt.Errorf("model %s is not available", modelID))
		}
		g, err := s.factory(ctx, modelID)
		if err != nil {
			return fail(err)
		}
		gen = g
	}

	model, err := classify.NewModel(gen, s.rules, classify.WithSchema(schemaName), classify.WithTemperature(temperature))
	if err != nil {
		return fail(err)
	}
	res, err := model.Analyze(ctx, input, nil)
	if err != nil {
		return fail(err)
	}
	resp.Success = true
	resp.Result = &res
	return resp
}

func (s *Server) handleListSchemas(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return jsonResult(map[string]any{
		"available_schemas": classify.Schemas(),
		"default_schema":    classify.DefaultSchema,
	}, false)
}

// TurnResponse summarises a processed turn.
type TurnResponse struct {
	TurnID         string                `json:"turn_id"`
	Path           string                `json:"path"`
	Text           string                `json:"text"`
	Classification *classify.Result      `json:"classification,omitempty"`
	Tools          []router.ToolActivity `json:"tools,omitempty"`
	Stalled        bool                  `json:"stalled,omitempty"`
	Diagnostic     string                `json:"diagnostic,omitempty"`
	Error          *router.TurnError     `json:"error,omitempty"`
}

func (s *Server) handleProcessTurn(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	input, err := req.RequireString("input")
	if err != nil || input == "" {
		return mcpgo.NewToolResultError("input is required"), nil
	}
	sessionID := req.GetString("session_id", "")

	var resp TurnResponse
	failed := false
	for ev := range s.router.ProcessTurn(ctx, input, sessionID) {
		switch ev.Kind {
		case router.ToolActivityEvent:
			if ev.Tool.Phase == router.PhaseFinished {
				resp.Tools = append(resp.Tools, *ev.Tool)
			}
		case router.Completed, router.Errored:
			resp.TurnID = ev.TurnID
			resp.Path = string(ev.Path)
			resp.Text = ev.Text
			resp.Classification = ev.Classification
			resp.Stalled = ev.Stalled
			resp.Diagnostic = ev.Diagnostic
			resp.Error = ev.Err
			failed = ev.Kind == router.Errored
		}
	}
	return jsonResult(resp, failed)
}

func jsonResult(v any, isError bool) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	res := mcpgo.NewToolResultText(string(data))
	res.IsError = isError
	return res, nil
}
