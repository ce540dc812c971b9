package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"turnstile/internal/logging"
	"turnstile/internal/ratelimit"

	"github.com/ollama/ollama/api"
	"google.golang.org/genai"
)

// OllamaConfig holds configuration for the Ollama backend.
type OllamaConfig struct {
	BaseURL     string        // Default: "http://localhost:11434"
	APIKey      string        // Optional, for remote Ollama servers with auth
	Model       string        // e.g., "llama3.2:3b", "qwen2.5-coder"
	Temperature float32       // Temperature for generation
	MaxTokens   int32         // Max output tokens
	HTTPTimeout time.Duration // Per-request timeout, 0 means none
	Retry       RetryConfig
	Limiter     *ratelimit.Limiter // Optional
}

// OllamaBackend streams chat completions from an Ollama server.
type OllamaBackend struct {
	client *api.Client
	config OllamaConfig
}

// authTransport adds Authorization header to HTTP requests.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(reqClone)
}

// NewOllamaBackend creates a new Ollama backend.
func NewOllamaBackend(config OllamaConfig) (*OllamaBackend, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("Ollama connection uses unencrypted HTTP to remote host", "host", host)
		}
	}

	// Streams can legitimately run for minutes, so the HTTP client gets no
	// overall timeout; HTTPTimeout bounds the wait for response headers.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = config.HTTPTimeout
	var rt http.RoundTripper = transport
	if config.APIKey != "" {
		rt = &authTransport{base: transport, apiKey: config.APIKey}
	}

	return &OllamaBackend{
		client: api.NewClient(baseURL, &http.Client{Transport: rt}),
		config: config,
	}, nil
}

func (b *OllamaBackend) Name() string  { return "ollama" }
func (b *OllamaBackend) Model() string { return b.config.Model }

// NativeTools reports whether the configured model supports function calling.
func (b *OllamaBackend) NativeTools() bool {
	return GetModelProfile(b.config.Model).SupportsTools
}

// Stream sends a streaming chat request.
func (b *OllamaBackend) Stream(ctx context.Context, req Request) (*StreamingResponse, error) {
	native := b.NativeTools()

	system := req.System
	if !native && len(req.Tools) > 0 {
		system += ToolCallFallbackPrompt(req.Tools)
	}

	chatReq := &api.ChatRequest{
		Model:    b.config.Model,
		Messages: convertMessages(system, req.Messages, native),
		Stream:   Ptr(true),
		Options: map[string]interface{}{
			"num_predict": b.config.MaxTokens,
		},
	}

	temperature := b.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature > 0 {
		chatReq.Options["temperature"] = temperature
	}
	if native && len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOllama(req.Tools)
	}

	if err := b.config.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	return withRetry(ctx, b.Name(), b.config.Retry, func() (*StreamingResponse, error) {
		return b.doStreamChat(ctx, chatReq)
	})
}

// doStreamChat performs a single streaming chat request. Connection errors
// that happen before the first chunk are returned directly so they can be
// retried; later errors arrive as the final chunk.
func (b *OllamaBackend) doStreamChat(ctx context.Context, req *api.ChatRequest) (*StreamingResponse, error) {
	chunks := make(chan ResponseChunk, 10)
	done := make(chan struct{})
	first := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(done)

		started := false
		err := b.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				first <- nil
			}

			chunk := ResponseChunk{Text: resp.Message.Content}
			for i, tc := range resp.Message.ToolCalls {
				chunk.FunctionCalls = append(chunk.FunctionCalls, convertOllamaToolCall(tc, i))
			}
			if resp.Done {
				chunk.Done = true
				chunk.FinishReason = genai.FinishReasonStop
				chunk.InputTokens = resp.PromptEvalCount
				chunk.OutputTokens = resp.EvalCount
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if !started {
			first <- err
			return
		}
		if err != nil {
			select {
			case chunks <- ResponseChunk{Error: b.wrapError(err), Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	select {
	case err := <-first:
		if err != nil {
			return nil, b.wrapError(err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

// convertMessages converts genai history to Ollama messages. Without native
// tool support, calls and results are rendered as text.
func convertMessages(system string, contents []*genai.Content, native bool) []api.Message {
	messages := make([]api.Message, 0, len(contents)+1)
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}

	for _, content := range contents {
		if content == nil {
			continue
		}
		role := "user"
		if content.Role == genai.RoleModel {
			role = "assistant"
		}

		var textParts []string
		var toolCalls []api.ToolCall
		for _, part := range content.Parts {
			switch {
			case part.FunctionResponse != nil:
				resp := part.FunctionResponse
				if native {
					messages = append(messages, api.Message{
						Role:       "tool",
						Content:    functionResponseText(resp),
						ToolName:   resp.Name,
						ToolCallID: resp.ID,
					})
				} else {
					textParts = append(textParts, fmt.Sprintf("Tool result for %s:\n%s", resp.Name, functionResponseText(resp)))
				}
			case part.FunctionCall != nil:
				if native {
					toolCalls = append(toolCalls, convertGenaiToolCall(part.FunctionCall))
				} else {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					textParts = append(textParts, fmt.Sprintf("```json\n{\"tool\": %q, \"args\": %s}\n```", part.FunctionCall.Name, argsJSON))
				}
			case part.Text != "":
				textParts = append(textParts, part.Text)
			}
		}

		if len(textParts) > 0 || len(toolCalls) > 0 {
			messages = append(messages, api.Message{
				Role:      role,
				Content:   strings.Join(textParts, "\n"),
				ToolCalls: toolCalls,
			})
		}
	}
	return messages
}

func functionResponseText(resp *genai.FunctionResponse) string {
	if resp.Response == nil {
		return "Operation completed"
	}
	if errStr, ok := resp.Response["error"].(string); ok && errStr != "" {
		return "Error: " + errStr
	}
	if val, ok := resp.Response["content"].(string); ok && val != "" {
		return val
	}
	if data, err := json.Marshal(resp.Response); err == nil {
		return string(data)
	}
	return "Operation completed"
}

// convertToolsToOllama converts function declarations to Ollama tools.
func convertToolsToOllama(decls []*genai.FunctionDeclaration) []api.Tool {
	tools := make([]api.Tool, 0, len(decls))
	for _, decl := range decls {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}
		if decl.Parameters != nil {
			if len(decl.Parameters.Required) > 0 {
				params.Required = decl.Parameters.Required
			}
			for name, propSchema := range decl.Parameters.Properties {
				prop := api.ToolProperty{
					Description: propSchema.Description,
				}
				if propSchema.Type != "" {
					prop.Type = api.PropertyType{strings.ToLower(string(propSchema.Type))}
				}
				if len(propSchema.Enum) > 0 {
					enumVals := make([]any, len(propSchema.Enum))
					for i, v := range propSchema.Enum {
						enumVals[i] = v
					}
					prop.Enum = enumVals
				}
				params.Properties.Set(name, prop)
			}
		}

		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func convertOllamaToolCall(tc api.ToolCall, index int) *genai.FunctionCall {
	id := tc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
		if tc.Function.Index > 0 {
			id = fmt.Sprintf("call_%d", tc.Function.Index)
		}
	}
	return &genai.FunctionCall{
		ID:   id,
		Name: tc.Function.Name,
		Args: tc.Function.Arguments.ToMap(),
	}
}

func convertGenaiToolCall(fc *genai.FunctionCall) api.ToolCall {
	args := api.NewToolCallFunctionArguments()
	for k, v := range fc.Args {
		args.Set(k, v)
	}
	return api.ToolCall{
		ID: fc.ID,
		Function: api.ToolCallFunction{
			Name:      fc.Name,
			Arguments: args,
		},
	}
}

// wrapError maps Ollama errors onto APIError and friendlier messages.
func (b *OllamaBackend) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		apiErr := &APIError{Provider: "ollama", StatusCode: statusErr.StatusCode, Message: statusErr.ErrorMessage}
		if statusErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("model %q is not installed, run `ollama pull %s`: %w", b.config.Model, b.config.Model, apiErr)
		}
		return apiErr
	}

	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("Ollama server is not running at %s (start it with `ollama serve`): %w", b.config.BaseURL, err)
	}
	return err
}
