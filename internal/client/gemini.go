package client

import (
	"context"
	"errors"
	"fmt"

	"turnstile/internal/logging"
	"turnstile/internal/ratelimit"

	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini backend.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
	Retry       RetryConfig
	Limiter     *ratelimit.Limiter // Optional
}

// GeminiBackend streams completions from the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	config GeminiConfig
}

// NewGeminiBackend creates a new Gemini backend.
func NewGeminiBackend(ctx context.Context, config GeminiConfig) (*GeminiBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key required, get one at https://aistudio.google.com/apikey")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logging.Debug("gemini backend ready", "model", config.Model)
	return &GeminiBackend{client: client, config: config}, nil
}

func (b *GeminiBackend) Name() string  { return "gemini" }
func (b *GeminiBackend) Model() string { return b.config.Model }

// Stream starts a streaming generation.
func (b *GeminiBackend) Stream(ctx context.Context, req Request) (*StreamingResponse, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: Ptr(b.config.Temperature),
	}
	if req.Temperature != nil {
		genConfig.Temperature = Ptr(*req.Temperature)
	}
	if b.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = b.config.MaxTokens
	}
	if req.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: req.Tools}}
	}

	if err := b.config.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	contents := sanitizeContents(req.Messages)
	return withRetry(ctx, b.Name(), b.config.Retry, func() (*StreamingResponse, error) {
		return b.doGenerateContentStream(ctx, contents, genConfig)
	})
}

// doGenerateContentStream pumps the SDK iterator into a chunk channel. The
// first result is read before returning so that request errors can be
// retried by the caller.
func (b *GeminiBackend) doGenerateContentStream(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig) (*StreamingResponse, error) {
	type iterResult struct {
		resp *genai.GenerateContentResponse
		err  error
	}
	iterCh := make(chan iterResult)
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(iterCh)
		for resp, err := range b.client.Models.GenerateContentStream(streamCtx, b.config.Model, contents, genConfig) {
			select {
			case iterCh <- iterResult{resp, err}:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var head iterResult
	var ok bool
	select {
	case head, ok = <-iterCh:
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	if ok && head.err != nil {
		cancel()
		return nil, wrapGeminiError(head.err)
	}

	chunks := make(chan ResponseChunk, 10)
	done := make(chan struct{})

	go func() {
		defer cancel()
		defer close(chunks)
		defer close(done)

		send := func(chunk ResponseChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !ok {
			send(ResponseChunk{Done: true, FinishReason: genai.FinishReasonStop})
			return
		}
		chunk := processResponse(head.resp)
		if !send(chunk) || chunk.Done {
			return
		}

		for result := range iterCh {
			if result.err != nil {
				send(ResponseChunk{Error: wrapGeminiError(result.err), Done: true})
				return
			}
			chunk := processResponse(result.resp)
			if !send(chunk) || chunk.Done {
				return
			}
		}
		// Iterator ended without a finish reason.
		send(ResponseChunk{Done: true, FinishReason: genai.FinishReasonStop})
	}()

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

// processResponse converts a Gemini response to a ResponseChunk.
func processResponse(resp *genai.GenerateContentResponse) ResponseChunk {
	chunk := ResponseChunk{}
	if resp == nil {
		chunk.Done = true
		return chunk
	}

	if resp.UsageMetadata != nil {
		chunk.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		chunk.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 {
		return chunk
	}

	candidate := resp.Candidates[0]
	chunk.FinishReason = candidate.FinishReason
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != "" {
				chunk.Text += part.Text
			}
			if part.FunctionCall != nil {
				chunk.FunctionCalls = append(chunk.FunctionCalls, part.FunctionCall)
			}
		}
	}
	if candidate.FinishReason != "" {
		chunk.Done = true
	}
	return chunk
}

// sanitizeContents drops empty parts; the API rejects content without any.
func sanitizeContents(contents []*genai.Content) []*genai.Content {
	var result []*genai.Content
	for _, content := range contents {
		if content == nil {
			continue
		}
		var validParts []*genai.Part
		for _, part := range content.Parts {
			if part == nil {
				continue
			}
			if part.FunctionCall != nil || part.FunctionResponse != nil || part.Text != "" || part.InlineData != nil {
				validParts = append(validParts, part)
			}
		}
		if len(validParts) == 0 {
			continue
		}
		result = append(result, &genai.Content{Role: content.Role, Parts: validParts})
	}
	if len(result) == 0 {
		result = []*genai.Content{genai.NewContentFromText(" ", genai.RoleUser)}
	}
	return result
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
