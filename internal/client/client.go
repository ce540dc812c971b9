package client

import (
	"context"

	"google.golang.org/genai"
)

// Backend is a language-model backend producing a token stream.
type Backend interface {
	// Name returns the provider name, e.g. "ollama".
	Name() string
	// Model returns the model identifier requests are sent to.
	Model() string
	// Stream starts a generation. The returned channel is closed after the
	// final chunk; cancelling ctx aborts the request.
	Stream(ctx context.Context, req Request) (*StreamingResponse, error)
}

// Request is a single generation request.
type Request struct {
	System   string
	Messages []*genai.Content
	Tools    []*genai.FunctionDeclaration
	// Temperature overrides the backend default when non-nil.
	Temperature *float32
}

// StreamingResponse represents a streaming response from the model.
type StreamingResponse struct {
	// Chunks is a channel that receives response chunks.
	Chunks <-chan ResponseChunk

	// Done is closed when the stream is complete.
	Done <-chan struct{}
}

// ResponseChunk represents a single chunk of a streaming response.
type ResponseChunk struct {
	// Text contains the text content of this chunk.
	Text string

	// FunctionCalls contains any function calls in this chunk.
	FunctionCalls []*genai.FunctionCall

	// Error contains any error that occurred.
	Error error

	// Done indicates this is the backend's end-of-stream marker.
	Done bool

	// FinishReason indicates why generation stopped.
	FinishReason genai.FinishReason

	InputTokens  int
	OutputTokens int
}

// Collect drains a streaming response into its text and function calls.
func (sr *StreamingResponse) Collect(ctx context.Context) (string, []*genai.FunctionCall, error) {
	var text []byte
	var calls []*genai.FunctionCall
	for {
		select {
		case <-ctx.Done():
			return string(text), calls, ctx.Err()
		case chunk, ok := <-sr.Chunks:
			if !ok {
				return string(text), calls, nil
			}
			if chunk.Error != nil {
				return string(text), calls, chunk.Error
			}
			text = append(text, chunk.Text...)
			calls = append(calls, chunk.FunctionCalls...)
		}
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
