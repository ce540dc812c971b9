// Package clienttest provides a scripted client.Backend for tests.
package clienttest

import (
	"context"
	"sync"
	"time"

	"turnstile/internal/client"

	"google.golang.org/genai"
)

// Step is one scripted stream event.
type Step struct {
	Delay time.Duration // wait before emitting
	Chunk client.ResponseChunk
	Hang  bool // block until the stream is cancelled
}

// Script is the sequence of steps answering one Stream call.
type Script []Step

// Text scripts a stream that emits each part and then ends naturally.
func Text(parts ...string) Script {
	s := make(Script, 0, len(parts)+1)
	for _, p := range parts {
		s = append(s, Step{Chunk: client.ResponseChunk{Text: p}})
	}
	return append(s, Step{Chunk: client.ResponseChunk{Done: true, FinishReason: genai.FinishReasonStop}})
}

// Calls scripts a stream that proposes the given function calls.
func Calls(calls ...*genai.FunctionCall) Script {
	return Script{
		{Chunk: client.ResponseChunk{FunctionCalls: calls}},
		{Chunk: client.ResponseChunk{Done: true, FinishReason: genai.FinishReasonStop}},
	}
}

// Stall scripts a stream that emits parts and then goes silent forever.
func Stall(parts ...string) Script {
	s := make(Script, 0, len(parts)+1)
	for _, p := range parts {
		s = append(s, Step{Chunk: client.ResponseChunk{Text: p}})
	}
	return append(s, Step{Hang: true})
}

// Fail scripts a stream that emits parts and then an error.
func Fail(err error, parts ...string) Script {
	s := make(Script, 0, len(parts)+1)
	for _, p := range parts {
		s = append(s, Step{Chunk: client.ResponseChunk{Text: p}})
	}
	return append(s, Step{Chunk: client.ResponseChunk{Error: err, Done: true}})
}

// Backend replays scripts in order. When Responses is exhausted, Respond is
// consulted; with neither, the stream ends immediately.
type Backend struct {
	Responses []Script
	Respond   func(req client.Request) Script
	// OpenErr is returned by Stream instead of a stream when set.
	OpenErr error

	mu       sync.Mutex
	next     int
	requests []client.Request
}

// New returns a backend answering with the given scripts in order.
func New(scripts ...Script) *Backend {
	return &Backend{Responses: scripts}
}

func (b *Backend) Name() string  { return "scripted" }
func (b *Backend) Model() string { return "scripted-model" }

// Requests returns the requests received so far.
func (b *Backend) Requests() []client.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]client.Request, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *Backend) Stream(ctx context.Context, req client.Request) (*client.StreamingResponse, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	if b.OpenErr != nil {
		b.mu.Unlock()
		return nil, b.OpenErr
	}
	var script Script
	switch {
	case b.next < len(b.Responses):
		script = b.Responses[b.next]
		b.next++
	case b.Respond != nil:
		script = b.Respond(req)
	default:
		script = Text()
	}
	b.mu.Unlock()

	chunks := make(chan client.ResponseChunk)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(chunks)
		for _, step := range script {
			if step.Delay > 0 {
				timer := time.NewTimer(step.Delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
			if step.Hang {
				<-ctx.Done()
				return
			}
			select {
			case chunks <- step.Chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &client.StreamingResponse{Chunks: chunks, Done: done}, nil
}
