package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"turnstile/internal/client"
	"turnstile/internal/client/clienttest"
	"turnstile/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/genai"
)

func userRequest(text string) client.Request {
	return client.Request{Messages: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}}
}

func collect(g *Generation) ([]string, Outcome) {
	var parts []string
	for c := range g.Chunks() {
		parts = append(parts, c.Text)
	}
	return parts, g.Wait()
}

func TestStateTransitions(t *testing.T) {
	s := NewState(time.Now())
	assert.Equal(t, Pending, s.Status())

	require.NoError(t, s.Touch("abc", time.Now()))
	assert.Equal(t, Streaming, s.Status())
	require.NoError(t, s.Touch("def", time.Now()))
	assert.Equal(t, "abcdef", s.Text())

	assert.ErrorIs(t, s.Finish(Streaming), ErrInvalidTransition)
	require.NoError(t, s.Finish(TimedOut))
	assert.ErrorIs(t, s.Finish(Completed), ErrTerminalTwice)
	assert.ErrorIs(t, s.Touch("late", time.Now()), ErrTerminalTwice)
	assert.Equal(t, TimedOut, s.Status())
	assert.Equal(t, "abcdef", s.Text())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Streaming.Terminal())
}

func TestGenerate_PassThroughPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := clienttest.New(clienttest.Text("Recursion ", "is ", "self-reference."))
	p := New(backend, Config{StallThreshold: time.Second}, nil)

	parts, out := collect(p.Generate(context.Background(), userRequest("what is recursion?")))

	assert.Equal(t, []string{"Recursion ", "is ", "self-reference."}, parts)
	assert.Equal(t, Completed, out.Status)
	assert.Equal(t, "Recursion is self-reference.", out.Text)
	assert.NoError(t, out.Err)
	assert.False(t, out.Stalled)
}

func TestGenerate_BatchingKeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	words := []string{"one ", "two ", "three ", "four ", "five"}
	backend := clienttest.New(clienttest.Text(words...))
	p := New(backend, Config{BatchInterval: 20 * time.Millisecond, StallThreshold: time.Second}, nil)

	parts, out := collect(p.Generate(context.Background(), userRequest("count")))

	assert.Equal(t, strings.Join(words, ""), strings.Join(parts, ""))
	assert.LessOrEqual(t, len(parts), len(words))
	assert.Equal(t, Completed, out.Status)
}

func TestGenerate_StallProducesTimedOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	threshold := 50 * time.Millisecond
	backend := clienttest.New(clienttest.Stall("partial answer"))
	m := metrics.New()
	p := New(backend, Config{StallThreshold: threshold}, m)

	start := time.Now()
	g := p.Generate(context.Background(), userRequest("explain"))
	parts, out := collect(g)
	elapsed := time.Since(start)

	assert.Equal(t, []string{"partial answer"}, parts)
	assert.Equal(t, TimedOut, out.Status)
	assert.Equal(t, TimedOut, g.Status())
	assert.True(t, out.Stalled)
	assert.ErrorIs(t, out.Err, ErrStalled)
	assert.Equal(t, "partial answer", out.Text)
	assert.Contains(t, out.Diagnostic, "14 characters")
	assert.Contains(t, out.Diagnostic, "(threshold 50ms)")
	assert.Less(t, elapsed, threshold+time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stalls.WithLabelValues("scripted")))
}

type hangingOpen struct{}

func (hangingOpen) Name() string  { return "hanging" }
func (hangingOpen) Model() string { return "hanging-model" }
func (hangingOpen) Stream(ctx context.Context, _ client.Request) (*client.StreamingResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerate_StallCoversBackendOpen(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(hangingOpen{}, Config{StallThreshold: 30 * time.Millisecond}, nil)
	out := p.Generate(context.Background(), userRequest("hi")).Wait()

	assert.Equal(t, TimedOut, out.Status)
	assert.Empty(t, out.Text)
	assert.True(t, out.Stalled)
}

func TestGenerate_BackendError(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("connection reset")
	p := New(clienttest.New(clienttest.Fail(boom, "half")), Config{StallThreshold: time.Second}, nil)

	parts, out := collect(p.Generate(context.Background(), userRequest("hi")))

	assert.Equal(t, []string{"half"}, parts)
	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, ErrBackend)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, "half", out.Text)
}

func TestGenerate_OpenError(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := clienttest.New()
	backend.OpenErr = errors.New("model not found")
	p := New(backend, Config{StallThreshold: time.Second}, nil)

	out := p.Generate(context.Background(), userRequest("hi")).Wait()
	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, ErrBackend)
}

func TestGenerate_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(clienttest.New(clienttest.Stall("first")), Config{StallThreshold: 10 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := p.Generate(ctx, userRequest("hi"))

	first := <-g.Chunks()
	assert.Equal(t, "first", first.Text)
	cancel()

	out := g.Wait()
	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, "first", out.Text)
}

func TestGenerate_NativeCallsForwarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	call := &genai.FunctionCall{Name: "write_file", Args: map[string]any{"file_path": "foo.py"}}
	p := New(clienttest.New(clienttest.Calls(call)), Config{StallThreshold: time.Second}, nil)

	out := p.Generate(context.Background(), userRequest("write foo.py")).Wait()
	require.Len(t, out.Calls, 1)
	assert.Equal(t, "write_file", out.Calls[0].Name)
}

func TestGenerate_TextToolCallFallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	text := "```json\n{\"tool\": \"write_file\", \"args\": {\"file_path\": \"foo.py\"}}\n```"
	p := New(clienttest.New(clienttest.Text(text)), Config{StallThreshold: time.Second}, nil)

	req := userRequest("write foo.py")
	req.Tools = []*genai.FunctionDeclaration{{Name: "write_file"}}
	out := p.Generate(context.Background(), req).Wait()

	require.Len(t, out.Calls, 1)
	assert.Equal(t, "foo.py", out.Calls[0].Args["file_path"])

	// Without offered tools the JSON stays plain text.
	p = New(clienttest.New(clienttest.Text(text)), Config{StallThreshold: time.Second}, nil)
	out = p.Generate(context.Background(), userRequest("write foo.py")).Wait()
	assert.Empty(t, out.Calls)
}

func TestComplete(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(clienttest.New(clienttest.Text("def quicksort", "(xs): ...")), Config{StallThreshold: time.Second}, nil)
	text, err := p.Complete(context.Background(), "write quicksort")
	require.NoError(t, err)
	assert.Equal(t, "def quicksort(xs): ...", text)

	p = New(clienttest.New(clienttest.Stall("def quick")), Config{StallThreshold: 30 * time.Millisecond}, nil)
	text, err = p.Complete(context.Background(), "write quicksort")
	assert.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, "def quick", text)

	p = New(clienttest.New(clienttest.Fail(errors.New("boom"))), Config{StallThreshold: time.Second}, nil)
	text, err = p.Complete(context.Background(), "write quicksort")
	assert.ErrorIs(t, err, ErrBackend)
	assert.Empty(t, text)
}

func TestWaitWithoutReadingChunks(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(clienttest.New(clienttest.Text("a", "b", "c")), Config{StallThreshold: time.Second}, nil)
	out := p.Generate(context.Background(), userRequest("hi")).Wait()
	assert.Equal(t, "abc", out.Text)
}
