package httpapi

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"turnstile/internal/classify"
	"turnstile/internal/client/clienttest"
	"turnstile/internal/metrics"
	"turnstile/internal/router"
	"turnstile/internal/session"
	"turnstile/internal/stream"
	"turnstile/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newServer(t *testing.T, backend *clienttest.Backend, opts ...Option) *httptest.Server {
	t.Helper()
	m := metrics.New()
	r := router.New(router.DefaultConfig(),
		stream.New(backend, stream.Config{StallThreshold: time.Second}, m),
		classify.NewRules(classify.DefaultConfig()),
		tools.NewBoundary(tools.NewRegistry(), tools.BoundaryConfig{}),
		session.NewMemoryStore(0),
		router.WithMetrics(m),
	)
	srv := httptest.NewServer(NewHandler(r, append([]Option{WithMetrics(m), WithVersion("1.2.3")}, opts...)...))
	t.Cleanup(srv.Close)
	return srv
}

type sseEvent struct {
	name string
	data gjson.Result
}

func readEvents(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		name   string
	)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, sseEvent{name: name, data: gjson.Parse(strings.TrimPrefix(line, "data: "))})
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, clienttest.New())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	doc := gjson.ParseBytes(body)
	assert.Equal(t, "ok", doc.Get("status").String())
	assert.Equal(t, "1.2.3", doc.Get("version").String())
	assert.Equal(t, "scripted-model", doc.Get("model").String())
}

func TestTurns_StreamsEvents(t *testing.T) {
	srv := newServer(t, clienttest.New(clienttest.Text("Hello", " there")))

	resp := post(t, srv.URL+"/v1/turns", `{"input":"hi, how are you?","session_id":"web"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, "completed", last.name)
	assert.Equal(t, "completed", last.data.Get("kind").String())
	assert.Equal(t, "Hello there", last.data.Get("text").String())
	assert.Equal(t, "direct", last.data.Get("path").String())
	assert.Equal(t, "prompt", last.data.Get("classification.type").String())

	var partial strings.Builder
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, "partial_text", ev.name)
		partial.WriteString(ev.data.Get("text").String())
	}
	assert.Equal(t, "Hello there", partial.String())
}

func TestTurns_ErroredTurn(t *testing.T) {
	srv := newServer(t, clienttest.New())

	resp := post(t, srv.URL+"/v1/turns", `{"input":"/frobnicate"}`)
	events := readEvents(t, resp.Body)
	require.Len(t, events, 1)
	assert.Equal(t, "errored", events[0].name)
	assert.Equal(t, "command_not_found", events[0].data.Get("error.code").String())
	assert.NotEmpty(t, events[0].data.Get("error.correlation_id").String())
}

func TestTurns_BadRequest(t *testing.T) {
	srv := newServer(t, clienttest.New())

	resp := post(t, srv.URL+"/v1/turns", `{"input":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/v1/turns", `{"session_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "input is required", gjson.GetBytes(body, "error").String())
}

func TestClassify(t *testing.T) {
	srv := newServer(t, clienttest.New())

	resp := post(t, srv.URL+"/v1/classify", `{"input":"write to file foo.py a hello world script"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	doc := gjson.ParseBytes(body)
	assert.Equal(t, "workflow", doc.Get("type").String())
	assert.Equal(t, classify.MethodRules, doc.Get("method").String())
	assert.Greater(t, doc.Get("confidence").Float(), 0.0)
}

func TestMetrics(t *testing.T) {
	srv := newServer(t, clienttest.New(clienttest.Text("ok")))

	resp := post(t, srv.URL+"/v1/turns", `{"input":"what is go?"}`)
	readEvents(t, resp.Body)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "turnstile_turns_total")
}

func TestMCPMount(t *testing.T) {
	called := false
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})
	srv := newServer(t, clienttest.New(), WithMCP(mcp))

	resp := post(t, srv.URL+"/mcp", `{}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, called)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
