package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"
	"google.golang.org/genai"

	"turnstile/internal/classify"
	"turnstile/internal/client/clienttest"
	"turnstile/internal/router"
	"turnstile/internal/session"
	"turnstile/internal/stream"
	"turnstile/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRouter(backend *clienttest.Backend) *router.Router {
	pipeline := stream.New(backend, stream.Config{StallThreshold: time.Second}, nil)
	return router.New(router.DefaultConfig(),
		pipeline,
		classify.NewRules(classify.DefaultConfig()),
		tools.NewBoundary(tools.NewRegistry(), tools.BoundaryConfig{}),
		session.NewMemoryStore(0),
	)
}

func call(t *testing.T, s *Server, name string, args map[string]any) (gjson.Result, bool) {
	t.Helper()
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var (
		res *mcpgo.CallToolResult
		err error
	)
	switch name {
	case "classify_input":
		res, err = s.handleClassify(context.Background(), req)
	case "list_schemas":
		res, err = s.handleListSchemas(context.Background(), req)
	case "process_turn":
		res, err = s.handleProcessTurn(context.Background(), req)
	default:
		t.Fatalf("unknown tool %s", name)
	}
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return gjson.Parse(text.Text), res.IsError
}

func classifyCall(args map[string]any) clienttest.Script {
	return clienttest.Calls(&genai.FunctionCall{Name: classify.FunctionName, Args: args})
}

func TestListSchemas(t *testing.T) {
	s := New(newRouter(clienttest.New()), nil, nil, "test")

	doc, isErr := call(t, s, "list_schemas", nil)
	assert.False(t, isErr)
	assert.Equal(t, "standard", doc.Get("default_schema").String())

	var names []string
	for _, v := range doc.Get("available_schemas").Array() {
		names = append(names, v.String())
	}
	assert.Equal(t, classify.Schemas(), names)
}

func TestClassifyInput(t *testing.T) {
	backend := clienttest.New(classifyCall(map[string]any{
		"type":       "workflow",
		"confidence": 0.85,
		"reasoning":  "multiple coordinated steps",
	}))
	s := New(newRouter(backend), nil, nil, "test")

	doc, isErr := call(t, s, "classify_input", map[string]any{
		"input_text": "create a project with tests and deploy it",
	})
	assert.False(t, isErr)
	assert.True(t, doc.Get("success").Bool())
	assert.Equal(t, "workflow", doc.Get("result.type").String())
	assert.InDelta(t, 0.85, doc.Get("result.confidence").Float(), 1e-9)
	assert.Equal(t, "multiple coordinated steps", doc.Get("result.reasoning").String())
	assert.Equal(t, "standard", doc.Get("schema_name").String())
	assert.Equal(t, "scripted-model", doc.Get("model_id").String())
	assert.False(t, doc.Get("error_message").Exists())

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Temperature)
	assert.InDelta(t, 0.1, *reqs[0].Temperature, 1e-6)
}

func TestClassifyInput_FallsBackOnBackendFailure(t *testing.T) {
	backend := clienttest.New(clienttest.Fail(errors.New("connection refused")))
	s := New(newRouter(backend), nil, nil, "test")

	doc, isErr := call(t, s, "classify_input", map[string]any{
		"input_text":  "what is recursion?",
		"schema_name": "minimal",
	})
	assert.False(t, isErr)
	assert.False(t, doc.Get("success").Bool())
	assert.Contains(t, doc.Get("error_message").String(), "connection refused")
	assert.Equal(t, "prompt", doc.Get("fallback.type").String())
	assert.Equal(t, classify.MethodFallback, doc.Get("fallback.method").String())
	assert.False(t, doc.Get("result").Exists())
}

func TestClassifyInput_OtherModel(t *testing.T) {
	other := clienttest.New(classifyCall(map[string]any{"type": "prompt", "confidence": 0.7}))
	var requested string
	factory := func(_ context.Context, model string) (classify.Generator, error) {
		requested = model
		return stream.New(other, stream.Config{StallThreshold: time.Second}, nil), nil
	}
	s := New(newRouter(clienttest.New()), nil, factory, "test")

	doc, _ := call(t, s, "classify_input", map[string]any{
		"input_text":  "hi",
		"schema_name": "minimal",
		"model_id":    "qwen3:8b",
		"temperature": 0.3,
	})
	assert.Equal(t, "qwen3:8b", requested)
	assert.True(t, doc.Get("success").Bool())
	assert.Equal(t, "qwen3:8b", doc.Get("model_id").String())
	assert.Equal(t, "prompt", doc.Get("result.type").String())

	reqs := other.Requests()
	require.Len(t, reqs, 1)
	assert.InDelta(t, 0.3, *reqs[0].Temperature, 1e-6)
}

func TestClassifyInput_UnknownModelWithoutFactory(t *testing.T) {
	s := New(newRouter(clienttest.New()), nil, nil, "test")

	doc, _ := call(t, s, "classify_input", map[string]any{
		"input_text": "hi",
		"model_id":   "qwen3:8b",
	})
	assert.False(t, doc.Get("success").Bool())
	assert.Contains(t, doc.Get("error_message").String(), "qwen3:8b is not available")
	assert.True(t, doc.Get("fallback").Exists())
}

func TestClassifyInput_BadArguments(t *testing.T) {
	s := New(newRouter(clienttest.New()), nil, nil, "test")

	req := mcpgo.CallToolRequest{}
	req.Params.Arguments = map[string]any{}
	res, err := s.handleClassify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	req.Params.Arguments = map[string]any{"input_text": "hi", "schema_name": "huge"}
	res, err = s.handleClassify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestProcessTurn(t *testing.T) {
	backend := clienttest.New(clienttest.Text("Recursion is ", "a function calling itself."))
	s := New(newRouter(backend), nil, nil, "test")

	doc, isErr := call(t, s, "process_turn", map[string]any{"input": "what is recursion?", "session_id": "s1"})
	assert.False(t, isErr)
	assert.Equal(t, "direct", doc.Get("path").String())
	assert.Equal(t, "Recursion is a function calling itself.", doc.Get("text").String())
	assert.Equal(t, "prompt", doc.Get("classification.type").String())
	assert.NotEmpty(t, doc.Get("turn_id").String())
}

func TestProcessTurn_Errored(t *testing.T) {
	s := New(newRouter(clienttest.New()), nil, nil, "test")

	doc, isErr := call(t, s, "process_turn", map[string]any{"input": "/nope"})
	assert.True(t, isErr)
	assert.Equal(t, "command", doc.Get("path").String())
	assert.Equal(t, string(router.CodeCommandNotFound), doc.Get("error.code").String())

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc.Raw), &body))
	assert.NotContains(t, body["error"], "Err")
}
