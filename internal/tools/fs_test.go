package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"turnstile/internal/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaths(t *testing.T) *security.PathValidator {
	t.Helper()
	v, err := security.NewPathValidator(t.TempDir(), nil, false)
	require.NoError(t, err)
	return v
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestFileSystem_WriteCreatesFile(t *testing.T) {
	paths := newPaths(t)
	fs := NewFileSystem(paths, nil)

	res, err := fs.Execute(context.Background(), "write_file", map[string]any{
		"file_path": "pkg/deep/main.py",
		"content":   "print('hi')\n",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Created new file: pkg/deep/main.py (12 bytes)", res.Payload)
	assert.Equal(t, true, res.Data["created"])

	data, err := os.ReadFile(filepath.Join(paths.WorkDir(), "pkg", "deep", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}

func TestFileSystem_WriteReportsLineChanges(t *testing.T) {
	paths := newPaths(t)
	require.NoError(t, os.WriteFile(filepath.Join(paths.WorkDir(), "notes.txt"), []byte("a\nb\nc\n"), 0644))
	fs := NewFileSystem(paths, nil)

	res, err := fs.Execute(context.Background(), "write_file", map[string]any{
		"file_path": "notes.txt",
		"content":   "a\nB\nc\nd\n",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Updated file: notes.txt (8 bytes, +2 -1 lines)", res.Payload)
	assert.Equal(t, 2, res.Data["lines_added"])
	assert.Equal(t, 1, res.Data["lines_removed"])
}

func TestFileSystem_WriteRejections(t *testing.T) {
	paths := newPaths(t)
	require.NoError(t, os.Mkdir(filepath.Join(paths.WorkDir(), "sub"), 0755))
	fs := NewFileSystem(paths, nil)
	ctx := context.Background()

	res, err := fs.Execute(ctx, "write_file", map[string]any{"file_path": "../escape.txt", "content": "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "outside the working directory")

	res, err = fs.Execute(ctx, "write_file", map[string]any{"file_path": "sub", "content": "x"})
	require.NoError(t, err)
	assert.Equal(t, "sub is a directory", res.Error)

	_, err = fs.Execute(ctx, "delete_file", nil)
	assert.Error(t, err)
}

func TestFileSystem_Read(t *testing.T) {
	paths := newPaths(t)
	require.NoError(t, os.WriteFile(filepath.Join(paths.WorkDir(), "r.txt"), []byte("l1\nl2\nl3\nl4\n"), 0644))
	fs := NewFileSystem(paths, nil)
	ctx := context.Background()

	res, err := fs.Execute(ctx, "read_file", map[string]any{"file_path": "r.txt"})
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\nl3\nl4\n", res.Payload)
	assert.Equal(t, 4, res.Data["lines"])

	// Numbers from decoded JSON arrive as float64.
	res, err = fs.Execute(ctx, "read_file", map[string]any{"file_path": "r.txt", "offset": float64(1), "limit": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "l2\nl3\n", res.Payload)

	res, err = fs.Execute(ctx, "read_file", map[string]any{"file_path": "r.txt", "offset": float64(10)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Payload)

	res, err = fs.Execute(ctx, "read_file", map[string]any{"file_path": "missing.txt"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFileSystem_Generate(t *testing.T) {
	paths := newPaths(t)
	var prompt string
	fs := NewFileSystem(paths, completerFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Here you go:\n```python\ndef f():\n    pass\n```\n", nil
	}))

	names := make([]string, 0, 3)
	for _, s := range fs.ListTools() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "generate_file")

	res, err := fs.Execute(context.Background(), "generate_file", map[string]any{
		"file_path":    "gen.py",
		"instructions": "an empty function f",
		"language":     "python",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Created new file: gen.py (18 bytes)", res.Payload)
	assert.Contains(t, prompt, "Language: python")
	assert.Contains(t, prompt, "an empty function f")

	data, err := os.ReadFile(filepath.Join(paths.WorkDir(), "gen.py"))
	require.NoError(t, err)
	assert.Equal(t, "def f():\n    pass\n", string(data))
}

func TestFileSystem_GenerateFailureThroughBoundary(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewFileSystem(newPaths(t), completerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("backend unavailable")
	}))))
	b := NewBoundary(r, BoundaryConfig{})

	res, err := b.Invoke(context.Background(), Call{
		Name:  "generate_file",
		Depth: 1,
		Args:  map[string]any{"file_path": "gen.py", "instructions": "anything"},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "generate gen.py: backend unavailable", res.Error)
}

func TestFileSystem_WithoutCompleter(t *testing.T) {
	fs := NewFileSystem(newPaths(t), nil)
	for _, s := range fs.ListTools() {
		assert.NotEqual(t, "generate_file", s.Name)
	}

	res, err := fs.Execute(context.Background(), "generate_file", map[string]any{"file_path": "x", "instructions": "y"})
	require.NoError(t, err)
	assert.Equal(t, "generate_file is not available", res.Error)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "plain", stripFences("plain"))
	assert.Equal(t, "x := 1\n", stripFences("```go\nx := 1\n```"))
	assert.Equal(t, "unterminated\n", stripFences("```\nunterminated\n"))
}

func TestFileSystem_RejectedPathsDoNotBlockOtherTurns(t *testing.T) {
	paths := newPaths(t)
	r := NewRegistry()
	require.NoError(t, r.Register(NewFileSystem(paths, nil)))
	b := NewBoundary(r, BoundaryConfig{BreakerThreshold: 5})
	ctx := context.Background()

	for range 5 {
		res, err := b.Invoke(ctx, Call{Name: "write_file", TurnID: "turn-a", Depth: 1, Args: map[string]any{
			"file_path": "../outside.txt",
			"content":   "x",
		}})
		require.NoError(t, err)
		require.False(t, res.Success)
	}

	res, err := b.Invoke(ctx, Call{Name: "write_file", TurnID: "turn-b", Depth: 1, Args: map[string]any{
		"file_path": "ok.txt",
		"content":   "fine",
	}})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.FileExists(t, filepath.Join(paths.WorkDir(), "ok.txt"))
}
