package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeArgs(t *testing.T) {
	args := map[string]any{"file_path": "a.txt", "API_KEY": "sk-1", "token": "t"}
	got := SanitizeArgs(args)

	assert.Equal(t, "a.txt", got["file_path"])
	assert.Equal(t, "[REDACTED]", got["API_KEY"])
	assert.Equal(t, "[REDACTED]", got["token"])
	assert.Equal(t, "sk-1", args["API_KEY"], "input must not be modified")
	assert.Nil(t, SanitizeArgs(nil))
}

func TestTruncateResult(t *testing.T) {
	assert.Equal(t, "short", TruncateResult("short", 10))
	assert.Equal(t, "abc...[truncated]", TruncateResult("abcdef", 3))
}

func TestLogger_MemoryTrail(t *testing.T) {
	l, err := NewLogger(Config{MaxEntries: 2})
	require.NoError(t, err)

	for i, tool := range []string{"read_file", "write_file", "write_file"} {
		e := NewEntry("turn-1", tool, 1, nil)
		e.Complete("ok", i != 1, "", 10*time.Millisecond)
		require.NoError(t, l.Log(e))
	}

	assert.Equal(t, 2, l.Len())
	recent := l.GetRecent(5)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Success)
	assert.False(t, recent[1].Success)

	failed := false
	assert.Len(t, l.Query(QueryFilter{Success: &failed}), 1)
	assert.Len(t, l.Query(QueryFilter{TurnID: "turn-2"}), 0)

	stats := l.Stats()
	assert.Equal(t, 2, stats.ToolBreakdown["write_file"])
	assert.Equal(t, 10*time.Millisecond, stats.AvgDuration)
}

func TestLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "tools.jsonl")
	l, err := NewLogger(Config{File: path, MaxResultLen: 4})
	require.NoError(t, err)

	e := NewEntry("turn-9", "write_file", 2, map[string]any{"password": "hunter2"})
	e.Complete("Created new file", true, "", time.Second)
	require.NoError(t, l.Log(e))
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var got Entry
	require.NoError(t, json.Unmarshal(sc.Bytes(), &got))
	assert.Equal(t, "turn-9", got.TurnID)
	assert.Equal(t, 2, got.Depth)
	assert.Equal(t, int64(1000), got.DurationMs)
	assert.Equal(t, "[REDACTED]", got.Args["password"])
	assert.True(t, strings.HasSuffix(got.Result, "...[truncated]"))
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.Log(NewEntry("t", "x", 1, nil)))
	assert.Zero(t, l.Len())
	assert.NoError(t, l.Close())
}
