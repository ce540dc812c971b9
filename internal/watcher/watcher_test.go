package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func startWatcher(t *testing.T, files ...string) (*Watcher, *recorder) {
	t.Helper()
	w, err := New(Config{Enabled: true, Debounce: 40 * time.Millisecond}, files...)
	require.NoError(t, err)
	rec := &recorder{}
	w.SetOnChange(rec.handle)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w, rec
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	w, rec := startWatcher(t, path)
	assert.True(t, w.IsRunning())

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, path, events[0].Path)
	assert.NotEqual(t, OpDelete, events[0].Operation)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	_, rec := startWatcher(t, path)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_ReportsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	_, rec := startWatcher(t, path)
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, OpDelete, rec.snapshot()[0].Operation)
}

func TestWatcher_Disabled(t *testing.T) {
	w, err := New(Config{Enabled: false}, "ignored.yaml")
	require.NoError(t, err)
	require.NoError(t, w.Start())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestWatcher_RequiresFiles(t *testing.T) {
	_, err := New(DefaultConfig())
	require.Error(t, err)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Operation(42).String())
}
