package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"turnstile/internal/client"
	"turnstile/internal/client/clienttest"
	"turnstile/internal/config"
	"turnstile/internal/router"
	"turnstile/internal/watcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type factory struct {
	mu     sync.Mutex
	models []string
	answer string
}

func (f *factory) new(_ context.Context, cfg config.BackendConfig) (client.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, cfg.Model)
	b := clienttest.New()
	b.Respond = func(client.Request) clienttest.Script { return clienttest.Text(f.answer) }
	return b, nil
}

func (f *factory) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Tools.WorkDir = t.TempDir()
	cfg.Stream.BatchInterval = time.Millisecond
	return cfg
}

func build(t *testing.T, cfg *config.Config, f *factory) *App {
	t.Helper()
	a, err := NewBuilder(cfg).
		WithVersion("test").
		WithBackendFactory(f.new).
		Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func terminal(t *testing.T, events <-chan router.Event) router.Event {
	t.Helper()
	var last router.Event
	for ev := range events {
		last = ev
	}
	return last
}

func TestBuild(t *testing.T) {
	f := &factory{answer: "hi there"}
	a := build(t, testConfig(t), f)

	info := a.Router.Info()
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, "scripted", info.Provider)
	assert.Equal(t, "rules", info.ClassifierMode)
	assert.Equal(t, []string{config.DefaultModel}, f.requested())
	assert.NotZero(t, a.Router.Registry().Len())

	ev := terminal(t, a.Router.ProcessTurn(context.Background(), "explain recursion", "s1"))
	assert.Equal(t, router.Completed, ev.Kind)
	assert.Equal(t, "hi there", ev.Text)
}

func TestBuild_BackendFailure(t *testing.T) {
	_, err := NewBuilder(testConfig(t)).
		WithBackendFactory(func(context.Context, config.BackendConfig) (client.Backend, error) {
			return nil, assert.AnError
		}).
		Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestBuild_UnknownSessionStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Store = "postgres"

	_, err := NewBuilder(cfg).WithBackendFactory((&factory{}).new).Build(context.Background())
	assert.ErrorContains(t, err, `unknown session store "postgres"`)
}

func TestSwitchModel(t *testing.T) {
	f := &factory{answer: "ok"}
	a := build(t, testConfig(t), f)

	ev := terminal(t, a.Router.ProcessTurn(context.Background(), "/model qwen3:8b", "s1"))
	require.Equal(t, router.Completed, ev.Kind, ev.Text)
	assert.Equal(t, []string{config.DefaultModel, "qwen3:8b"}, f.requested())
}

func TestReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  mode: rules\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Tools.WorkDir = dir

	a := build(t, cfg, &factory{})
	assert.Equal(t, "rules", a.Router.Info().ClassifierMode)

	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  mode: model\n  schema: minimal\n"), 0o644))
	require.NoError(t, a.ReloadConfig(path))

	info := a.Router.Info()
	assert.Equal(t, "model", info.ClassifierMode)
	assert.Equal(t, "minimal", info.Schema)
}

func TestReloadConfig_InvalidKeepsClassifier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  mode: rules\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Tools.WorkDir = dir
	a := build(t, cfg, &factory{})

	require.NoError(t, os.WriteFile(path, []byte("classifier: [\n"), 0o644))
	assert.Error(t, a.ReloadConfig(path))

	a.onConfigChange(watcher.Event{Path: path, Operation: watcher.OpDelete})
	assert.Equal(t, "rules", a.Router.Info().ClassifierMode)
}

func TestConfigWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  mode: rules\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Tools.WorkDir = dir

	a, err := NewBuilder(cfg).
		WithBackendFactory((&factory{}).new).
		WithConfigWatch(true).
		Build(context.Background())
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.watcher)
	require.True(t, a.watcher.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  mode: model\n"), 0o644))
	assert.Eventually(t, func() bool {
		return a.Router.Info().ClassifierMode == "model"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSetupLogging(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SetupLogging(config.LoggingConfig{Level: "debug", File: true, Dir: dir}, true))
	t.Cleanup(func() { _ = SetupLogging(config.LoggingConfig{}, true) })

	_, err := os.Stat(filepath.Join(dir, "turnstile.log"))
	assert.NoError(t, err)
}
