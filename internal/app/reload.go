package app

import (
	"fmt"

	"turnstile/internal/classify"
	"turnstile/internal/config"
	"turnstile/internal/logging"
	"turnstile/internal/watcher"
)

// ReloadConfig reads the configuration at path and swaps in a classifier
// built from it. Turns already classified are unaffected; other settings
// take effect on restart.
func (a *App) ReloadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	c, err := classify.New(cfg.Classifier, a.Router.Pipeline())
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	a.Router.SetClassifier(c)

	logging.Info("configuration reloaded",
		"path", path,
		"classifier", cfg.Classifier.Mode,
		"schema", cfg.Classifier.Schema)
	return nil
}

func (a *App) onConfigChange(ev watcher.Event) {
	if ev.Operation == watcher.OpDelete {
		logging.Warn("configuration file removed, keeping current settings", "path", ev.Path)
		return
	}
	if err := a.ReloadConfig(ev.Path); err != nil {
		logging.Warn("configuration reload failed", "path", ev.Path, "error", err)
	}
}
