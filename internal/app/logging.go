package app

import (
	"fmt"
	"os"
	"path/filepath"

	"turnstile/internal/config"
	"turnstile/internal/logging"
)

// SetupLogging configures the global logger. Interactive sessions without a
// log file stay silent so log lines do not interleave with the transcript.
func SetupLogging(cfg config.LoggingConfig, interactive bool) error {
	level := logging.ParseLevel(cfg.Level)
	switch {
	case cfg.File:
		dir := cfg.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to resolve log directory: %w", err)
			}
			dir = filepath.Join(home, ".config", "turnstile", "logs")
		}
		if err := logging.EnableFileLogging(dir, level); err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	case interactive:
		logging.DisableLogging()
	default:
		logging.Configure(level, os.Stderr)
	}
	return nil
}
