package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from the file at path (or the default location
// when path is empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			// The default file is optional, an explicit one is not.
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			cfg.Path = path
		}
	}

	loadFromEnv(cfg)
	applyProviderDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "turnstile", "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "turnstile", "config.yaml")
}

// GetConfigPath returns the path to the default config file.
func GetConfigPath() string {
	return getConfigPath()
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Expand environment variables in the config file
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	if provider := os.Getenv("TURNSTILE_PROVIDER"); provider != "" {
		cfg.Backend.Provider = strings.ToLower(provider)
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		cfg.Backend.OllamaBaseURL = baseURL
	}
	if key := os.Getenv("OLLAMA_API_KEY"); key != "" {
		cfg.Backend.OllamaKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Backend.GeminiKey = key
	}
	if model := os.Getenv("MODEL_ID"); model != "" {
		cfg.Backend.Model = model
	}
	if temp := os.Getenv("TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 32); err == nil {
			cfg.Backend.Temperature = float32(v)
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Session.RedisAddr = addr
	}
	if level := os.Getenv("TURNSTILE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func applyProviderDefaults(cfg *Config) {
	if cfg.Backend.Provider == "gemini" && cfg.Backend.Model == DefaultModel {
		cfg.Backend.Model = DefaultGeminiModel
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case "ollama":
	case "gemini":
		if c.Backend.GeminiKey == "" {
			return ErrMissingGeminiKey
		}
	default:
		return ConfigError(fmt.Sprintf("unknown backend provider %q", c.Backend.Provider))
	}

	switch c.Classifier.Mode {
	case "rules", "model":
	default:
		return ConfigError(fmt.Sprintf("unknown classifier mode %q", c.Classifier.Mode))
	}
	if c.Classifier.CommandPrefix == "" {
		return ErrEmptyCommandPrefix
	}
	if c.Classifier.BaselineConfidence < 0 || c.Classifier.BaselineConfidence > 1 {
		return ErrBaselineRange
	}

	if c.Router.MaxToolDepth < 1 {
		return ErrMaxToolDepth
	}
	if c.Router.TurnTimeout <= 0 {
		return ConfigError("router.turn_timeout must be positive")
	}
	if c.Stream.BatchInterval < 0 {
		return ConfigError("stream.batch_interval must not be negative")
	}
	if c.Stream.StallThreshold <= 0 {
		return ConfigError("stream.stall_threshold must be positive")
	}

	seen := make(map[string]bool, len(c.Tools.MCPServers))
	for _, srv := range c.Tools.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return ConfigError("tools.mcp_servers entries need a name and a command")
		}
		if seen[srv.Name] {
			return ConfigError(fmt.Sprintf("duplicate MCP server %q", srv.Name))
		}
		seen[srv.Name] = true
	}

	switch c.Session.Store {
	case "memory", "redis":
	default:
		return ConfigError(fmt.Sprintf("unknown session store %q", c.Session.Store))
	}
	return nil
}

// Error types for configuration validation.
type ConfigError string

func (e ConfigError) Error() string {
	return string(e)
}

const (
	ErrMissingGeminiKey   ConfigError = "missing authentication: set GEMINI_API_KEY or backend.gemini_key"
	ErrEmptyCommandPrefix ConfigError = "classifier.command_prefix must not be empty"
	ErrBaselineRange      ConfigError = "classifier.baseline_confidence must be within [0, 1]"
	ErrMaxToolDepth       ConfigError = "router.max_tool_depth must be at least 1"
)
