package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Router     RouterConfig     `yaml:"router"`
	Stream     StreamConfig     `yaml:"stream"`
	Tools      ToolsConfig      `yaml:"tools"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`

	// Runtime version information
	Version string `yaml:"-"`
	// Path the configuration was read from, empty when defaults only.
	Path string `yaml:"-"`
}

// BackendConfig selects and tunes the language-model backend.
type BackendConfig struct {
	// Provider: ollama or gemini (default: ollama)
	Provider string `yaml:"provider"`

	OllamaBaseURL string `yaml:"ollama_base_url"`
	OllamaKey     string `yaml:"ollama_key,omitempty"` // Optional, for remote Ollama servers with auth
	GeminiKey     string `yaml:"gemini_key,omitempty"`

	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int32         `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// Requests allowed per minute, 0 disables client-side limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig holds retry settings for backend requests.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ClassifierConfig holds the classification rules. Empty lists fall back to
// the built-in defaults.
type ClassifierConfig struct {
	// Mode: rules or model (default: rules)
	Mode string `yaml:"mode"`
	// Output schema used in model mode (default: standard)
	Schema string `yaml:"schema"`

	CommandPrefix        string   `yaml:"command_prefix"`
	PromptIndicators     []string `yaml:"prompt_indicators,omitempty"`
	WorkflowIndicators   []string `yaml:"workflow_indicators,omitempty"`
	GenerationExclusions []string `yaml:"generation_exclusions,omitempty"`
	// Phrases naming a file destination; they lift generation exclusions
	FileTargets          []string `yaml:"file_targets,omitempty"`
	BaselineConfidence   float64  `yaml:"baseline_confidence"`
	ConfidenceStep       float64  `yaml:"confidence_step"`
}

// RouterConfig bounds turn execution.
type RouterConfig struct {
	MaxToolDepth int           `yaml:"max_tool_depth"`
	TurnTimeout  time.Duration `yaml:"turn_timeout"`
	HistoryLimit int           `yaml:"history_limit"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
}

// StreamConfig tunes the streaming pipeline.
type StreamConfig struct {
	BatchInterval  time.Duration `yaml:"batch_interval"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	// Per-provider overrides of StallThreshold, keyed by provider name.
	StallThresholds map[string]time.Duration `yaml:"stall_thresholds,omitempty"`
}

// StallThresholdFor returns the stall threshold for the given provider.
func (c StreamConfig) StallThresholdFor(provider string) time.Duration {
	if d, ok := c.StallThresholds[provider]; ok && d > 0 {
		return d
	}
	return c.StallThreshold
}

// ToolsConfig holds settings for the built-in file tools and the boundary.
type ToolsConfig struct {
	WorkDir      string        `yaml:"work_dir"`
	AllowedPaths []string      `yaml:"allowed_paths,omitempty"` // doublestar globs relative to WorkDir
	Timeout      time.Duration `yaml:"timeout"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`

	// Audit log file, empty disables persistence.
	AuditFile string `yaml:"audit_file,omitempty"`

	// External MCP servers whose tools are registered at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// MCPServerConfig describes an MCP server started over stdio.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Prefix for registered tool names, defaults to Name.
	ToolPrefix string        `yaml:"tool_prefix,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// SessionConfig selects the conversation history store.
type SessionConfig struct {
	// Store: memory or redis (default: memory)
	Store         string        `yaml:"store"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	MaxTurns      int           `yaml:"max_turns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Write logs to <dir>/turnstile.log instead of stderr.
	File bool   `yaml:"file"`
	Dir  string `yaml:"dir,omitempty"`
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}
