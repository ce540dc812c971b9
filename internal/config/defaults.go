package config

import "time"

// Default configuration values.
const (
	DefaultProvider      = "ollama"
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultModel         = "llama3.2:3b"
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultTemperature   = 0.1
	DefaultMaxTokens     = 8192
	DefaultHTTPTimeout   = 30 * time.Second

	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second

	DefaultCommandPrefix      = "/"
	DefaultBaselineConfidence = 0.5
	DefaultConfidenceStep     = 0.15

	DefaultMaxToolDepth = 5
	DefaultTurnTimeout  = 5 * time.Minute
	DefaultHistoryLimit = 20

	DefaultBatchInterval  = 16 * time.Millisecond
	DefaultStallThreshold = 5 * time.Second

	DefaultToolTimeout      = 30 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second

	DefaultSessionStore = "memory"
	DefaultRedisAddr    = "localhost:6379"
	DefaultMaxTurns     = 200

	DefaultServerAddr = "127.0.0.1:8088"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Provider:      DefaultProvider,
			OllamaBaseURL: DefaultOllamaBaseURL,
			Model:         DefaultModel,
			Temperature:   DefaultTemperature,
			MaxTokens:     DefaultMaxTokens,
			Timeout:       DefaultHTTPTimeout,
			Retry: RetryConfig{
				MaxRetries: DefaultMaxRetries,
				RetryDelay: DefaultRetryDelay,
			},
		},
		Classifier: ClassifierConfig{
			Mode:               "rules",
			Schema:             "standard",
			CommandPrefix:      DefaultCommandPrefix,
			BaselineConfidence: DefaultBaselineConfidence,
			ConfidenceStep:     DefaultConfidenceStep,
		},
		Router: RouterConfig{
			MaxToolDepth: DefaultMaxToolDepth,
			TurnTimeout:  DefaultTurnTimeout,
			HistoryLimit: DefaultHistoryLimit,
		},
		Stream: StreamConfig{
			BatchInterval:  DefaultBatchInterval,
			StallThreshold: DefaultStallThreshold,
			StallThresholds: map[string]time.Duration{
				// Local models can take a while to load the first token.
				"ollama": 15 * time.Second,
			},
		},
		Tools: ToolsConfig{
			WorkDir:          ".",
			Timeout:          DefaultToolTimeout,
			BreakerThreshold: DefaultBreakerThreshold,
			BreakerReset:     DefaultBreakerReset,
		},
		Session: SessionConfig{
			Store:     DefaultSessionStore,
			RedisAddr: DefaultRedisAddr,
			MaxTurns:  DefaultMaxTurns,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:    DefaultServerAddr,
			Metrics: true,
		},
	}
}
