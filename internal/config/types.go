package config

import "time"

// Config is the root configuration for Chatterbox.
type Config struct {
	LLM          LLMConfig          `yaml:"llm,omitempty"`
	Conversation ConversationConfig `yaml:"conversation,omitempty"`
	Tools        ToolsConfig        `yaml:"tools,omitempty"`
	Server       ServerConfig       `yaml:"server,omitempty"`
	Session      SessionConfig      `yaml:"session,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
}

// LLMConfig selects the OpenAI-compatible chat completion backend.
type LLMConfig struct {
	BaseURL            string               `yaml:"baseUrl,omitempty"`
	Model              string               `yaml:"model,omitempty"`
	APIKey             string               `yaml:"apiKey,omitempty"`
	Temperature        *float64             `yaml:"temperature,omitempty"`
	RateLimitPerMinute int                  `yaml:"rateLimitPerMinute,omitempty"` // 0 disables client-side limiting
	Timeout            time.Duration        `yaml:"timeout,omitempty"`
	TrackUsage         bool                 `yaml:"trackUsage,omitempty"`
	CircuitBreaker     CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
	Fallbacks          []FallbackEntry      `yaml:"fallbacks,omitempty"`
}

// CircuitBreakerConfig controls the breaker placed in front of each backend.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled,omitempty"`
	FailureThreshold int           `yaml:"failureThreshold,omitempty"` // consecutive failures before opening
	OpenTimeout      time.Duration `yaml:"openTimeout,omitempty"`
}

// FallbackEntry is an additional backend tried when the primary fails.
type FallbackEntry struct {
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

// ConversationConfig controls the agentic loop and session handling.
type ConversationConfig struct {
	Name                     string `yaml:"name,omitempty"`
	SystemPrompt             string `yaml:"systemPrompt,omitempty"`
	MaxIterations            int    `yaml:"maxIterations,omitempty"`
	MaxHistoryTurns          int    `yaml:"maxHistoryTurns,omitempty"` // 0 keeps everything
	AutoCreateConversationID bool   `yaml:"autoCreateConversationId,omitempty"`
	SerializeSessions        bool   `yaml:"serializeSessions,omitempty"`
}

// ToolsConfig controls tool dispatch and the result cache.
type ToolsConfig struct {
	Timeout      time.Duration `yaml:"timeout,omitempty"` // 0 disables the per-call timeout
	MaxRetries   int           `yaml:"maxRetries,omitempty"`
	CacheTTL     time.Duration `yaml:"cacheTtl,omitempty"` // 0 disables caching
	ValidateArgs bool          `yaml:"validateArgs,omitempty"`
	Enabled      []string      `yaml:"enabled,omitempty"`
	Weather      WeatherConfig `yaml:"weather,omitempty"`
}

// WeatherConfig points the weather tool at Open-Meteo compatible endpoints.
type WeatherConfig struct {
	GeocodingURL string        `yaml:"geocodingUrl,omitempty"`
	ForecastURL  string        `yaml:"forecastUrl,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Bind              string     `yaml:"bind,omitempty"`
	Port              int        `yaml:"port,omitempty"`
	Auth              ServerAuth `yaml:"auth,omitempty"`
	RequestsPerMinute int        `yaml:"requestsPerMinute,omitempty"` // 0 disables request limiting
	Burst             int        `yaml:"burst,omitempty"`
	CORS              bool       `yaml:"cors,omitempty"`
	WebSocket         bool       `yaml:"websocket,omitempty"`
	Metrics           bool       `yaml:"metrics,omitempty"`
}

// ServerAuth configures caller authentication.
type ServerAuth struct {
	Mode  string `yaml:"mode,omitempty"` // "none" | "token"
	Token string `yaml:"token,omitempty"`
}

// SessionConfig selects where conversation history lives.
type SessionConfig struct {
	Store string `yaml:"store,omitempty"` // "memory" | "sqlite"
	Path  string `yaml:"path,omitempty"`  // sqlite database file
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
}
