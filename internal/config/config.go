package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Path    string // optional dotted config path the error refers to
	Message string
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

// Default values shared by Defaults and applyDefaults.
const (
	DefaultBaseURL         = "http://localhost:11434/v1"
	DefaultModel           = "llama3.1:8b"
	DefaultAPIKey          = "ollama"
	DefaultTemperature     = 0.7
	DefaultName            = "Chatterbox"
	DefaultMaxIterations   = 10
	DefaultMaxHistoryTurns = 10
	DefaultPort            = 8765
	DefaultBind            = "127.0.0.1"
	DefaultGeocodingURL    = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL     = "https://api.open-meteo.com/v1/forecast"

	DefaultLLMTimeout     = 60 * time.Second
	DefaultToolTimeout    = 30 * time.Second
	DefaultCacheTTL       = 300 * time.Second
	DefaultWeatherTimeout = 10 * time.Second
	DefaultBreakerTimeout = 30 * time.Second
)

// DefaultTools lists the tools enabled when the config names none.
var DefaultTools = []string{"get_weather", "get_current_datetime"}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := DefaultTemperature
	return Config{
		LLM: LLMConfig{
			BaseURL:     DefaultBaseURL,
			Model:       DefaultModel,
			APIKey:      DefaultAPIKey,
			Temperature: &temp,
			Timeout:     DefaultLLMTimeout,
			TrackUsage:  true,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      DefaultBreakerTimeout,
			},
		},
		Conversation: ConversationConfig{
			Name:                     DefaultName,
			MaxIterations:            DefaultMaxIterations,
			MaxHistoryTurns:          DefaultMaxHistoryTurns,
			AutoCreateConversationID: true,
			SerializeSessions:        true,
		},
		Tools: ToolsConfig{
			Timeout:      DefaultToolTimeout,
			CacheTTL:     DefaultCacheTTL,
			ValidateArgs: true,
			Enabled:      append([]string(nil), DefaultTools...),
			Weather: WeatherConfig{
				GeocodingURL: DefaultGeocodingURL,
				ForecastURL:  DefaultForecastURL,
				Timeout:      DefaultWeatherTimeout,
			},
		},
		Server: ServerConfig{
			Bind:      DefaultBind,
			Port:      DefaultPort,
			Auth:      ServerAuth{Mode: "none"},
			Burst:     10,
			CORS:      true,
			WebSocket: true,
			Metrics:   true,
		},
		Session: SessionConfig{
			Store: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
