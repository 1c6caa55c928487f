package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential fields
// so keys and tokens never have to be written to the config file.
func expandSensitiveFields(cfg *Config) {
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	for i := range cfg.LLM.Fallbacks {
		cfg.LLM.Fallbacks[i].APIKey = expandEnvVars(cfg.LLM.Fallbacks[i].APIKey)
	}
	cfg.Server.Auth.Token = expandEnvVars(cfg.Server.Auth.Token)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}
	return parse(data)
}

// FromRaw builds a Config from a raw map such as LoadRaw returns, going
// through the same defaults, env overrides and expansion as Load.
func FromRaw(raw map[string]any) (Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Defaults(), &ConfigError{Message: "failed to encode config: " + err.Error()}
	}
	return parse(data)
}

func parse(data []byte) (Config, error) {
	cfg := Defaults()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		applyDefaults(&cfg)
	}
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// Redacted returns a copy of cfg with credentials masked for display.
func (c Config) Redacted() Config {
	out := c
	out.LLM.APIKey = mask(c.LLM.APIKey)
	out.LLM.Fallbacks = append([]FallbackEntry(nil), c.LLM.Fallbacks...)
	for i := range out.LLM.Fallbacks {
		out.LLM.Fallbacks[i].APIKey = mask(out.LLM.Fallbacks[i].APIKey)
	}
	out.Server.Auth.Token = mask(c.Server.Auth.Token)
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields left blank by the file.
func applyDefaults(cfg *Config) {
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = DefaultBaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = DefaultAPIKey
	}
	if cfg.LLM.Temperature == nil {
		temp := DefaultTemperature
		cfg.LLM.Temperature = &temp
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = DefaultLLMTimeout
	}
	if cfg.LLM.CircuitBreaker.FailureThreshold == 0 {
		cfg.LLM.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.LLM.CircuitBreaker.OpenTimeout == 0 {
		cfg.LLM.CircuitBreaker.OpenTimeout = DefaultBreakerTimeout
	}
	if cfg.Conversation.Name == "" {
		cfg.Conversation.Name = DefaultName
	}
	if cfg.Conversation.MaxIterations == 0 {
		cfg.Conversation.MaxIterations = DefaultMaxIterations
	}
	if len(cfg.Tools.Enabled) == 0 {
		cfg.Tools.Enabled = append([]string(nil), DefaultTools...)
	}
	if cfg.Tools.Weather.GeocodingURL == "" {
		cfg.Tools.Weather.GeocodingURL = DefaultGeocodingURL
	}
	if cfg.Tools.Weather.ForecastURL == "" {
		cfg.Tools.Weather.ForecastURL = DefaultForecastURL
	}
	if cfg.Tools.Weather.Timeout == 0 {
		cfg.Tools.Weather.Timeout = DefaultWeatherTimeout
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = DefaultBind
	}
	if cfg.Server.Auth.Mode == "" {
		cfg.Server.Auth.Mode = "none"
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = 10
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// applyEnvOverrides reads CHATTERBOX_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATTERBOX_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CHATTERBOX_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CHATTERBOX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CHATTERBOX_LLM_TEMPERATURE"); v != "" {
		if temp, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = &temp
		}
	}
	if v := os.Getenv("CHATTERBOX_LLM_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CHATTERBOX_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.MaxIterations = n
		}
	}
	if v := os.Getenv("CHATTERBOX_TOOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tools.Timeout = d
		}
	}
	if v := os.Getenv("CHATTERBOX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHATTERBOX_SERVER_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("CHATTERBOX_AUTH_TOKEN"); v != "" {
		cfg.Server.Auth.Token = v
		cfg.Server.Auth.Mode = "token"
	}
	if v := os.Getenv("CHATTERBOX_SESSION_STORE"); v != "" {
		cfg.Session.Store = strings.ToLower(v)
	}
	if v := os.Getenv("CHATTERBOX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
