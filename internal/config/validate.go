package config

import (
	"fmt"
	"slices"

	"github.com/soyeahso/chatterbox/internal/logging"
)

// KnownTools lists the tool names the enabled list may reference.
var KnownTools = []string{"get_weather", "get_current_datetime"}

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// LLM validation
	if cfg.LLM.BaseURL == "" {
		add("llm.baseUrl", "is required")
	}
	if cfg.LLM.Model == "" {
		add("llm.model", "is required")
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("llm.temperature", "must be between 0 and 2, got %g", *t)
	}
	if cfg.LLM.RateLimitPerMinute < 0 {
		add("llm.rateLimitPerMinute", "must not be negative, got %d", cfg.LLM.RateLimitPerMinute)
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.FailureThreshold < 1 {
		add("llm.circuitBreaker.failureThreshold", "must be at least 1, got %d", cfg.LLM.CircuitBreaker.FailureThreshold)
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if fb.BaseURL == "" || fb.Model == "" {
			add(fmt.Sprintf("llm.fallbacks[%d]", i), "baseUrl and model are required")
		}
	}

	// Conversation validation
	if cfg.Conversation.MaxIterations < 1 {
		add("conversation.maxIterations", "must be at least 1, got %d", cfg.Conversation.MaxIterations)
	}
	if cfg.Conversation.MaxHistoryTurns < 0 {
		add("conversation.maxHistoryTurns", "must not be negative, got %d", cfg.Conversation.MaxHistoryTurns)
	}

	// Tools validation
	if cfg.Tools.Timeout < 0 {
		add("tools.timeout", "must not be negative, got %s", cfg.Tools.Timeout)
	}
	if cfg.Tools.MaxRetries < 0 {
		add("tools.maxRetries", "must not be negative, got %d", cfg.Tools.MaxRetries)
	}
	for _, name := range cfg.Tools.Enabled {
		if !slices.Contains(KnownTools, name) {
			add("tools.enabled", "unknown tool %q, must be one of %v", name, KnownTools)
		}
	}

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port", "port must be 1-65535, got %d", cfg.Server.Port)
	}
	validAuthModes := []string{"none", "token"}
	if !slices.Contains(validAuthModes, cfg.Server.Auth.Mode) {
		add("server.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.Mode == "token" && cfg.Server.Auth.Token == "" {
		add("server.auth.token", "required when auth mode is token")
	}
	if cfg.Server.RequestsPerMinute < 0 {
		add("server.requestsPerMinute", "must not be negative, got %d", cfg.Server.RequestsPerMinute)
	}

	// Session validation
	validStores := []string{"memory", "sqlite"}
	if !slices.Contains(validStores, cfg.Session.Store) {
		add("session.store", "must be one of %v, got %q", validStores, cfg.Session.Store)
	}

	// Logging validation
	if cfg.Logging.Level != "" && !logging.KnownLevel(cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", logging.Levels, cfg.Logging.Level)
	}
	validFormats := []string{"console", "json"}
	if cfg.Logging.Format != "" && !slices.Contains(validFormats, cfg.Logging.Format) {
		add("logging.format", "must be one of %v, got %q", validFormats, cfg.Logging.Format)
	}

	return issues
}
