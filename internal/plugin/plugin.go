// Package plugin manages extensions that contribute tools and hook
// handlers to the conversation stack. Plugins are initialized in
// registration order before the tool dispatcher is built, so every tool
// they register is visible to the model.
package plugin

import (
	"context"

	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
)

// Plugin is the interface that all Chatterbox plugins must implement.
type Plugin interface {
	// ID returns a unique identifier for the plugin (e.g., "builtin-tools").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Version returns the plugin version string.
	Version() string

	// Init registers the plugin's tools and hooks.
	Init(ctx context.Context, api API) error

	// Close shuts down the plugin and releases resources.
	Close() error
}

// API is what a plugin may touch during Init.
type API struct {
	Hooks *hooks.Manager
	Tools *tools.Registry
	Log   *logging.Logger
}
