package cli

import (
	"context"
	"fmt"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/conversation"
	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/observe"
	"github.com/soyeahso/chatterbox/internal/plugin"
	"github.com/soyeahso/chatterbox/internal/store"
	"github.com/soyeahso/chatterbox/internal/tools"
	"github.com/soyeahso/chatterbox/internal/tools/datetime"
	"github.com/soyeahso/chatterbox/internal/tools/weather"
	"github.com/soyeahso/chatterbox/internal/version"
)

// app is the fully wired conversation stack shared by serve and ask.
type app struct {
	cfg       config.Config
	provider  llm.Provider
	registry  *tools.Registry
	cache     *tools.ResultCache
	dispatch  tools.Dispatcher // cached, shared by the loop and mcp
	entity    *conversation.Entity
	hooks     *hooks.Manager
	plugins   *plugin.Registry
	telemetry *observe.Telemetry // nil unless metrics are on
	db        *store.DB          // nil for the memory store
	log       *logging.Logger
}

type appOptions struct {
	metrics bool
	dbPath  string // used when cfg.Session.Path is empty
}

// newApp builds provider, tools, cache, history and entity from cfg.
func newApp(ctx context.Context, cfg config.Config, log *logging.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log, hooks: hooks.NewManager(log)}

	var metrics *observe.Metrics
	if opts.metrics {
		tel, err := observe.Init("chatterbox", version.Version)
		if err != nil {
			return nil, fmt.Errorf("initializing metrics: %w", err)
		}
		a.telemetry = tel
		metrics = tel.Metrics
	}

	provider, err := llm.NewFromConfig(cfg.LLM, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building provider: %w", err)
	}
	a.provider = provider

	a.registry = tools.NewRegistry(log,
		tools.WithValidation(cfg.Tools.ValidateArgs),
		tools.WithMetrics(metrics),
	)
	a.cache = tools.NewResultCache(cfg.Tools.CacheTTL)

	a.plugins, err = startPlugins(ctx, cfg.Tools, a.hooks, a.registry, a.cache, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Plugins are initialized, so the snapshot sees every tool.
	dispatch := a.registry.BuildDispatcher(tools.DispatcherOptions{
		Timeout:    cfg.Tools.Timeout,
		MaxRetries: cfg.Tools.MaxRetries,
	})
	a.dispatch = tools.NewCachingDispatcher(dispatch, a.cache, log, metrics).Dispatch

	history, err := a.openHistory(ctx, opts.dbPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	prompt := cfg.Conversation.SystemPrompt
	if prompt == "" {
		prompt = conversation.DefaultSystemPrompt
	}
	a.entity = conversation.NewEntity(provider, a.dispatch, log, conversation.EntityOptions{
		Name:                     cfg.Conversation.Name,
		SystemPrompt:             prompt,
		MaxIterations:            cfg.Conversation.MaxIterations,
		MaxHistoryTurns:          cfg.Conversation.MaxHistoryTurns,
		AutoCreateConversationID: cfg.Conversation.AutoCreateConversationID,
		SerializeSessions:        cfg.Conversation.SerializeSessions,
		Tools:                    a.registry.Definitions(),
		History:                  history,
		Hooks:                    a.hooks,
		Metrics:                  metrics,
	})
	return a, nil
}

func (a *app) openHistory(ctx context.Context, fallbackPath string) (conversation.HistoryStore, error) {
	if a.cfg.Session.Store != "sqlite" {
		a.log.Info().Msg("using in-memory session store")
		return conversation.NewMemoryHistoryStore(), nil
	}
	path := a.cfg.Session.Path
	if path == "" {
		path = fallbackPath
	}
	db, err := store.Open(ctx, path, a.log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.log.Info().Str("path", path).Msg("using SQLite session store")
	return store.NewSQLiteHistoryStore(db), nil
}

// startPlugins registers the built-in plugins against reg and hm and
// initializes them. reg holds every enabled tool on success.
func startPlugins(ctx context.Context, cfg config.ToolsConfig, hm *hooks.Manager, reg *tools.Registry,
	cache *tools.ResultCache, log *logging.Logger) (*plugin.Registry, error) {
	builtin, err := builtinTools(cfg, log)
	if err != nil {
		return nil, err
	}
	plugins := plugin.NewRegistry(hm, reg, log)
	for _, p := range []plugin.Plugin{
		plugin.NewToolSet("builtin-tools", "Built-in tools", builtin...),
		plugin.NewCacheFlush(cache),
	} {
		if err := plugins.Register(p); err != nil {
			return nil, err
		}
	}
	if err := plugins.InitAll(ctx); err != nil {
		return nil, fmt.Errorf("initializing plugins: %w", err)
	}
	return plugins, nil
}

// builtinTools constructs each enabled tool in config order.
func builtinTools(cfg config.ToolsConfig, log *logging.Logger) ([]tools.Tool, error) {
	out := make([]tools.Tool, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		switch name {
		case weather.ToolName:
			out = append(out, weather.New(log,
				weather.WithEndpoints(cfg.Weather.GeocodingURL, cfg.Weather.ForecastURL),
				weather.WithTimeout(cfg.Weather.Timeout),
			))
		case datetime.ToolName:
			out = append(out, datetime.New(log))
		default:
			return nil, fmt.Errorf("unknown tool %q in tools.enabled", name)
		}
	}
	return out, nil
}

// Close shuts plugins down, releases the database and flushes metrics.
func (a *app) Close() {
	if a.plugins != nil {
		a.plugins.CloseAll()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing database")
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("flushing metrics")
		}
	}
}
