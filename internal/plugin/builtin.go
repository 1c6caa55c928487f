package plugin

import (
	"context"
	"fmt"

	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/tools"
	"github.com/soyeahso/chatterbox/internal/version"
)

// ToolSet is a plugin that registers a fixed list of tools.
type ToolSet struct {
	id    string
	name  string
	tools []tools.Tool
	reg   *tools.Registry
}

// NewToolSet creates a plugin contributing ts.
func NewToolSet(id, name string, ts ...tools.Tool) *ToolSet {
	return &ToolSet{id: id, name: name, tools: ts}
}

func (p *ToolSet) ID() string      { return p.id }
func (p *ToolSet) Name() string    { return p.name }
func (p *ToolSet) Version() string { return version.Version }

// Init registers every tool. A failure leaves earlier tools registered.
func (p *ToolSet) Init(_ context.Context, api API) error {
	if api.Tools == nil {
		return fmt.Errorf("plugin %s: no tool registry", p.id)
	}
	for _, t := range p.tools {
		if err := api.Tools.RegisterTool(t); err != nil {
			return err
		}
		api.Log.Debug().Str("tool", t.Definition().Name).Msg("tool registered")
	}
	p.reg = api.Tools
	return nil
}

// Close deregisters the tools. Dispatchers built earlier keep them.
func (p *ToolSet) Close() error {
	if p.reg == nil {
		return nil
	}
	for _, t := range p.tools {
		_ = p.reg.Deregister(t.Definition().Name)
	}
	p.reg = nil
	return nil
}

// CacheFlushID identifies the CacheFlush plugin and its hook handler.
const CacheFlushID = "cache-flush"

// CacheFlush empties the tool result cache whenever every conversation is
// cleared, so a fresh start never replays stale tool results.
type CacheFlush struct {
	cache *tools.ResultCache
	hooks *hooks.Manager
}

// NewCacheFlush creates the plugin for cache.
func NewCacheFlush(cache *tools.ResultCache) *CacheFlush {
	return &CacheFlush{cache: cache}
}

func (p *CacheFlush) ID() string      { return CacheFlushID }
func (p *CacheFlush) Name() string    { return "Tool cache flush" }
func (p *CacheFlush) Version() string { return version.Version }

func (p *CacheFlush) Init(_ context.Context, api API) error {
	if api.Hooks == nil {
		return fmt.Errorf("plugin %s: no hook manager", CacheFlushID)
	}
	log := api.Log
	api.Hooks.On(hooks.EventHistoryCleared, CacheFlushID, func(_ context.Context, pl hooks.Payload) error {
		if all, _ := pl.Data["all"].(bool); !all {
			return nil
		}
		n := p.cache.Len()
		p.cache.Clear()
		log.Debug().Int("entries", n).Msg("tool cache flushed")
		return nil
	})
	p.hooks = api.Hooks
	return nil
}

func (p *CacheFlush) Close() error {
	if p.hooks != nil {
		p.hooks.Off(hooks.EventHistoryCleared, CacheFlushID)
		p.hooks = nil
	}
	return nil
}
