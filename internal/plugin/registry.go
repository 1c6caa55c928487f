package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
)

// ErrStarted is returned by Register once InitAll has run; the dispatcher
// has already snapshotted the tool registry by then.
var ErrStarted = errors.New("plugin registry already started")

type slot struct {
	p           Plugin
	initialized bool
	tools       []string // tools that appeared during Init
}

// Registry owns plugin lifecycle: register, init in order, close in reverse.
type Registry struct {
	mu      sync.Mutex
	slots   []*slot
	started bool
	hooks   *hooks.Manager
	tools   *tools.Registry
	log     *logging.Logger
}

// NewRegistry creates a plugin registry whose plugins extend hm and tr.
func NewRegistry(hm *hooks.Manager, tr *tools.Registry, log *logging.Logger) *Registry {
	return &Registry{
		hooks: hm,
		tools: tr,
		log:   log.Sub("plugins"),
	}
}

// Register queues p for InitAll. IDs must be unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("register plugin %s: %w", p.ID(), ErrStarted)
	}
	if r.find(p.ID()) != nil {
		return fmt.Errorf("plugin already registered: %s", p.ID())
	}
	r.slots = append(r.slots, &slot{p: p})
	r.log.Debug().Str("id", p.ID()).Str("version", p.Version()).Msg("plugin registered")
	return nil
}

// InitAll initializes plugins in registration order. If one fails, the
// plugins already initialized are closed again in reverse order, so a
// failed start leaves no hooks or tools behind.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true

	for i, s := range r.slots {
		id := s.p.ID()
		before := r.toolNames()
		err := s.p.Init(ctx, API{
			Hooks: r.hooks,
			Tools: r.tools,
			Log:   r.log.Sub(id),
		})
		if err != nil {
			// A partial Init may have registered some tools.
			s.initialized = true
			r.closeFrom(i)
			return fmt.Errorf("init plugin %s: %w", id, err)
		}
		s.initialized = true
		s.tools = added(before, r.toolNames())
		r.log.Info().Str("id", id).Strs("tools", s.tools).Msg("plugin ready")
	}
	return nil
}

// CloseAll closes every initialized plugin in reverse order. Calling it
// again is a no-op.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFrom(len(r.slots) - 1)
}

func (r *Registry) closeFrom(last int) {
	for i := last; i >= 0; i-- {
		s := r.slots[i]
		if !s.initialized {
			continue
		}
		s.initialized = false
		if err := s.p.Close(); err != nil {
			r.log.Warn().Err(err).Str("id", s.p.ID()).Msg("plugin close failed")
		}
	}
}

func (r *Registry) find(id string) *slot {
	for _, s := range r.slots {
		if s.p.ID() == id {
			return s
		}
	}
	return nil
}

func (r *Registry) toolNames() []string {
	if r.tools == nil {
		return nil
	}
	return r.tools.Names()
}

func added(before, after []string) []string {
	var out []string
	for _, n := range after {
		if !slices.Contains(before, n) {
			out = append(out, n)
		}
	}
	return out
}

// Get returns a plugin by ID, or nil if not found.
func (r *Registry) Get(id string) Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.find(id); s != nil {
		return s.p
	}
	return nil
}

// List returns plugin IDs in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.slots))
	for i, s := range r.slots {
		ids[i] = s.p.ID()
	}
	return ids
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Info describes every plugin and the tools it contributed.
func (r *Registry) Info() []PluginInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]PluginInfo, 0, len(r.slots))
	for _, s := range r.slots {
		infos = append(infos, PluginInfo{
			ID:          s.p.ID(),
			Name:        s.p.Name(),
			Version:     s.p.Version(),
			Initialized: s.initialized,
			Tools:       slices.Clone(s.tools),
		})
	}
	return infos
}

// PluginInfo is the JSON view printed by `chatterbox tools plugins`.
type PluginInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Initialized bool     `json:"initialized"`
	Tools       []string `json:"tools,omitempty"`
}
