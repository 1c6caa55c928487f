package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/observe"
)

// Registry errors.
var (
	ErrDuplicateTool    = errors.New("tool already registered")
	ErrToolNotFound     = errors.New("tool not registered")
	ErrInvalidSchema    = errors.New("invalid parameter schema")
	ErrInvalidArguments = errors.New("invalid arguments")
)

type entry struct {
	def     llm.ToolDefinition
	handler Handler
	schema  *jsonschema.Schema // nil when validation is off
}

// Registry maps tool names to definitions and handlers, preserving
// registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	entries  map[string]entry
	validate bool
	log      *logging.Logger
	metrics  *observe.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithValidation compiles each tool's parameter schema at registration and
// checks arguments against it before the handler runs.
func WithValidation(on bool) RegistryOption {
	return func(r *Registry) { r.validate = on }
}

// WithMetrics records per-call latency and outcome.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		log:     log.Sub("tools"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(def llm.ToolDefinition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("register: empty tool name")
	}
	if h == nil {
		return fmt.Errorf("register %q: nil handler", def.Name)
	}

	var schema *jsonschema.Schema
	if r.validate && len(def.Parameters) > 0 {
		var err error
		if schema, err = compileSchema(def); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("register %q: %w", def.Name, ErrDuplicateTool)
	}
	r.entries[def.Name] = entry{def: def, handler: h, schema: schema}
	r.order = append(r.order, def.Name)
	r.log.Debug().Str("tool", def.Name).Msg("registered tool")
	return nil
}

// RegisterTool registers a packaged Tool.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Definition(), t.Execute)
}

// Deregister removes a tool. Dispatchers already built keep it.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("deregister %q: %w", name, ErrToolNotFound)
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Definitions returns all definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].def)
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// snapshot copies the current entries for a dispatcher.
func (r *Registry) snapshot() map[string]entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

func compileSchema(def llm.ToolDefinition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%q: %w: %v", def.Name, ErrInvalidSchema, err)
	}
	url := "tool://" + def.Name + "/parameters.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%q: %w: %v", def.Name, ErrInvalidSchema, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%q: %w: %v", def.Name, ErrInvalidSchema, err)
	}
	return schema, nil
}

// validateArgs checks args against schema. Arguments are round-tripped
// through JSON so Go-typed values validate the same as decoded ones.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
