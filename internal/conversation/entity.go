package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/observe"
	"github.com/soyeahso/chatterbox/internal/tools"
)

// Defaults for EntityOptions.
const (
	DefaultName            = "Chatterbox"
	DefaultLanguage        = "en"
	DefaultMaxHistoryTurns = 10
)

// Apologies returned in place of a response when a turn fails.
const (
	ApologyRateLimit      = "Sorry, I'm receiving too many requests right now. Please try again in a moment."
	ApologyConnection     = "Sorry, I can't reach my language model right now. Please try again in a little while."
	ApologyAPI            = "Sorry, my language model ran into a problem answering that. Please try again."
	ApologyIterationLimit = "Sorry, I couldn't finish working that out. Please try asking in a simpler way."
	ApologyGeneric        = "Sorry, something went wrong while I was handling that request."
)

// Failure categories reported in Result.Extra["error"].
const (
	CategoryRateLimit      = "rate_limit"
	CategoryConnection     = "connection"
	CategoryAPI            = "api"
	CategoryIterationLimit = "iteration_limit"
	CategoryCancelled      = "cancelled"
	CategoryInternal       = "internal"
)

// Input is one user utterance.
type Input struct {
	Text           string
	ConversationID string // empty means none supplied
	Language       string // BCP-47, defaults to "en"
}

// Result is the speakable outcome of a turn.
type Result struct {
	ResponseText   string         `json:"response_text"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Extra          map[string]any `json:"extra"`
}

// EntityOptions configures an Entity.
type EntityOptions struct {
	Name            string
	SystemPrompt    string // sent verbatim; empty sends none
	MaxIterations   int
	MaxHistoryTurns int // 0 disables truncation

	// AutoCreateConversationID gives id-less requests a fresh session id.
	// Without it such requests run single-turn with no stored history.
	AutoCreateConversationID bool

	// SerializeSessions runs turns on the same conversation one at a time.
	SerializeSessions bool

	Tools   []llm.ToolDefinition
	History HistoryStore // defaults to a MemoryHistoryStore
	Hooks   *hooks.Manager
	Metrics *observe.Metrics

	// NewID generates conversation ids. Defaults to random UUIDs.
	NewID func() string
}

// Entity is the conversation agent: it owns per-session history and runs
// each turn through the agentic loop.
type Entity struct {
	name            string
	loop            *Loop
	tools           []llm.ToolDefinition
	history         HistoryStore
	maxHistoryTurns int
	autoCreate      bool
	locks           *sessionLocks // nil when turns are not serialized
	hooks           *hooks.Manager
	metrics         *observe.Metrics
	newID           func() string
	log             *logging.Logger
}

// NewEntity creates an entity over provider and dispatch.
func NewEntity(provider llm.Provider, dispatch tools.Dispatcher, log *logging.Logger, opts EntityOptions) *Entity {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.History == nil {
		opts.History = NewMemoryHistoryStore()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}

	e := &Entity{
		name: opts.Name,
		loop: NewLoop(provider, dispatch, log, LoopOptions{
			MaxIterations: opts.MaxIterations,
			SystemPrompt:  opts.SystemPrompt,
			Metrics:       opts.Metrics,
		}),
		tools:           opts.Tools,
		history:         opts.History,
		maxHistoryTurns: opts.MaxHistoryTurns,
		autoCreate:      opts.AutoCreateConversationID,
		hooks:           opts.Hooks,
		metrics:         opts.Metrics,
		newID:           opts.NewID,
		log:             log.Sub("entity"),
	}
	if opts.SerializeSessions {
		e.locks = newSessionLocks()
	}
	return e
}

// Name returns the display name.
func (e *Entity) Name() string { return e.name }

// Tools returns the tool definitions offered to the provider.
func (e *Entity) Tools() []llm.ToolDefinition { return e.tools }

// Process runs one turn. It never fails: provider and loop errors become a
// fixed apology in ResponseText and leave the stored history untouched.
// The resolved conversation id is returned on every path.
func (e *Entity) Process(ctx context.Context, in Input) Result {
	start := time.Now()
	if in.Language == "" {
		in.Language = DefaultLanguage
	}

	convID := in.ConversationID
	if convID == "" && e.autoCreate {
		convID = e.newID()
	}
	log := e.log.With("conversation_id", convID)

	if convID != "" && e.locks != nil {
		unlock, err := e.locks.lock(ctx, convID)
		if err != nil {
			// Gave up waiting behind another turn; nothing ran.
			log.Warn().Err(err).Dur("waited", time.Since(start)).Msg("turn abandoned before start")
			e.metrics.RecordTurn(ctx, CategoryCancelled, time.Since(start))
			return Result{
				ResponseText:   ApologyGeneric,
				ConversationID: convID,
				Extra:          map[string]any{"language": in.Language, "error": CategoryCancelled},
			}
		}
		defer unlock()
	}

	e.hooks.Emit(ctx, hooks.Payload{
		Event:          hooks.EventTurnStart,
		ConversationID: convID,
		Data:           map[string]any{"text": in.Text, "language": in.Language},
	})

	response, err := e.run(ctx, convID, in.Text, log)
	if err != nil {
		category, apology := classify(err)
		log.Error().Err(err).Str("category", category).Dur("duration", time.Since(start)).Msg("turn failed")
		e.metrics.RecordTurn(ctx, category, time.Since(start))
		e.hooks.Emit(ctx, hooks.Payload{
			Event:          hooks.EventTurnError,
			ConversationID: convID,
			Data:           map[string]any{"category": category, "error": err.Error()},
		})
		return Result{
			ResponseText:   apology,
			ConversationID: convID,
			Extra:          map[string]any{"language": in.Language, "error": category},
		}
	}

	log.Info().Dur("duration", time.Since(start)).Int("response_len", len(response)).Msg("turn complete")
	e.metrics.RecordTurn(ctx, "ok", time.Since(start))
	e.hooks.Emit(ctx, hooks.Payload{
		Event:          hooks.EventTurnComplete,
		ConversationID: convID,
		Data:           map[string]any{"response": response, "duration_ms": time.Since(start).Milliseconds()},
	})
	return Result{
		ResponseText:   response,
		ConversationID: convID,
		Extra:          map[string]any{"language": in.Language},
	}
}

func (e *Entity) run(ctx context.Context, convID, text string, log *logging.Logger) (string, error) {
	var history []llm.Message
	if convID != "" {
		stored, err := e.history.Load(ctx, convID)
		if err != nil {
			return "", err
		}
		history = Truncate(stored, e.maxHistoryTurns)
		log.Debug().Int("stored", len(stored)).Int("sent", len(history)).Msg("loaded history")
	}

	response, err := e.loop.Run(ctx, text, history, e.tools)
	if err != nil {
		return "", err
	}

	if convID != "" {
		if err := e.history.Append(ctx, convID, llm.UserMessage(text), llm.AssistantMessage(response)); err != nil {
			// The caller still gets the answer; only the next turn loses context.
			log.Error().Err(err).Msg("failed to store turn")
		}
	}
	return response, nil
}

// classify maps a turn failure to its category and apology.
func classify(err error) (category, apology string) {
	switch {
	case llm.IsRateLimit(err):
		return CategoryRateLimit, ApologyRateLimit
	case llm.IsConnection(err):
		return CategoryConnection, ApologyConnection
	case llm.IsAPI(err):
		return CategoryAPI, ApologyAPI
	case errors.Is(err, ErrIterationLimit):
		return CategoryIterationLimit, ApologyIterationLimit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled, ApologyGeneric
	default:
		return CategoryInternal, ApologyGeneric
	}
}

// ClearHistory forgets one conversation. Unknown ids are fine.
func (e *Entity) ClearHistory(ctx context.Context, conversationID string) error {
	if err := e.history.Delete(ctx, conversationID); err != nil {
		return err
	}
	e.hooks.Emit(ctx, hooks.Payload{Event: hooks.EventHistoryCleared, ConversationID: conversationID})
	return nil
}

// ClearAllHistory forgets every conversation.
func (e *Entity) ClearAllHistory(ctx context.Context) error {
	if err := e.history.DeleteAll(ctx); err != nil {
		return err
	}
	e.hooks.Emit(ctx, hooks.Payload{Event: hooks.EventHistoryCleared, Data: map[string]any{"all": true}})
	return nil
}

// ActiveSessions returns the number of conversations with stored history.
func (e *Entity) ActiveSessions(ctx context.Context) (int, error) {
	return e.history.Count(ctx)
}

// History returns the full stored history of a conversation.
func (e *Entity) History(ctx context.Context, conversationID string) ([]llm.Message, error) {
	return e.history.Load(ctx, conversationID)
}
