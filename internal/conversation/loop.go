// Package conversation runs conversation turns: the agentic loop that
// alternates LLM completions with tool dispatch, and the entity that owns
// per-session history and turns every failure into a speakable apology.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/observe"
	"github.com/soyeahso/chatterbox/internal/tools"
)

// DefaultMaxIterations bounds provider calls per turn when unset.
const DefaultMaxIterations = 10

// DefaultSystemPrompt is the voice assistant persona.
const DefaultSystemPrompt = "You are Chatterbox, a helpful voice assistant integrated with Home Assistant. " +
	"Answer concisely. Responses are spoken aloud via text-to-speech. " +
	"Use the available tools to look up real-time information when needed. " +
	"Do not make up information; if you don't know, say so."

// ErrIterationLimit is returned when the provider keeps requesting tools
// past the configured number of iterations.
var ErrIterationLimit = errors.New("agentic loop exceeded max iterations")

// LoopOptions configures a Loop.
type LoopOptions struct {
	// MaxIterations caps provider calls per Run. Zero means DefaultMaxIterations.
	MaxIterations int

	// SystemPrompt is sent first when non-empty.
	SystemPrompt string

	Metrics *observe.Metrics
}

// Loop drives one turn: call the provider, run any requested tools
// concurrently, feed the results back, and repeat until the provider stops.
type Loop struct {
	provider      llm.Provider
	dispatch      tools.Dispatcher
	maxIterations int
	systemPrompt  string
	metrics       *observe.Metrics
	log           *logging.Logger
}

// NewLoop creates a loop over provider and dispatch.
func NewLoop(provider llm.Provider, dispatch tools.Dispatcher, log *logging.Logger, opts LoopOptions) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		provider:      provider,
		dispatch:      dispatch,
		maxIterations: opts.MaxIterations,
		systemPrompt:  opts.SystemPrompt,
		metrics:       opts.Metrics,
		log:           log.Sub("loop"),
	}
}

// MaxIterations returns the iteration cap.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// Run executes a turn and returns the final assistant text. history is
// copied and never modified. Provider errors are returned unchanged; tool
// failures are fed back to the provider as error payloads.
func (l *Loop) Run(ctx context.Context, userText string, history []llm.Message, defs []llm.ToolDefinition) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	if l.systemPrompt != "" {
		messages = append(messages, llm.SystemMessage(l.systemPrompt))
	}
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(userText))

	for i := range l.maxIterations {
		result, err := l.complete(ctx, messages, defs)
		if err != nil {
			return "", err
		}

		switch {
		case result.FinishReason == llm.FinishStop:
			l.log.Debug().Int("iteration", i+1).Msg("provider stopped")
			return result.Text(), nil

		case result.FinishReason == llm.FinishToolCalls && len(result.ToolCalls) > 0:
			l.log.Info().Int("iteration", i+1).Int("tool_calls", len(result.ToolCalls)).Msg("executing tool calls")
			messages = append(messages, assistantTurn(result))
			for j, out := range l.dispatchAll(ctx, result.ToolCalls) {
				messages = append(messages, llm.ToolResultMessage(result.ToolCalls[j].ID, out))
			}

		default:
			l.log.Warn().Str("finish_reason", result.FinishReason).Msg("unexpected finish reason, using content as answer")
			return result.Text(), nil
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrIterationLimit, l.maxIterations)
}

func (l *Loop) complete(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (*llm.CompletionResult, error) {
	start := time.Now()
	result, err := l.provider.Complete(ctx, messages, defs)
	elapsed := time.Since(start)

	name := l.provider.Name()
	if err != nil {
		status := "error"
		if e, ok := llm.AsError(err); ok {
			status = e.Kind.String()
		}
		l.metrics.RecordLLMCall(ctx, name, status, elapsed)
		return nil, err
	}
	l.metrics.RecordLLMCall(ctx, name, "ok", elapsed)
	if u := result.Usage; u != nil {
		l.metrics.RecordUsage(ctx, name, u.PromptTokens, u.CompletionTokens, u.EstimatedCostUSD)
	}
	return result, nil
}

// assistantTurn returns the assistant message to replay, which must carry
// the tool call descriptors so the tool results can reference them.
func assistantTurn(result *llm.CompletionResult) llm.Message {
	msg := result.RawMessage
	if msg.Role == "" {
		msg.Role = llm.RoleAssistant
		msg.Content = result.Text()
	}
	if len(msg.ToolCalls) == 0 {
		msg.ToolCalls = result.ToolCalls
	}
	return msg
}

// dispatchAll runs every call concurrently and returns their results in
// call order. A failing call never cancels its siblings.
func (l *Loop) dispatchAll(ctx context.Context, calls []llm.ToolCall) []string {
	results := make([]string, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = l.dispatchOne(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (l *Loop) dispatchOne(ctx context.Context, call llm.ToolCall) (out string) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("tool", call.Name).Interface("panic", r).Msg("tool panicked")
			out = tools.ErrorPayload(fmt.Sprintf("tool '%s' failed: %v", call.Name, r))
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := l.dispatch(ctx, call.Name, args)
	if err != nil {
		l.log.Warn().Str("tool", call.Name).Str("tool_call_id", call.ID).Err(err).Msg("tool call failed")
		return tools.ErrorPayload(err.Error())
	}
	return out
}
