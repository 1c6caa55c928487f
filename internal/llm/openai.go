package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/soyeahso/chatterbox/internal/logging"
)

// Defaults for a local Ollama server speaking the OpenAI protocol.
const (
	DefaultBaseURL     = "http://localhost:11434/v1"
	DefaultModel       = "llama3.1:8b"
	DefaultAPIKey      = "ollama"
	DefaultTemperature = 0.7
)

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	client      oai.Client
	name        string
	model       string
	temperature *float64
	limiter     *RateLimiter
	trackUsage  bool
	log         *logging.Logger
}

// openAIConfig holds optional configuration for the provider.
type openAIConfig struct {
	name        string
	baseURL     string
	apiKey      string
	temperature *float64
	timeout     time.Duration
	httpClient  *http.Client
	limiter     *RateLimiter
	trackUsage  bool
	log         *logging.Logger
}

// OpenAIOption is a functional option for OpenAIProvider.
type OpenAIOption func(*openAIConfig)

// WithBaseURL overrides the endpoint, e.g. "https://api.openai.com/v1".
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithAPIKey sets the bearer key. Local servers accept any value.
func WithAPIKey(key string) OpenAIOption {
	return func(c *openAIConfig) { c.apiKey = key }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *openAIConfig) { c.temperature = &t }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. It takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

// WithRateLimiter makes every call wait for a slot first.
func WithRateLimiter(l *RateLimiter) OpenAIOption {
	return func(c *openAIConfig) { c.limiter = l }
}

// WithUsageTracking toggles token usage and cost reporting.
func WithUsageTracking(on bool) OpenAIOption {
	return func(c *openAIConfig) { c.trackUsage = on }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) OpenAIOption {
	return func(c *openAIConfig) { c.log = log }
}

// WithName sets the provider name used in logs and errors.
func WithName(name string) OpenAIOption {
	return func(c *openAIConfig) { c.name = name }
}

// NewOpenAIProvider constructs a provider for model.
func NewOpenAIProvider(model string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if model == "" {
		model = DefaultModel
	}
	temp := DefaultTemperature
	cfg := &openAIConfig{
		name:        "openai",
		baseURL:     DefaultBaseURL,
		apiKey:      DefaultAPIKey,
		temperature: &temp,
		trackUsage:  true,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.log == nil {
		cfg.log = logging.New(nil, "silent")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.apiKey),
		option.WithBaseURL(cfg.baseURL),
		// Retrying here would hide 429s from the caller's error handling.
		option.WithMaxRetries(0),
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &OpenAIProvider{
		client:      oai.NewClient(reqOpts...),
		name:        cfg.name,
		model:       model,
		temperature: cfg.temperature,
		limiter:     cfg.limiter,
		trackUsage:  cfg.trackUsage,
		log:         cfg.log.Sub("llm"),
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		classified := p.classify(ctx, err)
		p.log.Warn().
			Str("provider", p.name).
			Str("model", p.model).
			Dur("duration", time.Since(start)).
			Err(classified).
			Msg("completion failed")
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, NewAPIError(p.name, 0, "empty choices in response", nil)
	}

	result := p.parseChoice(resp.Choices[0].Message.Content, resp.Choices[0].Message.ToolCalls, resp.Choices[0].FinishReason)
	result.Model = p.model
	if p.trackUsage && resp.Usage.TotalTokens > 0 {
		result.Usage = NewUsage(p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}

	ev := p.log.Debug().
		Str("model", p.model).
		Str("finish_reason", result.FinishReason).
		Int("tool_calls", len(result.ToolCalls)).
		Dur("duration", time.Since(start))
	if result.Usage != nil {
		ev = ev.Int64("total_tokens", result.Usage.TotalTokens)
	}
	ev.Msg("completion")

	return result, nil
}

// parseChoice turns the first choice into a CompletionResult.
func (p *OpenAIProvider) parseChoice(content string, calls []oai.ChatCompletionMessageToolCall, finish string) *CompletionResult {
	if len(calls) > 0 {
		parsed := make([]ToolCall, 0, len(calls))
		for _, tc := range calls {
			parsed = append(parsed, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: decodeArguments(tc.Function.Arguments),
			})
		}
		return &CompletionResult{
			FinishReason: FinishToolCalls,
			ToolCalls:    parsed,
			RawMessage: Message{
				Role:      RoleAssistant,
				Content:   content,
				ToolCalls: parsed,
			},
		}
	}

	if finish == "" || finish == FinishToolCalls {
		finish = FinishStop
	}
	return &CompletionResult{
		FinishReason: finish,
		Content:      &content,
		RawMessage:   AssistantMessage(content),
	}
}

// decodeArguments parses a tool call's argument string. Malformed JSON
// degrades to an empty mapping.
func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// buildParams converts messages and tools into SDK params.
func (p *OpenAIProvider) buildParams(messages []Message, tools []ToolDefinition) (oai.ChatCompletionNewParams, error) {
	wire := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		wire = append(wire, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: wire,
	}
	if p.temperature != nil {
		params.Temperature = param.NewOpt(*p.temperature)
	}

	// Some backends reject an empty tools array, so omit it entirely.
	for _, td := range tools {
		schema := td.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}
	return params, nil
}

// convertMessage converts a Message to an SDK message param.
func convertMessage(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case RoleUser:
		return oai.UserMessage(m.Content), nil

	case RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("encode arguments for %s: %w", tc.Name, err)
			}
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}

// classify maps SDK and transport failures onto the error taxonomy.
func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}

	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return NewRateLimitError(p.name, msg, err)
		}
		return NewAPIError(p.name, apiErr.StatusCode, msg, err)
	}

	// Dial failures, resets and deadlines all mean the endpoint is unusable.
	return NewConnectionError(p.name, "cannot reach "+p.model+" backend", err)
}
