package llm

// modelPrice is USD per 1,000 tokens.
type modelPrice struct {
	prompt     float64
	completion float64
}

// modelPrices holds list prices for well-known hosted models. Local models
// (Ollama and friends) are free and deliberately absent.
var modelPrices = map[string]modelPrice{
	"gpt-4o":                     {0.005, 0.015},
	"gpt-4o-mini":                {0.000150, 0.000600},
	"gpt-4-turbo":                {0.010, 0.030},
	"gpt-4":                      {0.030, 0.060},
	"gpt-3.5-turbo":              {0.0005, 0.0015},
	"claude-3-5-haiku-20241022":  {0.001, 0.005},
	"claude-3-5-sonnet-20241022": {0.003, 0.015},
	"claude-3-opus-20240229":     {0.015, 0.075},
	"claude-haiku-4-5-20251001":  {0.001, 0.005},
	"claude-sonnet-4-5":          {0.003, 0.015},
	"claude-opus-4-6":            {0.015, 0.075},
	"claude-sonnet-4-6":          {0.003, 0.015},
}

// EstimateCost returns the USD cost of a call, or nil when the model has no
// known price.
func EstimateCost(model string, promptTokens, completionTokens int64) *float64 {
	p, ok := modelPrices[model]
	if !ok {
		return nil
	}
	cost := float64(promptTokens)/1000*p.prompt + float64(completionTokens)/1000*p.completion
	return &cost
}

// NewUsage builds a Usage record and attaches a cost estimate when possible.
func NewUsage(model string, prompt, completion, total int64) *Usage {
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
		EstimatedCostUSD: EstimateCost(model, prompt, completion),
	}
}
