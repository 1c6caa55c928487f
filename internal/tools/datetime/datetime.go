// Package datetime implements the get_current_datetime tool.
package datetime

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for minimal containers

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
)

// ToolName is the name the LLM calls the tool by.
const ToolName = "get_current_datetime"

const isoLayout = "2006-01-02T15:04:05-07:00"

// Result is the tool output. Error is set only when the requested timezone
// was unknown and UTC was used instead.
type Result struct {
	DatetimeISO   string `json:"datetime_iso"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Timezone      string `json:"timezone"`
	DayOfWeek     string `json:"day_of_week"`
	UnixTimestamp int64  `json:"unix_timestamp"`
	Error         string `json:"error,omitempty"`
}

// Tool reports the current date and time.
type Tool struct {
	now func() time.Time
	log *logging.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) { t.now = now }
}

// New creates the datetime tool.
func New(log *logging.Logger, opts ...Option) *Tool {
	t := &Tool{now: time.Now, log: log.Sub("datetime")}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Definition implements tools.Tool.
func (t *Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: ToolName,
		Description: "Get the current date and time. " +
			"Returns the date, time, day of the week, and Unix timestamp. " +
			"Optionally accepts an IANA timezone name such as " +
			"'America/New_York' or 'Europe/London'; defaults to UTC.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type": "string",
					"description": "IANA timezone name, e.g. 'America/Chicago', " +
						"'Europe/Paris', 'Asia/Tokyo'. Omit or leave empty for UTC.",
				},
			},
			"required": []any{},
		},
	}
}

// Execute implements tools.Tool.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["timezone"].(string)
	return tools.JSONResult(t.Now(name)), nil
}

// Now returns the current time in the named zone. An empty name means UTC;
// an unknown name falls back to UTC with Error set.
func (t *Tool) Now(zone string) Result {
	loc, warning := t.resolve(strings.TrimSpace(zone))
	now := t.now().In(loc)
	return Result{
		DatetimeISO:   now.Format(isoLayout),
		Date:          now.Format(time.DateOnly),
		Time:          now.Format(time.TimeOnly),
		Timezone:      loc.String(),
		DayOfWeek:     now.Weekday().String(),
		UnixTimestamp: now.Unix(),
		Error:         warning,
	}
}

func (t *Tool) resolve(zone string) (*time.Location, string) {
	if zone == "" {
		return time.UTC, ""
	}
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "Local" {
		t.log.Warn().Str("timezone", zone).Msg("unknown timezone, falling back to UTC")
		return time.UTC, fmt.Sprintf("Unknown timezone '%s'; showing UTC instead.", zone)
	}
	return loc, ""
}
