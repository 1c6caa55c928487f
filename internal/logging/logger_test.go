package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lines decodes every JSON line written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Sub("server").Info().Msg("listening")
	assert.Contains(t, buf.String(), "listening")
	assert.Contains(t, buf.String(), "server")

	assert.NotNil(t, New(nil, "info"))
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").Sub("loop").With("conversation_id", "c-1")

	log.Debug().Int("iteration", 2).Msg("completion")
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "loop", got[0]["subsystem"])
	assert.Equal(t, "c-1", got[0]["conversation_id"])
	assert.Equal(t, float64(2), got[0]["iteration"])
	assert.Equal(t, "debug", got[0]["level"])
	assert.Contains(t, got[0], "time")
}

func TestSubChain(t *testing.T) {
	var buf bytes.Buffer
	NewJSON(&buf, "info").Sub("tools").Sub("weather").Info().Msg("x")
	assert.Contains(t, buf.String(), `"subsystem":"tools"`)
	assert.Contains(t, buf.String(), `"subsystem":"weather"`)
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"WARNING", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"silent", nil},
		{"bogus", []string{"info", "warn", "error"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewJSON(&buf, tt.level)
			log.Debug().Msg("debug")
			log.Info().Msg("info")
			log.Warn().Msg("warn")
			log.Error().Msg("error")

			var got []string
			for _, m := range lines(t, &buf) {
				got = append(got, m["message"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.Disabled, parseLevel("silent"))
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" Debug "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}

func TestKnownLevel(t *testing.T) {
	for _, l := range Levels {
		assert.True(t, KnownLevel(l), l)
	}
	assert.True(t, KnownLevel("INFO"))
	assert.False(t, KnownLevel("verbose"))
	assert.False(t, KnownLevel(""))
}

func TestForFormat(t *testing.T) {
	assert.NotNil(t, ForFormat("json", "info"))
	assert.NotNil(t, ForFormat("console", "info"))
	assert.NotNil(t, ForFormat("", "silent"))
}
