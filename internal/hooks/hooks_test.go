package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatterbox/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func noop(context.Context, Payload) error { return nil }

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventTurnStart, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), Payload{Event: EventTurnStart, ConversationID: "c1", Data: map[string]any{"text": "hi"}})
	assert.Equal(t, EventTurnStart, got.Event)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "hi", got.Data["text"])
}

func TestManager_Emit_OrderAndErrors(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventTurnError, "failing", func(_ context.Context, _ Payload) error {
		order = append(order, "failing")
		return errors.New("handler broke")
	})
	m.On(EventTurnError, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), Payload{Event: EventTurnError})
	assert.Equal(t, []string{"failing", "second"}, order)
}

func TestManager_Emit_OnlyMatchingEvent(t *testing.T) {
	m := testManager()

	var calls int
	m.On(EventTurnComplete, "h", func(_ context.Context, _ Payload) error {
		calls++
		return nil
	})
	m.Emit(context.Background(), Payload{Event: EventTurnStart})
	assert.Zero(t, calls)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	m.Emit(context.Background(), Payload{Event: EventTurnStart})
	m.EmitAsync(context.Background(), Payload{Event: EventTurnStart})
	m.Wait()
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var removed, kept int
	m.On(EventServerStart, "remove-me", func(_ context.Context, _ Payload) error {
		removed++
		return nil
	})
	m.On(EventServerStart, "keep-me", func(_ context.Context, _ Payload) error {
		kept++
		return nil
	})

	m.Off(EventServerStart, "remove-me")
	m.Emit(context.Background(), Payload{Event: EventServerStart})
	assert.Zero(t, removed)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, m.Count(EventServerStart))
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	for _, name := range []string{"async1", "async2"} {
		m.On(EventTurnComplete, name, func(_ context.Context, _ Payload) error {
			count.Add(1)
			return nil
		})
	}

	m.EmitAsync(context.Background(), Payload{Event: EventTurnComplete})
	m.Wait()
	assert.Equal(t, int32(2), count.Load())
}

func TestManager_CountAndEvents(t *testing.T) {
	m := testManager()
	assert.Zero(t, m.Count(EventServerStart))

	m.On(EventServerStart, "h1", noop)
	m.On(EventHistoryCleared, "h2", noop)

	assert.Equal(t, 1, m.Count(EventServerStart))
	events := m.Events()
	assert.Len(t, events, 2)
	assert.Contains(t, events, EventServerStart)
	assert.Contains(t, events, EventHistoryCleared)
}

func TestAllEvents(t *testing.T) {
	require.Len(t, AllEvents, 6)
	assert.Contains(t, AllEvents, EventTurnStart)
	assert.Contains(t, AllEvents, EventServerStop)
}
