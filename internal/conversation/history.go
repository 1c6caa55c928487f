package conversation

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/chatterbox/internal/llm"
)

// HistoryStore persists the messages of completed turns per conversation.
// store.SQLiteHistoryStore implements it for durable sessions.
type HistoryStore interface {
	// Load returns a conversation's messages. Unknown ids have none.
	Load(ctx context.Context, conversationID string) ([]llm.Message, error)

	// Append adds messages to a conversation, creating it if needed.
	Append(ctx context.Context, conversationID string, msgs ...llm.Message) error

	// Delete removes a conversation. Unknown ids are not an error.
	Delete(ctx context.Context, conversationID string) error

	// DeleteAll removes every conversation.
	DeleteAll(ctx context.Context) error

	// Count returns the number of stored conversations.
	Count(ctx context.Context) (int, error)
}

// MemoryHistoryStore is an in-process HistoryStore.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]llm.Message
}

// NewMemoryHistoryStore creates an empty in-memory store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{sessions: make(map[string][]llm.Message)}
}

// Load implements HistoryStore. The returned slice is a copy.
func (s *MemoryHistoryStore) Load(_ context.Context, conversationID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions[conversationID]), nil
}

// Append implements HistoryStore.
func (s *MemoryHistoryStore) Append(_ context.Context, conversationID string, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[conversationID] = append(s.sessions[conversationID], msgs...)
	return nil
}

// Delete implements HistoryStore.
func (s *MemoryHistoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return nil
}

// DeleteAll implements HistoryStore.
func (s *MemoryHistoryStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
	return nil
}

// Count implements HistoryStore.
func (s *MemoryHistoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Truncate keeps the most recent maxTurns turns (two messages each).
// maxTurns of zero or less keeps everything. The input is not modified.
func Truncate(history []llm.Message, maxTurns int) []llm.Message {
	if maxTurns <= 0 || len(history) <= maxTurns*2 {
		return history
	}
	return history[len(history)-maxTurns*2:]
}

// sessionLocks serializes turns per conversation id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is a one-slot semaphore, so waiters can give up.
type sessionLock struct {
	slot chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock waits for the turn slot of id and returns its release func. It
// gives up with ctx.Err() when ctx ends first.
func (s *sessionLocks) lock(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{slot: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
		return func() {
			<-l.slot
			s.drop(id, l)
		}, nil
	case <-ctx.Done():
		s.drop(id, l)
		return nil, ctx.Err()
	}
}

func (s *sessionLocks) drop(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}
