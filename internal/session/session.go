// Package session keeps the per-upload conversation history: a bounded log
// of question/answer exchanges, trimmed to the most recent entries after
// every append.
package session

import (
	"sync"
	"time"
)

// Exchange is one question and its outcome.
type Exchange struct {
	Question string    `json:"question"`
	Answer   any       `json:"answer"`
	OK       bool      `json:"ok"`
	AskedAt  time.Time `json:"asked_at"`
}

// Store is the session history abstraction. Appends for the same key must be
// serialized by implementations.
type Store interface {
	Get(key string) []Exchange
	Append(key string, exchange Exchange)
	Clear(key string)
}

// MemoryStore is the in-process store. A single mutex guards the map; the
// per-key window stays small so contention is not a concern.
type MemoryStore struct {
	mu    sync.Mutex
	limit int
	logs  map[string][]Exchange
}

// NewMemoryStore builds a store trimming each session to limit exchanges.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 10
	}
	return &MemoryStore{limit: limit, logs: make(map[string][]Exchange)}
}

// Get returns a copy of the session's history, oldest first.
func (s *MemoryStore) Get(key string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[key]
	out := make([]Exchange, len(log))
	copy(out, log)
	return out
}

// Append records an exchange and trims the window.
func (s *MemoryStore) Append(key string, exchange Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.logs[key], exchange)
	if len(log) > s.limit {
		trimmed := make([]Exchange, s.limit)
		copy(trimmed, log[len(log)-s.limit:])
		log = trimmed
	}
	s.logs[key] = log
}

// Clear drops a session's history.
func (s *MemoryStore) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, key)
}
