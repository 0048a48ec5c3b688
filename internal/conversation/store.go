// Package conversation keeps per-conversation context between turns: the
// last resolved entity, the last intent and a bounded message history.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ziadkadry99/fingraph/internal/telemetry"
)

// Defaults for Options fields left zero.
const (
	DefaultHistoryTurns     = 10
	DefaultMaxConversations = 10000
	DefaultTTL              = time.Hour
)

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// State is the context carried from one turn to the next.
type State struct {
	LastEntityID string
	LastIntent   string
	History      []Message
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.History = append([]Message(nil), s.History...)
	return s
}

// Append adds messages, keeping only the newest max.
func (s *State) Append(max int, msgs ...Message) {
	s.History = append(s.History, msgs...)
	if max > 0 && len(s.History) > max {
		s.History = append([]Message(nil), s.History[len(s.History)-max:]...)
	}
}

// LastAssistant returns the most recent assistant message.
func (s State) LastAssistant() (string, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return s.History[i].Text, true
		}
	}
	return "", false
}

// Recent returns up to n of the newest messages.
func (s State) Recent(n int) []Message {
	if n <= 0 || len(s.History) <= n {
		return append([]Message(nil), s.History...)
	}
	return append([]Message(nil), s.History[len(s.History)-n:]...)
}

// Options configures a Store.
type Options struct {
	MaxConversations int
	TTL              time.Duration
	HistoryTurns     int
}

// Store holds conversation state in memory. Entries are evicted when the
// store is full (least recently used first) or after TTL without a write.
// Turns of one conversation are serialized through Acquire.
type Store struct {
	entries    *expirable.LRU[string, State]
	maxHistory int

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = DefaultMaxConversations
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	s := &Store{
		maxHistory: opts.HistoryTurns,
		locks:      make(map[string]*keyLock),
	}
	s.entries = expirable.NewLRU[string, State](opts.MaxConversations, func(string, State) {
		telemetry.ConversationsActive.Dec()
	}, opts.TTL)
	return s
}

// MaxHistory is the number of messages kept per conversation.
func (s *Store) MaxHistory() int { return s.maxHistory }

// Acquire blocks until the caller holds the lock for id or ctx is done.
// The returned function releases the lock.
func (s *Store) Acquire(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.unref(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.unref(id, l)
		})
	}, nil
}

func (s *Store) unref(id string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

// Get returns a copy of the state for id.
func (s *Store) Get(id string) (State, bool) {
	st, ok := s.entries.Get(id)
	if !ok {
		return State{}, false
	}
	return st.Clone(), true
}

// Put replaces the state for id, trimming history to the configured bound.
func (s *Store) Put(id string, st State) {
	st = st.Clone()
	if len(st.History) > s.maxHistory {
		st.History = st.History[len(st.History)-s.maxHistory:]
	}
	if !s.entries.Contains(id) {
		telemetry.ConversationsActive.Inc()
	}
	s.entries.Add(id, st)
}

// Delete forgets id.
func (s *Store) Delete(id string) {
	s.entries.Remove(id)
}

// Len returns the number of conversations held.
func (s *Store) Len() int {
	return s.entries.Len()
}
