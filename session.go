package pgagent

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMaxTurns bounds each session's history.
	DefaultMaxTurns = 20
	// DefaultMaxSessions bounds the number of live sessions.
	DefaultMaxSessions = 1000
)

// ErrUnpairedTurns is returned by SessionStore.Append when turns do not form
// user/assistant pairs.
var ErrUnpairedTurns = errors.New("pgagent: turns must be appended as user/assistant pairs")

// session is one conversation's history. mu guards turns.
type session struct {
	mu    sync.Mutex
	turns []Turn
}

// SessionStore keeps a bounded, ordered turn history per session id. The set
// of sessions is an LRU: when a new session would exceed the cap, the least
// recently used one is dropped. Safe for concurrent use.
type SessionStore struct {
	sessions *lru.Cache[string, *session]
	maxTurns int
}

// SessionOption configures a SessionStore.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	maxTurns    int
	maxSessions int
}

// WithMaxTurns sets the per-session history bound. Odd values are rounded up
// so a user/assistant pair is never split by trimming. Minimum 2.
func WithMaxTurns(n int) SessionOption {
	return func(c *sessionConfig) { c.maxTurns = n }
}

// WithMaxSessions sets the LRU capacity. Default 1000.
func WithMaxSessions(n int) SessionOption {
	return func(c *sessionConfig) { c.maxSessions = n }
}

func NewSessionStore(opts ...SessionOption) *SessionStore {
	cfg := sessionConfig{maxTurns: DefaultMaxTurns, maxSessions: DefaultMaxSessions}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxTurns < 2 {
		cfg.maxTurns = 2
	}
	if cfg.maxTurns%2 != 0 {
		cfg.maxTurns++
	}
	if cfg.maxSessions <= 0 {
		cfg.maxSessions = DefaultMaxSessions
	}
	c, err := lru.New[string, *session](cfg.maxSessions)
	if err != nil {
		// only reachable with a non-positive size, excluded above
		panic(fmt.Sprintf("pgagent: session cache: %v", err))
	}
	return &SessionStore{sessions: c, maxTurns: cfg.maxTurns}
}

// MaxTurns returns the effective per-session bound.
func (s *SessionStore) MaxTurns() int { return s.maxTurns }

// GetOrCreate returns a copy of the session's history, creating an empty
// session if none exists.
func (s *SessionStore) GetOrCreate(id string) []Turn {
	return s.get(id).snapshot()
}

// History returns a copy of the session's history. Unknown ids yield nil
// without creating a session.
func (s *SessionStore) History(id string) []Turn {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil
	}
	return sess.snapshot()
}

// Append adds turns to the session and trims to the bound. turns must be a
// sequence of user/assistant pairs.
func (s *SessionStore) Append(id string, turns ...Turn) error {
	if len(turns)%2 != 0 {
		return ErrUnpairedTurns
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != RoleUser || turns[i+1].Role != RoleAssistant {
			return ErrUnpairedTurns
		}
	}
	s.get(id).append(s.maxTurns, turns...)
	return nil
}

// AppendExchange appends one user message and its reply as a pair.
func (s *SessionStore) AppendExchange(id, user, reply string) {
	s.get(id).append(s.maxTurns,
		Turn{Role: RoleUser, Content: user},
		Turn{Role: RoleAssistant, Content: reply},
	)
}

// Clear removes the session. Clearing an unknown id is a no-op.
func (s *SessionStore) Clear(id string) {
	s.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	return s.sessions.Len()
}

func (s *SessionStore) get(id string) *session {
	if sess, ok := s.sessions.Get(id); ok {
		return sess
	}
	fresh := &session{}
	// PeekOrAdd keeps the session a concurrent caller may have created first.
	if prev, ok, _ := s.sessions.PeekOrAdd(id, fresh); ok {
		s.sessions.Get(id)
		return prev
	}
	return fresh
}

func (ss *session) snapshot() []Turn {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]Turn, len(ss.turns))
	copy(out, ss.turns)
	return out
}

func (ss *session) append(maxTurns int, turns ...Turn) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.turns = append(ss.turns, turns...)
	if over := len(ss.turns) - maxTurns; over > 0 {
		// copy into a fresh slice so the dropped prefix can be collected
		kept := make([]Turn, maxTurns)
		copy(kept, ss.turns[over:])
		ss.turns = kept
	}
}
