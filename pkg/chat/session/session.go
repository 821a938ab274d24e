// Package session holds the live conversational state for one websocket
// connection and the orchestrator that turns an inbound user message into
// an ordered stream of reply envelopes.
package session

import (
	"sync"
	"time"

	"github.com/kindred-labs/kin/pkg/chat/protocol"
)

// DefaultHistoryWindow is how many recent turns feed prompt context.
const DefaultHistoryWindow = 6

// Turn is one completed question/reply pair. Immutable once appended.
type Turn struct {
	ID        string
	Question  string
	Reply     string
	Emotion   string
	CreatedAt time.Time
}

// Session is the per-connection conversational state. It is created by the
// Registry and mutated only by the orchestrator handling its turns.
type Session struct {
	ID string

	mu           sync.Mutex
	responseMode protocol.ResponseMode
	mode         protocol.ConversationMode
	history      []Turn
	window       int
	lastActivity time.Time
}

func newSession(id string, window int) *Session {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Session{
		ID:           id,
		responseMode: protocol.ResponseModeBoth,
		mode:         protocol.ModeNeutral,
		window:       window,
		lastActivity: time.Now(),
	}
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Modes returns the session's current response and conversation modes.
func (s *Session) Modes() (protocol.ResponseMode, protocol.ConversationMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseMode, s.mode
}

// SetResponseMode applies a valid mode and reports whether it was accepted.
// Invalid values leave the previous mode in place.
func (s *Session) SetResponseMode(m protocol.ResponseMode) bool {
	if !m.Valid() {
		return false
	}
	s.mu.Lock()
	s.responseMode = m
	s.mu.Unlock()
	return true
}

// SetMode applies a valid conversation mode and reports whether it was
// accepted. Invalid values leave the previous mode in place.
func (s *Session) SetMode(m protocol.ConversationMode) bool {
	if !m.Valid() {
		return false
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	return true
}

// AppendTurn adds a completed turn, evicting the oldest once the window is
// full.
func (s *Session) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	if len(s.history) > s.window {
		s.history = s.history[len(s.history)-s.window:]
	}
}

// RecentTurns returns the window in chronological order, oldest first, the
// order prompt assembly wants.
func (s *Session) RecentTurns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}
