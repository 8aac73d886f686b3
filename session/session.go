// Package session carries the chat session through a context.Context.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Header is the HTTP header a client uses to continue an existing session.
const Header = "X-Session-ID"

// sessionKey is the private key type used for context.WithValue.
type sessionKey struct{}

// Session identifies one conversation and records how its latest answer
// was produced.
type Session struct {
	id string

	mu       sync.RWMutex
	strategy string
}

// New creates a session. An empty id gets a fresh random one.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{id: id}
}

// ID returns the session ID.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// SetStrategy records the generation strategy that produced the latest answer.
func (s *Session) SetStrategy(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = name
}

// Strategy returns the strategy recorded by SetStrategy, or "".
func (s *Session) Strategy() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

// WithContext returns a copy of ctx carrying s.
func (s *Session) WithContext(ctx context.Context) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext extracts the session from ctx, reporting false when there is none.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// ID returns the session ID stored in ctx, or "" when there is none.
func ID(ctx context.Context) string {
	s, _ := FromContext(ctx)
	return s.ID()
}
