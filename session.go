package muatan

import "sync"

// Session is the single shared mutable resource of the client core: the
// authorization state. It is created at session start, written on login and
// logout, cleared by the pipeline when a call comes back 401, and read-only
// everywhere else. Passing distinct instances to distinct clients keeps tests
// isolated.
type Session struct {
	mu        sync.RWMutex
	token     string
	tokenType string
	onClear   func()
}

// NewSession returns an unauthenticated session using the Bearer token type.
func NewSession() *Session {
	return &Session{tokenType: "Bearer"}
}

// SetToken stores the auth token (login).
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// SetTokenType overrides the Authorization scheme, default "Bearer".
func (s *Session) SetTokenType(tokenType string) {
	s.mu.Lock()
	s.tokenType = tokenType
	s.mu.Unlock()
}

// Clear drops the token (logout). The on-clear hook, if any, runs after the
// token is gone so observers always read the cleared state.
func (s *Session) Clear() {
	s.mu.Lock()
	cleared := s.token != ""
	s.token = ""
	hook := s.onClear
	s.mu.Unlock()

	if cleared && hook != nil {
		hook()
	}
}

// OnClear registers a hook invoked whenever a non-empty token is cleared,
// including the pipeline's own 401-triggered clear. UI layers use it to
// redirect to login.
func (s *Session) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = fn
	s.mu.Unlock()
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Authorization returns the header value "<type> <token>", false when
// unauthenticated.
func (s *Session) Authorization() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	return s.tokenType + " " + s.token, true
}
