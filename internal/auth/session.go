package auth

import (
	"net/http"
	"sync"
)

// SessionAuth provides session/cookie-based authentication.
type SessionAuth struct {
	mu      sync.RWMutex
	cookies []*http.Cookie
}

// NewSessionAuth creates a new session authentication provider.
func NewSessionAuth(cookies []*http.Cookie) *SessionAuth {
	return &SessionAuth{cookies: cookies}
}

// Headers returns no headers for session auth.
func (s *SessionAuth) Headers() map[string]string {
	return nil
}

// Cookies returns a copy of the session cookies.
func (s *SessionAuth) Cookies() []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*http.Cookie, len(s.cookies))
	copy(result, s.cookies)
	return result
}

// Type returns the authentication type.
func (s *SessionAuth) Type() AuthType {
	return AuthTypeSession
}

// AddCookie adds or replaces a cookie by name and domain.
func (s *SessionAuth) AddCookie(cookie *http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.cookies {
		if c.Name == cookie.Name && c.Domain == cookie.Domain {
			s.cookies[i] = cookie
			return
		}
	}

	s.cookies = append(s.cookies, cookie)
}

// GetCookie returns a specific cookie by name.
func (s *SessionAuth) GetCookie(name string) *http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
