// Package auth passes user-supplied credentials through to probed pages.
// It never performs a login flow; credentials become request headers,
// cookies or basic-auth fields on the browser target.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PentesterFlow/PageProbe/internal/browser"
)

// AuthType represents the type of authentication.
type AuthType string

const (
	AuthTypeNone    AuthType = "none"
	AuthTypeSession AuthType = "session"
	AuthTypeBearer  AuthType = "bearer"
	AuthTypeAPIKey  AuthType = "apikey"
	AuthTypeBasic   AuthType = "basic"
)

// Credentials holds authentication credentials.
type Credentials struct {
	Type       AuthType       `json:"type" yaml:"type"`
	Username   string         `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string         `json:"password,omitempty" yaml:"password,omitempty"`
	Token      string         `json:"token,omitempty" yaml:"token,omitempty"`
	HeaderName string         `json:"header_name,omitempty" yaml:"header_name,omitempty"`
	Cookies    []*http.Cookie `json:"-" yaml:"-"`
}

// Provider supplies the credentials attached to every probed page.
type Provider interface {
	// Headers returns headers to include in requests.
	Headers() map[string]string
	// Cookies returns cookies to include in requests.
	Cookies() []*http.Cookie
	// Type returns the authentication type.
	Type() AuthType
}

// NewProvider creates a provider for creds.
func NewProvider(creds Credentials) (Provider, error) {
	switch creds.Type {
	case AuthTypeNone, "":
		if len(creds.Cookies) > 0 {
			return NewSessionAuth(creds.Cookies), nil
		}
		return NoAuth{}, nil
	case AuthTypeSession:
		return NewSessionAuth(creds.Cookies), nil
	case AuthTypeBearer:
		if creds.Token == "" {
			return nil, fmt.Errorf("bearer auth requires a token")
		}
		return NewBearerAuth(creds.Token), nil
	case AuthTypeAPIKey:
		if creds.HeaderName == "" || creds.Token == "" {
			return nil, fmt.Errorf("api key auth requires a header name and a key")
		}
		return NewAPIKeyAuth(creds.HeaderName, creds.Token), nil
	case AuthTypeBasic:
		if creds.Username == "" {
			return nil, fmt.Errorf("basic auth requires a username")
		}
		return NewBasicAuth(creds.Username, creds.Password), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", creds.Type)
	}
}

// Apply attaches the provider's credentials to target. Headers already on
// the target win.
func Apply(p Provider, target *browser.Target) {
	if b, ok := p.(*BasicAuth); ok {
		target.Username, target.Password = b.username, b.password
	}

	if h := p.Headers(); len(h) > 0 {
		if target.Headers == nil {
			target.Headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			if _, ok := target.Headers[k]; !ok {
				target.Headers[k] = v
			}
		}
	}

	target.Cookies = append(target.Cookies, p.Cookies()...)
}

// ParseCookieHeader parses a "name=value; name2=value2" string.
func ParseCookieHeader(header string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (NoAuth) Headers() map[string]string { return nil }
func (NoAuth) Cookies() []*http.Cookie    { return nil }
func (NoAuth) Type() AuthType             { return AuthTypeNone }

// APIKeyAuth sends a key in a named header.
type APIKeyAuth struct {
	header string
	key    string
}

// NewAPIKeyAuth creates an API key provider.
func NewAPIKeyAuth(header, key string) *APIKeyAuth {
	return &APIKeyAuth{header: header, key: key}
}

func (a *APIKeyAuth) Headers() map[string]string { return map[string]string{a.header: a.key} }
func (a *APIKeyAuth) Cookies() []*http.Cookie    { return nil }
func (a *APIKeyAuth) Type() AuthType             { return AuthTypeAPIKey }

// BasicAuth passes a username and password to the browser, which answers
// basic-auth challenges with them.
type BasicAuth struct {
	username string
	password string
}

// NewBasicAuth creates a basic auth provider.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{username: username, password: password}
}

// Headers is empty; the browser target derives the Authorization header.
func (b *BasicAuth) Headers() map[string]string { return nil }
func (b *BasicAuth) Cookies() []*http.Cookie    { return nil }
func (b *BasicAuth) Type() AuthType             { return AuthTypeBasic }
