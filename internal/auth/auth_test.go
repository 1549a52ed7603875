package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/browser"
)

func makeJWT(exp int64) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"u","exp":%d}`, exp)))
	return header + "." + payload + ".sig"
}

// =============================================================================
// Provider Tests
// =============================================================================

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		wantType AuthType
		wantErr  bool
	}{
		{"empty", Credentials{}, AuthTypeNone, false},
		{"none with cookies", Credentials{Cookies: []*http.Cookie{{Name: "a", Value: "1"}}}, AuthTypeSession, false},
		{"session", Credentials{Type: AuthTypeSession}, AuthTypeSession, false},
		{"bearer", Credentials{Type: AuthTypeBearer, Token: "t"}, AuthTypeBearer, false},
		{"bearer without token", Credentials{Type: AuthTypeBearer}, "", true},
		{"apikey", Credentials{Type: AuthTypeAPIKey, HeaderName: "X-Key", Token: "k"}, AuthTypeAPIKey, false},
		{"apikey without header", Credentials{Type: AuthTypeAPIKey, Token: "k"}, "", true},
		{"basic", Credentials{Type: AuthTypeBasic, Username: "u", Password: "p"}, AuthTypeBasic, false},
		{"basic without user", Credentials{Type: AuthTypeBasic}, "", true},
		{"unknown", Credentials{Type: "oauth"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.creds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Type() != tt.wantType {
				t.Errorf("Type() = %q, want %q", p.Type(), tt.wantType)
			}
		})
	}
}

func TestApply(t *testing.T) {
	t.Run("bearer keeps explicit header", func(t *testing.T) {
		target := browser.Target{URL: "http://x/", Headers: map[string]string{"Authorization": "Custom"}}
		Apply(NewBearerAuth("tok"), &target)
		if target.Headers["Authorization"] != "Custom" {
			t.Errorf("Authorization = %q", target.Headers["Authorization"])
		}
	})

	t.Run("apikey", func(t *testing.T) {
		target := browser.Target{URL: "http://x/"}
		Apply(NewAPIKeyAuth("X-Key", "k"), &target)
		if target.Headers["X-Key"] != "k" {
			t.Errorf("headers = %v", target.Headers)
		}
	})

	t.Run("basic", func(t *testing.T) {
		target := browser.Target{URL: "http://x/"}
		Apply(NewBasicAuth("admin", "secret"), &target)
		if target.Username != "admin" || target.Password != "secret" {
			t.Errorf("target = %+v", target)
		}
		if target.RequestHeaders()["Authorization"] != "Basic YWRtaW46c2VjcmV0" {
			t.Error("basic credentials should reach the request headers")
		}
	})

	t.Run("session appends cookies", func(t *testing.T) {
		target := browser.Target{URL: "http://x/", Cookies: []*http.Cookie{{Name: "a", Value: "1"}}}
		Apply(NewSessionAuth([]*http.Cookie{{Name: "b", Value: "2"}}), &target)
		if len(target.Cookies) != 2 || target.Cookies[1].Name != "b" {
			t.Errorf("cookies = %v", target.Cookies)
		}
	})

	t.Run("none", func(t *testing.T) {
		target := browser.Target{URL: "http://x/"}
		Apply(NoAuth{}, &target)
		if target.Headers != nil || target.Cookies != nil {
			t.Errorf("target = %+v", target)
		}
	})
}

func TestParseCookieHeader(t *testing.T) {
	got := ParseCookieHeader("sid=abc; lang=en;; bad ; empty=")
	if len(got) != 3 {
		t.Fatalf("cookies = %d, want 3", len(got))
	}
	if got[0].Name != "sid" || got[0].Value != "abc" || got[2].Name != "empty" || got[2].Value != "" {
		t.Errorf("cookies = %v", got)
	}
}

// =============================================================================
// SessionAuth Tests
// =============================================================================

func TestSessionAuth_AddCookie(t *testing.T) {
	s := NewSessionAuth(nil)
	s.AddCookie(&http.Cookie{Name: "sid", Value: "1", Domain: "x"})
	s.AddCookie(&http.Cookie{Name: "sid", Value: "2", Domain: "x"})
	s.AddCookie(&http.Cookie{Name: "sid", Value: "3", Domain: "y"})

	if got := s.Cookies(); len(got) != 2 {
		t.Fatalf("cookies = %d, want 2", len(got))
	}
	if c := s.GetCookie("sid"); c == nil || c.Value != "2" {
		t.Errorf("GetCookie() = %v", c)
	}
	if s.GetCookie("missing") != nil {
		t.Error("GetCookie(missing) should be nil")
	}
}

func TestSessionAuth_CookiesCopy(t *testing.T) {
	s := NewSessionAuth([]*http.Cookie{{Name: "a", Value: "1"}})
	got := s.Cookies()
	got[0] = &http.Cookie{Name: "changed"}
	if s.Cookies()[0].Name != "a" {
		t.Error("Cookies() must return a copy")
	}
}

func TestSessionAuth_Concurrent(t *testing.T) {
	s := NewSessionAuth(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddCookie(&http.Cookie{Name: fmt.Sprintf("c%d", i), Value: "v"})
			_ = s.Cookies()
		}(i)
	}
	wg.Wait()
	if len(s.Cookies()) != 20 {
		t.Errorf("cookies = %d, want 20", len(s.Cookies()))
	}
}

// =============================================================================
// BearerAuth Tests
// =============================================================================

func TestBearerAuth_Headers(t *testing.T) {
	b := NewBearerAuth("opaque")
	if b.Headers()["Authorization"] != "Bearer opaque" {
		t.Errorf("headers = %v", b.Headers())
	}
	if !b.Expiry().IsZero() || b.Expired() {
		t.Error("opaque tokens have no expiry")
	}
}

func TestBearerAuth_Expiry(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	b := NewBearerAuth(makeJWT(future))
	if b.Expiry().Unix() != future || b.Expired() {
		t.Errorf("expiry = %v, expired = %v", b.Expiry(), b.Expired())
	}

	past := NewBearerAuth(makeJWT(time.Now().Add(-time.Hour).Unix()))
	if !past.Expired() {
		t.Error("token past its exp claim should be expired")
	}
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", makeJWT(1700000000), false},
		{"two parts", "a.b", true},
		{"bad payload", "a.!!!.c", true},
		{"no exp", "a." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u"}`)) + ".c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseExpiry(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseExpiry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
