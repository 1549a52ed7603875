package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BearerAuth sends a bearer token. When the token is a JWT its expiry is
// decoded so callers can warn before probing with a stale token.
type BearerAuth struct {
	token  string
	expiry time.Time
}

// NewBearerAuth creates a new bearer token provider.
func NewBearerAuth(token string) *BearerAuth {
	b := &BearerAuth{token: token}
	if exp, err := parseExpiry(token); err == nil {
		b.expiry = exp
	}
	return b
}

// Headers returns the Authorization header.
func (b *BearerAuth) Headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.token}
}

// Cookies returns no cookies for bearer auth.
func (b *BearerAuth) Cookies() []*http.Cookie {
	return nil
}

// Type returns the authentication type.
func (b *BearerAuth) Type() AuthType {
	return AuthTypeBearer
}

// Expiry returns the JWT expiry, or the zero time for opaque tokens.
func (b *BearerAuth) Expiry() time.Time {
	return b.expiry
}

// Expired reports whether the token is a JWT past its expiry.
func (b *BearerAuth) Expired() bool {
	return !b.expiry.IsZero() && time.Now().After(b.expiry)
}

// parseExpiry extracts the expiration time from a JWT.
func parseExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid JWT format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, err
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}

	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}

	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}

	return time.Unix(claims.Exp, 0), nil
}
