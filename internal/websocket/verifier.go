// Package websocket verifies websocket endpoints discovered while probing.
package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures a Verifier.
type Config struct {
	HandshakeTimeout time.Duration
	// ReadWindow is how long to wait for server frames after connecting.
	// Zero skips reading.
	ReadWindow   time.Duration
	MaxMessages  int
	Headers      map[string]string
	Subprotocols []string
}

// DefaultConfig returns the default verifier configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadWindow:       2 * time.Second,
		MaxMessages:      5,
	}
}

// Verifier dials each websocket endpoint once and records the handshake.
type Verifier struct {
	mu      sync.RWMutex
	config  Config
	dialer  *websocket.Dialer
	headers http.Header
	checked map[string]*entry
}

type entry struct {
	done  chan struct{}
	check *Check
}

// NewVerifier creates a new verifier.
func NewVerifier(cfg Config) *Verifier {
	headers := make(http.Header)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	return &Verifier{
		config: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     cfg.Subprotocols,
		},
		headers: headers,
		checked: make(map[string]*entry),
	}
}

// SetCookies sets cookies sent with every handshake.
func (v *Verifier) SetCookies(cookies []*http.Cookie) {
	v.mu.Lock()
	defer v.mu.Unlock()

	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}

	if len(parts) > 0 {
		v.headers.Set("Cookie", strings.Join(parts, "; "))
	}
}

// Verify dials wsURL, discovered on sourceURL. Endpoints are dialed once;
// later calls wait for and return the first check. The second result
// reports whether this call performed the dial.
func (v *Verifier) Verify(ctx context.Context, wsURL, sourceURL string) (*Check, bool) {
	v.mu.Lock()
	if e, ok := v.checked[wsURL]; ok {
		v.mu.Unlock()
		select {
		case <-e.done:
			return e.check, false
		case <-ctx.Done():
			return &Check{URL: wsURL, Source: sourceURL, Err: ctx.Err()}, false
		}
	}
	e := &entry{done: make(chan struct{}), check: &Check{URL: wsURL, Source: sourceURL, CheckedAt: time.Now()}}
	v.checked[wsURL] = e
	headers := v.headers.Clone()
	v.mu.Unlock()

	defer close(e.done)
	v.dial(ctx, e.check, headers)
	return e.check, true
}

func (v *Verifier) dial(ctx context.Context, check *Check, headers http.Header) {
	target, err := dialURL(check.URL)
	if err != nil {
		check.Err = err
		return
	}
	if origin := originOf(check.Source); origin != "" && headers.Get("Origin") == "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := v.dialer.DialContext(ctx, target, headers)
	if resp != nil {
		check.StatusCode = resp.StatusCode
	}
	if err != nil {
		check.Err = err
		return
	}
	defer conn.Close()

	check.Connected = true
	check.Subprotocol = conn.Subprotocol()
	check.Messages = v.read(ctx, conn)
}

// read collects frames until the window closes, the cap is reached or the
// server hangs up.
func (v *Verifier) read(ctx context.Context, conn *websocket.Conn) []Message {
	if v.config.ReadWindow <= 0 || v.config.MaxMessages <= 0 {
		return nil
	}

	deadline := time.Now().Add(v.config.ReadWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var msgs []Message
	for len(msgs) < v.config.MaxMessages {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msgs = append(msgs, Message{
			Type:      frameType(mt),
			Data:      string(data),
			Timestamp: time.Now(),
		})
	}
	return msgs
}

func frameType(mt int) string {
	switch mt {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	}
	return "unknown"
}

// dialURL maps http(s) URLs to their websocket scheme.
func dialURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	default:
		parsed.Scheme = "wss"
	}
	return parsed.String(), nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Checks returns every completed check.
func (v *Verifier) Checks() []*Check {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]*Check, 0, len(v.checked))
	for _, e := range v.checked {
		select {
		case <-e.done:
			out = append(out, e.check)
		default:
		}
	}
	return out
}

// Count returns the number of verified endpoints.
func (v *Verifier) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.checked)
}
