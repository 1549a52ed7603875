package output

import (
	"net/http"
	"time"
)

// Probe status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Probe error codes.
const (
	CodeLoad        = "load"
	CodeContentType = "content_type"
	CodeTimeout     = "timeout"
	CodeEnvironment = "environment"
	CodeCancelled   = "cancelled"
)

// Status closes the record stream of one probed page.
type Status struct {
	URL        string        `json:"url"`
	Status     string        `json:"status"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Partial    bool          `json:"partial,omitempty"`
	// Fallback is set when the requests come from a plain HTTP fetch of a
	// page the browser failed on.
	Fallback   bool          `json:"fallback,omitempty"`
	Redirect   string        `json:"redirect,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Requests   int           `json:"requests"`
	Duration   time.Duration `json:"duration"`
}

// OK reports whether the probe finished without error.
func (s *Status) OK() bool {
	return s.Status == StatusOK
}

// Cookie is the serialized form of a page cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httponly,omitempty"`
}

// CookiesFrom converts http cookies to records.
func CookiesFrom(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return out
}

// PageCookies are the cookies set when a page finished.
type PageCookies struct {
	URL     string   `json:"url"`
	Cookies []Cookie `json:"cookies"`
}

// WebSocketCheck is the handshake outcome of a reported websocket request.
type WebSocketCheck struct {
	URL         string   `json:"url"`
	Connected   bool     `json:"connected"`
	StatusCode  int      `json:"status_code,omitempty"`
	Subprotocol string   `json:"subprotocol,omitempty"`
	Samples     []string `json:"samples,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Stats contains crawl statistics.
type Stats struct {
	PagesProbed int            `json:"pages_probed"`
	PagesFailed int            `json:"pages_failed"`
	Requests    int            `json:"requests"`
	ByType      map[string]int `json:"by_type"`
	OutOfScope  int            `json:"out_of_scope"`
	Duration    time.Duration  `json:"duration"`
}

// Summary closes a crawl.
type Summary struct {
	Target      string    `json:"target"`
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Stats       Stats     `json:"stats"`
}
