// Package request holds the model of observed network-capable actions and
// the crawl-wide reporter that deduplicates them.
package request

import (
	"encoding/json"
	"net/url"
	"strings"

	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
)

// Type is the kind of action that produced a request.
type Type string

const (
	TypeXHR       Type = "xhr"
	TypeForm      Type = "form"
	TypeLink      Type = "link"
	TypeJSONP     Type = "jsonp"
	TypeWebSocket Type = "websocket"
	TypeRedirect  Type = "redirect"
)

// Valid reports whether t is a known request type.
func (t Type) Valid() bool {
	switch t {
	case TypeXHR, TypeForm, TypeLink, TypeJSONP, TypeWebSocket, TypeRedirect:
		return true
	}
	return false
}

var allowedSchemes = map[string]struct{}{
	"http":       {},
	"https":      {},
	"ftp":        {},
	"sftp":       {},
	"javascript": {},
}

const jsScheme = "javascript:"

var socketSchemes = map[string]struct{}{
	"ws":  {},
	"wss": {},
}

// Trigger is a snapshot of the page event that was being dispatched when
// a request originated.
type Trigger struct {
	Element string `json:"element"`
	Event   string `json:"event"`
}

// String implements fmt.Stringer.
func (t *Trigger) String() string {
	if t == nil {
		return ""
	}
	return t.Element + " " + t.Event
}

// Request is an immutable description of an observed request.
type Request struct {
	Type    Type     `json:"type"`
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Data    string   `json:"data,omitempty"`
	Trigger *Trigger `json:"trigger,omitempty"`

	// OutOfScope is set by the crawl driver for requests it will not follow.
	OutOfScope bool `json:"out_of_scope,omitempty"`
}

// New builds a request, resolving rawURL against base. It fails with an
// InvalidURL error when the URL cannot be parsed or uses a scheme outside
// the allowed set.
func New(t Type, method, rawURL, base, data string) (*Request, error) {
	abs, err := Normalize(t, rawURL, base)
	if err != nil {
		return nil, err
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}

	return &Request{
		Type:   t,
		Method: method,
		URL:    abs,
		Data:   data,
	}, nil
}

// Normalize returns rawURL as an absolute URL.
func Normalize(t Type, rawURL, base string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", perrors.NewInvalidURLError(rawURL, "empty url")
	}

	// url.Parse would split '?' and '#' out of the script body.
	if len(rawURL) >= len(jsScheme) && strings.EqualFold(rawURL[:len(jsScheme)], jsScheme) {
		return jsScheme + rawURL[len(jsScheme):], nil
	}

	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", perrors.NewProbeError(perrors.InvalidURL, rawURL, "normalize", "unparseable url", err)
	}

	scheme := strings.ToLower(ref.Scheme)

	if !ref.IsAbs() {
		if base == "" {
			return "", perrors.NewInvalidURLError(rawURL, "relative url without base")
		}
		b, err := url.Parse(base)
		if err != nil {
			return "", perrors.NewProbeError(perrors.InvalidURL, base, "normalize", "unparseable base", err)
		}
		ref = b.ResolveReference(ref)
		scheme = strings.ToLower(ref.Scheme)
	}

	if !schemeAllowed(t, scheme) {
		return "", perrors.NewInvalidURLError(rawURL, "scheme not allowed: "+scheme)
	}

	ref.Scheme = scheme
	ref.Host = strings.ToLower(ref.Host)
	ref.Fragment = ""
	ref.RawFragment = ""
	if ref.Path == "" && ref.Host != "" && ref.Opaque == "" {
		ref.Path = "/"
	}
	return ref.String(), nil
}

func schemeAllowed(t Type, scheme string) bool {
	if _, ok := allowedSchemes[scheme]; ok {
		return true
	}
	if t == TypeWebSocket {
		_, ok := socketSchemes[scheme]
		return ok
	}
	return false
}

// Key returns the canonical dedup key of (type, method, url, data).
func (r *Request) Key() string {
	b, _ := json.Marshal([4]string{string(r.Type), r.Method, r.URL, r.Data})
	return string(b)
}

// WithTrigger returns a copy of r carrying t.
func (r *Request) WithTrigger(t *Trigger) *Request {
	cp := *r
	cp.Trigger = t
	return &cp
}

// IsNavigable reports whether a crawler can load the request as a page.
func (r *Request) IsNavigable() bool {
	switch r.Type {
	case TypeLink, TypeForm, TypeRedirect:
	default:
		return false
	}
	return strings.HasPrefix(r.URL, "http://") || strings.HasPrefix(r.URL, "https://")
}
