// Package http fetches documents for static analysis without a browser.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
)

// ErrContentType is returned when a fetched document is not HTML.
var ErrContentType = errors.New("content type is not html")

// ClientConfig holds configuration for the document client.
type ClientConfig struct {
	Timeout       time.Duration
	UserAgent     string
	Headers       map[string]string
	SkipTLSVerify bool
	// MaxBodySize caps the bytes read from a response body.
	MaxBodySize int64
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:       30 * time.Second,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) PageProbe/1.0",
		SkipTLSVerify: true,
		MaxBodySize:   5 * 1024 * 1024,
	}
}

// Client fetches single HTML documents. Redirects are reported, not
// followed, the same way a browser probe reports them.
type Client struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	retrier   *perrors.Retrier

	mu      sync.RWMutex
	headers map[string]string
	cookies []*http.Cookie
}

// NewClient creates a new document client.
func NewClient(config ClientConfig) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	maxBody := config.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultClientConfig().MaxBodySize
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: config.UserAgent,
		maxBody:   maxBody,
		headers:   config.Headers,
		retrier:   perrors.NewDefaultRetrier(),
	}
}

// SetCookies sets cookies for all requests.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.mu.Lock()
	c.cookies = cookies
	c.mu.Unlock()
}

// SetHeaders sets custom headers for all requests.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	c.headers = headers
	c.mu.Unlock()
}

// Document is a fetched page.
type Document struct {
	URL         string
	StatusCode  int
	ContentType string
	// Redirect is the absolute Location of a 3xx response; HTML is empty
	// when it is set.
	Redirect string
	HTML     string
	Duration time.Duration
}

// Get fetches targetURL. Transport failures come back as categorized
// probe errors; a non-HTML body yields ErrContentType.
func (c *Client) Get(ctx context.Context, targetURL string) (*Document, error) {
	start := time.Now()
	doc := &Document{URL: targetURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return doc, perrors.NewInvalidURLError(targetURL, err.Error())
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return doc, perrors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	doc.StatusCode = resp.StatusCode
	doc.ContentType = resp.Header.Get("Content-Type")
	defer func() { doc.Duration = time.Since(start) }()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			doc.Redirect = resolveReference(req.URL, loc)
			return doc, nil
		}
	}

	if !isHTML(doc.ContentType) {
		return doc, fmt.Errorf("%w: %s", ErrContentType, doc.ContentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return doc, perrors.NewEnvironmentError(targetURL, "body_read", err)
	}
	doc.HTML = string(body)
	return doc, nil
}

// GetWithRetry performs Get, retrying transient environment failures.
func (c *Client) GetWithRetry(ctx context.Context, targetURL string) (*Document, error) {
	var doc *Document

	result := c.retrier.Do(ctx, "fetch", targetURL, func(ctx context.Context) error {
		var err error
		doc, err = c.Get(ctx, targetURL)
		return err
	})

	if doc == nil {
		doc = &Document{URL: targetURL}
	}
	if !result.Success {
		return doc, result.LastError
	}
	return doc, nil
}

// SetRetryConfig sets custom retry configuration.
func (c *Client) SetRetryConfig(config perrors.RetryConfig) {
	c.retrier = perrors.NewRetrier(config)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func resolveReference(base *url.URL, loc string) string {
	u, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return base.ResolveReference(u).String()
}

// isHTML accepts missing content types, which browsers sniff.
func isHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
