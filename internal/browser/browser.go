// Package browser provides headless Chrome integration via Rod.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/PageProbe/internal/logger"
)

// Config defines browser configuration.
type Config struct {
	PoolSize          int           `json:"pool_size" yaml:"pool_size"`
	Headless          bool          `json:"headless" yaml:"headless"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent         string        `json:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height" yaml:"viewport_height"`
	RecycleAfter      int           `json:"recycle_after" yaml:"recycle_after"`
	IgnoreHTTPSErrors bool          `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	BinPath           string        `json:"bin_path,omitempty" yaml:"bin_path,omitempty"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:          2,
		Headless:          true,
		Timeout:           3 * time.Minute,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) PageProbe/1.0",
		ViewportWidth:     1366,
		ViewportHeight:    768,
		RecycleAfter:      50,
		IgnoreHTTPSErrors: true,
	}
}

// Target describes the page to open and how to authenticate to it.
type Target struct {
	URL string
	// Method and Data override the initial navigation; an empty method is GET.
	Method   string
	Data     string
	Headers  map[string]string
	Cookies  []*http.Cookie
	Username string
	Password string
}

// RequestHeaders returns the extra headers sent with every page request,
// including basic auth credentials when set.
func (t Target) RequestHeaders() map[string]string {
	headers := make(map[string]string, len(t.Headers)+1)
	for k, v := range t.Headers {
		headers[k] = v
	}
	if t.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(t.Username + ":" + t.Password))
		headers["Authorization"] = "Basic " + creds
	}
	return headers
}

// Browser wraps a Rod browser instance.
type Browser struct {
	browser   *rod.Browser
	config    Config
	mu        sync.Mutex
	pageCount int
}

// New launches a browser instance.
func New(config Config) (*Browser, error) {
	l := launcher.New()

	if config.BinPath != "" {
		l = l.Bin(config.BinPath)
	}

	if config.Headless {
		l = l.Headless(true)
	}

	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	browser = browser.Timeout(config.Timeout)

	return &Browser{
		browser: browser,
		config:  config,
	}, nil
}

// Open creates a tab prepared for target with the probe installed. The
// page is not loaded until Page.Load is called.
func (b *Browser) Open(ctx context.Context, target Target, log *logger.Logger) (*Page, error) {
	b.mu.Lock()
	b.pageCount++
	b.mu.Unlock()

	rp, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	rp = rp.Context(ctx)

	// not critical
	_ = rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  b.config.ViewportWidth,
		Height: b.config.ViewportHeight,
	})

	if b.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{
			UserAgent: b.config.UserAgent,
		}.Call(rp)
	}

	if headers := target.RequestHeaders(); len(headers) > 0 {
		networkHeaders := make(proto.NetworkHeaders)
		for k, v := range headers {
			networkHeaders[k] = gson.New(v)
		}
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: networkHeaders}).Call(rp); err != nil {
			_ = rp.Close()
			return nil, fmt.Errorf("failed to set headers: %w", err)
		}
	}

	if len(target.Cookies) > 0 {
		if err := rp.SetCookies(cookieParams(target.URL, target.Cookies)); err != nil {
			_ = rp.Close()
			return nil, fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	p := newPage(rp, target, b.config, log)
	if err := p.install(); err != nil {
		_ = rp.Close()
		return nil, err
	}
	return p, nil
}

func cookieParams(pageURL string, cookies []*http.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, cookie := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HttpOnly,
		}
		if cookie.Domain == "" {
			param.URL = pageURL
		}
		params = append(params, param)
	}
	return params
}

func httpCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, hc)
	}
	return out
}

// Close closes the browser.
func (b *Browser) Close() error {
	if b.browser == nil {
		return nil
	}
	return b.browser.Close()
}

// PageCount returns the number of pages opened.
func (b *Browser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCount
}

// NeedsRecycle returns true if the browser should be recycled.
func (b *Browser) NeedsRecycle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.RecycleAfter > 0 && b.pageCount >= b.config.RecycleAfter
}

// GetConfig returns the browser configuration.
func (b *Browser) GetConfig() Config {
	return b.config
}
