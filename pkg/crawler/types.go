// Package crawler probes single-page applications: it loads a page, lets
// the interaction scheduler exercise it and reports every request the
// page issues. Start follows discovered links and forms across a site.
package crawler

import (
	"context"
	"net/http"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/browser"
	"github.com/PentesterFlow/PageProbe/internal/driver"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/output"
	"github.com/PentesterFlow/PageProbe/internal/state"
)

// Page is an opened page ready to be probed.
type Page interface {
	driver.Environment

	// Load navigates to the target and reports the main document.
	Load(ctx context.Context) (*browser.LoadResult, error)

	// Cookies returns the cookies the page holds.
	Cookies() ([]*http.Cookie, error)

	// Close releases the page.
	Close() error
}

// PageOpener opens pages for probes. The default opener is a browser pool.
type PageOpener interface {
	Open(ctx context.Context, target browser.Target, log *logger.Logger) (Page, error)
	Close() error
}

// poolOpener adapts a browser pool to PageOpener.
type poolOpener struct {
	pool *browser.Pool
}

func (o *poolOpener) Open(ctx context.Context, target browser.Target, log *logger.Logger) (Page, error) {
	lease, err := o.pool.Open(ctx, target, log)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func (o *poolOpener) Close() error {
	return o.pool.Close()
}

func (o *poolOpener) Stats() browser.PoolStats {
	return o.pool.Stats()
}

// PageResult is the outcome of one probed page.
type PageResult struct {
	URL         string          `json:"url"`
	Method      string          `json:"method"`
	Depth       int             `json:"depth"`
	ParentURL   string          `json:"parent_url,omitempty"`
	Status      *output.Status  `json:"status"`
	Cookies     []output.Cookie `json:"cookies,omitempty"`
	WebSockets  int             `json:"websockets,omitempty"`
	Attempts    int             `json:"attempts"`
	Ticks       int             `json:"ticks"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// OK reports whether the page was probed without error.
func (r *PageResult) OK() bool {
	return r.Status != nil && r.Status.OK()
}

// CrawlResult represents the complete result of a crawl session.
type CrawlResult struct {
	SessionID   string        `json:"session_id"`
	Target      string        `json:"target"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Pages       []*PageResult `json:"pages"`
	Stats       output.Stats  `json:"stats"`
	// Interrupted is set when the crawl stopped before the queue drained.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Failed returns the pages whose probe ended with an error status.
func (r *CrawlResult) Failed() []*PageResult {
	var failed []*PageResult
	for _, p := range r.Pages {
		if !p.OK() {
			failed = append(failed, p)
		}
	}
	return failed
}

func convertStats(s state.Stats) output.Stats {
	byType := make(map[string]int, len(s.RequestsByType))
	for k, v := range s.RequestsByType {
		byType[k] = v
	}
	return output.Stats{
		PagesProbed: s.PagesProbed,
		PagesFailed: s.PagesFailed,
		Requests:    s.Requests,
		ByType:      byType,
		OutOfScope:  s.OutOfScope,
		Duration:    s.Duration,
	}
}
