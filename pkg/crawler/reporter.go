package crawler

import (
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/queue"
	"github.com/PentesterFlow/PageProbe/internal/request"
	"github.com/PentesterFlow/PageProbe/internal/scheduler"
	"github.com/PentesterFlow/PageProbe/internal/state"
)

// pageReporter sits between a page's scheduler and the crawl-wide
// reporter. It flags requests the crawl will not follow, persists new
// requests, queues navigable ones and keeps the page's websockets for
// verification.
type pageReporter struct {
	c     *Crawler
	item  *queue.Item
	page  string
	log   *logger.Logger
	found atomic.Int64

	mu      sync.Mutex
	sockets []*request.Request
}

var _ scheduler.Reporter = (*pageReporter)(nil)

func (c *Crawler) newPageReporter(item *queue.Item, log *logger.Logger) *pageReporter {
	return &pageReporter{
		c:    c,
		item: item,
		page: item.Request.URL,
		log:  log,
	}
}

// Report implements scheduler.Reporter.
func (p *pageReporter) Report(r *request.Request) (bool, error) {
	if !r.OutOfScope && p.c.outOfScope(r) {
		cp := *r
		cp.OutOfScope = true
		r = &cp
	}

	isNew, err := p.c.reporter.Report(r)
	if !isNew {
		return false, err
	}
	p.found.Add(1)

	trigger := ""
	if r.Trigger != nil {
		trigger = r.Trigger.String()
	}
	if serr := p.c.state.RecordRequest(&state.RequestRecord{
		Key:        r.Key(),
		Session:    p.c.sessionID,
		Page:       p.page,
		Type:       string(r.Type),
		Method:     r.Method,
		URL:        r.URL,
		Data:       r.Data,
		Trigger:    trigger,
		OutOfScope: r.OutOfScope,
		Depth:      p.item.Depth,
		FoundAt:    time.Now(),
	}); serr != nil {
		p.log.WithError(serr).Warn("failed to persist request")
	}

	if r.OutOfScope {
		p.c.metrics.RecordOutOfScope()
		return true, err
	}

	if r.Type == request.TypeWebSocket {
		p.mu.Lock()
		p.sockets = append(p.sockets, r)
		p.mu.Unlock()
	}

	if p.c.follow && r.IsNavigable() {
		p.c.enqueue(queue.NewItem(r, p.item.Depth+1, p.page))
	}
	return true, err
}

// reportRedirect reports the Location of a redirected main document. The
// scheduler never runs on such a page, so the request is counted here.
func (p *pageReporter) reportRedirect(location string) {
	r, err := request.New(request.TypeRedirect, "GET", location, p.page, "")
	if err != nil {
		p.log.Debugf("dropping redirect to %s: %v", location, err)
		return
	}
	isNew, err := p.Report(r)
	if err != nil {
		p.log.WithError(err).Warn("result sink failed")
	}
	if isNew {
		p.c.metrics.RecordRequest(string(r.Type))
		p.log.RequestEvent(string(r.Type), r.Method, r.URL, "")
	}
}

// Found returns the number of new requests this page reported.
func (p *pageReporter) Found() int {
	return int(p.found.Load())
}

// Sockets returns the in-scope websocket requests of the page.
func (p *pageReporter) Sockets() []*request.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*request.Request, len(p.sockets))
	copy(out, p.sockets)
	return out
}

// outOfScope reports whether r points outside the crawl scope. Only web
// and websocket URLs are judged; other schemes are never followed anyway.
func (c *Crawler) outOfScope(r *request.Request) bool {
	u, err := url.Parse(r.URL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return false
	}
	return !c.scope.IsInScope(u.String(), 0)
}
