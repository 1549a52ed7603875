package browser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"golang.org/x/net/publicsuffix"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/driver"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

var (
	// ErrLoad is returned when the main document cannot be fetched.
	ErrLoad = errors.New("page load failed")
	// ErrContentType is returned when the main document is not HTML.
	ErrContentType = errors.New("content type is not html")
)

// LoadResult describes the main document of a page.
type LoadResult struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	// Redirect is the absolute Location of a redirect response. The page is
	// not loaded when it is set.
	Redirect string `json:"redirect,omitempty"`
}

// Page is a browser tab hosting one probe. It implements
// driver.Environment.
type Page struct {
	page   *rod.Page
	target Target
	config Config
	log    *logger.Logger
	doc    *Document
	mb     *driver.Mailbox
	router *rod.HijackRouter
	client *http.Client

	stopExpose func() error

	// received counts delivered probe messages; Settle waits until it
	// catches up with the page's own count.
	received atomic.Int64
	arrived  chan struct{}

	initial atomic.Bool
	loadMu  sync.Mutex
	load    LoadResult
	loadErr error
}

var _ driver.Environment = (*Page)(nil)

func newPage(rp *rod.Page, target Target, cfg Config, log *logger.Logger) *Page {
	if log == nil {
		log = logger.Nop()
	}
	p := &Page{
		page:    rp,
		target:  target,
		config:  cfg,
		log:     log.WithComponent("browser"),
		mb:      driver.NewMailbox(),
		arrived: make(chan struct{}, 1),
		load:    LoadResult{URL: target.URL},
	}
	p.doc = &Document{page: p, elems: make(map[int]*Element)}
	p.doc.url.Store(target.URL)
	p.client = documentClient(target, cfg)
	return p
}

// documentClient fetches the main document on behalf of the browser so
// the probe sees redirects and can send a POST body.
func documentClient(target Target, cfg Config) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if u, err := url.Parse(target.URL); err == nil && len(target.Cookies) > 0 {
		jar.SetCookies(u, target.Cookies)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.IgnoreHTTPSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// install wires the message binding, the probe script and the request router.
func (p *Page) install() error {
	stop, err := p.page.Expose(notifyBinding, p.receive)
	if err != nil {
		return fmt.Errorf("failed to expose notify binding: %w", err)
	}
	p.stopExpose = stop

	if _, err := p.page.EvalOnNewDocument(probeScript); err != nil {
		return fmt.Errorf("failed to install probe: %w", err)
	}

	router := p.page.HijackRequests()
	if err := router.Add("*", "", p.hijack); err != nil {
		return fmt.Errorf("failed to hijack requests: %w", err)
	}
	p.router = router
	go router.Run()
	return nil
}

// Load navigates to the target and waits for the load event.
func (p *Page) Load(ctx context.Context) (*LoadResult, error) {
	page := p.page.Context(ctx)
	navErr := page.Navigate(p.target.URL)

	p.loadMu.Lock()
	res, loadErr := p.load, p.loadErr
	p.loadMu.Unlock()

	switch {
	case res.Redirect != "":
		return &res, nil
	case loadErr != nil:
		return &res, loadErr
	case navErr != nil:
		return &res, fmt.Errorf("%w: %v", ErrLoad, navErr)
	}

	if err := page.WaitLoad(); err != nil {
		return &res, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if info, err := page.Info(); err == nil && info != nil && info.URL != "" {
		p.doc.url.Store(info.URL)
	}
	return &res, nil
}

// Document implements driver.Environment.
func (p *Page) Document() dom.Document { return p.doc }

// Notifications implements driver.Environment.
func (p *Page) Notifications() *driver.Mailbox { return p.mb }

// Settle waits for a macrotask turn of the page and for every message the
// page posted before it.
func (p *Page) Settle(ctx context.Context) error {
	res, err := p.page.Context(ctx).Eval(`() => window.__pageprobe ? window.__pageprobe.settle() : 0`)
	if err != nil {
		return err
	}
	want := int64(res.Value.Int())
	for p.received.Load() < want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.arrived:
		}
	}
	return nil
}

// Cookies returns the cookies of the page.
func (p *Page) Cookies() ([]*http.Cookie, error) {
	cookies, err := p.page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return httpCookies(cookies), nil
}

// Close stops the router and closes the tab.
func (p *Page) Close() error {
	if p.router != nil {
		_ = p.router.Stop()
	}
	if p.stopExpose != nil {
		_ = p.stopExpose()
	}
	return p.page.Close()
}

// hijack handles every request of the tab. Only main frame documents are
// intercepted: the first one is fetched here, later ones are reported and
// aborted so the probed page stays in place.
func (p *Page) hijack(h *rod.Hijack) {
	ev := h.Request.Event()
	if h.Request.Type() != proto.NetworkResourceTypeDocument || ev.FrameID != p.page.FrameID {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}

	if p.initial.CompareAndSwap(false, true) {
		p.fetchDocument(h)
		return
	}

	target := h.Request.URL().String()
	if method := strings.ToUpper(h.Request.Method()); method != http.MethodGet {
		r, err := request.New(request.TypeForm, method, target, p.doc.URL(), h.Request.Body())
		if err == nil {
			p.mb.Post(driver.Notification{Kind: driver.Found, Request: r})
		}
	} else {
		p.mb.Post(driver.Notification{Kind: driver.Navigation, URL: target})
	}
	h.Response.Fail(proto.NetworkErrorReasonAborted)
}

func (p *Page) fetchDocument(h *rod.Hijack) {
	req := h.Request.Req()
	if p.target.Method != "" && !strings.EqualFold(p.target.Method, http.MethodGet) {
		req.Method = strings.ToUpper(p.target.Method)
		h.Request.SetBody(p.target.Data)
		req.ContentLength = int64(len(p.target.Data))
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	if err := h.LoadResponse(p.client, true); err != nil {
		p.setLoad(func(*LoadResult) {}, fmt.Errorf("%w: %v", ErrLoad, err))
		h.Response.Fail(proto.NetworkErrorReasonFailed)
		return
	}

	code := h.Response.Payload().ResponseCode
	header := h.Response.Headers()
	contentType := header.Get("Content-Type")

	if loc := header.Get("Location"); code >= 300 && code < 400 && loc != "" {
		redirect := resolveLocation(req.URL, loc)
		p.setLoad(func(r *LoadResult) {
			r.StatusCode = code
			r.ContentType = contentType
			r.Redirect = redirect
		}, nil)
		h.Response.Fail(proto.NetworkErrorReasonAborted)
		return
	}

	var loadErr error
	if !isHTML(contentType) {
		loadErr = fmt.Errorf("%w: %s", ErrContentType, contentType)
	}
	p.setLoad(func(r *LoadResult) {
		r.StatusCode = code
		r.ContentType = contentType
	}, loadErr)
	if loadErr != nil {
		h.Response.Fail(proto.NetworkErrorReasonAborted)
	}
}

func (p *Page) setLoad(fn func(*LoadResult), err error) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	fn(&p.load)
	p.loadErr = err
}

func resolveLocation(base *url.URL, loc string) string {
	u, err := url.Parse(loc)
	if err != nil || base == nil {
		return loc
	}
	return base.ResolveReference(u).String()
}

// isHTML accepts missing content types, which browsers sniff.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// receive handles one probe message. It runs on the binding goroutine.
func (p *Page) receive(msg gson.JSON) (interface{}, error) {
	defer func() {
		p.received.Add(1)
		select {
		case p.arrived <- struct{}{}:
		default:
		}
	}()

	switch kind := msg.Get("t").Str(); kind {
	case "mutations":
		records := msg.Get("records").Arr()
		batch := make([]dom.Mutation, 0, len(records))
		for _, rec := range records {
			m := dom.Mutation{Kind: dom.Added}
			if rec.Get("k").Str() == "attr" {
				m.Kind = dom.AttributeChanged
				m.Attribute = rec.Get("a").Str()
			}
			if el := p.doc.element(rec.Get("e")); el != nil {
				m.Element = el
			} else if m.Kind == dom.AttributeChanged {
				continue
			}
			batch = append(batch, m)
		}
		if len(batch) > 0 {
			p.mb.Post(driver.Notification{Kind: driver.Mutation, Mutations: batch})
		}
	case "request":
		t := request.Type(msg.Get("type").Str())
		r, err := request.New(t, msg.Get("method").Str(), msg.Get("url").Str(), p.doc.URL(), msg.Get("data").Str())
		if err != nil {
			p.log.Debugf("dropping %s request: %v", t, err)
			return nil, nil
		}
		p.mb.Post(driver.Notification{Kind: driver.Found, Request: r})
	case "sent":
		p.mb.Post(driver.Notification{Kind: driver.RequestSent, Ref: msg.Get("ref").Int()})
	case "done":
		p.mb.Post(driver.Notification{Kind: driver.RequestCompleted, Ref: msg.Get("ref").Int()})
	case "navigate":
		p.mb.Post(driver.Notification{Kind: driver.Navigation, URL: msg.Get("url").Str()})
	default:
		p.log.Warnf("unknown probe message %q", kind)
	}
	return nil, nil
}
