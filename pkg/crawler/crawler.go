package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/PageProbe/internal/auth"
	"github.com/PentesterFlow/PageProbe/internal/browser"
	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
	phttp "github.com/PentesterFlow/PageProbe/internal/http"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/metrics"
	"github.com/PentesterFlow/PageProbe/internal/output"
	"github.com/PentesterFlow/PageProbe/internal/progress"
	"github.com/PentesterFlow/PageProbe/internal/queue"
	"github.com/PentesterFlow/PageProbe/internal/ratelimit"
	"github.com/PentesterFlow/PageProbe/internal/request"
	"github.com/PentesterFlow/PageProbe/internal/scope"
	"github.com/PentesterFlow/PageProbe/internal/state"
	"github.com/PentesterFlow/PageProbe/internal/websocket"
)

// Crawler is the main probe orchestrator.
type Crawler struct {
	config    *Config
	sessionID string

	opener   PageOpener
	fetcher  *phttp.Client
	fetchMu  sync.Mutex
	// jar holds the cookies pages set during the crawl; later pages are
	// opened with them.
	jar      *cookiejar.Jar
	queue    *queue.MemoryQueue
	state    *state.Manager
	scope    *scope.Checker
	limiter  *ratelimit.Limiter
	adaptive *ratelimit.Adaptive
	auth     auth.Provider
	reporter *request.Reporter
	retrier  *perrors.Retrier
	verifier *websocket.Verifier

	output       output.Writer
	outputWriter io.Writer
	logger       *logger.Logger
	metrics      *metrics.Collector

	running atomic.Bool
	follow  bool
	// pending counts queued pages plus pages being probed; the queue is
	// closed when it drops to zero.
	pending  atomic.Int64
	enqueued atomic.Int64
	active   atomic.Int64

	mu        sync.Mutex
	pages     []*PageResult
	startTime time.Time

	progress     *progress.Display
	showProgress bool
	progressOut  io.Writer
}

// New creates a new crawler with the given options.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config:    DefaultConfig(),
		sessionID: uuid.NewString(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.logger == nil {
		logLevel := logger.InfoLevel
		if c.config.Debug {
			logLevel = logger.DebugLevel
		} else if !c.config.Verbose {
			logLevel = logger.WarnLevel
		}
		c.logger = logger.New(logger.Config{
			Level:  logLevel,
			Pretty: true,
		})
	}
	c.logger = c.logger.WithComponent("crawler").WithSession(c.sessionID)

	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	return c, nil
}

// SessionID returns the id stamped on every persisted record.
func (c *Crawler) SessionID() string {
	return c.sessionID
}

// Config returns the crawler configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// Metrics returns the metrics collector.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// IsRunning reports whether a probe or crawl is in progress.
func (c *Crawler) IsRunning() bool {
	return c.running.Load()
}

// initialize sets up the components shared by every mode. Components that
// already exist are kept, so repeated calls are cheap.
func (c *Crawler) initialize() error {
	var err error

	if c.scope == nil {
		c.scope, err = scope.NewChecker(c.config.Target, c.config.Scope)
		if err != nil {
			return fmt.Errorf("failed to create scope checker: %w", err)
		}
	}

	if c.state == nil {
		var store state.Store
		if c.config.State.Enabled && c.config.State.FilePath != "" {
			store, err = state.NewBoltStore(c.config.State.FilePath)
			if err != nil {
				return fmt.Errorf("failed to create state store: %w", err)
			}
		}
		c.state = state.NewManager(store, 10000)
		c.state.Start(c.config.Target)
	}

	if c.limiter == nil {
		if c.config.RateLimit.Adaptive {
			c.adaptive = ratelimit.NewAdaptive(c.config.limiterConfig(), c.config.RateLimit.MinRate, 20)
			c.limiter = c.adaptive.Limiter
		} else {
			c.limiter = ratelimit.NewLimiter(c.config.limiterConfig())
		}
	}

	if c.auth == nil {
		creds := c.config.Auth
		creds.Cookies = append(creds.Cookies, c.configCookies()...)
		c.auth, err = auth.NewProvider(creds)
		if err != nil {
			return fmt.Errorf("failed to create auth provider: %w", err)
		}
	}

	if c.jar == nil {
		c.jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return fmt.Errorf("failed to create cookie jar: %w", err)
		}
	}

	if c.retrier == nil {
		c.retrier = perrors.NewRetrier(c.config.retryConfig())
	}

	if c.output == nil {
		if c.outputWriter == nil {
			if c.config.Output.FilePath != "" {
				f, err := os.Create(c.config.Output.FilePath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				c.outputWriter = f
			} else {
				// Closing the writer must not close stdout.
				c.outputWriter = struct{ io.Writer }{os.Stdout}
			}
		}
		c.output = output.NewWriter(c.outputWriter, c.config.Output)
	}

	if c.reporter == nil {
		c.reporter = request.NewReporter(state.NewDeduplicator(100000), c.output)
	}

	if c.verifier == nil && c.config.WebSocket.Verify {
		c.verifier = websocket.NewVerifier(websocket.Config{
			HandshakeTimeout: c.config.WebSocket.HandshakeTimeout,
			ReadWindow:       c.config.WebSocket.ReadWindow,
			MaxMessages:      websocket.DefaultConfig().MaxMessages,
			Headers:          c.target(c.config.Target).RequestHeaders(),
		})
		c.verifier.SetCookies(c.auth.Cookies())
	}

	return nil
}

// openBrowser creates the browser pool unless a page opener was supplied.
func (c *Crawler) openBrowser() error {
	if c.opener != nil {
		return nil
	}
	pool, err := browser.NewPool(c.config.Browser)
	if err != nil {
		return fmt.Errorf("failed to create browser pool: %w", err)
	}
	c.opener = &poolOpener{pool: pool}
	return nil
}

// configCookies converts the name/value cookies of the configuration.
func (c *Crawler) configCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(c.config.Cookies))
	for name, value := range c.config.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}

// target builds the browser target for rawURL with credentials attached.
// Cookies set by earlier pages follow the configured ones, so the
// server's latest value wins.
func (c *Crawler) target(rawURL string) browser.Target {
	t := browser.Target{
		URL:     rawURL,
		Headers: make(map[string]string, len(c.config.CustomHeaders)),
	}
	for k, v := range c.config.CustomHeaders {
		t.Headers[k] = v
	}
	if c.auth != nil {
		auth.Apply(c.auth, &t)
	}
	if c.jar != nil {
		if u, err := url.Parse(rawURL); err == nil {
			t.Cookies = append(t.Cookies, c.jar.Cookies(u)...)
		}
	}
	return t
}

// keepCookies stores the cookies a page ended with for the pages after it.
func (c *Crawler) keepCookies(rawURL string, cookies []*http.Cookie) {
	if c.jar == nil || len(cookies) == 0 {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, cookies)
}

// seed returns the queue item of the configured target.
func (c *Crawler) seed() (*queue.Item, error) {
	t := request.TypeLink
	if c.config.Data != "" {
		t = request.TypeForm
	}
	r, err := request.New(t, c.config.Method, c.config.Target, "", c.config.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	return queue.NewItem(r, 0, ""), nil
}

// Probe explores the target page only. Requests are written to the output
// as they are found, followed by the page's cookies, websocket checks and
// status record. The returned error covers setup failures; a failed probe
// is reported through the status.
func (c *Crawler) Probe(ctx context.Context) (*PageResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	if err := c.initialize(); err != nil {
		return nil, err
	}
	if err := c.openBrowser(); err != nil {
		return nil, err
	}

	item, err := c.seed()
	if err != nil {
		return nil, err
	}
	c.state.MarkVisited(pageKey(item.Request))
	c.follow = false

	res := c.probe(ctx, item, c.logger)
	return res, c.output.Flush()
}

// Start crawls from the target: every in-scope link, form and redirect a
// page reports is queued and probed in turn until the queue drains, the
// page budget is spent or ctx ends.
func (c *Crawler) Start(ctx context.Context) (*CrawlResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	if err := c.initialize(); err != nil {
		return nil, err
	}
	if err := c.openBrowser(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.startTime = time.Now()
	c.pages = nil
	c.mu.Unlock()

	c.queue = queue.NewMemoryQueue(0)
	c.follow = true
	c.pending.Store(0)
	c.enqueued.Store(0)

	if c.showProgress {
		out := c.progressOut
		if out == nil {
			out = os.Stderr
		}
		c.progress = progress.New(out)
		c.progress.Start(c.config.Target)
		defer func() {
			c.progress.Stop()
			c.progress.PrintSummary()
		}()
	}

	item, err := c.seed()
	if err != nil {
		return nil, err
	}
	if !c.enqueue(item) {
		return nil, fmt.Errorf("target %s is excluded by the crawl limits", c.config.Target)
	}

	c.logger.Event(logger.InfoLevel).
		Str("target", c.config.Target).
		Int("workers", c.config.Workers).
		Int("max_depth", c.config.MaxDepth).
		Msg("Crawl started")

	// PopWait does not watch ctx, so closing the queue wakes the workers.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.queue.Close()
		case <-stop:
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.config.Workers; i++ {
		id := i
		g.Go(func() error {
			return c.worker(gctx, id)
		})
	}
	err = g.Wait()
	close(stop)

	result := c.result()
	result.Interrupted = ctx.Err() != nil
	c.logger.StatsEvent(c.metrics.Snapshot().Summary())

	if werr := c.output.WriteSummary(&output.Summary{
		Target:      result.Target,
		SessionID:   result.SessionID,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		Stats:       result.Stats,
	}); werr != nil && err == nil {
		err = fmt.Errorf("failed to write output: %w", werr)
	}
	if ferr := c.output.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if err == nil && result.Interrupted {
		err = ctx.Err()
	}
	return result, err
}

// worker probes queued pages until the queue is closed.
func (c *Crawler) worker(ctx context.Context, id int) error {
	log := c.logger.WithWorker(id)
	for {
		item, err := c.queue.PopWait()
		if errors.Is(err, queue.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		c.metrics.SetQueueDepth(int64(c.queue.Len()))

		if ctx.Err() == nil {
			c.metrics.SetActiveWorkers(c.active.Add(1))
			c.probe(ctx, item, log)
			c.metrics.SetActiveWorkers(c.active.Add(-1))
		}
		c.done()
	}
}

// enqueue queues item unless it was already queued, is too deep or the
// page budget is spent.
func (c *Crawler) enqueue(item *queue.Item) bool {
	if item.Depth > c.config.MaxDepth {
		return false
	}
	if !c.state.MarkVisited(pageKey(item.Request)) {
		return false
	}
	if n := c.enqueued.Add(1); c.config.MaxPages > 0 && n > int64(c.config.MaxPages) {
		c.enqueued.Add(-1)
		return false
	}

	c.pending.Add(1)
	if err := c.queue.Push(item); err != nil {
		c.logger.Debugf("failed to queue %s: %v", item.Request.URL, err)
		c.enqueued.Add(-1)
		c.done()
		return false
	}
	c.metrics.SetQueueDepth(int64(c.queue.Len()))
	return true
}

// done retires one pending page.
func (c *Crawler) done() {
	if c.pending.Add(-1) == 0 {
		c.queue.Close()
	}
}

// pageKey identifies a page to load regardless of the action that
// produced it: a link and a GET form to the same URL load the same page.
func pageKey(r *request.Request) string {
	return r.Method + " " + r.URL + " " + r.Data
}

// record stores a finished page and updates the progress display.
func (c *Crawler) record(res *PageResult) {
	c.mu.Lock()
	c.pages = append(c.pages, res)
	c.mu.Unlock()

	if ps, ok := c.opener.(interface{ Stats() browser.PoolStats }); ok {
		s := ps.Stats()
		c.metrics.SetBrowserPoolStats(int64(s.Size), int64(s.InUse))
	}

	if c.progress != nil {
		stats := c.state.GetStats()
		queued := 0
		if c.queue != nil {
			queued = c.queue.Len()
		}
		c.progress.Update(progress.Counts{
			PagesProbed: stats.PagesProbed,
			PagesFailed: stats.PagesFailed,
			Requests:    stats.Requests,
			OutOfScope:  stats.OutOfScope,
			Queued:      queued,
		})
	}
}

// result snapshots the crawl.
func (c *Crawler) result() *CrawlResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	pages := make([]*PageResult, len(c.pages))
	copy(pages, c.pages)
	return &CrawlResult{
		SessionID:   c.sessionID,
		Target:      c.config.Target,
		StartedAt:   c.startTime,
		CompletedAt: time.Now(),
		Pages:       pages,
		Stats:       convertStats(c.state.GetStats()),
	}
}

// Results returns the pages probed so far.
func (c *Crawler) Results() []*PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := make([]*PageResult, len(c.pages))
	copy(pages, c.pages)
	return pages
}

// Close releases the browser pool, the record store and the output. The
// json format writes its document here.
func (c *Crawler) Close() error {
	var errs []error
	if c.opener != nil {
		if err := c.opener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser pool: %w", err))
		}
	}
	if c.fetcher != nil {
		c.fetcher.Close()
	}
	if c.state != nil {
		if err := c.state.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state store: %w", err))
		}
	}
	if c.output != nil {
		if err := c.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	return errors.Join(errs...)
}
