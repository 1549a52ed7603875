package crawler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/browser"
	"github.com/PentesterFlow/PageProbe/internal/dom/htmldom"
	"github.com/PentesterFlow/PageProbe/internal/driver"
	phttp "github.com/PentesterFlow/PageProbe/internal/http"
	"github.com/PentesterFlow/PageProbe/internal/queue"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// AnalyzeHTML runs the scheduler and analyzer over a static document
// without executing its scripts. Relative URLs resolve against base, or
// against the target when base is empty.
func (c *Crawler) AnalyzeHTML(ctx context.Context, src io.Reader, base string) (*PageResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	if err := c.initialize(); err != nil {
		return nil, err
	}
	if base == "" {
		base = c.config.Target
	}

	item, err := staticItem(base)
	if err != nil {
		return nil, err
	}
	doc, err := htmldom.Parse(src, item.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	c.follow = false
	res := c.analyzeDocument(ctx, item, doc, nil, time.Now())
	return res, c.output.Flush()
}

// AnalyzeURL fetches rawURL over plain HTTP and analyzes it like
// AnalyzeHTML. Fetch failures end up in the page status.
func (c *Crawler) AnalyzeURL(ctx context.Context, rawURL string) (*PageResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	if err := c.initialize(); err != nil {
		return nil, err
	}
	if rawURL == "" {
		rawURL = c.config.Target
	}

	item, err := staticItem(rawURL)
	if err != nil {
		return nil, err
	}
	c.follow = false

	started := time.Now()
	log := c.logger.WithURL(item.Request.URL)
	fetched, ferr := c.documentClient().GetWithRetry(ctx, item.Request.URL)
	load := &browser.LoadResult{
		URL:         fetched.URL,
		StatusCode:  fetched.StatusCode,
		ContentType: fetched.ContentType,
		Redirect:    fetched.Redirect,
	}

	var res *PageResult
	switch {
	case ferr != nil:
		pr := c.newPageReporter(item, log)
		res = c.finish(ctx, item, pr, outcome{load: load}, ferr, 1, started, log)
	case fetched.Redirect != "":
		pr := c.newPageReporter(item, log)
		pr.reportRedirect(fetched.Redirect)
		res = c.finish(ctx, item, pr, outcome{load: load}, nil, 1, started, log)
	default:
		doc, perr := htmldom.ParseString(fetched.HTML, fetched.URL)
		if perr != nil {
			return nil, fmt.Errorf("failed to parse document: %w", perr)
		}
		res = c.analyzeDocument(ctx, item, doc, load, started)
	}
	return res, c.output.Flush()
}

// analyzeDocument explores doc in a static environment.
func (c *Crawler) analyzeDocument(ctx context.Context, item *queue.Item, doc *htmldom.Document, load *browser.LoadResult, started time.Time) *PageResult {
	log := c.logger.WithURL(item.Request.URL)
	pr := c.newPageReporter(item, log)

	runCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	out := outcome{load: load}
	var err error
	out.run, err = c.explore(runCtx, driver.NewStaticEnvironment(doc), pr)
	return c.finish(ctx, item, pr, out, err, 1, started, log)
}

// documentClient returns the HTTP client of static mode, carrying the
// same headers and cookies a browser probe would send.
func (c *Crawler) documentClient() *phttp.Client {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if c.fetcher != nil {
		return c.fetcher
	}
	cfg := phttp.DefaultClientConfig()
	if c.config.Timeout > 0 {
		cfg.Timeout = c.config.Timeout
	}
	if c.config.Browser.UserAgent != "" {
		cfg.UserAgent = c.config.Browser.UserAgent
	}
	cfg.SkipTLSVerify = c.config.Browser.IgnoreHTTPSErrors

	target := c.target(c.config.Target)
	cfg.Headers = target.RequestHeaders()

	c.fetcher = phttp.NewClient(cfg)
	c.fetcher.SetCookies(target.Cookies)
	c.fetcher.SetRetryConfig(c.config.retryConfig())
	return c.fetcher
}

func staticItem(rawURL string) (*queue.Item, error) {
	r, err := request.New(request.TypeLink, "GET", rawURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	return queue.NewItem(r, 0, ""), nil
}
