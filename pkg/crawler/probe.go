package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/browser"
	"github.com/PentesterFlow/PageProbe/internal/dom/htmldom"
	"github.com/PentesterFlow/PageProbe/internal/driver"
	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
	phttp "github.com/PentesterFlow/PageProbe/internal/http"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/output"
	"github.com/PentesterFlow/PageProbe/internal/queue"
	"github.com/PentesterFlow/PageProbe/internal/state"
)

// outcome is what one probe attempt learned about a page.
type outcome struct {
	load     *browser.LoadResult
	run      *driver.Result
	cookies  []*http.Cookie
	fallback bool
}

// probe loads item in a browser page, retrying environment failures, and
// writes the page's closing records.
func (c *Crawler) probe(ctx context.Context, item *queue.Item, log *logger.Logger) *PageResult {
	rawURL := item.Request.URL
	log = log.WithURL(rawURL)
	started := time.Now()
	pr := c.newPageReporter(item, log)

	var out outcome
	var err error
	attempts := 0

	if err = c.limiter.Wait(ctx, rawURL); err != nil {
		err = perrors.NewCancelledError(rawURL, "rate limit")
	} else {
		log.Event(logger.InfoLevel).Int("depth", item.Depth).Msg("Probing page")
		rr := c.retrier.Do(ctx, "probe", rawURL, func(ctx context.Context) error {
			attempts++
			if attempts > 1 {
				c.metrics.RecordRetry()
				log.Event(logger.WarnLevel).Int("attempt", attempts).Msg("Retrying probe")
			}
			var perr error
			out, perr = c.probeOnce(ctx, item, pr, log)
			return perr
		})
		if !rr.Success {
			err = rr.LastError
		}
	}

	if err != nil && c.config.FallbackStatic {
		out = c.fallback(ctx, item, pr, out, err, log)
	}

	return c.finish(ctx, item, pr, out, err, attempts, started, log)
}

// probeOnce runs one attempt within the probe deadline.
func (c *Crawler) probeOnce(ctx context.Context, item *queue.Item, pr *pageReporter, log *logger.Logger) (outcome, error) {
	var out outcome
	rawURL := item.Request.URL

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	target := c.target(rawURL)
	if item.Request.Method != "GET" || item.Request.Data != "" {
		target.Method = item.Request.Method
		target.Data = item.Request.Data
	}
	if c.config.SetReferer && item.ParentURL != "" {
		target.Headers["Referer"] = item.ParentURL
	}

	page, err := c.opener.Open(ctx, target, log)
	if err != nil {
		if ctx.Err() != nil {
			return out, classify(ctx, rawURL, "open", err)
		}
		return out, perrors.NewEnvironmentError(rawURL, "open", err)
	}
	defer page.Close()

	out.load, err = page.Load(ctx)
	if err != nil {
		return out, classify(ctx, rawURL, "load", err)
	}
	if out.load != nil && out.load.Redirect != "" {
		pr.reportRedirect(out.load.Redirect)
		return out, nil
	}

	out.run, err = c.explore(ctx, page, pr)
	if cookies, cerr := page.Cookies(); cerr == nil {
		out.cookies = cookies
		c.keepCookies(rawURL, cookies)
	} else {
		log.Debugf("failed to read cookies: %v", cerr)
	}
	return out, err
}

// fallback fetches a page the browser failed on over plain HTTP and
// analyzes its markup. Only GET pages that failed to load or lost their
// browser qualify. The page keeps its error status.
func (c *Crawler) fallback(ctx context.Context, item *queue.Item, pr *pageReporter, out outcome, err error, log *logger.Logger) outcome {
	switch statusCode(err) {
	case output.CodeLoad, output.CodeEnvironment:
	default:
		return out
	}
	if ctx.Err() != nil || item.Request.Method != "GET" || item.Request.Data != "" {
		return out
	}

	rawURL := item.Request.URL
	fetched, ferr := c.documentClient().GetWithRetry(ctx, rawURL)
	if ferr != nil {
		log.Debugf("static fallback failed: %v", ferr)
		return out
	}
	out.fallback = true
	if out.load == nil || out.load.StatusCode == 0 {
		out.load = &browser.LoadResult{
			URL:         fetched.URL,
			StatusCode:  fetched.StatusCode,
			ContentType: fetched.ContentType,
			Redirect:    fetched.Redirect,
		}
	}
	log.Event(logger.InfoLevel).Int("status_code", fetched.StatusCode).Msg("Analyzing page without browser")

	if fetched.Redirect != "" {
		pr.reportRedirect(fetched.Redirect)
		return out
	}

	doc, perr := htmldom.ParseString(fetched.HTML, fetched.URL)
	if perr != nil {
		log.Debugf("static fallback: %v", perr)
		return out
	}

	runCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	run, rerr := c.explore(runCtx, driver.NewStaticEnvironment(doc), pr)
	if rerr != nil {
		log.Debugf("static fallback: %v", rerr)
	}
	if out.run == nil {
		out.run = run
	}
	return out
}

// explore runs the scheduler and analyzer over env until the scheduler
// terminates.
func (c *Crawler) explore(ctx context.Context, env driver.Environment, pr *pageReporter) (*driver.Result, error) {
	cfg := c.config.driverConfig()
	cfg.Logger = pr.log
	cfg.Metrics = c.metrics

	drv, err := driver.New(cfg, env, pr)
	if err != nil {
		return nil, err
	}
	return drv.Run(ctx)
}

// classify turns a failed step into a probe error. A spent deadline wins
// over whatever the step reported.
func classify(ctx context.Context, rawURL, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return perrors.NewTimeoutError(rawURL, op, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return perrors.NewCancelledError(rawURL, op)
	}
	var pe *perrors.ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	// Load and content type failures keep their sentinel for statusCode.
	return err
}

// statusCode maps a probe error to the code of its status record.
func statusCode(err error) string {
	switch {
	case errors.Is(err, browser.ErrContentType), errors.Is(err, phttp.ErrContentType):
		return output.CodeContentType
	case errors.Is(err, browser.ErrLoad):
		return output.CodeLoad
	}
	switch perrors.GetErrorType(err) {
	case perrors.Timeout:
		return output.CodeTimeout
	case perrors.Cancelled:
		return output.CodeCancelled
	case perrors.Environment:
		return output.CodeEnvironment
	default:
		return output.CodeLoad
	}
}

// finish writes the closing records of a page: cookies, websocket checks
// and the status, in that order.
func (c *Crawler) finish(ctx context.Context, item *queue.Item, pr *pageReporter, out outcome, err error, attempts int, started time.Time, log *logger.Logger) *PageResult {
	rawURL := item.Request.URL
	res := &PageResult{
		URL:       rawURL,
		Method:    item.Request.Method,
		Depth:     item.Depth,
		ParentURL: item.ParentURL,
		Attempts:  attempts,
		StartedAt: started,
	}

	status := &output.Status{
		URL:      rawURL,
		Status:   output.StatusOK,
		Fallback: out.fallback,
	}
	if out.load != nil {
		status.StatusCode = out.load.StatusCode
		status.Redirect = out.load.Redirect
	}
	if out.run != nil {
		res.Ticks = out.run.Ticks
	}
	if err != nil {
		status.Status = output.StatusError
		status.Code = statusCode(err)
		status.Message = err.Error()
		status.Partial = out.run != nil && out.run.Partial
		c.metrics.RecordError(status.Code)
		log.Event(logger.WarnLevel).
			Err(err).
			Str("code", status.Code).
			Bool("partial", status.Partial).
			Msg("Probe failed")
	}

	if len(out.cookies) > 0 {
		res.Cookies = output.CookiesFrom(out.cookies)
		if werr := c.output.WriteCookies(&output.PageCookies{URL: rawURL, Cookies: res.Cookies}); werr != nil {
			log.WithError(werr).Warn("failed to write cookies")
		}
	}

	res.WebSockets = c.verifySockets(ctx, pr, log)

	res.CompletedAt = time.Now()
	status.Requests = pr.Found()
	status.Duration = res.CompletedAt.Sub(started)
	res.Status = status

	if werr := c.output.WriteStatus(status); werr != nil {
		log.WithError(werr).Warn("failed to write status")
	}

	if serr := c.state.RecordProbe(&state.ProbeRecord{
		Session:    c.sessionID,
		URL:        rawURL,
		Status:     status.Status,
		Code:       status.Code,
		Message:    status.Message,
		Partial:    status.Partial,
		Redirect:   status.Redirect,
		Requests:   status.Requests,
		Attempts:   attempts,
		StartedAt:  started,
		FinishedAt: res.CompletedAt,
	}); serr != nil {
		log.WithError(serr).Warn("failed to persist probe")
	}

	c.metrics.RecordProbe(status.Duration, status.OK())
	if c.adaptive != nil && status.Code != output.CodeCancelled {
		c.adaptive.Record(status.OK())
	}

	log.Event(logger.InfoLevel).
		Str("status", status.Status).
		Int("requests", status.Requests).
		Dur("duration", status.Duration).
		Msg("Probe finished")

	c.record(res)
	return res
}

// verifySockets dials the websockets a page reported and writes each new
// check. It returns the number of checks written.
func (c *Crawler) verifySockets(ctx context.Context, pr *pageReporter, log *logger.Logger) int {
	if c.verifier == nil || ctx.Err() != nil {
		return 0
	}
	n := 0
	for _, r := range pr.Sockets() {
		check, isNew := c.verifier.Verify(ctx, r.URL, pr.page)
		if !isNew {
			continue
		}
		if check.Err != nil {
			log.Debugf("websocket %s: %v", r.URL, check.Err)
		}
		if err := c.output.WriteWebSocket(check.Output()); err != nil {
			log.WithError(err).Warn("failed to write websocket check")
			continue
		}
		n++
	}
	return n
}
