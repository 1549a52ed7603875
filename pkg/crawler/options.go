package crawler

import (
	"io"
	"net/http"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/auth"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/metrics"
	"github.com/PentesterFlow/PageProbe/internal/scope"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithTarget sets the URL to probe.
func WithTarget(url string) Option {
	return func(c *Crawler) error {
		c.config.Target = url
		return nil
	}
}

// WithRequest sets the method and body of the initial navigation.
func WithRequest(method, data string) Option {
	return func(c *Crawler) error {
		c.config.Method = method
		c.config.Data = data
		return nil
	}
}

// WithWorkers sets the number of concurrent probes.
func WithWorkers(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			n = 1
		}
		c.config.Workers = n
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) error {
		if depth < 0 {
			depth = 0
		}
		c.config.MaxDepth = depth
		return nil
	}
}

// WithMaxPages caps the number of pages a crawl queues.
func WithMaxPages(n int) Option {
	return func(c *Crawler) error {
		c.config.MaxPages = n
		return nil
	}
}

// WithTimeout sets the deadline of one page probe.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Timeout = timeout
		return nil
	}
}

// WithProbe replaces the scheduler and analyzer options.
func WithProbe(p ProbeConfig) Option {
	return func(c *Crawler) error {
		c.config.Probe = p
		return nil
	}
}

// WithBufferCycles sets the number of idle ticks swallowed before the
// scheduler decides.
func WithBufferCycles(n int) Option {
	return func(c *Crawler) error {
		c.config.Probe.BufferCycleSize = n
		return nil
	}
}

// WithTimings sets the scheduler waits.
func WithTimings(afterXHR, afterEvent, beforeClosing time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Probe.AfterDoneXHRTimeout = afterXHR
		c.config.Probe.AfterEventTriggeredTimeout = afterEvent
		c.config.Probe.BeforeClosingTimeout = beforeClosing
		return nil
	}
}

// WithFillValues enables/disables filling inputs with generated values.
func WithFillValues(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.Probe.FillValues = enabled
		return nil
	}
}

// WithTriggerEvents enables/disables dispatching events.
func WithTriggerEvents(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.Probe.TriggerEvents = enabled
		return nil
	}
}

// WithSeed makes generated input values reproducible.
func WithSeed(seed int64) Option {
	return func(c *Crawler) error {
		c.config.Probe.Seed = seed
		return nil
	}
}

// WithScope sets the scope rules.
func WithScope(rules scope.Rules) Option {
	return func(c *Crawler) error {
		c.config.Scope = rules
		return nil
	}
}

// WithScopeMode sets how far from the target a crawl may go.
func WithScopeMode(mode scope.Mode) Option {
	return func(c *Crawler) error {
		c.config.Scope.Mode = mode
		return nil
	}
}

// WithIncludePatterns adds URL patterns to include.
func WithIncludePatterns(patterns ...string) Option {
	return func(c *Crawler) error {
		c.config.Scope.IncludePatterns = append(c.config.Scope.IncludePatterns, patterns...)
		return nil
	}
}

// WithExcludePatterns adds URL patterns to exclude.
func WithExcludePatterns(patterns ...string) Option {
	return func(c *Crawler) error {
		c.config.Scope.ExcludePatterns = append(c.config.Scope.ExcludePatterns, patterns...)
		return nil
	}
}

// WithAllowedDomains sets the allowed domains.
func WithAllowedDomains(domains ...string) Option {
	return func(c *Crawler) error {
		c.config.Scope.AllowedDomains = append(c.config.Scope.AllowedDomains, domains...)
		return nil
	}
}

// WithRateLimit sets the rate limiting configuration.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Crawler) error {
		c.config.RateLimit.RequestsPerSecond = rps
		c.config.RateLimit.Burst = burst
		return nil
	}
}

// WithAdaptiveRateLimit lowers the rate towards minRate while probes fail.
func WithAdaptiveRateLimit(minRate float64) Option {
	return func(c *Crawler) error {
		c.config.RateLimit.Adaptive = true
		c.config.RateLimit.MinRate = minRate
		return nil
	}
}

// WithBrowserPool sets the browser pool size.
func WithBrowserPool(size int) Option {
	return func(c *Crawler) error {
		if size < 1 {
			size = 1
		}
		c.config.Browser.PoolSize = size
		return nil
	}
}

// WithHeadless enables/disables headless mode.
func WithHeadless(headless bool) Option {
	return func(c *Crawler) error {
		c.config.Browser.Headless = headless
		return nil
	}
}

// WithUserAgent sets the user agent string.
func WithUserAgent(ua string) Option {
	return func(c *Crawler) error {
		c.config.Browser.UserAgent = ua
		return nil
	}
}

// WithAuth sets authentication credentials.
func WithAuth(creds auth.Credentials) Option {
	return func(c *Crawler) error {
		c.config.Auth = creds
		return nil
	}
}

// WithBearerAuth configures bearer token authentication.
func WithBearerAuth(token string) Option {
	return func(c *Crawler) error {
		c.config.Auth = auth.Credentials{
			Type:  auth.AuthTypeBearer,
			Token: token,
		}
		return nil
	}
}

// WithBasicAuth configures basic authentication.
func WithBasicAuth(username, password string) Option {
	return func(c *Crawler) error {
		c.config.Auth = auth.Credentials{
			Type:     auth.AuthTypeBasic,
			Username: username,
			Password: password,
		}
		return nil
	}
}

// WithAPIKeyAuth configures API key authentication.
func WithAPIKeyAuth(headerName, apiKey string) Option {
	return func(c *Crawler) error {
		c.config.Auth = auth.Credentials{
			Type:       auth.AuthTypeAPIKey,
			HeaderName: headerName,
			Token:      apiKey,
		}
		return nil
	}
}

// WithCookies sets cookies to include in requests.
func WithCookies(cookies []*http.Cookie) Option {
	return func(c *Crawler) error {
		c.config.Auth.Cookies = cookies
		if c.config.Auth.Type == auth.AuthTypeNone || c.config.Auth.Type == "" {
			c.config.Auth.Type = auth.AuthTypeSession
		}
		return nil
	}
}

// WithCustomHeaders sets custom headers for all requests.
func WithCustomHeaders(headers map[string]string) Option {
	return func(c *Crawler) error {
		if c.config.CustomHeaders == nil {
			c.config.CustomHeaders = make(map[string]string)
		}
		for k, v := range headers {
			c.config.CustomHeaders[k] = v
		}
		return nil
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Crawler) error {
		c.outputWriter = w
		return nil
	}
}

// WithOutputFile sets the output file path.
func WithOutputFile(path string) Option {
	return func(c *Crawler) error {
		c.config.Output.FilePath = path
		return nil
	}
}

// WithOutputFormat sets the output format: json, jsonl or htcap.
func WithOutputFormat(format string) Option {
	return func(c *Crawler) error {
		c.config.Output.Format = format
		return nil
	}
}

// WithPrettyOutput enables/disables pretty JSON output.
func WithPrettyOutput(pretty bool) Option {
	return func(c *Crawler) error {
		c.config.Output.Pretty = pretty
		return nil
	}
}

// WithStateFile sets the state file path for persistence.
func WithStateFile(path string) Option {
	return func(c *Crawler) error {
		c.config.State.FilePath = path
		c.config.State.Enabled = true
		return nil
	}
}

// WithRetries sets how often a probe failing with an environment error is
// retried.
func WithRetries(n int, initialDelay time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Retry.MaxRetries = n
		c.config.Retry.InitialDelay = initialDelay
		return nil
	}
}

// WithWebSocketVerify enables/disables dialing discovered websockets.
func WithWebSocketVerify(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.WebSocket.Verify = enabled
		return nil
	}
}

// WithFallbackStatic enables/disables analyzing a page fetched over plain
// HTTP when the browser fails to load it.
func WithFallbackStatic(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.FallbackStatic = enabled
		return nil
	}
}

// WithReferer enables/disables sending the parent page as Referer.
func WithReferer(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.SetReferer = enabled
		return nil
	}
}

// WithVerbose enables/disables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(c *Crawler) error {
		c.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables/disables debug mode.
func WithDebug(debug bool) Option {
	return func(c *Crawler) error {
		c.config.Debug = debug
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		c.config = config
		return nil
	}
}

// WithPageOpener replaces the browser pool.
func WithPageOpener(o PageOpener) Option {
	return func(c *Crawler) error {
		c.opener = o
		return nil
	}
}

// WithProgress enables/disables the progress display, written to w.
func WithProgress(enabled bool, w io.Writer) Option {
	return func(c *Crawler) error {
		c.showProgress = enabled
		c.progressOut = w
		return nil
	}
}
