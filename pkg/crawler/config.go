package crawler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/PageProbe/internal/analyzer"
	"github.com/PentesterFlow/PageProbe/internal/auth"
	"github.com/PentesterFlow/PageProbe/internal/browser"
	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/driver"
	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
	"github.com/PentesterFlow/PageProbe/internal/output"
	"github.com/PentesterFlow/PageProbe/internal/ratelimit"
	"github.com/PentesterFlow/PageProbe/internal/scheduler"
	"github.com/PentesterFlow/PageProbe/internal/scope"
)

// Config holds all crawler configuration.
type Config struct {
	// Target URL to probe
	Target string `json:"target" yaml:"target"`

	// Method and Data of the initial navigation. An empty method is GET.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Data   string `json:"data,omitempty" yaml:"data,omitempty"`

	// Number of concurrent probes during a crawl
	Workers int `json:"workers" yaml:"workers"`

	// Maximum crawl depth; the target is depth 0
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Maximum number of pages queued during a crawl (0 = unlimited)
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// Deadline of one page probe
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Scheduler and analyzer options
	Probe ProbeConfig `json:"probe" yaml:"probe"`

	// Scope rules
	Scope scope.Rules `json:"scope" yaml:"scope"`

	// Rate limiting
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Browser configuration
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Authentication
	Auth auth.Credentials `json:"auth" yaml:"auth"`

	// Custom headers to include in all requests
	CustomHeaders map[string]string `json:"custom_headers,omitempty" yaml:"custom_headers,omitempty"`

	// Cookies to include in all requests
	Cookies map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`

	// Output configuration
	Output output.Config `json:"output" yaml:"output"`

	// State persistence
	State StateConfig `json:"state" yaml:"state"`

	// Probe retries
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// WebSocket verification
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`

	// FallbackStatic analyzes the markup of a plain HTTP fetch when the
	// browser cannot load or explore a page.
	FallbackStatic bool `json:"fallback_static" yaml:"fallback_static"`

	// SetReferer sends the page a request was found on as its Referer.
	SetReferer bool `json:"set_referer" yaml:"set_referer"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// ProbeConfig holds the options of the scheduler and analyzer that explore
// one page.
type ProbeConfig struct {
	BufferCycleSize            int                       `json:"buffer_cycle_size" yaml:"buffer_cycle_size"`
	AfterDoneXHRTimeout        time.Duration             `json:"after_done_xhr_timeout" yaml:"after_done_xhr_timeout"`
	AfterEventTriggeredTimeout time.Duration             `json:"after_event_triggered_timeout" yaml:"after_event_triggered_timeout"`
	BeforeClosingTimeout       time.Duration             `json:"before_closing_timeout" yaml:"before_closing_timeout"`
	FillValues                 bool                      `json:"fill_values" yaml:"fill_values"`
	TriggerEvents              bool                      `json:"trigger_events" yaml:"trigger_events"`
	WatchedEvents              []string                  `json:"watched_events,omitempty" yaml:"watched_events,omitempty"`
	SelectorEvents             []analyzer.SelectorEvents `json:"selector_events,omitempty" yaml:"selector_events,omitempty"`
	ValueRules                 []analyzer.ValueRule      `json:"value_rules,omitempty" yaml:"value_rules,omitempty"`
	// Seed makes generated input values reproducible; 0 picks a random seed.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	HostDelay         time.Duration `json:"host_delay" yaml:"host_delay"`
	// Adaptive lowers the rate towards MinRate while probes fail.
	Adaptive bool    `json:"adaptive" yaml:"adaptive"`
	MinRate  float64 `json:"min_rate,omitempty" yaml:"min_rate,omitempty"`
}

// StateConfig defines state persistence configuration.
type StateConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

// RetryConfig defines how failed probes are retried.
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
}

// WebSocketConfig defines websocket verification.
type WebSocketConfig struct {
	Verify           bool          `json:"verify" yaml:"verify"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	ReadWindow       time.Duration `json:"read_window" yaml:"read_window"`
}

// DefaultProbeConfig returns the default scheduler and analyzer options.
func DefaultProbeConfig() ProbeConfig {
	sc := scheduler.DefaultConfig()
	return ProbeConfig{
		BufferCycleSize:            sc.BufferCycleSize,
		AfterDoneXHRTimeout:        sc.AfterDoneXHRTimeout,
		AfterEventTriggeredTimeout: sc.AfterEventTriggeredTimeout,
		BeforeClosingTimeout:       sc.BeforeClosingTimeout,
		FillValues:                 true,
		TriggerEvents:              true,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Method:   "GET",
		Workers:  4,
		MaxDepth: 3,
		Timeout:  3 * time.Minute,
		Probe:    DefaultProbeConfig(),
		Scope: scope.Rules{
			Mode:            scope.ModeDomain,
			ExcludePatterns: append([]string(nil), scope.DefaultExcludePatterns...),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             2,
		},
		Browser: browser.DefaultConfig(),
		Auth: auth.Credentials{
			Type: auth.AuthTypeNone,
		},
		Output: output.Config{
			Format: output.FormatJSONL,
		},
		State: StateConfig{
			Enabled: false,
		},
		Retry: RetryConfig{
			MaxRetries:   2,
			InitialDelay: 500 * time.Millisecond,
		},
		WebSocket: WebSocketConfig{
			Verify:           true,
			HandshakeTimeout: 10 * time.Second,
			ReadWindow:       2 * time.Second,
		},
	}
}

// ThoroughConfig returns a configuration that waits longer on every page
// and crawls deeper. Use it on slow applications that fire requests well
// after an event.
func ThoroughConfig() *Config {
	c := DefaultConfig()
	c.MaxDepth = 6
	c.Timeout = 10 * time.Minute
	c.Probe.BufferCycleSize = 4
	c.Probe.AfterDoneXHRTimeout = 500 * time.Millisecond
	c.Probe.AfterEventTriggeredTimeout = 100 * time.Millisecond
	c.Probe.BeforeClosingTimeout = time.Second
	c.Probe.SelectorEvents = []analyzer.SelectorEvents{
		{Selector: "[role=button], [role=link], [role=tab], [role=menuitem]", Events: []string{"click"}},
	}
	c.RateLimit.RequestsPerSecond = 2
	c.RateLimit.Adaptive = true
	c.RateLimit.MinRate = 0.5
	c.Browser.PoolSize = 2
	c.State.Enabled = true
	c.State.FilePath = "pageprobe.db"
	return c
}

// QuickConfig returns a configuration for a fast first look: no waiting
// between events, a single retry and a shallow crawl.
func QuickConfig() *Config {
	c := DefaultConfig()
	c.Workers = 8
	c.MaxDepth = 1
	c.Timeout = 30 * time.Second
	c.Probe.BufferCycleSize = 1
	c.Probe.AfterDoneXHRTimeout = 10 * time.Millisecond
	c.Probe.AfterEventTriggeredTimeout = 0
	c.Probe.BeforeClosingTimeout = 50 * time.Millisecond
	c.RateLimit.RequestsPerSecond = 20
	c.RateLimit.Burst = 5
	c.Browser.PoolSize = 8
	c.Browser.Timeout = 30 * time.Second
	c.Retry.MaxRetries = 1
	c.WebSocket.Verify = false
	return c
}

// LoadFromFile loads configuration from a file (YAML or JSON) on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. Paths ending in .json are
// written as JSON, everything else as YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target URL is required")
	}

	u, err := url.Parse(c.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target must be an absolute http(s) URL: %q", c.Target)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}

	if c.Browser.PoolSize < 1 {
		return fmt.Errorf("browser pool size must be at least 1")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}

	if c.Scope.Mode != "" && !c.Scope.Mode.Valid() {
		return fmt.Errorf("unknown scope mode %q", c.Scope.Mode)
	}

	switch c.Output.Format {
	case "", output.FormatJSON, output.FormatJSONL, output.FormatHtcap:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}

	return c.schedulerConfig().Validate()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	clone.Auth.Cookies = append(clone.Auth.Cookies, c.Auth.Cookies...)
	return clone
}

func (c *Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		BufferCycleSize:            c.Probe.BufferCycleSize,
		AfterDoneXHRTimeout:        c.Probe.AfterDoneXHRTimeout,
		AfterEventTriggeredTimeout: c.Probe.AfterEventTriggeredTimeout,
		BeforeClosingTimeout:       c.Probe.BeforeClosingTimeout,
	}
}

// driverConfig maps the probe options onto the scheduler and analyzer.
// Empty lists keep the analyzer defaults.
func (c *Config) driverConfig() driver.Config {
	acfg := analyzer.DefaultConfig()
	acfg.FillValues = c.Probe.FillValues
	acfg.TriggerEvents = c.Probe.TriggerEvents
	acfg.SelectorMap = c.Probe.SelectorEvents
	acfg.Seed = c.Probe.Seed
	if len(c.Probe.WatchedEvents) > 0 {
		acfg.WatchedEvents = c.Probe.WatchedEvents
	} else {
		acfg.WatchedEvents = dom.DefaultWatchedEvents()
	}
	if len(c.Probe.ValueRules) > 0 {
		acfg.ValueRules = c.Probe.ValueRules
	}

	return driver.Config{
		Scheduler: c.schedulerConfig(),
		Analyzer:  acfg,
	}
}

func (c *Config) retryConfig() perrors.RetryConfig {
	rc := perrors.DefaultRetryConfig()
	rc.MaxRetries = c.Retry.MaxRetries
	if c.Retry.InitialDelay > 0 {
		rc.InitialDelay = c.Retry.InitialDelay
	}
	return rc
}

func (c *Config) limiterConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
		HostDelay:         c.RateLimit.HostDelay,
	}
}
