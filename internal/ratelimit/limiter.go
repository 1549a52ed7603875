// Package ratelimit paces page loads during a crawl.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter. A zero RequestsPerSecond disables the
// global limit.
type Config struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	HostDelay         time.Duration `json:"host_delay" yaml:"host_delay"`
}

// Limiter limits page loads globally and per host.
type Limiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	perHost     map[string]*rate.Limiter
	hostRate    rate.Limit
	hostBurst   int
	hostDelay   time.Duration
	lastRequest map[string]time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:     rate.NewLimiter(limit, burst),
		perHost:     make(map[string]*rate.Limiter),
		hostRate:    limit,
		hostBurst:   burst,
		hostDelay:   cfg.HostDelay,
		lastRequest: make(map[string]time.Time),
	}
}

// Wait blocks until a load of rawURL is allowed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	l.mu.Lock()
	hostLimiter, ok := l.perHost[host]
	if !ok {
		hostLimiter = rate.NewLimiter(l.hostRate, l.hostBurst)
		l.perHost[host] = hostLimiter
	}

	var wait time.Duration
	now := time.Now()
	if l.hostDelay > 0 {
		next := now
		if last, ok := l.lastRequest[host]; ok && last.Add(l.hostDelay).After(now) {
			next = last.Add(l.hostDelay)
			wait = next.Sub(now)
		}
		// Reserve the slot before sleeping so concurrent workers queue up.
		l.lastRequest[host] = next
	}
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return hostLimiter.Wait(ctx)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// SetHostRate sets a custom rate limit for a specific host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[strings.ToLower(host)] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Allow checks if a load is allowed without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SetRate updates the global rate limit.
func (l *Limiter) SetRate(requestsPerSecond float64) {
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
}

// Rate returns the current global limit.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		HostCount: len(l.perHost),
		Rate:      float64(l.limiter.Limit()),
		Burst:     l.limiter.Burst(),
		HostDelay: l.hostDelay,
	}
}

// Stats contains rate limiter statistics.
type Stats struct {
	HostCount int           `json:"host_count"`
	Rate      float64       `json:"rate"`
	Burst     int           `json:"burst"`
	HostDelay time.Duration `json:"host_delay"`
}

// Adaptive slows the global rate when too many loads fail and speeds it
// back up while they succeed.
type Adaptive struct {
	*Limiter
	mu           sync.Mutex
	minRate      float64
	maxRate      float64
	currentRate  float64
	errorCount   int
	successCount int
	windowSize   int
}

// NewAdaptive creates an adaptive limiter that moves between minRate and
// maxRate, re-evaluating every window outcomes.
func NewAdaptive(cfg Config, minRate float64, window int) *Adaptive {
	if window < 1 {
		window = 20
	}
	return &Adaptive{
		Limiter:     NewLimiter(cfg),
		minRate:     minRate,
		maxRate:     cfg.RequestsPerSecond,
		currentRate: cfg.RequestsPerSecond,
		windowSize:  window,
	}
}

// Record records the outcome of one load.
func (a *Adaptive) Record(ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ok {
		a.successCount++
	} else {
		a.errorCount++
	}
	a.adjust()
}

func (a *Adaptive) adjust() {
	total := a.successCount + a.errorCount
	if total < a.windowSize || a.maxRate <= 0 {
		return
	}

	errorRate := float64(a.errorCount) / float64(total)

	switch {
	case errorRate > 0.1:
		a.currentRate *= 0.8
		if a.currentRate < a.minRate {
			a.currentRate = a.minRate
		}
	case errorRate < 0.01:
		a.currentRate *= 1.1
		if a.currentRate > a.maxRate {
			a.currentRate = a.maxRate
		}
	}

	a.SetRate(a.currentRate)

	a.successCount = 0
	a.errorCount = 0
}

// CurrentRate returns the current rate.
func (a *Adaptive) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
