// Package metrics collects scheduler and probe counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	// Scheduler counters
	ticks   atomic.Int64
	selects atomic.Int64

	// Probe counters
	requestsTotal atomic.Int64
	errorsTotal   atomic.Int64
	pagesProbed   atomic.Int64
	pagesFailed   atomic.Int64
	retriesTotal  atomic.Int64
	outOfScope    atomic.Int64

	// Rate tracking
	requestsInWindow atomic.Int64
	windowStart      atomic.Int64

	// Probe duration tracking
	probeTimesSum atomic.Int64
	probeTimesNum atomic.Int64

	// Gauges
	queueDepth       atomic.Int64
	activeWorkers    atomic.Int64
	browserPoolSize  atomic.Int64
	browserPoolInUse atomic.Int64

	// Histogram of probe durations in ms: <250, <500, <1000, <2500, <5000, <10000, <30000, >=30000
	probeTimeBuckets [8]atomic.Int64

	actions  counterMap
	requests counterMap
	errors   counterMap

	startTime time.Time
}

type counterMap struct {
	mu sync.RWMutex
	m  map[string]*atomic.Int64
}

func (c *counterMap) inc(key string) {
	c.mu.RLock()
	v := c.m[key]
	c.mu.RUnlock()
	if v == nil {
		c.mu.Lock()
		if c.m == nil {
			c.m = make(map[string]*atomic.Int64)
		}
		if v = c.m[key]; v == nil {
			v = &atomic.Int64{}
			c.m[key] = v
		}
		c.mu.Unlock()
	}
	v.Add(1)
}

func (c *counterMap) snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.m))
	for k, v := range c.m {
		out[k] = v.Load()
	}
	return out
}

func (c *counterMap) reset() {
	c.mu.Lock()
	c.m = nil
	c.mu.Unlock()
}

// New creates a new metrics collector.
func New() *Collector {
	now := time.Now()
	c := &Collector{startTime: now}
	c.windowStart.Store(now.UnixNano())
	return c
}

// RecordTick counts one tick delivered to a scheduler.
func (c *Collector) RecordTick() {
	if c == nil {
		return
	}
	c.ticks.Add(1)
}

// RecordAction counts one selectNextAction decision by its outcome.
func (c *Collector) RecordAction(action string) {
	if c == nil {
		return
	}
	c.selects.Add(1)
	c.actions.inc(action)
}

// RecordRequest counts one reported request.
func (c *Collector) RecordRequest(reqType string) {
	if c == nil {
		return
	}
	c.requestsTotal.Add(1)
	c.requestsInWindow.Add(1)
	c.requests.inc(reqType)
}

// RecordOutOfScope counts a request the crawler will not follow.
func (c *Collector) RecordOutOfScope() {
	if c == nil {
		return
	}
	c.outOfScope.Add(1)
}

// RecordError records an error by type.
func (c *Collector) RecordError(errorType string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.errors.inc(errorType)
}

// RecordProbe records a finished probe and its duration.
func (c *Collector) RecordProbe(d time.Duration, ok bool) {
	if c == nil {
		return
	}
	c.pagesProbed.Add(1)
	if !ok {
		c.pagesFailed.Add(1)
	}
	ms := d.Milliseconds()
	c.probeTimesSum.Add(ms)
	c.probeTimesNum.Add(1)
	c.probeTimeBuckets[c.getBucket(ms)].Add(1)
}

// getBucket returns the histogram bucket for a given probe time.
func (c *Collector) getBucket(ms int64) int {
	switch {
	case ms < 250:
		return 0
	case ms < 500:
		return 1
	case ms < 1000:
		return 2
	case ms < 2500:
		return 3
	case ms < 5000:
		return 4
	case ms < 10000:
		return 5
	case ms < 30000:
		return 6
	default:
		return 7
	}
}

// RecordRetry records a retry attempt.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Add(1)
}

// SetQueueDepth sets the current queue depth.
func (c *Collector) SetQueueDepth(depth int64) {
	if c == nil {
		return
	}
	c.queueDepth.Store(depth)
}

// SetActiveWorkers sets the number of active workers.
func (c *Collector) SetActiveWorkers(n int64) {
	if c == nil {
		return
	}
	c.activeWorkers.Store(n)
}

// SetBrowserPoolStats sets browser pool statistics.
func (c *Collector) SetBrowserPoolStats(size, inUse int64) {
	if c == nil {
		return
	}
	c.browserPoolSize.Store(size)
	c.browserPoolInUse.Store(inUse)
}

// GetRequestsPerSecond returns the request discovery rate over the
// current 10s window.
func (c *Collector) GetRequestsPerSecond() float64 {
	windowDuration := 10 * time.Second
	now := time.Now().UnixNano()
	windowStart := c.windowStart.Load()

	elapsed := time.Duration(now - windowStart)
	if elapsed >= windowDuration {
		// Rotate window
		if c.windowStart.CompareAndSwap(windowStart, now) {
			c.requestsInWindow.Store(0)
		}
		return 0
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(c.requestsInWindow.Load()) / elapsed.Seconds()
}

// GetAverageProbeTime returns the average probe duration.
func (c *Collector) GetAverageProbeTime() time.Duration {
	sum := c.probeTimesSum.Load()
	num := c.probeTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:         time.Now(),
		Uptime:            time.Since(c.startTime),
		Ticks:             c.ticks.Load(),
		Selects:           c.selects.Load(),
		RequestsTotal:     c.requestsTotal.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		PagesProbed:       c.pagesProbed.Load(),
		PagesFailed:       c.pagesFailed.Load(),
		RetriesTotal:      c.retriesTotal.Load(),
		OutOfScope:        c.outOfScope.Load(),
		QueueDepth:        c.queueDepth.Load(),
		ActiveWorkers:     c.activeWorkers.Load(),
		BrowserPoolSize:   c.browserPoolSize.Load(),
		BrowserPoolInUse:  c.browserPoolInUse.Load(),
		RequestsPerSecond: c.GetRequestsPerSecond(),
		AverageProbeTime:  c.GetAverageProbeTime(),
		Actions:           c.actions.snapshot(),
		RequestsByType:    c.requests.snapshot(),
		ErrorCounts:       c.errors.snapshot(),
		ProbeTimeHist:     make([]int64, len(c.probeTimeBuckets)),
	}
	for i := range c.probeTimeBuckets {
		s.ProbeTimeHist[i] = c.probeTimeBuckets[i].Load()
	}
	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.ticks.Store(0)
	c.selects.Store(0)
	c.requestsTotal.Store(0)
	c.errorsTotal.Store(0)
	c.pagesProbed.Store(0)
	c.pagesFailed.Store(0)
	c.retriesTotal.Store(0)
	c.outOfScope.Store(0)
	c.requestsInWindow.Store(0)
	c.probeTimesSum.Store(0)
	c.probeTimesNum.Store(0)
	c.queueDepth.Store(0)
	c.activeWorkers.Store(0)
	c.browserPoolSize.Store(0)
	c.browserPoolInUse.Store(0)

	for i := range c.probeTimeBuckets {
		c.probeTimeBuckets[i].Store(0)
	}
	c.actions.reset()
	c.requests.reset()
	c.errors.reset()

	c.windowStart.Store(time.Now().UnixNano())
	c.startTime = time.Now()
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp         time.Time        `json:"timestamp"`
	Uptime            time.Duration    `json:"uptime"`
	Ticks             int64            `json:"ticks"`
	Selects           int64            `json:"selects"`
	RequestsTotal     int64            `json:"requests_total"`
	ErrorsTotal       int64            `json:"errors_total"`
	PagesProbed       int64            `json:"pages_probed"`
	PagesFailed       int64            `json:"pages_failed"`
	RetriesTotal      int64            `json:"retries_total"`
	OutOfScope        int64            `json:"out_of_scope"`
	QueueDepth        int64            `json:"queue_depth"`
	ActiveWorkers     int64            `json:"active_workers"`
	BrowserPoolSize   int64            `json:"browser_pool_size"`
	BrowserPoolInUse  int64            `json:"browser_pool_in_use"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	AverageProbeTime  time.Duration    `json:"average_probe_time"`
	Actions           map[string]int64 `json:"actions"`
	RequestsByType    map[string]int64 `json:"requests_by_type"`
	ErrorCounts       map[string]int64 `json:"error_counts"`
	ProbeTimeHist     []int64          `json:"probe_time_histogram"`
}

// FailureRate returns failed probes over probed pages.
func (s *Snapshot) FailureRate() float64 {
	if s.PagesProbed == 0 {
		return 0
	}
	return float64(s.PagesFailed) / float64(s.PagesProbed)
}

// BrowserPoolUtilization returns the browser pool utilization (0-1).
func (s *Snapshot) BrowserPoolUtilization() float64 {
	if s.BrowserPoolSize == 0 {
		return 0
	}
	return float64(s.BrowserPoolInUse) / float64(s.BrowserPoolSize)
}

// Summary returns a loggable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":            s.Uptime.String(),
		"ticks":             s.Ticks,
		"actions":           s.Selects,
		"requests_total":    s.RequestsTotal,
		"errors_total":      s.ErrorsTotal,
		"pages_probed":      s.PagesProbed,
		"pages_failed":      s.PagesFailed,
		"failure_rate":      s.FailureRate(),
		"out_of_scope":      s.OutOfScope,
		"queue_depth":       s.QueueDepth,
		"active_workers":    s.ActiveWorkers,
		"avg_probe_time_ms": s.AverageProbeTime.Milliseconds(),
		"browser_pool_util": s.BrowserPoolUtilization(),
	}
}

// Global metrics collector.
var globalCollector = New()

// SetGlobal sets the global metrics collector.
func SetGlobal(c *Collector) {
	globalCollector = c
}

// Global returns the global metrics collector.
func Global() *Collector {
	return globalCollector
}
