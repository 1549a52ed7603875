package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/PentesterFlow/PageProbe/internal/logger"
)

// Launcher starts a browser. Tests replace it to avoid launching Chrome.
type Launcher func(Config) (*Browser, error)

// Pool manages a pool of browser instances.
type Pool struct {
	mu       sync.Mutex
	browsers []*Browser
	config   Config
	launch   Launcher
	size     int
	current  int
	closed   bool
	sem      chan struct{}
}

// NewPool creates a pool and launches every browser up front.
func NewPool(config Config) (*Pool, error) {
	return newPool(config, New)
}

func newPool(config Config, launch Launcher) (*Pool, error) {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}

	pool := &Pool{
		browsers: make([]*Browser, config.PoolSize),
		config:   config,
		launch:   launch,
		size:     config.PoolSize,
		sem:      make(chan struct{}, config.PoolSize),
	}

	for i := 0; i < config.PoolSize; i++ {
		pool.sem <- struct{}{}
	}

	for i := 0; i < config.PoolSize; i++ {
		browser, err := launch(config)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create browser %d: %w", i, err)
		}
		pool.browsers[i] = browser
	}

	return pool, nil
}

// Acquire gets a browser from the pool, recycling it when it has served
// RecycleAfter pages.
func (p *Pool) Acquire(ctx context.Context) (*Browser, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.sem <- struct{}{}
		return nil, fmt.Errorf("pool is closed")
	}

	idx := p.current
	p.current = (p.current + 1) % p.size
	browser := p.browsers[idx]

	if browser.NeedsRecycle() {
		_ = browser.Close()
		fresh, err := p.launch(p.config)
		if err != nil {
			p.sem <- struct{}{}
			return nil, fmt.Errorf("failed to recycle browser: %w", err)
		}
		p.browsers[idx] = fresh
		browser = fresh
	}

	return browser, nil
}

// Release returns a browser to the pool.
func (p *Pool) Release(*Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.sem <- struct{}{}
	}
}

// Lease is a page opened from the pool. Close releases the browser.
type Lease struct {
	*Page
	pool    *Pool
	browser *Browser
	once    sync.Once
}

// Close closes the page and returns its browser to the pool.
func (l *Lease) Close() error {
	var err error
	l.once.Do(func() {
		err = l.Page.Close()
		l.pool.Release(l.browser)
	})
	return err
}

// Open acquires a browser and opens a page for target on it.
func (p *Pool) Open(ctx context.Context, target Target, log *logger.Logger) (*Lease, error) {
	browser, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	page, err := browser.Open(ctx, target, log)
	if err != nil {
		p.Release(browser)
		return nil, err
	}
	return &Lease{Page: page, pool: p, browser: browser}, nil
}

// Close closes all browsers in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	var lastErr error
	for _, browser := range p.browsers {
		if browser != nil {
			if err := browser.Close(); err != nil {
				lastErr = err
			}
		}
	}

	return lastErr
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}

// PoolStats reports pool usage.
type PoolStats struct {
	Size       int `json:"size"`
	Available  int `json:"available"`
	InUse      int `json:"in_use"`
	TotalPages int `json:"total_pages"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	totalPages := 0
	for _, b := range p.browsers {
		if b != nil {
			totalPages += b.PageCount()
		}
	}

	available := len(p.sem)
	return PoolStats{
		Size:       p.size,
		Available:  available,
		InUse:      p.size - available,
		TotalPages: totalPages,
	}
}
