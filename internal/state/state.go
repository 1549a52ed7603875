// Package state tracks what a crawl has seen and persists its records.
package state

import (
	"sync"
	"time"
)

// Store persists request and probe records.
type Store interface {
	SaveRequest(rec *RequestRecord) error
	SaveProbe(rec *ProbeRecord) error
	Requests() ([]RequestRecord, error)
	Probes() ([]ProbeRecord, error)
	Close() error
}

// Manager keeps crawl bookkeeping: pages already probed, counters and the
// optional record store.
type Manager struct {
	mu        sync.Mutex
	store     Store
	visited   *Deduplicator
	stats     Stats
	startTime time.Time
	target    string
}

// NewManager creates a new state manager. store may be nil.
func NewManager(store Store, estimatedPages int) *Manager {
	return &Manager{
		store:     store,
		visited:   NewDeduplicator(estimatedPages),
		stats:     Stats{RequestsByType: make(map[string]int)},
		startTime: time.Now(),
	}
}

// Start resets counters for a crawl of target.
func (m *Manager) Start(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = target
	m.startTime = time.Now()
	m.stats = Stats{RequestsByType: make(map[string]int)}
}

// Target returns the crawl target.
func (m *Manager) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// MarkVisited records a page key and reports whether it was new.
func (m *Manager) MarkVisited(key string) bool {
	return m.visited.AddIfAbsent(key)
}

// RecordRequest counts rec and persists it when a store is configured.
func (m *Manager) RecordRequest(rec *RequestRecord) error {
	m.mu.Lock()
	m.stats.Requests++
	m.stats.RequestsByType[rec.Type]++
	if rec.OutOfScope {
		m.stats.OutOfScope++
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.SaveRequest(rec)
}

// RecordProbe counts rec and persists it when a store is configured.
func (m *Manager) RecordProbe(rec *ProbeRecord) error {
	m.mu.Lock()
	m.stats.PagesProbed++
	if !rec.OK() {
		m.stats.PagesFailed++
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.SaveProbe(rec)
}

// GetStats returns a copy of the current statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.RequestsByType = make(map[string]int, len(m.stats.RequestsByType))
	for k, v := range m.stats.RequestsByType {
		stats.RequestsByType[k] = v
	}
	stats.Duration = time.Since(m.startTime)
	return stats
}

// Store returns the record store, which may be nil.
func (m *Manager) Store() Store {
	return m.store
}

// Close closes the record store.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
