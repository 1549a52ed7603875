package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplicator is a set of request keys backed by a Bloom filter for the
// fast negative path and an exact map for confirmation.
type Deduplicator struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewDeduplicator creates a set sized for estimatedKeys.
func NewDeduplicator(estimatedKeys int) *Deduplicator {
	if estimatedKeys < 1000 {
		estimatedKeys = 1000
	}

	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedKeys), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// AddIfAbsent records key and reports whether it was new.
func (d *Deduplicator) AddIfAbsent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(key) {
		if _, exists := d.exact[key]; exists {
			return false
		}
	}
	d.filter.AddString(key)
	d.exact[key] = struct{}{}
	return true
}

// Count returns the number of unique keys.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.exact)
}
