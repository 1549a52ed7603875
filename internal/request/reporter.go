package request

import (
	"sync"

	"github.com/PentesterFlow/PageProbe/internal/state"
)

// Sink receives each unique request exactly once.
type Sink interface {
	Emit(r *Request) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r *Request) error

// Emit implements Sink.
func (f SinkFunc) Emit(r *Request) error { return f(r) }

// Reporter deduplicates requests by key before handing them to a sink.
// One reporter lives for the whole crawl and may be shared by probes.
type Reporter struct {
	mu    sync.Mutex
	seen  *state.Deduplicator
	sinks []Sink
}

// NewReporter creates a reporter over seen. A nil seen gets a fresh set.
func NewReporter(seen *state.Deduplicator, sinks ...Sink) *Reporter {
	if seen == nil {
		seen = state.NewDeduplicator(0)
	}
	return &Reporter{seen: seen, sinks: sinks}
}

// Report emits req if its key has not been seen. It returns whether the
// request was new and the first sink error, if any.
func (r *Reporter) Report(req *Request) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seen.AddIfAbsent(req.Key()) {
		return false, nil
	}

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Emit(req); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return true, firstErr
}

// Count returns the number of unique requests reported.
func (r *Reporter) Count() int {
	return r.seen.Count()
}
