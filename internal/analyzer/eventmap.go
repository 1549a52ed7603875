package analyzer

import (
	"sync"

	"github.com/PentesterFlow/PageProbe/internal/dom"
)

// EventMap records the event names known to be bindable on each element.
// Entries are never removed; detached elements simply stop being visited.
type EventMap struct {
	mu sync.RWMutex
	m  map[dom.Element][]string
}

// NewEventMap creates an empty map.
func NewEventMap() *EventMap {
	return &EventMap{m: make(map[dom.Element][]string)}
}

// Add records event for el and reports whether it was new.
func (em *EventMap) Add(el dom.Element, event string) bool {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, e := range em.m[el] {
		if e == event {
			return false
		}
	}
	em.m[el] = append(em.m[el], event)
	return true
}

// Events returns the events recorded for el in discovery order.
func (em *EventMap) Events(el dom.Element) []string {
	em.mu.RLock()
	defer em.mu.RUnlock()

	events := em.m[el]
	out := make([]string, len(events))
	copy(out, events)
	return out
}

// Len returns the number of elements with at least one event.
func (em *EventMap) Len() int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return len(em.m)
}
