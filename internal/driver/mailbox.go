package driver

import (
	"sync"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// NotificationKind identifies the feed a notification came from.
type NotificationKind int

const (
	// Mutation carries a batch of DOM changes.
	Mutation NotificationKind = iota
	// RequestSent marks Ref as in flight.
	RequestSent
	// RequestCompleted marks Ref as finished, successfully or not.
	RequestCompleted
	// Navigation carries a navigation attempt to URL.
	Navigation
	// Found carries a request observed by the environment.
	Found
	// Failure means the environment can no longer deliver events.
	Failure
)

func (k NotificationKind) String() string {
	switch k {
	case Mutation:
		return "mutation"
	case RequestSent:
		return "request_sent"
	case RequestCompleted:
		return "request_completed"
	case Navigation:
		return "navigation"
	case Found:
		return "found"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Notification is one event delivered by an environment.
type Notification struct {
	Kind      NotificationKind
	Mutations []dom.Mutation
	Ref       any
	URL       string
	Request   *request.Request
	Err       error
}

// Mailbox is an unbounded multi-producer, single-consumer queue. Producers
// never block, so environment callbacks can post from any goroutine.
type Mailbox struct {
	mu     sync.Mutex
	items  []Notification
	signal chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{signal: make(chan struct{}, 1)}
}

// Post enqueues n.
func (m *Mailbox) Post(n Notification) {
	m.mu.Lock()
	m.items = append(m.items, n)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Drain removes and returns everything posted so far, oldest first.
func (m *Mailbox) Drain() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Ready is signalled after Post. A signal may cover several posts.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.signal
}

// Len returns the number of queued notifications.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
