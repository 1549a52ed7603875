// Package queue holds the pages waiting to be probed by the crawler.
package queue

// Queue defines the interface for page queues.
type Queue interface {
	// Push adds an item to the queue
	Push(item *Item) error

	// Pop removes and returns the next item from the queue
	Pop() (*Item, error)

	// Peek returns the next item without removing it
	Peek() (*Item, error)

	// Len returns the number of items in the queue
	Len() int

	// IsEmpty returns true if the queue is empty
	IsEmpty() bool

	// Clear removes all items from the queue
	Clear() error

	// Close closes the queue and releases resources
	Close() error

	// Contains checks if a request with key is already queued
	Contains(key string) bool
}
