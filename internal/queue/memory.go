package queue

import (
	"container/heap"
	"errors"
	"sync"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue at capacity")
)

// priorityQueue implements heap.Interface for Item.
type priorityQueue []*Item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// Lower depth = higher priority (breadth-first)
	if pq[i].Depth != pq[j].Depth {
		return pq[i].Depth < pq[j].Depth
	}
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*Item))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[0 : n-1]
	return item
}

// MemoryQueue is a thread-safe in-memory priority queue.
type MemoryQueue struct {
	mu       sync.RWMutex
	pq       priorityQueue
	keys     map[string]struct{}
	closed   bool
	cond     *sync.Cond
	capacity int
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a new in-memory queue. A capacity of 0 is unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	mq := &MemoryQueue{
		pq:       make(priorityQueue, 0),
		keys:     make(map[string]struct{}),
		capacity: capacity,
	}
	mq.cond = sync.NewCond(&mq.mu)
	heap.Init(&mq.pq)
	return mq
}

// Push adds an item to the queue. Items already queued are ignored.
func (mq *MemoryQueue) Push(item *Item) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return ErrQueueClosed
	}

	key := item.Key()
	if _, exists := mq.keys[key]; exists {
		return nil
	}

	if mq.capacity > 0 && len(mq.pq) >= mq.capacity {
		return ErrQueueFull
	}

	mq.keys[key] = struct{}{}
	heap.Push(&mq.pq, item)
	mq.cond.Signal()
	return nil
}

// Pop removes and returns the next item from the queue.
func (mq *MemoryQueue) Pop() (*Item, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil, ErrQueueClosed
	}

	if len(mq.pq) == 0 {
		return nil, ErrQueueEmpty
	}

	return mq.popLocked(), nil
}

// PopWait removes and returns the next item, blocking while the queue is
// empty. It returns ErrQueueClosed once the queue is closed and drained.
func (mq *MemoryQueue) PopWait() (*Item, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	for len(mq.pq) == 0 && !mq.closed {
		mq.cond.Wait()
	}

	if len(mq.pq) == 0 {
		return nil, ErrQueueClosed
	}

	return mq.popLocked(), nil
}

func (mq *MemoryQueue) popLocked() *Item {
	item := heap.Pop(&mq.pq).(*Item)
	delete(mq.keys, item.Key())
	return item
}

// Peek returns the next item without removing it.
func (mq *MemoryQueue) Peek() (*Item, error) {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	if mq.closed {
		return nil, ErrQueueClosed
	}

	if len(mq.pq) == 0 {
		return nil, ErrQueueEmpty
	}

	return mq.pq[0], nil
}

// Len returns the number of items in the queue.
func (mq *MemoryQueue) Len() int {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return len(mq.pq)
}

// IsEmpty returns true if the queue is empty.
func (mq *MemoryQueue) IsEmpty() bool {
	return mq.Len() == 0
}

// Clear removes all items from the queue.
func (mq *MemoryQueue) Clear() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	mq.pq = make(priorityQueue, 0)
	mq.keys = make(map[string]struct{})
	heap.Init(&mq.pq)
	return nil
}

// Close closes the queue and wakes every PopWait caller.
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	mq.closed = true
	mq.cond.Broadcast()
	return nil
}

// Contains checks if a request key is queued.
func (mq *MemoryQueue) Contains(key string) bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	_, exists := mq.keys[key]
	return exists
}
