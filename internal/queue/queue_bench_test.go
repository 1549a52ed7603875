package queue

import (
	"fmt"
	"testing"

	"github.com/PentesterFlow/PageProbe/internal/request"
)

func benchItems(n int) []*Item {
	items := make([]*Item, n)
	for i := range items {
		r, _ := request.New(request.TypeLink, "GET", fmt.Sprintf("/page/%d", i), "https://example.com/", "")
		items[i] = NewItem(r, i%5, "")
	}
	return items
}

func BenchmarkMemoryQueuePush(b *testing.B) {
	items := benchItems(b.N)
	q := NewMemoryQueue(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Push(items[i])
	}
}

func BenchmarkMemoryQueuePop(b *testing.B) {
	q := NewMemoryQueue(0)
	for _, it := range benchItems(b.N) {
		_ = q.Push(it)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = q.Pop()
	}
}
