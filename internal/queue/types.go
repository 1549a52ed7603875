package queue

import (
	"time"

	"github.com/PentesterFlow/PageProbe/internal/request"
)

// Item is a page waiting to be probed.
type Item struct {
	Request   *request.Request
	Depth     int
	ParentURL string
	Priority  int
	Timestamp time.Time
}

// NewItem wraps r with its priority.
func NewItem(r *request.Request, depth int, parent string) *Item {
	return &Item{
		Request:   r,
		Depth:     depth,
		ParentURL: parent,
		Priority:  PriorityOf(r.Type),
		Timestamp: time.Now(),
	}
}

// Key returns the dedup key of the wrapped request.
func (i *Item) Key() string {
	return i.Request.Key()
}

// PriorityOf ranks request types within one depth: redirects first, then
// links, then forms.
func PriorityOf(t request.Type) int {
	switch t {
	case request.TypeRedirect:
		return 10
	case request.TypeLink:
		return 5
	case request.TypeForm:
		return 1
	default:
		return 0
	}
}
