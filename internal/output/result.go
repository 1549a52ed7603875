package output

import (
	"sync"

	"github.com/PentesterFlow/PageProbe/internal/request"
)

// Result is everything written during a session, gathered for writers
// that emit one document at the end.
type Result struct {
	Requests   []*request.Request `json:"requests"`
	Cookies    []PageCookies      `json:"cookies,omitempty"`
	WebSockets []WebSocketCheck   `json:"websockets,omitempty"`
	Probes     []Status           `json:"probes"`
	Summary    *Summary           `json:"summary,omitempty"`
}

// Collector accumulates records into a Result. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	result Result
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{result: Result{
		Requests: make([]*request.Request, 0),
		Probes:   make([]Status, 0),
	}}
}

func (c *Collector) WriteRequest(r *request.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Requests = append(c.result.Requests, r)
	return nil
}

func (c *Collector) WriteCookies(pc *PageCookies) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Cookies = append(c.result.Cookies, *pc)
	return nil
}

func (c *Collector) WriteWebSocket(ws *WebSocketCheck) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.WebSockets = append(c.result.WebSockets, *ws)
	return nil
}

func (c *Collector) WriteStatus(s *Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Probes = append(c.result.Probes, *s)
	return nil
}

func (c *Collector) WriteSummary(s *Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	c.result.Summary = &cp
	return nil
}

func (c *Collector) Emit(r *request.Request) error { return c.WriteRequest(r) }

func (c *Collector) Flush() error { return nil }

func (c *Collector) Close() error { return nil }

// Result returns a copy of the gathered records.
func (c *Collector) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.result
	res.Requests = append([]*request.Request(nil), c.result.Requests...)
	res.Cookies = append([]PageCookies(nil), c.result.Cookies...)
	res.WebSockets = append([]WebSocketCheck(nil), c.result.WebSockets...)
	res.Probes = append([]Status(nil), c.result.Probes...)
	return res
}

// RequestsOf returns the gathered requests of type t.
func (c *Collector) RequestsOf(t request.Type) []*request.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*request.Request
	for _, r := range c.result.Requests {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}
