package websocket

import (
	"time"

	"github.com/PentesterFlow/PageProbe/internal/output"
)

// Message is a frame read from a verified endpoint.
type Message struct {
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Check is the outcome of dialing one websocket endpoint.
type Check struct {
	URL         string
	Source      string
	Connected   bool
	StatusCode  int
	Subprotocol string
	Messages    []Message
	Err         error
	CheckedAt   time.Time
}

// Output converts the check to its reported form.
func (c *Check) Output() *output.WebSocketCheck {
	out := &output.WebSocketCheck{
		URL:         c.URL,
		Connected:   c.Connected,
		StatusCode:  c.StatusCode,
		Subprotocol: c.Subprotocol,
	}
	for _, m := range c.Messages {
		out.Samples = append(out.Samples, m.Data)
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return out
}
