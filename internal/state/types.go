package state

import "time"

// Stats summarizes a crawl.
type Stats struct {
	PagesProbed    int            `json:"pages_probed"`
	PagesFailed    int            `json:"pages_failed"`
	Requests       int            `json:"requests"`
	RequestsByType map[string]int `json:"requests_by_type"`
	OutOfScope     int            `json:"out_of_scope"`
	Duration       time.Duration  `json:"duration"`
}

// RequestRecord is the persisted form of a reported request.
type RequestRecord struct {
	Key        string    `json:"key"`
	Session    string    `json:"session"`
	Page       string    `json:"page"`
	Type       string    `json:"type"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Data       string    `json:"data,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	OutOfScope bool      `json:"out_of_scope,omitempty"`
	Depth      int       `json:"depth"`
	FoundAt    time.Time `json:"found_at"`
}

// ProbeRecord is the persisted outcome of one page probe.
type ProbeRecord struct {
	Session    string    `json:"session"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Partial    bool      `json:"partial,omitempty"`
	Redirect   string    `json:"redirect,omitempty"`
	Requests   int       `json:"requests"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports whether the probe finished without error.
func (p *ProbeRecord) OK() bool {
	return p.Status == "ok"
}
