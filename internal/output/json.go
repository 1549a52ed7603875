package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/PageProbe/internal/request"
)

// JSONWriter writes output in JSON format. In stream mode every record is
// written as a StreamEvent line; otherwise records are collected and
// written as one Result on Close.
type JSONWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	pretty    bool
	stream    bool
	collected *Collector
	closed    bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	jw := &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
	if !stream {
		jw.collected = NewCollector()
	}
	return jw
}

// Emit implements request.Sink.
func (j *JSONWriter) Emit(r *request.Request) error {
	return j.WriteRequest(r)
}

// WriteRequest writes a discovered request.
func (j *JSONWriter) WriteRequest(r *request.Request) error {
	return j.record("request", r, func(c *Collector) error { return c.WriteRequest(r) })
}

// WriteCookies writes the cookies of a page.
func (j *JSONWriter) WriteCookies(pc *PageCookies) error {
	return j.record("cookies", pc, func(c *Collector) error { return c.WriteCookies(pc) })
}

// WriteWebSocket writes a websocket check.
func (j *JSONWriter) WriteWebSocket(ws *WebSocketCheck) error {
	return j.record("websocket", ws, func(c *Collector) error { return c.WriteWebSocket(ws) })
}

// WriteStatus writes a page status.
func (j *JSONWriter) WriteStatus(s *Status) error {
	return j.record("status", s, func(c *Collector) error { return c.WriteStatus(s) })
}

// WriteSummary writes the crawl summary.
func (j *JSONWriter) WriteSummary(s *Summary) error {
	return j.record("summary", s, func(c *Collector) error { return c.WriteSummary(s) })
}

func (j *JSONWriter) record(kind string, data interface{}, collect func(*Collector) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if !j.stream {
		return collect(j.collected)
	}
	return j.writeValue(StreamEvent{Type: kind, Data: data})
}

// writeValue writes v followed by a newline.
func (j *JSONWriter) writeValue(v interface{}) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	_, err = j.writer.Write(data)
	if err != nil {
		return err
	}

	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close writes the collected result in non-stream mode and closes the
// underlying writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	var err error
	if !j.stream {
		res := j.collected.Result()
		err = j.writeValue(&res)
	}

	if closer, ok := j.writer.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ArrayWriter streams a JSON array of ["kind", record] pairs. The array is
// valid JSON once Close has run.
type ArrayWriter struct {
	mu     sync.Mutex
	writer io.Writer
	count  int
	closed bool
}

// NewArrayWriter creates an array writer.
func NewArrayWriter(w io.Writer) *ArrayWriter {
	return &ArrayWriter{writer: w}
}

func (a *ArrayWriter) Emit(r *request.Request) error { return a.WriteRequest(r) }

func (a *ArrayWriter) WriteRequest(r *request.Request) error {
	return a.entry("request", r)
}

func (a *ArrayWriter) WriteCookies(pc *PageCookies) error {
	return a.entry("cookies", pc.Cookies)
}

func (a *ArrayWriter) WriteWebSocket(ws *WebSocketCheck) error {
	return a.entry("websocket", ws)
}

func (a *ArrayWriter) WriteStatus(s *Status) error {
	return a.entry("status", s)
}

func (a *ArrayWriter) WriteSummary(s *Summary) error {
	return a.entry("summary", s)
}

func (a *ArrayWriter) entry(kind string, v interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	data, err := json.Marshal([]interface{}{kind, v})
	if err != nil {
		return err
	}

	sep := ",\n"
	if a.count == 0 {
		sep = "[\n"
	}
	a.count++
	if _, err := io.WriteString(a.writer, sep); err != nil {
		return err
	}
	_, err = a.writer.Write(data)
	return err
}

func (a *ArrayWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if flusher, ok := a.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close terminates the array and closes the underlying writer.
func (a *ArrayWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	tail := "\n]\n"
	if a.count == 0 {
		tail = "[]\n"
	}
	_, err := io.WriteString(a.writer, tail)

	if closer, ok := a.writer.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
