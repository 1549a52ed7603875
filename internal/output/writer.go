// Package output provides output formatting for probe results.
package output

import (
	"io"

	"github.com/PentesterFlow/PageProbe/internal/request"
)

// Writer defines the interface for output writers. Every Writer is a
// request.Sink.
type Writer interface {
	request.Sink

	// WriteRequest writes a discovered request
	WriteRequest(r *request.Request) error

	// WriteCookies writes the cookies of a finished page
	WriteCookies(pc *PageCookies) error

	// WriteWebSocket writes a websocket handshake check
	WriteWebSocket(ws *WebSocketCheck) error

	// WriteStatus writes the status record of a finished page
	WriteStatus(s *Status) error

	// WriteSummary writes the crawl summary
	WriteSummary(s *Summary) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Output formats.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatHtcap = "htcap"
)

// Config holds output configuration.
type Config struct {
	Format   string `json:"format" yaml:"format"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

// NewWriter creates a new output writer. jsonl streams one event per line,
// htcap streams a JSON array of [kind, record] pairs, json writes one
// document on Close.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case FormatJSONL:
		return NewJSONWriter(w, config.Pretty, true)
	case FormatHtcap:
		return NewArrayWriter(w)
	default:
		return NewJSONWriter(w, config.Pretty, false)
	}
}

// MultiWriter fans records out to several writers.
type MultiWriter []Writer

func (m MultiWriter) each(fn func(Writer) error) error {
	var first error
	for _, w := range m {
		if err := fn(w); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiWriter) Emit(r *request.Request) error { return m.WriteRequest(r) }

func (m MultiWriter) WriteRequest(r *request.Request) error {
	return m.each(func(w Writer) error { return w.WriteRequest(r) })
}

func (m MultiWriter) WriteCookies(pc *PageCookies) error {
	return m.each(func(w Writer) error { return w.WriteCookies(pc) })
}

func (m MultiWriter) WriteWebSocket(ws *WebSocketCheck) error {
	return m.each(func(w Writer) error { return w.WriteWebSocket(ws) })
}

func (m MultiWriter) WriteStatus(s *Status) error {
	return m.each(func(w Writer) error { return w.WriteStatus(s) })
}

func (m MultiWriter) WriteSummary(s *Summary) error {
	return m.each(func(w Writer) error { return w.WriteSummary(s) })
}

func (m MultiWriter) Flush() error {
	return m.each(func(w Writer) error { return w.Flush() })
}

func (m MultiWriter) Close() error {
	return m.each(func(w Writer) error { return w.Close() })
}
