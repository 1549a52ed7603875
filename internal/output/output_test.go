package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/request"
)

// mockFlusher implements io.Writer with Flush support
type mockFlusher struct {
	bytes.Buffer
	flushed bool
}

func (m *mockFlusher) Flush() error {
	m.flushed = true
	return nil
}

// mockCloser implements io.Writer with Close support
type mockCloser struct {
	bytes.Buffer
	closed bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return nil
}

// mockWriteError simulates write errors
type mockWriteError struct {
	err error
}

func (m *mockWriteError) Write(p []byte) (n int, err error) {
	return 0, m.err
}

func sampleRequest() *request.Request {
	r, _ := request.New(request.TypeXHR, "post", "/api", "http://x/", "a=1")
	return r.WithTrigger(&request.Trigger{Element: "button#go", Event: "click"})
}

// =============================================================================
// JSONWriter Tests
// =============================================================================

func TestJSONWriter_Stream(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, false, true)

	if err := jw.WriteRequest(sampleRequest()); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}
	if err := jw.WriteStatus(&Status{URL: "http://x/", Status: StatusOK, Requests: 1}); err != nil {
		t.Fatalf("WriteStatus() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), buf.String())
	}

	var ev struct {
		Type string          `json:"type"`
		Data request.Request `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ev.Type != "request" || ev.Data.URL != "http://x/api" || ev.Data.Trigger.Event != "click" {
		t.Errorf("event = %+v", ev)
	}
	if !strings.Contains(lines[1], `"type":"status"`) || !strings.Contains(lines[1], `"status":"ok"`) {
		t.Errorf("status line = %s", lines[1])
	}
}

func TestJSONWriter_Document(t *testing.T) {
	buf := &mockCloser{}
	jw := NewJSONWriter(buf, true, false)

	_ = jw.Emit(sampleRequest())
	_ = jw.WriteCookies(&PageCookies{URL: "http://x/", Cookies: CookiesFrom([]*http.Cookie{{Name: "sid", Value: "1"}})})
	_ = jw.WriteWebSocket(&WebSocketCheck{URL: "ws://x/s", Connected: true})
	_ = jw.WriteStatus(&Status{URL: "http://x/", Status: StatusError, Code: CodeTimeout, Partial: true})
	_ = jw.WriteSummary(&Summary{Target: "http://x/", SessionID: "s1"})

	if buf.Len() != 0 {
		t.Fatal("non-stream writer must not write before Close")
	}
	if err := jw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !buf.closed {
		t.Error("Close should close the underlying writer")
	}

	var res Result
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, buf.String())
	}
	if len(res.Requests) != 1 || len(res.Cookies) != 1 || len(res.WebSockets) != 1 || len(res.Probes) != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Probes[0].Code != CodeTimeout || !res.Probes[0].Partial {
		t.Errorf("probe = %+v", res.Probes[0])
	}
	if res.Summary == nil || res.Summary.SessionID != "s1" {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestJSONWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, false, true)
	_ = jw.Close()
	if err := jw.WriteRequest(sampleRequest()); err != nil {
		t.Errorf("write after close error = %v", err)
	}
	if buf.Len() != 0 {
		t.Error("write after close should be dropped")
	}
	if err := jw.Close(); err != nil {
		t.Error("Close is idempotent")
	}
}

func TestJSONWriter_WriteError(t *testing.T) {
	want := errors.New("disk full")
	jw := NewJSONWriter(&mockWriteError{err: want}, false, true)
	if err := jw.WriteRequest(sampleRequest()); !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestJSONWriter_Flush(t *testing.T) {
	buf := &mockFlusher{}
	jw := NewJSONWriter(buf, false, true)
	if err := jw.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !buf.flushed {
		t.Error("Flush should reach the underlying writer")
	}
}

func TestJSONWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, false, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = jw.WriteRequest(sampleRequest())
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Errorf("lines = %d, want 20", len(lines))
	}
	for _, l := range lines {
		if !json.Valid([]byte(l)) {
			t.Fatalf("interleaved line: %s", l)
		}
	}
}

// =============================================================================
// ArrayWriter Tests
// =============================================================================

func TestArrayWriter(t *testing.T) {
	var buf bytes.Buffer
	aw := NewArrayWriter(&buf)

	_ = aw.WriteRequest(sampleRequest())
	_ = aw.WriteCookies(&PageCookies{URL: "http://x/", Cookies: []Cookie{{Name: "sid", Value: "1"}}})
	_ = aw.WriteStatus(&Status{Status: StatusOK})
	if err := aw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var entries [][]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &entries); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, buf.String())
	}
	kinds := []string{"request", "cookies", "status"}
	if len(entries) != len(kinds) {
		t.Fatalf("entries = %d, want %d", len(entries), len(kinds))
	}
	for i, e := range entries {
		var kind string
		_ = json.Unmarshal(e[0], &kind)
		if kind != kinds[i] {
			t.Errorf("entry %d kind = %q, want %q", i, kind, kinds[i])
		}
	}
}

func TestArrayWriter_Empty(t *testing.T) {
	var buf bytes.Buffer
	aw := NewArrayWriter(&buf)
	_ = aw.Close()
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty output = %q", buf.String())
	}
}

// =============================================================================
// NewWriter / MultiWriter Tests
// =============================================================================

func TestNewWriter(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{FormatJSON, "*output.JSONWriter"},
		{FormatJSONL, "*output.JSONWriter"},
		{FormatHtcap, "*output.ArrayWriter"},
		{"", "*output.JSONWriter"},
	}
	for _, tt := range tests {
		w := NewWriter(&bytes.Buffer{}, Config{Format: tt.format})
		switch w.(type) {
		case *JSONWriter:
			if tt.want != "*output.JSONWriter" {
				t.Errorf("format %q gave JSONWriter", tt.format)
			}
		case *ArrayWriter:
			if tt.want != "*output.ArrayWriter" {
				t.Errorf("format %q gave ArrayWriter", tt.format)
			}
		}
	}

	if jw := NewWriter(&bytes.Buffer{}, Config{Format: FormatJSONL}).(*JSONWriter); !jw.stream {
		t.Error("jsonl should stream")
	}
}

func TestMultiWriter(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	m := MultiWriter{a, b}
	_ = m.Emit(sampleRequest())
	_ = m.WriteStatus(&Status{Status: StatusOK})

	for _, c := range []*Collector{a, b} {
		res := c.Result()
		if len(res.Requests) != 1 || len(res.Probes) != 1 {
			t.Errorf("collector result = %+v", res)
		}
	}
	if got := a.RequestsOf(request.TypeXHR); len(got) != 1 {
		t.Errorf("RequestsOf(xhr) = %d", len(got))
	}
	if got := a.RequestsOf(request.TypeLink); len(got) != 0 {
		t.Errorf("RequestsOf(link) = %d", len(got))
	}
}

// =============================================================================
// Types Tests
// =============================================================================

func TestCookiesFrom(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got := CookiesFrom([]*http.Cookie{{Name: "a", Value: "1", Path: "/", Expires: exp, HttpOnly: true}})
	if len(got) != 1 || got[0].Name != "a" || !got[0].HTTPOnly || !got[0].Expires.Equal(exp) {
		t.Errorf("CookiesFrom() = %+v", got)
	}
}

func TestStatus_OK(t *testing.T) {
	if !(&Status{Status: StatusOK}).OK() {
		t.Error("ok status")
	}
	if (&Status{Status: StatusError, Code: CodeLoad}).OK() {
		t.Error("error status")
	}
}
