package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestDisplay_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.Update(Counts{PagesProbed: 1})
	d.Stop()
	if buf.Len() != 0 {
		t.Errorf("display wrote before Start: %q", buf.String())
	}
	if d.Counts().PagesProbed != 1 {
		t.Error("counts are kept even before Start")
	}
}

func TestDisplay_Update(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.Start("http://x/")
	d.Update(Counts{PagesProbed: 1, Queued: 3, Requests: 7, PagesFailed: 1})

	out := buf.String()
	for _, want := range []string{" 25%", "Pages: 1", "Failed: 1", "Queue: 3", "Requests: 7"} {
		if !strings.Contains(out, want) {
			t.Errorf("status line %q missing %q", out, want)
		}
	}

	d.Stop()
	d.Update(Counts{PagesProbed: 9})
	if strings.Contains(buf.String(), "Pages: 9") {
		t.Error("no redraw after Stop")
	}
}

func TestDisplay_Render(t *testing.T) {
	d := New(&bytes.Buffer{})
	tests := []struct {
		counts Counts
		want   string
	}{
		{Counts{}, "  0%"},
		{Counts{PagesProbed: 4}, "100%"},
		{Counts{PagesProbed: 1, Queued: 1}, " 50%"},
	}
	for _, tt := range tests {
		d.counts = tt.counts
		if got := d.render(time.Second); !strings.Contains(got, tt.want) {
			t.Errorf("render(%+v) = %q, want %q", tt.counts, got, tt.want)
		}
	}
}

func TestDisplay_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.Start("http://example.com/")
	d.Update(Counts{PagesProbed: 3, PagesFailed: 1, Requests: 12, OutOfScope: 2})
	d.Stop()
	d.PrintSummary()

	out := buf.String()
	for _, want := range []string{"Crawl complete", "http://example.com/", "3 (1 failed)", "Requests:     12", "Out of scope: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Second:                 "5s",
		90 * time.Second:                "1m30s",
		time.Hour + 2*time.Minute + 3e9: "1h02m03s",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestTruncateURL(t *testing.T) {
	if got := truncateURL("http://example.com/very/long", 15); got != "http://examp..." {
		t.Errorf("truncateURL = %q", got)
	}
	if got := truncateURL("short", 15); got != "short" {
		t.Errorf("truncateURL = %q", got)
	}
}
