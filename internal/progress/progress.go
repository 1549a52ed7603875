// Package progress renders a one-line crawl status on a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Counts is one progress sample.
type Counts struct {
	PagesProbed int
	PagesFailed int
	Requests    int
	OutOfScope  int
	Queued      int
}

// Display manages progress bar display during crawling.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	counts    Counts
	startTime time.Time
	target    string
	lastLine  string
}

// New creates a progress display writing to out, usually os.Stderr.
func New(out io.Writer) *Display {
	return &Display{out: out}
}

// Start begins the progress display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the status line.
func (d *Display) Update(c Counts) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts = c
	if !d.started || d.stopped {
		return
	}

	line := "\r" + d.render(time.Since(d.startTime))
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

func (d *Display) render(elapsed time.Duration) string {
	c := d.counts
	total := c.PagesProbed + c.Queued

	percent := 0
	switch {
	case c.Queued == 0 && c.PagesProbed > 0:
		percent = 100
	case total > 0:
		percent = c.PagesProbed * 100 / total
		if percent > 99 {
			percent = 99
		}
	}

	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(c.PagesProbed) / elapsed.Seconds()
	}

	const barWidth = 30
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	return fmt.Sprintf("[%s] %3d%% | Pages: %d | Failed: %d | Queue: %d | Requests: %d | %.1f p/s | %s",
		bar, percent, c.PagesProbed, c.PagesFailed, c.Queued, c.Requests, speed, formatDuration(elapsed))
}

// Stop ends the status line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints a final summary after crawling.
func (d *Display) PrintSummary() {
	d.mu.Lock()
	defer d.mu.Unlock()

	duration := time.Since(d.startTime)
	c := d.counts

	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "  Crawl complete")
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Target:       %s\n", truncateURL(d.target, 60))
	fmt.Fprintf(d.out, "  Duration:     %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Pages:        %d (%d failed)\n", c.PagesProbed, c.PagesFailed)
	fmt.Fprintf(d.out, "  Requests:     %d\n", c.Requests)
	fmt.Fprintf(d.out, "  Out of scope: %d\n", c.OutOfScope)
	if duration.Seconds() > 0 {
		fmt.Fprintf(d.out, "  Speed:        %.1f pages/sec\n", float64(c.PagesProbed)/duration.Seconds())
	}
	fmt.Fprintln(d.out)
}

// Counts returns the last sample.
func (d *Display) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
