package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/analyzer"
	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/dom/htmldom"
	"github.com/PentesterFlow/PageProbe/internal/metrics"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

type harness struct {
	doc       *htmldom.Document
	sched     *Scheduler
	an        *analyzer.Analyzer
	metrics   *metrics.Collector
	emitted   []*request.Request
	completes int
}

func newHarness(t *testing.T, src string, mod func(*Config)) *harness {
	t.Helper()
	doc, err := htmldom.ParseString(src, "http://x/")
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	h := &harness{doc: doc, metrics: metrics.New()}
	cfg := Config{
		BufferCycleSize:            0,
		AfterDoneXHRTimeout:        5 * time.Millisecond,
		AfterEventTriggeredTimeout: 3 * time.Millisecond,
		BeforeClosingTimeout:       7 * time.Millisecond,
		Metrics:                    h.metrics,
		OnComplete:                 func() { h.completes++ },
	}
	if mod != nil {
		mod(&cfg)
	}

	rep := request.NewReporter(nil, request.SinkFunc(func(r *request.Request) error {
		h.emitted = append(h.emitted, r)
		return nil
	}))
	h.sched = New(cfg, doc, rep)

	acfg := analyzer.DefaultConfig()
	acfg.Seed = 1
	h.an, err = analyzer.New(acfg, doc, h.sched)
	if err != nil {
		t.Fatalf("analyzer.New() error = %v", err)
	}
	h.sched.SetAssessor(h.an)
	doc.Observe(h.sched.OnMutation)
	return h
}

// run drives the scheduler to completion the way a host would, ignoring
// delays.
func (h *harness) run(t *testing.T, limit int) []Directive {
	t.Helper()
	d, err := h.sched.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	var seen []Directive
	for i := 0; i < limit; i++ {
		seen = append(seen, d)
		switch d.Kind {
		case Done:
			return seen
		case CloseTimer:
			d = h.sched.ExpireClose()
		default:
			d = h.sched.Tick()
		}
	}
	t.Fatalf("scheduler did not terminate after %d steps", limit)
	return nil
}

func (h *harness) fired() []string {
	var out []string
	for _, ev := range h.doc.Fired() {
		out = append(out, ev.String())
	}
	return out
}

const emptyPage = `<html><head></head><body></body></html>`

// =============================================================================
// Debounce Tests
// =============================================================================

func TestTick_Debounce(t *testing.T) {
	h := newHarness(t, emptyPage, func(c *Config) { c.BufferCycleSize = 2 })
	if _, err := h.sched.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		d := h.sched.Tick()
		if d.Kind != Tick {
			t.Fatalf("tick %d: directive = %s", i, d)
		}
	}

	snap := h.metrics.Snapshot()
	if snap.Selects != 1 {
		t.Errorf("selectNextAction ran %d times, want 1", snap.Selects)
	}
	if snap.Ticks != 3 {
		t.Errorf("Ticks = %d, want 3", snap.Ticks)
	}
	if snap.Actions[ActionAssess] != 1 {
		t.Errorf("Actions = %v, want one assess", snap.Actions)
	}
}

func TestTick_DebounceResetsAfterSelect(t *testing.T) {
	h := newHarness(t, emptyPage, func(c *Config) { c.BufferCycleSize = 1 })
	h.sched.Start()

	for i := 0; i < 6; i++ {
		h.sched.Tick()
	}
	if got := h.metrics.Snapshot().Selects; got != 3 {
		t.Errorf("selects = %d, want 3", got)
	}
}

// =============================================================================
// Priority Tests
// =============================================================================

func TestSelect_SentRequestsBlock(t *testing.T) {
	h := newHarness(t, emptyPage, nil)
	h.sched.Start()
	h.sched.OnRequestSent("r1")

	for i := 0; i < 3; i++ {
		if d := h.sched.Tick(); d.Kind != Tick || d.Delay != 0 {
			t.Fatalf("directive = %s, want immediate tick", d)
		}
	}
	if a, _ := h.sched.Pending(); a != 1 {
		t.Errorf("assessment queue = %d, want 1 (nothing popped while sending)", a)
	}
	if h.sched.State() != Waiting {
		t.Errorf("State() = %s, want waiting", h.sched.State())
	}

	h.sched.OnRequestCompleted("r1")
	if d := h.sched.Tick(); d.Delay != 5*time.Millisecond {
		t.Errorf("directive = %s, want settle delay", d)
	}
	if a, _ := h.sched.Pending(); a != 1 {
		t.Error("completed request should be handled before assessment")
	}

	if d := h.sched.Tick(); d.Kind != Tick || d.Delay != 0 {
		t.Errorf("directive = %s, want immediate tick after assessment", d)
	}
	if a, _ := h.sched.Pending(); a != 0 {
		t.Error("root should have been assessed")
	}
}

func TestNetworkQueues_SingleMembership(t *testing.T) {
	h := newHarness(t, emptyPage, nil)

	h.sched.OnRequestSent(1)
	h.sched.OnRequestSent(1)
	if h.sched.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", h.sched.InFlight())
	}

	h.sched.OnRequestCompleted(1)
	if h.sched.InFlight() != 0 || !h.sched.completed.Contains(1) {
		t.Error("ref should move from sent to completed")
	}

	h.sched.OnRequestSent(1)
	if h.sched.completed.Contains(1) || !h.sched.sent.Contains(1) {
		t.Error("ref must be in exactly one network queue")
	}
}

func TestSelect_EventsAreLIFO(t *testing.T) {
	src := `<html><body>
		<button id="a" onclick="a()">A</button>
		<button id="b" onclick="b()">B</button>
	</body></html>`
	h := newHarness(t, src, nil)

	h.run(t, 100)

	fired := h.fired()
	if len(fired) != 2 || fired[0] != "button#b click" || fired[1] != "button#a click" {
		t.Errorf("fired = %v, want b before a", fired)
	}
}

func TestSelect_AssessmentBeforeEvents(t *testing.T) {
	src := `<html><body><div id="box"><button id="go" onclick="go()">Go</button></div></body></html>`
	h := newHarness(t, src, nil)
	btn := h.doc.First("#go")
	box := h.doc.First("#box")
	h.doc.On(btn, "click", func(doc *htmldom.Document, _ *htmldom.Element, _ string) error {
		_, err := doc.AppendHTML(box, `<a href="/next">next</a><button id="more" onclick="m()">More</button>`)
		return err
	})

	h.run(t, 100)

	fired := h.fired()
	if len(fired) != 2 || fired[1] != "button#more click" {
		t.Errorf("fired = %v, want the revealed button fired second", fired)
	}
	if len(h.emitted) != 1 || h.emitted[0].URL != "http://x/next" {
		t.Fatalf("emitted = %+v", h.emitted)
	}
	if tr := h.emitted[0].Trigger; tr == nil || tr.String() != "button#go click" {
		t.Errorf("trigger = %v, want button#go click", tr)
	}
}

// =============================================================================
// Termination Tests
// =============================================================================

func TestTermination_CloseTimer(t *testing.T) {
	h := newHarness(t, emptyPage, nil)

	seen := h.run(t, 20)

	var closeTimers int
	for _, d := range seen {
		if d.Kind == CloseTimer {
			closeTimers++
			if d.Delay != 7*time.Millisecond {
				t.Errorf("close timer delay = %s", d.Delay)
			}
		}
	}
	if closeTimers != 1 {
		t.Errorf("close timers = %d, want 1", closeTimers)
	}
	if h.completes != 1 {
		t.Errorf("OnComplete called %d times, want 1", h.completes)
	}
	if h.sched.State() != Terminated {
		t.Errorf("State() = %s", h.sched.State())
	}

	if d := h.sched.Tick(); d.Kind != Done {
		t.Errorf("Tick() after termination = %s", d)
	}
	if d := h.sched.ExpireClose(); d.Kind != Done {
		t.Errorf("ExpireClose() after termination = %s", d)
	}
	if h.completes != 1 {
		t.Error("termination must be signalled exactly once")
	}
}

func TestTermination_NewWorkClearsFlag(t *testing.T) {
	h := newHarness(t, emptyPage, nil)
	h.sched.Start()

	h.sched.Tick() // assess root
	if d := h.sched.Tick(); d.Kind != CloseTimer {
		t.Fatalf("directive = %s, want close timer", d)
	}
	h.sched.ExpireClose()

	// a late mutation arrives before the final tick
	body := h.doc.First("body")
	h.doc.AppendHTML(body, `<p>late</p>`)

	if d := h.sched.Tick(); d.Kind != Tick {
		t.Fatalf("directive = %s, want the late element assessed", d)
	}
	if d := h.sched.Tick(); d.Kind != CloseTimer {
		t.Errorf("directive = %s, want a fresh close timer", d)
	}
	if h.completes != 0 {
		t.Error("must not terminate while new work arrived")
	}
}

func TestTermination_WaitsForNetwork(t *testing.T) {
	h := newHarness(t, emptyPage, nil)
	h.sched.Start()
	h.sched.Tick()
	h.sched.Tick()
	h.sched.ExpireClose()
	h.sched.OnRequestSent("late")

	if d := h.sched.Tick(); d.Kind == Done {
		t.Fatal("must not terminate with a request in flight")
	}
	h.sched.OnRequestCompleted("late")
	h.sched.Tick() // settle
	if d := h.sched.Tick(); d.Kind != CloseTimer {
		t.Errorf("directive = %s, want close timer", d)
	}
}

func TestStart_NoRoot(t *testing.T) {
	s := New(DefaultConfig(), noRootDoc{}, request.NewReporter(nil))
	if _, err := s.Start(); err == nil {
		t.Error("Start() should fail without a root")
	}
}

type noRootDoc struct{}

func (noRootDoc) URL() string                { return "http://x/" }
func (noRootDoc) Root() (dom.Element, error) { return nil, errors.New("gone") }

// =============================================================================
// Trigger History Tests
// =============================================================================

func TestScheduleEvent_Lifecycle(t *testing.T) {
	h := newHarness(t, `<html><body onload="x()"><button>b</button></body></html>`, nil)
	btn := h.doc.First("button")

	for _, name := range []string{"load", "unload", "beforeunload", "LOAD"} {
		if h.sched.ScheduleEvent(dom.PageEvent{Element: btn, Name: name}) {
			t.Errorf("%s must never be queued", name)
		}
	}
	if h.sched.ScheduleEvent(dom.PageEvent{Name: "click"}) {
		t.Error("events without an element must be rejected")
	}

	h.run(t, 50)
	for _, ev := range h.doc.Fired() {
		if dom.IsLifecycle(ev.Name) {
			t.Errorf("fired lifecycle event %s", ev)
		}
	}
}

func TestTriggerHistory_AttributeMutationPurges(t *testing.T) {
	h := newHarness(t, `<html><body><button id="go" onclick="go()">Go</button></body></html>`, nil)
	btn := h.doc.First("#go")
	click := dom.PageEvent{Element: btn, Name: "click"}

	h.sched.Start()
	h.sched.Tick() // assess root, schedules click
	h.sched.Tick() // trigger click

	if !h.sched.Triggered(click) {
		t.Fatal("click should be recorded as triggered")
	}
	if h.sched.ScheduleEvent(click) {
		t.Fatal("triggered click must not be re-scheduled")
	}

	h.doc.SetAttribute(btn, "class", "active")

	if h.sched.Triggered(click) {
		t.Error("attribute mutation should clear the trigger record")
	}
	if a, _ := h.sched.Pending(); a != 1 {
		t.Errorf("assessment queue = %d, want the mutated element", a)
	}

	h.sched.Tick() // re-assess button
	if _, e := h.sched.Pending(); e != 1 {
		t.Errorf("event queue = %d, want click re-scheduled", e)
	}
}

func TestAnalyzer_Idempotent(t *testing.T) {
	src := `<html><body><a href="/y">y</a><button onclick="go()">Go</button></body></html>`
	h := newHarness(t, src, nil)
	body := h.doc.First("body")

	h.an.Assess(body)
	_, events := h.sched.Pending()
	emitted := len(h.emitted)

	h.an.Assess(body)
	if _, again := h.sched.Pending(); again != events {
		t.Errorf("event queue grew from %d to %d", events, again)
	}
	if len(h.emitted) != emitted {
		t.Errorf("emitted grew from %d to %d", emitted, len(h.emitted))
	}
}

// =============================================================================
// Feed Tests
// =============================================================================

func TestOnMutation_ScriptReportsJSONP(t *testing.T) {
	h := newHarness(t, emptyPage, nil)
	head := h.doc.First("head")

	h.doc.AppendHTML(head, `<script src="/api?callback=cb"></script><script src="/static.js"></script>`)
	h.doc.AppendHTML(h.doc.First("body"), "text only")

	if len(h.emitted) != 1 {
		t.Fatalf("emitted = %+v, want one jsonp request", h.emitted)
	}
	r := h.emitted[0]
	if r.Type != request.TypeJSONP || r.URL != "http://x/api?callback=cb" {
		t.Errorf("request = %+v", r)
	}
	if a, _ := h.sched.Pending(); a != 2 {
		t.Errorf("assessment queue = %d, want both scripts", a)
	}
}

func TestOnExternalNavigation(t *testing.T) {
	h := newHarness(t, emptyPage, nil)

	h.sched.OnExternalNavigation("/away")
	h.sched.OnExternalNavigation("/away")
	h.sched.OnExternalNavigation("mailto:x@y")

	if len(h.emitted) != 1 || h.emitted[0].Type != request.TypeLink || h.emitted[0].URL != "http://x/away" {
		t.Errorf("emitted = %+v", h.emitted)
	}
	if h.sched.Reported() != 1 {
		t.Errorf("Reported() = %d", h.sched.Reported())
	}
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func TestDispatchFailureIsolated(t *testing.T) {
	src := `<html><body><button id="a" onclick="a()">A</button><button id="b" onclick="b()">B</button></body></html>`
	h := newHarness(t, src, nil)
	h.doc.On(h.doc.First("#b"), "click", func(*htmldom.Document, *htmldom.Element, string) error {
		return errors.New("handler threw")
	})
	h.doc.On(h.doc.First("#a"), "click", func(*htmldom.Document, *htmldom.Element, string) error {
		panic("boom")
	})

	h.run(t, 100)

	if len(h.fired()) != 2 {
		t.Errorf("fired = %v, want both buttons", h.fired())
	}
	if h.completes != 1 {
		t.Error("crawl should complete despite failing handlers")
	}
	if got := h.metrics.Snapshot().ErrorCounts["action"]; got != 2 {
		t.Errorf("action errors = %d, want 2", got)
	}
}

type panicAssessor struct{}

func (panicAssessor) Assess(dom.Element) error { panic("analyzer bug") }

func TestAssessPanicIsolated(t *testing.T) {
	h := newHarness(t, emptyPage, nil)
	h.sched.SetAssessor(panicAssessor{})

	h.run(t, 20)

	if h.completes != 1 {
		t.Error("crawl should complete despite a panicking assessor")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := DefaultConfig()
	bad.BufferCycleSize = -1
	if bad.Validate() == nil {
		t.Error("negative buffer cycle size should fail")
	}
	bad = DefaultConfig()
	bad.BeforeClosingTimeout = -time.Second
	if bad.Validate() == nil {
		t.Error("negative timeout should fail")
	}
}

func TestDirective_String(t *testing.T) {
	tests := []struct {
		d    Directive
		want string
	}{
		{Directive{Kind: Tick}, "tick(0s)"},
		{Directive{Kind: CloseTimer, Delay: time.Second}, "close_timer(1s)"},
		{Directive{Kind: Done}, "done"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
