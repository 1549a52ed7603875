// Package scheduler serializes automated interaction with a page. It owns
// the work queues of one probed page and, on every quiescence tick, picks
// exactly one next action by fixed priority. Timers are not run here: each
// call returns a Directive telling the host what to wait for.
//
// A Scheduler is not safe for concurrent use. The host must deliver
// ticks, mutations and network notifications from a single goroutine.
package scheduler

import (
	"fmt"
	"net/url"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/metrics"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// State is the coarse state of the machine.
type State int

const (
	Idle State = iota
	Waiting
	ActionPending
	Terminated
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case ActionPending:
		return "action_pending"
	case Terminated:
		return "terminated"
	default:
		return "idle"
	}
}

// DirectiveKind tells the host what to do next.
type DirectiveKind int

const (
	// Tick asks for Tick to be called after Delay.
	Tick DirectiveKind = iota
	// CloseTimer asks for ExpireClose to be called after Delay.
	CloseTimer
	// Done means the page is fully explored.
	Done
)

func (k DirectiveKind) String() string {
	switch k {
	case CloseTimer:
		return "close_timer"
	case Done:
		return "done"
	default:
		return "tick"
	}
}

// Directive is the scheduler's request to its host.
type Directive struct {
	Kind  DirectiveKind
	Delay time.Duration
}

func (d Directive) String() string {
	if d.Kind == Done {
		return d.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", d.Kind, d.Delay)
}

// Action names recorded per decision.
const (
	ActionWaitNetwork   = "wait_network"
	ActionSettleNetwork = "settle_network"
	ActionAssess        = "assess"
	ActionTrigger       = "trigger"
	ActionTerminate     = "terminate"
	ActionArmClose      = "arm_close"
)

// Assessor analyzes one element.
type Assessor interface {
	Assess(el dom.Element) error
}

// Reporter deduplicates and emits requests.
type Reporter interface {
	Report(r *request.Request) (bool, error)
}

// Scheduler is the per-page interaction state machine.
type Scheduler struct {
	cfg      Config
	doc      dom.Document
	reporter Reporter
	assessor Assessor
	log      *logger.Logger
	metrics  *metrics.Collector

	assess    *orderedSet[dom.Element]
	events    *orderedSet[dom.PageEvent]
	sent      *orderedSet[any]
	completed *orderedSet[any]
	triggered map[dom.PageEvent]struct{}
	current   *dom.PageEvent

	idle      int
	terminate bool
	state     State
	reported  int
}

// New creates a scheduler for doc reporting into reporter.
func New(cfg Config, doc dom.Document, reporter Reporter) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		cfg:       cfg,
		doc:       doc,
		reporter:  reporter,
		log:       log.WithComponent("scheduler"),
		metrics:   cfg.Metrics,
		assess:    newOrderedSet[dom.Element](),
		events:    newOrderedSet[dom.PageEvent](),
		sent:      newOrderedSet[any](),
		completed: newOrderedSet[any](),
		triggered: make(map[dom.PageEvent]struct{}),
	}
}

// SetAssessor installs the element analyzer.
func (s *Scheduler) SetAssessor(a Assessor) {
	s.assessor = a
}

// Start queues the document root for assessment and asks for the first tick.
func (s *Scheduler) Start() (Directive, error) {
	root, err := s.doc.Root()
	if err != nil {
		return Directive{Kind: Done}, perrors.NewEnvironmentError(s.doc.URL(), "root", err)
	}
	s.assess.Push(root)
	s.state = Waiting
	return Directive{Kind: Tick}, nil
}

// Tick handles one quiescence signal. The first BufferCycleSize ticks
// after a decision only ask for another tick.
func (s *Scheduler) Tick() Directive {
	if s.state == Terminated {
		return Directive{Kind: Done}
	}
	s.metrics.RecordTick()

	if s.idle < s.cfg.BufferCycleSize {
		s.idle++
		s.state = Waiting
		return Directive{Kind: Tick}
	}
	d := s.selectNextAction()
	s.idle = 0
	return d
}

// ExpireClose is called by the host when the close timer fires.
func (s *Scheduler) ExpireClose() Directive {
	if s.state == Terminated {
		return Directive{Kind: Done}
	}
	s.terminate = true
	s.state = Waiting
	return Directive{Kind: Tick}
}

func (s *Scheduler) selectNextAction() Directive {
	switch {
	case s.sent.Len() > 0:
		s.record(ActionWaitNetwork, fmt.Sprintf("%d in flight", s.sent.Len()))
		s.state = Waiting
		return Directive{Kind: Tick}

	case s.completed.Len() > 0:
		s.terminate = false
		ref, _ := s.completed.PopFront()
		s.record(ActionSettleNetwork, fmt.Sprint(ref))
		s.state = ActionPending
		return Directive{Kind: Tick, Delay: s.cfg.AfterDoneXHRTimeout}

	case s.assess.Len() > 0:
		s.terminate = false
		el, _ := s.assess.PopFront()
		s.record(ActionAssess, dom.Describe(el))
		s.state = ActionPending
		s.runAssess(el)
		return Directive{Kind: Tick}

	case s.events.Len() > 0:
		s.terminate = false
		ev, _ := s.events.PopBack()
		s.record(ActionTrigger, ev.String())
		s.state = ActionPending
		s.trigger(ev)
		return Directive{Kind: Tick, Delay: s.cfg.AfterEventTriggeredTimeout}

	case s.terminate:
		s.record(ActionTerminate, s.doc.URL())
		s.finish()
		return Directive{Kind: Done}

	default:
		s.record(ActionArmClose, s.doc.URL())
		s.state = Idle
		return Directive{Kind: CloseTimer, Delay: s.cfg.BeforeClosingTimeout}
	}
}

func (s *Scheduler) record(action, target string) {
	s.metrics.RecordAction(action)
	s.log.ActionEvent(action, target, s.assess.Len()+s.events.Len())
}

func (s *Scheduler) finish() {
	s.state = Terminated
	s.log.Event(logger.InfoLevel).
		Str("url", s.doc.URL()).
		Int("requests", s.reported).
		Int("triggered", len(s.triggered)).
		Msg("Page exploration complete")
	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete()
	}
}

func (s *Scheduler) runAssess(el dom.Element) {
	if s.assessor == nil {
		return
	}
	err := s.guard("assess", dom.Describe(el), func() error {
		return s.assessor.Assess(el)
	})
	if err != nil {
		s.metrics.RecordError(perrors.Action.String())
		s.log.WithError(err).Debug("assessment incomplete")
	}
}

func (s *Scheduler) trigger(ev dom.PageEvent) {
	s.triggered[ev] = struct{}{}
	s.current = &ev

	err := s.guard("dispatch", ev.String(), func() error {
		return ev.Element.Dispatch(dom.KindOf(ev.Name), ev.Name)
	})
	if err != nil {
		s.metrics.RecordError(perrors.Action.String())
		s.log.ErrorEvent(err, ev.String(), "dispatch")
	}
}

// guard runs fn, turning a panic into an action error.
func (s *Scheduler) guard(op, target string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perrors.NewActionError(target, op, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// ScheduleEvent queues ev unless it is a lifecycle event or was already
// triggered. It reports whether ev was added.
func (s *Scheduler) ScheduleEvent(ev dom.PageEvent) bool {
	if ev.Element == nil || dom.IsLifecycle(ev.Name) || s.Triggered(ev) {
		return false
	}
	return s.events.Push(ev)
}

// Triggered reports whether ev has been dispatched since the last
// attribute change of its element.
func (s *Scheduler) Triggered(ev dom.PageEvent) bool {
	_, ok := s.triggered[ev]
	return ok
}

// Report hands r to the reporter, tagged with the current trigger context.
func (s *Scheduler) Report(r *request.Request) {
	if s.current != nil && r.Trigger == nil {
		r = r.WithTrigger(&request.Trigger{
			Element: dom.Describe(s.current.Element),
			Event:   s.current.Name,
		})
	}
	isNew, err := s.reporter.Report(r)
	if err != nil {
		s.log.WithError(err).Warn("result sink failed")
	}
	if !isNew {
		return
	}
	s.reported++
	s.metrics.RecordRequest(string(r.Type))
	trigger := ""
	if r.Trigger != nil {
		trigger = r.Trigger.String()
	}
	s.log.RequestEvent(string(r.Type), r.Method, r.URL, trigger)
}

// OnMutation feeds a batch of DOM changes into the assessment queue.
func (s *Scheduler) OnMutation(batch []dom.Mutation) {
	for _, m := range batch {
		if m.Element == nil {
			continue
		}
		s.assess.Push(m.Element)
		switch m.Kind {
		case dom.Added:
			s.reportScripts(m.Element)
		case dom.AttributeChanged:
			s.purge(m.Element)
		}
	}
}

// purge forgets trigger history for el.
func (s *Scheduler) purge(el dom.Element) {
	for ev := range s.triggered {
		if ev.Element == el {
			delete(s.triggered, ev)
		}
	}
}

// reportScripts reports added scripts whose src carries a query string.
func (s *Scheduler) reportScripts(el dom.Element) {
	scripts, err := dom.SelfMatching(el, "script[src]")
	if err != nil {
		return
	}
	for _, sc := range scripts {
		src, _ := sc.Attribute("src")
		u, err := url.Parse(src)
		if err != nil || u.RawQuery == "" {
			continue
		}
		r, err := request.New(request.TypeJSONP, "GET", src, s.doc.URL(), "")
		if err != nil {
			s.log.WithError(err).Debug("dropping script request")
			continue
		}
		s.Report(r)
	}
}

// OnRequestSent records an in-flight network operation. ref must be
// comparable.
func (s *Scheduler) OnRequestSent(ref any) {
	s.completed.Remove(ref)
	s.sent.Push(ref)
}

// OnRequestCompleted moves ref from the sent queue to the completed queue.
func (s *Scheduler) OnRequestCompleted(ref any) {
	s.sent.Remove(ref)
	s.completed.Push(ref)
}

// OnExternalNavigation reports a navigation attempt as a link.
func (s *Scheduler) OnExternalNavigation(rawURL string) {
	r, err := request.New(request.TypeLink, "GET", rawURL, s.doc.URL(), "")
	if err != nil {
		s.log.WithError(err).Debug("dropping navigation")
		return
	}
	s.Report(r)
}

// State returns the current state.
func (s *Scheduler) State() State { return s.state }

// Pending returns the lengths of the assessment and event queues.
func (s *Scheduler) Pending() (assessments, events int) {
	return s.assess.Len(), s.events.Len()
}

// InFlight returns the number of sent, not yet completed, requests.
func (s *Scheduler) InFlight() int { return s.sent.Len() }

// Reported returns the number of new requests reported by this page.
func (s *Scheduler) Reported() int { return s.reported }
