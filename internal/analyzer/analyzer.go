// Package analyzer inspects newly seen elements: it maps bindable events,
// fills inputs, extracts links and forms, and schedules events for the
// interaction scheduler.
package analyzer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// Scheduler is the part of the interaction scheduler the analyzer feeds.
type Scheduler interface {
	// ScheduleEvent queues ev and reports whether it was accepted.
	ScheduleEvent(ev dom.PageEvent) bool
	// Triggered reports whether ev has already been dispatched.
	Triggered(ev dom.PageEvent) bool
	// Report hands a discovered request to the reporter.
	Report(r *request.Request)
}

// SelectorEvents binds extra events to every element matching Selector.
type SelectorEvents struct {
	Selector string   `json:"selector" yaml:"selector"`
	Events   []string `json:"events" yaml:"events"`
}

// Config holds analyzer options.
type Config struct {
	FillValues    bool
	TriggerEvents bool
	WatchedEvents []string
	SelectorMap   []SelectorEvents
	ValueRules    []ValueRule
	Seed          int64
	Logger        *logger.Logger
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		FillValues:    true,
		TriggerEvents: true,
		WatchedEvents: dom.DefaultWatchedEvents(),
		ValueRules:    DefaultValueRules(),
	}
}

// Analyzer runs the four assessment steps over an element subtree.
type Analyzer struct {
	cfg     Config
	doc     dom.Document
	sched   Scheduler
	events  *EventMap
	rules   []compiledRule
	values  *Generator
	watched []string
	log     *logger.Logger
}

// New creates an analyzer for doc that feeds sched.
func New(cfg Config, doc dom.Document, sched Scheduler) (*Analyzer, error) {
	rules, err := compileRules(cfg.ValueRules)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	watched := make([]string, 0, len(cfg.WatchedEvents))
	for _, ev := range cfg.WatchedEvents {
		watched = append(watched, strings.ToLower(ev))
	}
	return &Analyzer{
		cfg:     cfg,
		doc:     doc,
		sched:   sched,
		events:  NewEventMap(),
		rules:   rules,
		values:  NewGenerator(cfg.Seed),
		watched: watched,
		log:     log.WithComponent("analyzer"),
	}, nil
}

// Events exposes the event map.
func (a *Analyzer) Events() *EventMap { return a.events }

// Assess runs event mapping, value synthesis, link and form extraction,
// and event scheduling over el and its descendants. A failing step does
// not stop the others; the joined step errors are returned.
func (a *Analyzer) Assess(el dom.Element) error {
	if el == nil {
		return nil
	}
	nodes, err := dom.Self(el)
	if err != nil {
		a.log.WithError(err).Debug("descendant query failed")
	}

	var errs []error
	for _, step := range []struct {
		name string
		fn   func(el dom.Element, nodes []dom.Element) error
	}{
		{"map_events", a.mapEvents},
		{"fill_values", a.fillValues},
		{"extract", a.extract},
		{"schedule_events", a.scheduleEvents},
	} {
		if err := a.guard(step.name, el, nodes, step.fn); err != nil {
			a.log.ErrorEvent(err, el.Describe(), step.name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Analyzer) guard(name string, el dom.Element, nodes []dom.Element, fn func(dom.Element, []dom.Element) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perrors.NewActionError(el.Describe(), name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(el, nodes); err != nil {
		return perrors.NewActionError(el.Describe(), name, err)
	}
	return nil
}

// mapEvents records watched events with a bound handler and the events
// implied by the selector table.
func (a *Analyzer) mapEvents(el dom.Element, nodes []dom.Element) error {
	var errs []error
	for _, n := range nodes {
		if err := a.mapHandlers(n); err != nil {
			errs = append(errs, err)
		}
	}
	for _, se := range a.cfg.SelectorMap {
		matched, err := dom.SelfMatching(el, se.Selector)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, n := range matched {
			for _, ev := range se.Events {
				a.events.Add(n, strings.ToLower(ev))
			}
		}
	}
	return errors.Join(errs...)
}

func (a *Analyzer) mapHandlers(n dom.Element) error {
	if hl, ok := n.(dom.HandlerLister); ok {
		bound, err := hl.Handlers()
		if err != nil {
			return err
		}
		set := make(map[string]struct{}, len(bound))
		for _, b := range bound {
			set[strings.ToLower(b)] = struct{}{}
		}
		for _, ev := range a.watched {
			if _, ok := set[ev]; ok {
				a.events.Add(n, ev)
			}
		}
		return nil
	}

	for _, ev := range a.watched {
		ok, err := n.HasHandler(ev)
		if err != nil {
			return err
		}
		if ok {
			a.events.Add(n, ev)
		}
	}
	return nil
}

// scheduleEvents queues every mapped event that is neither a lifecycle
// event nor already triggered.
func (a *Analyzer) scheduleEvents(_ dom.Element, nodes []dom.Element) error {
	if !a.cfg.TriggerEvents {
		return nil
	}
	for _, n := range nodes {
		for _, ev := range a.events.Events(n) {
			a.schedule(dom.PageEvent{Element: n, Name: ev})
		}
	}
	return nil
}

func (a *Analyzer) schedule(pe dom.PageEvent) {
	if dom.IsLifecycle(pe.Name) || a.sched.Triggered(pe) {
		return
	}
	a.sched.ScheduleEvent(pe)
}
