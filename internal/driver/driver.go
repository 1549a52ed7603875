// Package driver hosts a scheduler on one page. It owns the timers the
// scheduler asks for, waits for the environment to settle between ticks
// and feeds environment notifications into the scheduler from a single
// goroutine.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/analyzer"
	"github.com/PentesterFlow/PageProbe/internal/dom"
	perrors "github.com/PentesterFlow/PageProbe/internal/errors"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/metrics"
	"github.com/PentesterFlow/PageProbe/internal/scheduler"
)

// Environment is the page host: a browser tab or a static document.
type Environment interface {
	// Document returns the page being explored.
	Document() dom.Document
	// Settle returns once the page has drained the asynchronous work
	// queued so far. It is the tick source.
	Settle(ctx context.Context) error
	// Notifications returns the mailbox the environment posts feed events to.
	Notifications() *Mailbox
}

// Config combines the scheduler and analyzer options.
type Config struct {
	Scheduler scheduler.Config
	Analyzer  analyzer.Config
	Logger    *logger.Logger
	Metrics   *metrics.Collector
}

// DefaultConfig returns default scheduler and analyzer options.
func DefaultConfig() Config {
	return Config{
		Scheduler: scheduler.DefaultConfig(),
		Analyzer:  analyzer.DefaultConfig(),
	}
}

// Result summarizes one run.
type Result struct {
	URL      string
	Requests int
	Ticks    int
	Duration time.Duration
	// Partial is set when the run stopped before the scheduler terminated.
	Partial bool
}

// Driver runs one scheduler to completion.
type Driver struct {
	cfg      Config
	env      Environment
	reporter scheduler.Reporter
	log      *logger.Logger
}

// New creates a driver over env.
func New(cfg Config, env Environment, reporter scheduler.Reporter) (*Driver, error) {
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{
		cfg:      cfg,
		env:      env,
		reporter: reporter,
		log:      log.WithComponent("driver"),
	}, nil
}

// Run explores the page until the scheduler terminates, ctx ends or the
// environment fails. The result is valid in every case; on error it is
// marked partial.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	doc := d.env.Document()
	res := &Result{URL: doc.URL()}

	scfg := d.cfg.Scheduler
	scfg.Logger = d.cfg.Logger
	scfg.Metrics = d.cfg.Metrics
	sched := scheduler.New(scfg, doc, d.reporter)

	acfg := d.cfg.Analyzer
	acfg.Logger = d.cfg.Logger
	an, err := analyzer.New(acfg, doc, sched)
	if err != nil {
		return res, err
	}
	sched.SetAssessor(an)

	finish := func(err error) (*Result, error) {
		res.Requests = sched.Reported()
		res.Duration = time.Since(start)
		res.Partial = err != nil
		if err != nil {
			d.log.Event(logger.WarnLevel).
				Err(err).
				Str("url", res.URL).
				Int("requests", res.Requests).
				Msg("Page exploration stopped")
		}
		return res, err
	}

	dir, err := sched.Start()
	if err != nil {
		return finish(err)
	}

	for dir.Kind != scheduler.Done {
		if err := d.wait(ctx, sched, dir.Delay); err != nil {
			return finish(err)
		}
		if dir.Kind == scheduler.CloseTimer {
			dir = sched.ExpireClose()
			continue
		}

		if dir.Delay == 0 && sched.InFlight() > 0 {
			if err := d.awaitNotification(ctx); err != nil {
				return finish(err)
			}
		}
		if err := d.env.Settle(ctx); err != nil {
			return finish(d.classify(ctx, err, "settle"))
		}
		if err := d.drain(sched); err != nil {
			return finish(err)
		}
		res.Ticks++
		dir = sched.Tick()
	}
	return finish(nil)
}

// wait blocks for delay while delivering notifications as they arrive.
func (d *Driver) wait(ctx context.Context, sched *scheduler.Scheduler, delay time.Duration) error {
	if err := d.drain(sched); err != nil {
		return err
	}
	if delay <= 0 {
		if err := ctx.Err(); err != nil {
			return d.classify(ctx, err, "wait")
		}
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	mb := d.env.Notifications()
	for {
		select {
		case <-ctx.Done():
			return d.classify(ctx, ctx.Err(), "wait")
		case <-mb.Ready():
			if err := d.drain(sched); err != nil {
				return err
			}
		case <-timer.C:
			return d.drain(sched)
		}
	}
}

// awaitNotification blocks until the environment posts something. Only
// notifications can empty the sent queue, so ticking before one arrives
// cannot change the decision.
func (d *Driver) awaitNotification(ctx context.Context) error {
	mb := d.env.Notifications()
	if mb.Len() > 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return d.classify(ctx, ctx.Err(), "wait")
	case <-mb.Ready():
		return nil
	}
}

// drain delivers queued notifications in order.
func (d *Driver) drain(sched *scheduler.Scheduler) error {
	for _, n := range d.env.Notifications().Drain() {
		switch n.Kind {
		case Mutation:
			sched.OnMutation(n.Mutations)
		case RequestSent:
			sched.OnRequestSent(n.Ref)
		case RequestCompleted:
			sched.OnRequestCompleted(n.Ref)
		case Navigation:
			sched.OnExternalNavigation(n.URL)
		case Found:
			if n.Request != nil {
				sched.Report(n.Request)
			}
		case Failure:
			cause := n.Err
			if cause == nil {
				cause = errors.New("event feed closed")
			}
			return perrors.NewEnvironmentError(d.env.Document().URL(), "feed", cause)
		default:
			d.log.Warnf("unknown notification kind %d", n.Kind)
		}
	}
	return nil
}

func (d *Driver) classify(ctx context.Context, err error, op string) error {
	url := d.env.Document().URL()
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return perrors.NewCancelledError(url, op)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return perrors.NewTimeoutError(url, op, ctx.Err())
	}
	var pe *perrors.ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	return perrors.NewEnvironmentError(url, op, fmt.Errorf("tick source: %w", err))
}
