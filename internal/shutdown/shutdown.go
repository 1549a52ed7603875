// Package shutdown turns interrupt signals into a cancelled context and
// runs cleanup callbacks (flushing output, closing browsers and stores).
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/logger"
)

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type entry struct {
	name string
	fn   Callback
}

// Handler manages graceful shutdown.
type Handler struct {
	mu      sync.Mutex
	entries []entry

	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration
	log            *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	err     error
}

// New creates a handler and starts listening for cfg.Signals.
func New(parent context.Context, cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		log:     log.WithComponent("shutdown"),
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	go h.listen()

	return h
}

func (h *Handler) listen() {
	select {
	case sig := <-h.sigChan:
		h.log.Event(logger.WarnLevel).Str("signal", sig.String()).Msg("Interrupted, stopping")
		h.cancel()
	case <-h.ctx.Done():
	}
}

// Register registers a cleanup callback. Callbacks run in reverse order.
func (h *Handler) Register(name string, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry{name: name, fn: fn})
}

// RegisterFunc registers a simple cleanup function.
func (h *Handler) RegisterFunc(name string, fn func() error) {
	h.Register(name, func(context.Context) error {
		return fn()
	})
}

// Context is cancelled on the first signal or when Shutdown starts.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether the context was cancelled.
func (h *Handler) Interrupted() bool {
	return h.ctx.Err() != nil
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Trigger simulates a signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Shutdown cancels the context, runs the callbacks and stops listening.
// Later calls wait for the first one and return its error.
func (h *Handler) Shutdown() error {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return h.err
	}

	start := time.Now()
	h.cancel()
	signal.Stop(h.sigChan)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	entries := make([]entry, len(h.entries))
	copy(entries, h.entries)
	h.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := h.run(ctx, entries[i]); err != nil {
			h.log.ErrorEvent(err, entries[i].name, "shutdown")
			errs = append(errs, err)
		}
	}

	h.err = errors.Join(errs...)
	h.log.Event(logger.DebugLevel).
		Dur("elapsed", time.Since(start)).
		Int("callbacks", len(entries)).
		Msg("Shutdown complete")
	close(h.done)
	return h.err
}

func (h *Handler) run(ctx context.Context, e entry) error {
	done := make(chan error, 1)

	go func() {
		done <- e.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: e.name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
