package scheduler

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/metrics"
)

// Config holds the scheduler timing options.
type Config struct {
	// BufferCycleSize is the number of idle ticks swallowed before a
	// decision is made.
	BufferCycleSize int

	AfterDoneXHRTimeout        time.Duration
	AfterEventTriggeredTimeout time.Duration
	BeforeClosingTimeout       time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Collector

	// OnComplete is called once when the scheduler terminates.
	OnComplete func()
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		BufferCycleSize:            2,
		AfterDoneXHRTimeout:        50 * time.Millisecond,
		AfterEventTriggeredTimeout: 10 * time.Millisecond,
		BeforeClosingTimeout:       150 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BufferCycleSize < 0 {
		return fmt.Errorf("buffer cycle size must be >= 0")
	}
	if c.AfterDoneXHRTimeout < 0 || c.AfterEventTriggeredTimeout < 0 || c.BeforeClosingTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	return nil
}
