package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Limiter Tests
// =============================================================================

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, Burst: 5})

	if l.limiter == nil || l.perHost == nil || l.lastRequest == nil {
		t.Fatal("NewLimiter() left state uninitialized")
	}
	if l.Rate() != 10 {
		t.Errorf("Rate() = %v, want 10", l.Rate())
	}
	if s := l.Stats(); s.Burst != 5 {
		t.Errorf("Burst = %d, want 5", s.Burst)
	}
}

func TestNewLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("unlimited limiter denied request %d", i)
		}
	}
}

func TestLimiter_Allow_Burst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Errorf("Allow() should return true for burst request %d", i+1)
		}
	}
	if l.Allow() {
		t.Error("Allow() should return false after burst exhausted")
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1000, Burst: 10})

	if err := l.Wait(context.Background(), "http://example.com/a"); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if s := l.Stats(); s.HostCount != 1 {
		t.Errorf("HostCount = %d, want 1", s.HostCount)
	}
}

func TestLimiter_Wait_ContextCancelled(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.1, Burst: 1})
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "http://example.com/"); err == nil {
		t.Error("Wait() should fail when the context expires first")
	}
}

func TestLimiter_Wait_HostDelay(t *testing.T) {
	l := NewLimiter(Config{HostDelay: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	_ = l.Wait(ctx, "http://example.com/a")
	_ = l.Wait(ctx, "http://example.com/b")
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("second load to the same host waited %v, want >= 50ms", elapsed)
	}

	start = time.Now()
	_ = l.Wait(ctx, "http://other.com/")
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("first load to a new host waited %v", elapsed)
	}
}

func TestLimiter_Wait_HostDelayCancelled(t *testing.T) {
	l := NewLimiter(Config{HostDelay: time.Second})
	_ = l.Wait(context.Background(), "http://example.com/")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "http://example.com/"); err == nil {
		t.Error("Wait() should return the context error")
	}
}

func TestLimiter_SetHostRate(t *testing.T) {
	l := NewLimiter(Config{})
	l.SetHostRate("Slow.Example.com", 0.1, 1)
	ctx := context.Background()

	if err := l.Wait(ctx, "http://slow.example.com/"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, "http://slow.example.com/"); err == nil {
		t.Error("host limit should hold back the second load")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, Burst: 5})
	l.SetRate(20)
	if l.Rate() != 20 {
		t.Errorf("Rate() = %v, want 20", l.Rate())
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10000, Burst: 100})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			host := "http://a.example.com/"
			if i%2 == 0 {
				host = "http://b.example.com/"
			}
			if err := l.Wait(ctx, host); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if s := l.Stats(); s.HostCount != 2 {
		t.Errorf("HostCount = %d, want 2", s.HostCount)
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"http://Example.com/a": "example.com",
		"https://x.com:8443/":  "x.com:8443",
		"/relative":            "",
		"://bad":               "",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// Adaptive Tests
// =============================================================================

func TestAdaptive_SlowDown(t *testing.T) {
	a := NewAdaptive(Config{RequestsPerSecond: 10, Burst: 1}, 1, 10)
	for i := 0; i < 10; i++ {
		a.Record(i%2 == 0)
	}
	if got := a.CurrentRate(); got != 8 {
		t.Errorf("CurrentRate() = %v, want 8", got)
	}
	if a.Rate() != 8 {
		t.Errorf("limiter rate = %v, want 8", a.Rate())
	}
}

func TestAdaptive_MinRate(t *testing.T) {
	a := NewAdaptive(Config{RequestsPerSecond: 10, Burst: 1}, 9, 5)
	for i := 0; i < 50; i++ {
		a.Record(false)
	}
	if got := a.CurrentRate(); got != 9 {
		t.Errorf("CurrentRate() = %v, want min 9", got)
	}
}

func TestAdaptive_MaxRate(t *testing.T) {
	a := NewAdaptive(Config{RequestsPerSecond: 10, Burst: 1}, 1, 5)
	for i := 0; i < 5; i++ {
		a.Record(false)
	}
	for i := 0; i < 100; i++ {
		a.Record(true)
	}
	if got := a.CurrentRate(); got != 10 {
		t.Errorf("CurrentRate() = %v, want max 10", got)
	}
}

func TestAdaptive_WindowNotReached(t *testing.T) {
	a := NewAdaptive(Config{RequestsPerSecond: 10, Burst: 1}, 1, 100)
	for i := 0; i < 99; i++ {
		a.Record(false)
	}
	if got := a.CurrentRate(); got != 10 {
		t.Errorf("CurrentRate() = %v, rate must not change before the window fills", got)
	}
}

func TestAdaptive_Unlimited(t *testing.T) {
	a := NewAdaptive(Config{}, 1, 1)
	a.Record(false)
	if got := a.CurrentRate(); got != 0 {
		t.Errorf("CurrentRate() = %v, unlimited limiters never adapt", got)
	}
}
