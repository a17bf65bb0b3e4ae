package failure

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond

	// DefaultMaxDimension is the longer-edge cap used before any shrink hint
	DefaultMaxDimension = 2048
	minMaxDimension     = 512
)

// Hints carries recovery adjustments from a failed attempt into the next one
type Hints struct {
	// MaxDimension is the longer-edge cap the next attempt should use
	MaxDimension int
	// AllowDownscale lets oversized inputs through by downsampling them
	AllowDownscale bool
	// LowMemory is set once memory pressure relief has been requested
	LowMemory bool
}

// Attempt is one invocation of the wrapped operation. attempt is 1-based.
type Attempt func(ctx context.Context, attempt int, hints *Hints) error

// Retryer runs an Attempt until it succeeds, fails fatally, or exhausts MaxAttempts
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep waits between attempts; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
	// ReleaseMemory is the low-memory recovery hint
	ReleaseMemory func()
}

// NewRetryer creates a Retryer with the given ceiling and base delay
func NewRetryer(maxAttempts int, baseDelay time.Duration) *Retryer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Retryer{
		MaxAttempts:   maxAttempts,
		BaseDelay:     baseDelay,
		Sleep:         sleepContext,
		ReleaseMemory: releaseMemory,
	}
}

// Do runs fn with retries. The returned error is always a *Error or nil.
func (r *Retryer) Do(ctx context.Context, fn Attempt) error {
	hints := &Hints{MaxDimension: DefaultMaxDimension}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt, hints)
		if err == nil {
			return nil
		}

		fe := Classify(err)
		fe.Attempts = attempt
		if !fe.Retryable() || attempt >= r.MaxAttempts {
			return fe
		}

		r.recover(fe, hints)

		delay := r.BaseDelay * time.Duration(attempt)
		slog.Warn("Retrying after recoverable failure",
			"attempt", attempt,
			"max_attempts", r.MaxAttempts,
			"code", fe.Code,
			"delay", delay,
			"error", fe.Err,
		)

		sleep := r.Sleep
		if sleep == nil {
			sleep = sleepContext
		}
		if err := sleep(ctx, delay); err != nil {
			cancelled := Classify(err)
			cancelled.Attempts = attempt
			return cancelled
		}
	}
}

// recover applies the failure-specific recovery hint before the next attempt
func (r *Retryer) recover(fe *Error, hints *Hints) {
	switch fe.Code {
	case CodeLowMemory:
		hints.LowMemory = true
		if r.ReleaseMemory != nil {
			r.ReleaseMemory()
		}
	case CodeTooLarge:
		hints.AllowDownscale = true
		hints.MaxDimension /= 2
		if hints.MaxDimension < minMaxDimension {
			hints.MaxDimension = minMaxDimension
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func releaseMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
