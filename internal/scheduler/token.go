package scheduler

import (
	"context"
	"errors"

	"github.com/zombor/pricescan/internal/failure"
)

// Priority orders tasks waiting for a slot. The zero value is normal.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority maps "low", "normal" and "high" to a Priority
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, errors.New("priority must be low, normal or high")
}

// ErrPreempted is the cancellation cause for a low-priority task displaced
// by a high-priority one
var ErrPreempted = errors.New("preempted by a higher priority task")

// Token is a cooperative cancellation handle checked at pipeline stage
// boundaries
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewToken creates a token that is also cancelled when parent is done
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel requests cancellation
func (t *Token) Cancel() {
	t.cancel(context.Canceled)
}

// CancelWithCause requests cancellation and records why
func (t *Token) CancelWithCause(cause error) {
	t.cancel(cause)
}

// Cancelled reports whether cancellation was requested
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Done is closed once the token is cancelled
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context cancelled together with the token
func (t *Token) Context() context.Context {
	return t.ctx
}

// OnCancel runs f once the token is cancelled. The returned stop function
// unregisters f.
func (t *Token) OnCancel(f func()) (stop func() bool) {
	return context.AfterFunc(t.ctx, f)
}

// Err returns nil while the token is live, and a Cancelled or Timeout
// failure once it is not
func (t *Token) Err() error {
	if t.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(t.ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return failure.Wrap(failure.CodeTimeout, cause, "operation timed out")
	}
	return failure.Wrap(failure.CodeCancelled, cause, "operation cancelled")
}

// Check returns Err annotated with the stage boundary it was called from
func (t *Token) Check(stage string) error {
	if err := t.Err(); err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			fe.Message = fe.Message + " at " + stage
		}
		return err
	}
	return nil
}
