package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/zombor/pricescan/internal/failure"
)

// DefaultWorkers is the default offload pool size
const DefaultWorkers = 2

// Pool runs CPU-heavy jobs on isolated worker goroutines so the caller only
// waits on a channel. A cancelled job's worker is terminated: its result is
// discarded and its capacity goes to a replacement worker immediately.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu     sync.Mutex
	kills  map[uint64]func()
	nextID uint64
	closed bool

	terminated atomic.Int64
	completed  atomic.Int64
}

// NewPool creates a pool of size workers
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(size)),
		size:  size,
		kills: make(map[uint64]func()),
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Terminated returns how many workers were hard-cancelled
func (p *Pool) Terminated() int64 {
	return p.terminated.Load()
}

// Completed returns how many jobs delivered a result
func (p *Pool) Completed() int64 {
	return p.completed.Load()
}

// Close terminates every running worker and rejects new jobs
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	kills := make([]func(), 0, len(p.kills))
	for _, k := range p.kills {
		kills = append(kills, k)
	}
	p.mu.Unlock()

	for _, k := range kills {
		k()
	}
}

func (p *Pool) register(kill func()) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, failure.New(failure.CodeServiceUnavailable, "worker pool is closed")
	}
	p.nextID++
	p.kills[p.nextID] = kill
	return p.nextID, nil
}

func (p *Pool) unregister(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.kills, id)
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes job on a worker and waits for its result. If ctx or tok is
// cancelled first, the worker is terminated and Run returns immediately.
func Run[T any](ctx context.Context, p *Pool, tok *Token, job func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if tok == nil {
		tok = NewToken(ctx)
	}

	if err := p.sem.Acquire(tok.Context(), 1); err != nil {
		if terr := tok.Err(); terr != nil {
			return zero, terr
		}
		return zero, failure.Classify(err)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	killed := make(chan struct{})
	var killOnce sync.Once
	id, err := p.register(func() { killOnce.Do(func() { close(killed) }) })
	if err != nil {
		cancel()
		p.sem.Release(1)
		return zero, err
	}

	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			p.unregister(id)
			cancel()
			p.sem.Release(1)
		}
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Offloaded worker panicked", "worker", id, "panic", r)
				done <- outcome[T]{err: failure.New(failure.CodeProcessingFailed, fmt.Sprintf("worker panic: %v", r))}
			}
		}()
		v, err := job(workerCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		p.completed.Add(1)
		return out.value, out.err
	case <-killed:
		release()
		p.terminated.Add(1)
		return zero, failure.New(failure.CodeCancelled, "worker pool closed")
	case <-ctx.Done():
		release()
		p.terminated.Add(1)
		return zero, failure.Classify(ctx.Err())
	case <-tok.Done():
		release()
		p.terminated.Add(1)
		slog.Info("Terminated offloaded worker", "worker", id)
		return zero, tok.Err()
	}
}
