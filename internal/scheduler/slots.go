package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zombor/pricescan/internal/failure"
)

// DefaultSlots is the default number of concurrent pipeline executions
const DefaultSlots = 2

type holder struct {
	id        uint64
	priority  Priority
	token     *Token
	preempted bool
}

type waiter struct {
	priority Priority
	token    *Token
	ready    chan uint64
}

// Slots is a counting semaphore with FIFO admission. High-priority waiters
// queue ahead of every other waiter and may preempt one in-flight low
// priority task.
type Slots struct {
	mu       sync.Mutex
	capacity int
	nextID   uint64
	inFlight map[uint64]*holder
	queue    []*waiter
}

// NewSlots creates a semaphore with capacity slots
func NewSlots(capacity int) *Slots {
	if capacity <= 0 {
		capacity = DefaultSlots
	}
	return &Slots{
		capacity: capacity,
		inFlight: make(map[uint64]*holder),
	}
}

// Capacity returns the number of slots
func (s *Slots) Capacity() int {
	return s.capacity
}

// InFlight returns the number of held slots
func (s *Slots) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Waiting returns the number of queued tasks
func (s *Slots) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Acquire blocks until a slot is free, ctx is done or tok is cancelled.
// The returned release function is safe to call more than once.
func (s *Slots) Acquire(ctx context.Context, p Priority, tok *Token) (func(), error) {
	if tok == nil {
		tok = NewToken(ctx)
	}
	if err := tok.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.inFlight) < s.capacity && len(s.queue) == 0 {
		id := s.admit(p, tok)
		s.mu.Unlock()
		return s.releaser(id), nil
	}

	w := &waiter{priority: p, token: tok, ready: make(chan uint64, 1)}
	s.enqueue(w)
	if p == PriorityHigh {
		s.preemptLow()
	}
	s.mu.Unlock()

	select {
	case id := <-w.ready:
		return s.releaser(id), nil
	case <-ctx.Done():
		s.abandon(w)
		return nil, failure.Classify(ctx.Err())
	case <-tok.Done():
		s.abandon(w)
		return nil, tok.Err()
	}
}

// CancelAll cancels every in-flight and queued task
func (s *Slots) CancelAll() int {
	s.mu.Lock()
	tokens := make([]*Token, 0, len(s.inFlight)+len(s.queue))
	for _, h := range s.inFlight {
		tokens = append(tokens, h.token)
	}
	for _, w := range s.queue {
		tokens = append(tokens, w.token)
	}
	s.mu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
	return len(tokens)
}

// admit records a new holder. Callers hold mu.
func (s *Slots) admit(p Priority, tok *Token) uint64 {
	s.nextID++
	s.inFlight[s.nextID] = &holder{id: s.nextID, priority: p, token: tok}
	return s.nextID
}

// enqueue appends w, placing high-priority waiters before every other
// priority while keeping FIFO order within a priority. Callers hold mu.
func (s *Slots) enqueue(w *waiter) {
	if w.priority != PriorityHigh {
		s.queue = append(s.queue, w)
		return
	}
	i := 0
	for i < len(s.queue) && s.queue[i].priority == PriorityHigh {
		i++
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = w
}

// preemptLow cancels the most recently admitted low-priority holder when
// there are more high-priority waiters than pending preemptions. Callers
// hold mu.
func (s *Slots) preemptLow() {
	highs, pending := 0, 0
	for _, w := range s.queue {
		if w.priority == PriorityHigh {
			highs++
		}
	}
	var victim *holder
	for _, h := range s.inFlight {
		if h.preempted {
			pending++
			continue
		}
		if h.priority == PriorityLow && (victim == nil || h.id > victim.id) {
			victim = h
		}
	}
	if victim == nil || pending >= highs {
		return
	}
	victim.preempted = true
	slog.Info("Preempting low priority task", "slot", victim.id)
	victim.token.CancelWithCause(ErrPreempted)
}

func (s *Slots) releaser(id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.release(id) })
	}
}

func (s *Slots) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, id)
	s.dispatch()
}

// dispatch hands free slots to queued waiters in order. Callers hold mu.
func (s *Slots) dispatch() {
	for len(s.inFlight) < s.capacity && len(s.queue) > 0 {
		w := s.queue[0]
		s.queue = s.queue[1:]
		w.ready <- s.admit(w.priority, w.token)
	}
}

// abandon removes w from the queue, or gives back the slot it was granted
// concurrently with giving up
func (s *Slots) abandon(w *waiter) {
	s.mu.Lock()
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	s.release(<-w.ready)
}
