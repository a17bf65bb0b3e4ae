package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// stageTimer accumulates per-stage durations when performance monitoring is on
type stageTimer struct {
	enabled bool
	clock   TimeSource

	mu     sync.Mutex
	last   time.Time
	stages map[string]time.Duration
	order  []string
}

func newStageTimer(clock TimeSource, enabled bool) *stageTimer {
	t := &stageTimer{enabled: enabled, clock: clock}
	if enabled {
		t.last = clock.Now()
		t.stages = make(map[string]time.Duration)
	}
	return t
}

// mark attributes the time since the previous mark to stage
func (t *stageTimer) mark(stage string) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if _, seen := t.stages[stage]; !seen {
		t.order = append(t.order, stage)
	}
	t.stages[stage] += now.Sub(t.last)
	t.last = now
}

func (t *stageTimer) durations() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Duration, len(t.stages))
	for k, v := range t.stages {
		out[k] = v
	}
	return out
}

func (t *stageTimer) log(session string) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	args := []any{"session", session}
	for _, stage := range t.order {
		args = append(args, stage, t.stages[stage])
	}
	t.mu.Unlock()
	slog.Info("Stage timings", args...)
}
