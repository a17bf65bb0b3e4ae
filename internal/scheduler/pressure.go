package scheduler

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync"
)

// Thermal is the device thermal state
type Thermal int

const (
	ThermalNominal Thermal = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t Thermal) String() string {
	switch t {
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "nominal"
	}
}

// Snapshot is a point-in-time view of system pressure. Usage and battery
// values are fractions in [0,1].
type Snapshot struct {
	MemoryUsage  float64 `json:"memory_usage"`
	CPUUsage     float64 `json:"cpu_usage"`
	BatteryLevel float64 `json:"battery_level"`
	Thermal      Thermal `json:"thermal"`
}

// PressureProvider reports the current system pressure
type PressureProvider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// StaticPressure always reports the same snapshot
type StaticPressure Snapshot

// Snapshot returns s
func (s StaticPressure) Snapshot(context.Context) (Snapshot, error) {
	return Snapshot(s), nil
}

// Idle is a snapshot with no pressure at all
var Idle = Snapshot{BatteryLevel: 1, Thermal: ThermalNominal}

// RuntimePressure derives a snapshot from the Go runtime. Memory usage is the
// live heap against the soft memory limit (or MemoryBudget when no limit is
// set), CPU usage is the share of GC CPU time since the previous snapshot,
// and battery and thermal are always nominal on a server.
type RuntimePressure struct {
	// MemoryBudget is used when no runtime memory limit is configured
	MemoryBudget uint64

	mu      sync.Mutex
	lastGC  float64
	lastTot float64
	samples []metrics.Sample
}

// NewRuntimePressure creates a provider with the given fallback budget in bytes
func NewRuntimePressure(budget uint64) *RuntimePressure {
	return &RuntimePressure{
		MemoryBudget: budget,
		samples:      []metrics.Sample{
			{Name: "/memory/classes/heap/objects:bytes"},
			{Name: "/cpu/classes/gc/total:cpu-seconds"},
			{Name: "/cpu/classes/total:cpu-seconds"},
		},
	}
}

// Snapshot reads the runtime metrics
func (r *RuntimePressure) Snapshot(context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	heap := sampleFloat(r.samples[0])
	gc := sampleFloat(r.samples[1])
	total := sampleFloat(r.samples[2])

	budget := float64(r.MemoryBudget)
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		budget = float64(limit)
	}
	if budget <= 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		budget = float64(ms.Sys)
	}

	cpu := 0.0
	if dt := total - r.lastTot; dt > 0 {
		cpu = (gc - r.lastGC) / dt
	}
	r.lastGC, r.lastTot = gc, total

	return Snapshot{
		MemoryUsage:  clamp01(heap / budget),
		CPUUsage:     clamp01(cpu),
		BatteryLevel: 1,
		Thermal:      ThermalNominal,
	}, nil
}

func sampleFloat(s metrics.Sample) float64 {
	switch s.Value.Kind() {
	case metrics.KindUint64:
		return float64(s.Value.Uint64())
	case metrics.KindFloat64:
		return s.Value.Float64()
	}
	return 0
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
