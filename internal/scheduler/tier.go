package scheduler

import (
	"fmt"

	"github.com/zombor/pricescan/internal/imaging"
)

// Tier is how much image work a task gets and where it runs
type Tier string

const (
	TierLightweight Tier = "lightweight"
	TierStandard    Tier = "standard"
	TierIntensive   Tier = "intensive"
	TierOffloaded   Tier = "offloaded"
)

const (
	// IntensiveBytes is the image size above which the full normalizer runs
	IntensiveBytes = 2 << 20
	// OffloadBytes is the image size above which work moves to a worker
	OffloadBytes = 5 << 20

	lowBattery = 0.15
	highMemory = 0.85
)

// Task describes a unit of pipeline work for tier selection
type Task struct {
	ByteSize     int64
	MultiSection bool
}

// SelectTier picks a tier. Device pressure forces the lightweight tier;
// otherwise size and section count decide. Offloading only happens when a
// worker pool is available.
func SelectTier(task Task, snap Snapshot, canOffload bool) Tier {
	if snap.Thermal >= ThermalSerious || snap.BatteryLevel < lowBattery || snap.MemoryUsage > highMemory {
		return TierLightweight
	}
	if task.ByteSize > OffloadBytes || task.MultiSection {
		if canOffload {
			return TierOffloaded
		}
		return TierIntensive
	}
	if task.ByteSize > IntensiveBytes {
		return TierIntensive
	}
	return TierStandard
}

// Plan returns the normalization plan for t
func (t Tier) Plan() imaging.Plan {
	switch t {
	case TierLightweight:
		return imaging.PlanLightweight
	case TierIntensive, TierOffloaded:
		return imaging.PlanIntensive
	default:
		return imaging.PlanStandard
	}
}

// ParseTier maps a tier name to a Tier
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierLightweight, TierStandard, TierIntensive, TierOffloaded:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}
