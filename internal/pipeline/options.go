package pipeline

import (
	"fmt"
	"time"

	"github.com/zombor/pricescan/internal/scheduler"
)

// CacheBackend selects where persistent results live
type CacheBackend string

const (
	CacheFile CacheBackend = "file"
	CacheBolt CacheBackend = "bolt"
)

// DefaultOCRTimeout bounds a single recognition call
const DefaultOCRTimeout = 25 * time.Second

// Options are the service settings. Every option is independent of the others.
type Options struct {
	// UsePersistentCache keeps results across restarts; otherwise a
	// memory-only cache is used
	UsePersistentCache bool
	CacheBackend       CacheBackend
	CacheDir           string
	CacheCapacity      int
	CacheTTL           time.Duration

	MaxRetryAttempts int
	BaseDelay        time.Duration
	OCRTimeout       time.Duration

	// EnablePerformanceMonitoring records stage timings and metrics
	EnablePerformanceMonitoring bool

	DefaultPriority scheduler.Priority
	MaxConcurrency  int
	// OffloadWorkers sizes the worker pool; negative disables offloading
	OffloadWorkers int
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		UsePersistentCache: true,
		CacheBackend:       CacheFile,
		CacheDir:           "./data/cache",
		MaxRetryAttempts:   3,
		BaseDelay:          500 * time.Millisecond,
		OCRTimeout:         DefaultOCRTimeout,
		DefaultPriority:    scheduler.PriorityNormal,
		MaxConcurrency:     scheduler.DefaultSlots,
		OffloadWorkers:     scheduler.DefaultWorkers,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 3
	}
	if o.OCRTimeout <= 0 {
		o.OCRTimeout = DefaultOCRTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = scheduler.DefaultSlots
	}
	if o.CacheBackend == "" {
		o.CacheBackend = CacheFile
	}
	return o
}

func (o Options) validate() error {
	if o.UsePersistentCache && o.CacheDir == "" {
		return fmt.Errorf("persistent cache requires a cache directory")
	}
	switch o.CacheBackend {
	case CacheFile, CacheBolt:
	default:
		return fmt.Errorf("unknown cache backend %q", o.CacheBackend)
	}
	return nil
}

type processConfig struct {
	priority scheduler.Priority
	token    *scheduler.Token
	tier     scheduler.Tier
}

// ProcessOption adjusts a single call
type ProcessOption func(*processConfig)

// WithPriority overrides the default priority
func WithPriority(p scheduler.Priority) ProcessOption {
	return func(c *processConfig) { c.priority = p }
}

// WithToken lets the caller cancel the call cooperatively
func WithToken(tok *scheduler.Token) ProcessOption {
	return func(c *processConfig) { c.token = tok }
}

// WithTier forces a processing tier instead of selecting one
func WithTier(t scheduler.Tier) ProcessOption {
	return func(c *processConfig) { c.tier = t }
}
