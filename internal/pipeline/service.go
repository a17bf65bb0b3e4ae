// Package pipeline orchestrates receipt scanning: normalization, recognition,
// store detection, price extraction, enhancement, caching and scheduling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/pricescan/internal/cache"
	"github.com/zombor/pricescan/internal/enhance"
	"github.com/zombor/pricescan/internal/extraction"
	"github.com/zombor/pricescan/internal/failure"
	"github.com/zombor/pricescan/internal/imaging"
	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/scheduler"
	"github.com/zombor/pricescan/internal/stores"
	"github.com/zombor/pricescan/internal/telemetry"
)

// BoltFile is the database file name used by the bolt cache backend
const BoltFile = "results.db"

// IDGenerator generates session identifiers
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Deps are the collaborators a Service can be given instead of its defaults
type Deps struct {
	Cache       cache.Store
	Pressure    scheduler.PressureProvider
	Registry    *stores.Registry
	Metrics     *telemetry.Metrics
	IDGenerator IDGenerator
	TimeSource  TimeSource
	// Sleep replaces the retry back-off wait
	Sleep func(ctx context.Context, d time.Duration) error
}

// Service is the single owned pipeline instance. Construct it once and share it.
type Service struct {
	opts       Options
	deps       Deps
	recognizer recognition.Recognizer

	classifier *stores.Classifier
	extractor  *extraction.Extractor
	enhancer   *enhance.Enhancer
	normalizer *imaging.Normalizer
	slots      *scheduler.Slots
	pool       *scheduler.Pool
	retryer    *failure.Retryer

	cache       cache.Store
	metrics     *telemetry.Metrics
	idGenerator IDGenerator
	timeSource  TimeSource

	initOnce sync.Once
	initErr  error
	disposed atomic.Bool
}

// New creates a Service with default collaborators
func New(recognizer recognition.Recognizer, opts Options) (*Service, error) {
	return NewWithDeps(recognizer, opts, Deps{})
}

// NewWithDeps creates a Service with custom collaborators for testing
func NewWithDeps(recognizer recognition.Recognizer, opts Options, deps Deps) (*Service, error) {
	if recognizer == nil {
		return nil, errors.New("recognizer is required")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if deps.Registry == nil {
		deps.Registry = stores.DefaultRegistry()
	}
	if deps.Pressure == nil {
		deps.Pressure = scheduler.NewRuntimePressure(0)
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = &uuidGenerator{}
	}
	if deps.TimeSource == nil {
		deps.TimeSource = &defaultTimeSource{}
	}

	s := &Service{
		opts:        opts,
		deps:        deps,
		recognizer:  recognizer,
		classifier:  stores.NewClassifier(deps.Registry),
		extractor:   extraction.NewExtractor(deps.Registry),
		enhancer:    enhance.New(),
		slots:       scheduler.NewSlots(opts.MaxConcurrency),
		retryer:     failure.NewRetryer(opts.MaxRetryAttempts, opts.BaseDelay),
		idGenerator: deps.IDGenerator,
		timeSource:  deps.TimeSource,
	}
	s.normalizer = imaging.NewNormalizer(imaging.ScorerFunc(s.quickText))
	if deps.Sleep != nil {
		s.retryer.Sleep = deps.Sleep
	}
	if opts.OffloadWorkers >= 0 {
		s.pool = scheduler.NewPool(opts.OffloadWorkers)
	}
	return s, nil
}

// Init opens the cache and the metric instruments. It runs once; processing
// calls it lazily.
func (s *Service) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.init(ctx)
	})
	return s.initErr
}

func (s *Service) init(ctx context.Context) error {
	s.cache = s.deps.Cache
	if s.cache == nil {
		s.cache = s.openCache()
	}
	if removed, err := s.cache.ClearExpired(); err != nil {
		slog.Warn("Failed to clear expired cache entries", "error", err)
	} else if removed > 0 {
		slog.Info("Cleared expired cache entries", "count", removed)
	}

	s.metrics = s.deps.Metrics
	if s.metrics == nil && s.opts.EnablePerformanceMonitoring {
		m, err := telemetry.NewMetrics(nil)
		if err != nil {
			return fmt.Errorf("creating metrics: %w", err)
		}
		s.metrics = m
	}

	slog.Info("Pipeline initialized",
		"max_concurrency", s.slots.Capacity(),
		"offload_workers", s.opts.OffloadWorkers,
		"persistent_cache", s.opts.UsePersistentCache,
		"cache_backend", s.opts.CacheBackend,
		"cache_entries", s.cache.Len(),
	)
	return nil
}

// openCache builds the configured cache, falling back to memory when the
// persistent store cannot be opened
func (s *Service) openCache() cache.Store {
	opts := cache.Options{TTL: s.opts.CacheTTL, Capacity: s.opts.CacheCapacity, Now: s.timeSource.Now}
	if !s.opts.UsePersistentCache {
		return cache.NewMemory(opts)
	}

	var (
		store cache.Store
		err   error
	)
	switch s.opts.CacheBackend {
	case CacheBolt:
		store, err = cache.NewBolt(filepath.Join(s.opts.CacheDir, BoltFile), opts)
	default:
		store, err = cache.NewFile(s.opts.CacheDir, opts)
	}
	if err != nil {
		slog.Error("Failed to open persistent cache, using memory", "dir", s.opts.CacheDir, "error", err)
		if opts.TTL == 0 {
			opts.TTL = cache.PersistentTTL
		}
		if opts.Capacity == 0 {
			opts.Capacity = cache.PersistentCapacity
		}
		return cache.NewMemory(opts)
	}
	return store
}

// Dispose cancels outstanding work and releases every resource. The
// Service cannot be used afterwards.
func (s *Service) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	cancelled := s.slots.CancelAll()
	if s.pool != nil {
		s.pool.Close()
	}

	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
	}
	if err := s.recognizer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing recognizer: %w", err))
	}
	slog.Info("Pipeline disposed", "cancelled", cancelled)
	return errors.Join(errs...)
}

// ClearCache removes every cached result
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.cache.Clear()
}

// CacheSize returns the number of cached results
func (s *Service) CacheSize(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	return s.cache.Len(), nil
}

// CancelAllOperations cancels every queued and in-flight run and returns
// how many were signalled
func (s *Service) CancelAllOperations() int {
	n := s.slots.CancelAll()
	slog.Info("Cancelled all operations", "count", n)
	return n
}

// InFlight returns the number of runs holding a slot
func (s *Service) InFlight() int {
	return s.slots.InFlight()
}

func (s *Service) ready(ctx context.Context) error {
	if s.disposed.Load() {
		return failure.New(failure.CodeServiceUnavailable, "pipeline has been disposed")
	}
	if err := s.Init(ctx); err != nil {
		return failure.Wrap(failure.CodeProcessingFailed, err, "initializing pipeline")
	}
	return nil
}

// run is the per-call state shared by single and long receipts
type run struct {
	session string
	started time.Time
	cfg     processConfig
	token   *scheduler.Token
	timer   *stageTimer
	stop    func()
}

func (s *Service) newRun(ctx context.Context, opts []ProcessOption) *run {
	cfg := processConfig{priority: s.opts.DefaultPriority}
	for _, o := range opts {
		o(&cfg)
	}

	r := &run{
		session: s.idGenerator.Generate(),
		started: s.timeSource.Now(),
		cfg:     cfg,
		token:   scheduler.NewToken(ctx),
		stop:    func() {},
	}
	r.timer = newStageTimer(s.timeSource, s.opts.EnablePerformanceMonitoring)
	if caller := cfg.token; caller != nil {
		if caller.Cancelled() {
			r.token.CancelWithCause(context.Cause(caller.Context()))
		}
		stop := caller.OnCancel(func() {
			r.token.CancelWithCause(context.Cause(caller.Context()))
		})
		r.stop = func() { stop() }
	}
	return r
}

func (s *Service) elapsed(r *run) time.Duration {
	return s.timeSource.Now().Sub(r.started)
}

// ProcessSingleReceipt scans one receipt photograph. Results are cached by
// file identity; a repeated call on an unmodified file returns the cached
// result without recognizing again. Errors are always *failure.Error.
func (s *Service) ProcessSingleReceipt(ctx context.Context, path string, opts ...ProcessOption) (*receipt.OCRResult, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	r := s.newRun(ctx, opts)
	defer r.stop()

	result, tier, err := s.processSingle(ctx, r, path)
	s.finish(ctx, r, tier, result, err, "path", path)
	if err != nil {
		return nil, failure.Classify(err)
	}
	return result, nil
}

func (s *Service) processSingle(ctx context.Context, r *run, path string) (*receipt.OCRResult, scheduler.Tier, error) {
	release, err := s.slots.Acquire(ctx, r.cfg.priority, r.token)
	if err != nil {
		return nil, "", err
	}
	defer release()
	defer s.metrics.TrackActive(ctx)()

	key, err := cache.KeyForFile(path)
	if err != nil {
		return nil, "", err
	}
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(ctx, true)
		slog.Info("Cache hit", "session", r.session, "path", path)
		return cached, scheduler.Tier(cached.Metadata.Tier), nil
	}
	s.metrics.RecordCacheLookup(ctx, false)

	var (
		rec      *recognized
		found    *analysis
		attempts int
	)
	err = s.retryer.Do(r.token.Context(), func(_ context.Context, attempt int, hints *failure.Hints) error {
		attempts = attempt
		var err error
		rec, err = s.recognize(r, path, hints, false)
		if err != nil {
			return err
		}
		found, err = s.analyze(r.token.Context(), rec.text, rec.width, rec.height)
		if err != nil {
			return err
		}
		r.timer.mark("extract")
		return r.token.Check("after extraction")
	})
	s.metrics.RecordRetries(ctx, attempts)
	if err != nil {
		return nil, rec.tierOrEmpty(), err
	}

	result := s.buildResult(r, rec.text, found, rec.tier, attempts, 1, rec.width, rec.height)
	if err := s.store(r, key, result); err != nil {
		return nil, rec.tier, err
	}
	return result, rec.tier, nil
}

// ProcessLongReceipt scans a receipt photographed in sections, top to
// bottom. Every section must be recognized; the texts are stitched into one
// coordinate space before extraction.
func (s *Service) ProcessLongReceipt(ctx context.Context, paths []string, opts ...ProcessOption) (*receipt.OCRResult, error) {
	if len(paths) == 0 {
		return nil, failure.New(failure.CodeInsufficientSections, "a long receipt needs at least one section")
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	r := s.newRun(ctx, opts)
	defer r.stop()

	result, tier, err := s.processLong(ctx, r, paths)
	s.finish(ctx, r, tier, result, err, "sections", len(paths))
	if err != nil {
		return nil, failure.Classify(err)
	}
	return result, nil
}

func (s *Service) processLong(ctx context.Context, r *run, paths []string) (*receipt.OCRResult, scheduler.Tier, error) {
	release, err := s.slots.Acquire(ctx, r.cfg.priority, r.token)
	if err != nil {
		return nil, "", err
	}
	defer release()
	defer s.metrics.TrackActive(ctx)()

	key := cache.KeyForSections(paths)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(ctx, true)
		slog.Info("Cache hit", "session", r.session, "sections", len(paths))
		return cached, scheduler.Tier(cached.Metadata.Tier), nil
	}
	s.metrics.RecordCacheLookup(ctx, false)

	sections := make([]section, 0, len(paths))
	attempts := 0
	var tier scheduler.Tier
	for i, path := range paths {
		var (
			rec   *recognized
			tries int
		)
		err := s.retryer.Do(r.token.Context(), func(_ context.Context, attempt int, hints *failure.Hints) error {
			tries = attempt
			var err error
			rec, err = s.recognize(r, path, hints, true)
			return err
		})
		attempts += tries
		if err != nil {
			fe := failure.Classify(err)
			if fe.Kind == failure.KindCancelled || r.token.Cancelled() {
				return nil, tier, fe
			}
			sf := failure.Wrap(failure.CodeSectionFailed, fe, fmt.Sprintf("section %d of %d failed", i+1, len(paths)))
			sf.Attempts = attempts
			return nil, tier, sf
		}
		tier = rec.tier
		sections = append(sections, section{text: rec.text, width: rec.width, height: rec.height})
	}

	text, width, height := stitch(sections)
	if text.IsEmpty() {
		return nil, tier, failure.New(failure.CodeMergeFailed, "sections produced no combined text")
	}
	r.timer.mark("stitch")

	found, err := s.analyze(r.token.Context(), text, width, height)
	if err != nil {
		return nil, tier, failure.Classify(err)
	}
	r.timer.mark("extract")
	if err := r.token.Check("after extraction"); err != nil {
		return nil, tier, err
	}

	result := s.buildResult(r, text, found, tier, attempts, len(paths), width, height)
	if err := s.store(r, key, result); err != nil {
		return nil, tier, err
	}
	return result, tier, nil
}

type recognized struct {
	text   *recognition.Text
	tier   scheduler.Tier
	width  int
	height int
}

func (r *recognized) tierOrEmpty() scheduler.Tier {
	if r == nil {
		return ""
	}
	return r.tier
}

// recognize loads, normalizes and recognizes one image under the hints of
// the current attempt
func (s *Service) recognize(r *run, path string, hints *failure.Hints, multiSection bool) (*recognized, error) {
	ctx := r.token.Context()

	img, err := imaging.Load(path, imaging.LoadOptions{
		AllowDownscale: hints.AllowDownscale,
		MaxDimension:   hints.MaxDimension,
	})
	if err != nil {
		return nil, err
	}
	r.timer.mark("load")

	tier := r.cfg.tier
	if tier == "" {
		snap, err := s.deps.Pressure.Snapshot(ctx)
		if err != nil {
			slog.Warn("Failed to read device pressure", "session", r.session, "error", err)
			snap = scheduler.Idle
		}
		tier = scheduler.SelectTier(scheduler.Task{ByteSize: img.ByteSize, MultiSection: multiSection}, snap, s.pool != nil)
	}
	if hints.LowMemory {
		tier = scheduler.TierLightweight
	}
	plan := tier.Plan()
	if hints.MaxDimension > 0 && hints.MaxDimension < plan.MaxDimension {
		plan.MaxDimension = hints.MaxDimension
	}

	if tier == scheduler.TierOffloaded && s.pool != nil {
		img, err = scheduler.Run(ctx, s.pool, r.token, func(wctx context.Context) (*imaging.Image, error) {
			return s.normalizer.Normalize(wctx, img, plan), nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		img = s.normalizer.Normalize(ctx, img, plan)
	}
	r.timer.mark("normalize")
	if err := r.token.Check("after normalize"); err != nil {
		return nil, err
	}

	data, err := imaging.EncodePNG(img.Pixels)
	if err != nil {
		return nil, failure.Wrap(failure.CodeProcessingFailed, err, "encoding normalized image")
	}

	rctx, cancel := context.WithTimeout(ctx, s.opts.OCRTimeout)
	defer cancel()
	text, err := s.recognizer.Recognize(rctx, data, recognition.Metadata{Width: img.Width(), Height: img.Height(), Format: "png"})
	r.timer.mark("recognize")
	if err := r.token.Check("after recognition"); err != nil {
		return nil, err
	}
	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, failure.Wrap(failure.CodeTimeout, err, fmt.Sprintf("recognition exceeded %s", s.opts.OCRTimeout))
		}
		return nil, failure.Classify(err)
	}
	if text.IsEmpty() {
		return nil, failure.New(failure.CodeNoTextDetected, "no text detected in image")
	}

	return &recognized{text: text, tier: tier, width: img.Width(), height: img.Height()}, nil
}

// quickText is the cheap recognition pass used to score orientations. Each
// pass gets the same deadline as a full recognition.
func (s *Service) quickText(ctx context.Context, img *image.NRGBA) (string, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OCRTimeout)
	defer cancel()
	b := img.Bounds()
	text, err := s.recognizer.Recognize(ctx, data, recognition.Metadata{Width: b.Dx(), Height: b.Dy(), Format: "png"})
	if err != nil {
		return "", err
	}
	return text.Text, nil
}

func (s *Service) buildResult(r *run, text *recognition.Text, found *analysis, tier scheduler.Tier, attempts, sections, width, height int) *receipt.OCRResult {
	prices := found.prices
	if prices == nil {
		prices = []receipt.ExtractedPrice{}
	}
	return &receipt.OCRResult{
		Text:        text.Text,
		Prices:      prices,
		Confidence:  found.confidence,
		Enhancement: string(tier),
		StoreID:     found.storeID,
		Metadata: receipt.Metadata{
			SessionID:      r.session,
			Tier:           string(tier),
			Attempts:       attempts,
			ProcessingTime: s.elapsed(r),
			SectionCount:   sections,
			ImageWidth:     width,
			ImageHeight:    height,
			CandidateCount: found.candidates,
			RejectedCount:  found.rejected,
			StrategyCounts: found.counts,
		},
	}
}

// store writes result to the cache. Cache failures are logged and never
// surfaced; only cancellation stops the write.
func (s *Service) store(r *run, key string, result *receipt.OCRResult) error {
	if err := r.token.Check("before cache write"); err != nil {
		return err
	}
	if err := s.cache.Put(key, result); err != nil {
		slog.Warn("Failed to write cache entry", "session", r.session, "error", err)
	}
	return nil
}

// finish logs and records the outcome of a run
func (s *Service) finish(ctx context.Context, r *run, tier scheduler.Tier, result *receipt.OCRResult, err error, attrs ...any) {
	elapsed := s.elapsed(r)
	if err != nil {
		fe := failure.Classify(err)
		args := append([]any{
			"session", r.session,
			"elapsed", elapsed,
			"kind", fe.Kind,
			"code", fe.Code,
			"attempts", fe.Attempts,
			"error", fe,
		}, attrs...)
		slog.Error("Failed to process receipt", args...)
		s.metrics.RecordRun(ctx, string(tier), string(fe.Code), elapsed, 0)
		return
	}

	args := append([]any{
		"session", r.session,
		"elapsed", elapsed,
		"tier", tier,
		"store", result.StoreID,
		"prices", len(result.Prices),
		"confidence", result.Confidence,
	}, attrs...)
	slog.Info("Processed receipt", args...)
	r.timer.log(r.session)
	s.metrics.RecordRun(ctx, string(tier), "", elapsed, len(result.Prices))
}
