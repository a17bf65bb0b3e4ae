package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/pricescan/internal/failure"
	"github.com/zombor/pricescan/internal/pipeline"
	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/recognition/tesseract"
	"github.com/zombor/pricescan/internal/scheduler"
	"github.com/zombor/pricescan/internal/server"
	"github.com/zombor/pricescan/internal/telemetry"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("pricescan")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		uploadPath  = fs.StringLong("uploads", "./data/uploads", "Directory for uploaded receipt images")
		engine      = fs.StringLong("engine", "tesseract", "Recognition engine: 'tesseract', 'gemini' or 'ollama'")
		tessWorkers = fs.IntLong("tesseract-clients", 2, "Number of pooled Tesseract clients")
		tessLangs   = fs.StringLong("tesseract-lang", "eng", "Comma separated Tesseract languages")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		rateLimit   = fs.Float64Long("rate-limit", 0, "Maximum recognition calls per second for cloud engines (0 disables)")

		persistent   = fs.BoolDefault(0, "persistent-cache", true, "Keep results across restarts")
		cacheBackend = fs.StringLong("cache-backend", string(pipeline.CacheFile), "Persistent cache backend: 'file' or 'bolt'")
		cacheDir     = fs.StringLong("cache-dir", "./data/cache", "Persistent cache directory")
		cacheTTL     = fs.DurationLong("cache-ttl", 0, "Cache entry lifetime (0 uses the backend default)")
		cacheCap     = fs.IntLong("cache-capacity", 0, "Maximum cached results (0 uses the backend default)")

		maxRetries  = fs.IntLong("max-retries", 3, "Maximum attempts per receipt")
		baseDelay   = fs.DurationLong("retry-delay", 500*time.Millisecond, "Base delay between attempts")
		ocrTimeout  = fs.DurationLong("ocr-timeout", pipeline.DefaultOCRTimeout, "Timeout for one recognition call")
		concurrency = fs.IntLong("max-concurrency", scheduler.DefaultSlots, "Maximum concurrent pipeline runs")
		workers     = fs.IntLong("offload-workers", scheduler.DefaultWorkers, "Offloaded normalization workers (negative disables)")
		priority    = fs.StringLong("priority", "normal", "Default priority: low, normal or high")
		memBudget   = fs.UintLong("memory-budget", 0, "Heap budget in bytes for pressure readings (0 uses GOMEMLIMIT or system memory)")

		monitor      = fs.BoolLong("monitor", "Enable stage timings and metrics")
		otlpEndpoint = fs.StringLong("otlp-endpoint", "", "OTLP gRPC collector address for metrics")
		otlpInsecure = fs.BoolLong("otlp-insecure", "Disable TLS to the OTLP collector")

		longReceipt = fs.BoolLong("long", "Treat path arguments as sections of one long receipt")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PRICESCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaultPriority, err := scheduler.ParsePriority(*priority)
	if err != nil {
		slog.Error("Invalid priority", "priority", *priority, "error", err)
		os.Exit(1)
	}

	var provider *telemetry.Provider
	if *monitor {
		provider, err = telemetry.New(ctx, telemetry.Config{
			ServiceVersion: version,
			OTLPEndpoint:   *otlpEndpoint,
			Insecure:       *otlpInsecure,
		})
		if err != nil {
			slog.Error("Failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer provider.Shutdown(context.WithoutCancel(ctx))
	}

	recognizer, err := newRecognizer(*engine, engineConfig{
		tesseractClients: *tessWorkers,
		tesseractLangs:   strings.Split(*tessLangs, ","),
		geminiKey:        *geminiKey,
		geminiModel:      *geminiModel,
		ollamaURL:        *ollamaURL,
		ollamaModel:      *ollamaModel,
		rateLimit:        *rateLimit,
	})
	if err != nil {
		slog.Error("Failed to initialize recognition engine", "engine", *engine, "error", err)
		os.Exit(1)
	}

	opts := pipeline.Options{
		UsePersistentCache:          *persistent,
		CacheBackend:                pipeline.CacheBackend(*cacheBackend),
		CacheDir:                    *cacheDir,
		CacheTTL:                    *cacheTTL,
		CacheCapacity:               *cacheCap,
		MaxRetryAttempts:            *maxRetries,
		BaseDelay:                   *baseDelay,
		OCRTimeout:                  *ocrTimeout,
		EnablePerformanceMonitoring: *monitor,
		DefaultPriority:             defaultPriority,
		MaxConcurrency:              *concurrency,
		OffloadWorkers:              *workers,
	}
	deps := pipeline.Deps{Pressure: scheduler.NewRuntimePressure(uint64(*memBudget))}
	if provider != nil {
		if deps.Metrics, err = telemetry.NewMetrics(provider.Meter()); err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
	}

	service, err := pipeline.NewWithDeps(recognizer, opts, deps)
	if err != nil {
		recognizer.Close()
		slog.Error("Failed to create pipeline", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := service.Dispose(); err != nil {
			slog.Error("Failed to dispose pipeline", "error", err)
		}
	}()
	if err := service.Init(ctx); err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	if paths := fs.GetArgs(); len(paths) > 0 {
		if err := scan(ctx, service, paths, *longReceipt); err != nil {
			fe := failure.Classify(err)
			fmt.Fprintf(os.Stderr, "error: %v\nsuggestions: %v\n", fe, fe.Suggestions())
			service.Dispose()
			os.Exit(1)
		}
		return
	}

	slog.Info("Initializing upload storage...", "path", *uploadPath)
	uploads, err := server.NewLocalStorage(*uploadPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(service, uploads, server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := srv.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		service.Dispose()
		os.Exit(1)
	}
	slog.Info("Shutting down...")
}

type engineConfig struct {
	tesseractClients int
	tesseractLangs   []string
	geminiKey        string
	geminiModel      string
	ollamaURL        string
	ollamaModel      string
	rateLimit        float64
}

func newRecognizer(name string, cfg engineConfig) (recognition.Recognizer, error) {
	var (
		r   recognition.Recognizer
		err error
	)
	switch name {
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "clients", cfg.tesseractClients, "languages", cfg.tesseractLangs)
		engine, err := tesseract.New(cfg.tesseractClients, cfg.tesseractLangs...)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", cfg.geminiModel)
		r, err = recognition.NewGemini(apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		r, err = recognition.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid engine %q: valid engines are tesseract, gemini or ollama", name)
	}
	if err != nil {
		return nil, err
	}
	if cfg.rateLimit > 0 {
		r = recognition.NewRateLimited(r, cfg.rateLimit, 1)
	}
	return r, nil
}

// scan processes path arguments and prints JSON results to stdout
func scan(ctx context.Context, service *pipeline.Service, paths []string, long bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if long {
		result, err := service.ProcessLongReceipt(ctx, paths)
		if err != nil {
			return err
		}
		return enc.Encode(result)
	}

	results := make(map[string]*receipt.OCRResult, len(paths))
	for _, path := range paths {
		result, err := service.ProcessSingleReceipt(ctx, path)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		results[path] = result
	}
	if len(paths) == 1 {
		return enc.Encode(results[paths[0]])
	}
	return enc.Encode(results)
}
