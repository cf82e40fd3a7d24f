package commands

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phishlense/phishlense/internal/analysis"
	"github.com/phishlense/phishlense/internal/classify"
	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/lifecycle"
	"github.com/phishlense/phishlense/internal/ratelimit"
	"github.com/phishlense/phishlense/internal/sandbox"
	"github.com/phishlense/phishlense/internal/store"
	"github.com/phishlense/phishlense/internal/traffic"
)

// app bundles the wired collaborators behind the CLI entry points.
type app struct {
	store     *store.Store
	lifecycle *lifecycle.Lifecycle
	ingestor  *traffic.Ingestor
	prescan   *analysis.PreScanner
	redis     *redis.Client
}

// buildApp wires the full stack from config. withLimiter controls whether the
// Redis-backed rate limiter is attached; one-shot CLI runs skip it so they
// work without a Redis instance.
func buildApp(cfg *config.Config, logger *slog.Logger, withLimiter bool) (*app, error) {
	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	var limiter lifecycle.Limiter
	if withLimiter {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = ratelimit.New(rdb, cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)
	}

	completer := analysis.NewOpenAIClient(cfg.Model)
	prescan := analysis.NewPreScanner(cfg.CustomRulesDir)
	engine := analysis.NewEngine(completer, prescan, cfg.Model, logger)

	prober := sandbox.NewProber(cfg.Sandbox, otelhttp.NewTransport(http.DefaultTransport), logger)

	lc := lifecycle.New(st, engine, prober, limiter, logger)

	var classifier classify.Classifier
	if hc := classify.NewHTTPClassifier(cfg.Classifier); hc != nil {
		classifier = hc
	}
	ing := traffic.NewIngestor(st, classifier, engine, logger)

	return &app{store: st, lifecycle: lc, ingestor: ing, prescan: prescan, redis: rdb}, nil
}

// close releases the app's connections.
func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.prescan.Close()
	_ = a.store.Close()
}

// loadConfig reads the config file, falling back to defaults when absent.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
