package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"facloc/internal/auth"
	"facloc/internal/opt"
	"facloc/internal/runs"
	"facloc/internal/store"
	"facloc/internal/webhooks"
)

// Config is the service configuration, usually read from the environment.
type Config struct {
	DatabaseURL        string
	Migrate            bool
	MigrationsDir      string
	RedisURL           string
	SolverConfigPath   string
	SolveRPS           float64
	SolveBurst         int
	MaxConcurrentRuns  int
	MaxQueuedRuns      int
	WebhookMaxAttempts int
}

// ConfigFromEnv reads DATABASE_URL, DB_MIGRATE, REDIS_URL, SOLVER_CONFIG,
// SOLVE_RPS, SOLVE_BURST, MAX_CONCURRENT_RUNS, MAX_QUEUED_RUNS and
// WEBHOOK_MAX_ATTEMPTS.
func ConfigFromEnv() Config {
	return Config{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Migrate:            os.Getenv("DB_MIGRATE") != "false",
		MigrationsDir:      envOr("DB_MIGRATIONS_DIR", "db/migrations"),
		RedisURL:           os.Getenv("REDIS_URL"),
		SolverConfigPath:   os.Getenv("SOLVER_CONFIG"),
		SolveRPS:           envFloat("SOLVE_RPS", 2),
		SolveBurst:         envInt("SOLVE_BURST", 5),
		MaxConcurrentRuns:  envInt("MAX_CONCURRENT_RUNS", 2),
		MaxQueuedRuns:      envInt("MAX_QUEUED_RUNS", 16),
		WebhookMaxAttempts: envInt("WEBHOOK_MAX_ATTEMPTS", 8),
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return d
}

func envFloat(k string, d float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return v
	}
	return d
}

type Server struct {
	Cfg      Config
	Store    store.Store
	Pub      *webhooks.Publisher
	Auth     *auth.Verifier
	Broker   EventBroker
	Runs     *runs.Manager
	Log      *zap.Logger
	Defaults opt.Config

	limiter *tenantLimiter
}

// NewServer wires the store, broker and run manager. Without DATABASE_URL
// the in-memory store is used; without REDIS_URL the in-process broker.
func NewServer(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := opt.DefaultConfig()
	if cfg.SolverConfigPath != "" {
		c, err := opt.LoadConfig(cfg.SolverConfigPath)
		if err != nil {
			return nil, err
		}
		defaults = c
	}

	var s store.Store
	if cfg.DatabaseURL == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := sp.MigrateDir(cfg.MigrationsDir); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s = sp
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Warn("redis broker unavailable, using in-process broker", zap.Error(err))
		} else {
			broker = rb
		}
	}

	pub := webhooks.NewPublisher(s, log.Named("webhooks"))
	return &Server{
		Cfg:      cfg,
		Store:    s,
		Pub:      pub,
		Auth:     auth.NewVerifierFromEnv(),
		Broker:   broker,
		Runs:     runs.NewManager(s, pub, broker, cfg.MaxConcurrentRuns, cfg.MaxQueuedRuns, log.Named("runs")),
		Log:      log,
		Defaults: defaults,
		limiter:  newTenantLimiter(cfg.SolveRPS, cfg.SolveBurst),
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts, s.Log.Named("webhooks"))
}
