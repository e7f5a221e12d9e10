package api

import (
	"net/http"
	"time"

	"facloc/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"AUTH_MODE":            s.Auth.Mode,
			"SOLVE_RPS":            s.Cfg.SolveRPS,
			"SOLVE_BURST":          s.Cfg.SolveBurst,
			"MAX_CONCURRENT_RUNS":  s.Cfg.MaxConcurrentRuns,
			"MAX_QUEUED_RUNS":      s.Cfg.MaxQueuedRuns,
			"WEBHOOK_MAX_ATTEMPTS": s.Cfg.WebhookMaxAttempts,
			"HAS_DATABASE_URL":     s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":        s.Cfg.RedisURL != "",
			"SOLVER_CONFIG":        s.Cfg.SolverConfigPath,
		},
		"solverDefaults": s.Defaults,
	})
}
