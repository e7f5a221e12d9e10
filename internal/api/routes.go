package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"facloc/internal/metrics"
)

// Routes builds the service mux wrapped in logging, metrics and recovery.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Instances
	mux.HandleFunc("/v1/instances", s.InstancesHandler)
	mux.HandleFunc("/v1/instances/", s.InstanceByIDHandler)

	// Solving
	mux.HandleFunc("/v1/solve", s.SolveHandler)
	mux.HandleFunc("/v1/evaluate", s.EvaluateHandler)
	mux.HandleFunc("/v1/precheck", s.PrecheckHandler)
	mux.HandleFunc("/v1/solver/config", s.SolverConfigHandler)

	// Runs
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /cancel, /events/stream
	mux.HandleFunc("/v1/runs/ws", s.RunsWSHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

	// Admin
	mux.HandleFunc("/v1/admin/solver/config", s.AdminSolverConfigHandler)
	mux.HandleFunc("/v1/admin/solver-metrics", s.SolverMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return s.logMiddleware(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				s.Log.Error("handler panic", zap.Any("panic", v), zap.String("path", r.URL.Path))
				if rec.status == 0 {
					writeProblem(rec, http.StatusInternalServerError, "Internal Server Error", "", r.URL.Path)
				}
			}
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			dur := time.Since(start)
			code := strconv.Itoa(rec.status)
			path := routeLabel(r.URL.Path)
			metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
			s.Log.Info("request",
				zap.String("remote", r.RemoteAddr),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", dur),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

// routeLabel replaces resource ids with {id} to bound metric cardinality.
func routeLabel(path string) string {
	for _, prefix := range []string{"/v1/instances/", "/v1/runs/", "/v1/subscriptions/", "/v1/admin/webhook-deliveries/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" || rest == "ws" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return prefix + "{id}" + rest[i:]
		}
		return prefix + "{id}"
	}
	return path
}
