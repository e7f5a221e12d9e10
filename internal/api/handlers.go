package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"facloc/internal/cflp"
	"facloc/internal/model"
	"facloc/internal/opt"
	"facloc/internal/runs"
	"facloc/internal/store"
)

// InstancesHandler handles POST/GET /v1/instances
func (s *Server) InstancesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/instances" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanSolve() {
			writeProblem(w, 403, "Forbidden", "solver or admin required", r.URL.Path)
			return
		}
		var req model.CreateInstanceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := req.Instance.Validate(); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid instance", err.Error(), r.URL.Path)
			return
		}
		rec, err := s.Store.CreateInstance(r.Context(), p.Tenant, req.Name, req.Instance)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create instance failed", err.Error(), r.URL.Path)
			return
		}
		w.Header().Set("Location", "/v1/instances/"+rec.ID)
		writeJSON(w, http.StatusCreated, model.Summarize(rec))
	case http.MethodGet:
		cursor, limit := pageParams(r)
		items, next, err := s.Store.ListInstances(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List instances failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// InstanceByIDHandler handles GET /v1/instances/{id}
func (s *Server) InstanceByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/instances/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	rec, err := s.Store.GetInstance(r.Context(), p.Tenant, id)
	if err != nil {
		s.storeProblem(w, r, "Instance not found", err)
		return
	}
	writeJSON(w, 200, rec)
}

// SolveHandler handles POST /v1/solve. Runs are asynchronous unless
// ?wait=true is given, in which case the finished run is returned.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solve" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanSolve() {
		writeProblem(w, 403, "Forbidden", "solver or admin required", r.URL.Path)
		return
	}
	if !s.limiter.Allow(p.Tenant) {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "too many solve requests", r.URL.Path)
		return
	}
	var req model.SolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	rec, ok := s.resolveInstance(w, r, p.Tenant, req.InstanceID, req.Instance)
	if !ok {
		return
	}
	if cflp.IsInfeasible(rec.Instance) {
		writeProblem(w, http.StatusUnprocessableEntity, "Infeasible instance", cflp.ErrInfeasibleInstance.Error(), r.URL.Path)
		return
	}
	if req.WarmStart != nil {
		if err := cflp.Check(rec.Instance, req.WarmStart); err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid warm start", err.Error(), r.URL.Path)
			return
		}
	}
	cfg, err := s.effectiveConfig(r.Context(), p.Tenant, req)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solver config", err.Error(), r.URL.Path)
		return
	}

	run, done, err := s.Runs.Submit(r.Context(), runs.Job{TenantID: p.Tenant, Instance: rec, Config: cfg, Seed: req.Seed, WarmStart: req.WarmStart})
	if errors.Is(err, runs.ErrBusy) {
		w.Header().Set("Retry-After", "5")
		writeProblem(w, http.StatusServiceUnavailable, "Solver busy", err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Submit run failed", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	if !isTrue(r.URL.Query().Get("wait")) {
		writeJSON(w, http.StatusAccepted, run)
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
		return
	}
	s.writeRun(w, r, p.Tenant, run.ID)
}

// effectiveConfig layers defaults, stored tenant overrides, request
// overrides and finally the explicit timeout and iteration fields.
func (s *Server) effectiveConfig(ctx context.Context, tenant string, req model.SolveRequest) (opt.Config, error) {
	cfg := s.Defaults
	stored, err := s.Store.GetSolverConfig(ctx, tenant)
	if err != nil {
		return cfg, fmt.Errorf("load tenant config: %w", err)
	}
	if cfg, err = cfg.Override(stored); err != nil {
		return cfg, fmt.Errorf("tenant config: %w", err)
	}
	if cfg, err = cfg.Override(req.Config); err != nil {
		return cfg, err
	}
	if req.TimeoutSec > 0 {
		cfg.TimeLimitSec = req.TimeoutSec
	}
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}
	return cfg, nil
}

// resolveInstance loads a stored instance, or validates and stores an
// inline one. It writes the problem response itself on failure.
func (s *Server) resolveInstance(w http.ResponseWriter, r *http.Request, tenant, id string, inline *cflp.Instance) (model.InstanceRecord, bool) {
	if id != "" {
		rec, err := s.Store.GetInstance(r.Context(), tenant, id)
		if err != nil {
			s.storeProblem(w, r, "Instance not found", err)
			return rec, false
		}
		return rec, true
	}
	if err := inline.Validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid instance", err.Error(), r.URL.Path)
		return model.InstanceRecord{}, false
	}
	rec, err := s.Store.CreateInstance(r.Context(), tenant, "inline", inline)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create instance failed", err.Error(), r.URL.Path)
		return rec, false
	}
	return rec, true
}

// RunsHandler handles GET /v1/runs?instanceId=&status=&cursor=&limit=
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	q := r.URL.Query()
	cursor, limit := pageParams(r)
	items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, q.Get("instanceId"), q.Get("status"), cursor, limit)
	if err != nil {
		writeProblem(w, 500, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id}, POST /v1/runs/{id}/cancel and
// GET /v1/runs/{id}/events/stream
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.writeRun(w, r, p.Tenant, id)
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.CanSolve() {
			writeProblem(w, 403, "Forbidden", "solver or admin required", path)
			return
		}
		run, err := s.Store.GetRun(r.Context(), p.Tenant, id)
		if err != nil {
			s.storeProblem(w, r, "Run not found", err)
			return
		}
		if run.Done() || !s.Runs.Cancel(id) {
			writeProblem(w, http.StatusConflict, "Run finished", "run is "+run.Status, path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "cancelled": true})
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamRun(w, r, p.Tenant, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// runView adds the oracle's view of the stored solution.
type runView struct {
	model.Run
	Feasible    *bool               `json:"feasible,omitempty"`
	Utilization []cflp.FacilityLoad `json:"utilization,omitempty"`
}

func (s *Server) writeRun(w http.ResponseWriter, r *http.Request, tenant, id string) {
	run, err := s.Store.GetRun(r.Context(), tenant, id)
	if err != nil {
		s.storeProblem(w, r, "Run not found", err)
		return
	}
	view := runView{Run: run}
	if run.Solution != nil {
		if rec, err := s.Store.GetInstance(r.Context(), tenant, run.InstanceID); err == nil {
			feasible := cflp.Feasible(rec.Instance, run.Solution)
			view.Feasible = &feasible
			view.Utilization = cflp.Utilization(rec.Instance, run.Solution)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// streamRun serves run events as SSE until the run finishes or the client
// goes away.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, tenant, id string) {
	if _, err := s.Store.GetRun(r.Context(), tenant, id); err != nil {
		s.storeProblem(w, r, "Run not found", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The run may have finished before the subscription existed.
	if run, err := s.Store.GetRun(r.Context(), tenant, id); err == nil && run.Done() {
		writeSSE(w, "status", statusEvent(run))
		flusher.Flush()
		return
	}
	writeSSE(w, "heartbeat", map[string]string{"runId": id, "ts": time.Now().UTC().Format(time.RFC3339)})
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt.Type, evt)
			flusher.Flush()
			if evt.Type == "status" && (evt.Status == model.RunSucceeded || evt.Status == model.RunFailed) {
				return
			}
		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]string{"runId": id, "ts": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

func statusEvent(run model.Run) model.RunEvent {
	evt := model.RunEvent{Type: "status", RunID: run.ID, Status: run.Status, Error: run.Error, TS: time.Now().UTC()}
	if run.Cost != nil {
		evt.BestCost = *run.Cost
	}
	if run.Metrics != nil {
		evt.Iteration = run.Metrics.Iterations
		evt.ElapsedMs = run.Metrics.ElapsedMs
	}
	return evt
}

// EvaluateHandler handles POST /v1/evaluate: cost and feasibility of any
// solution for a stored or inline instance.
func (s *Server) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/evaluate" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	var req model.EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	in, ok := s.lookupInstance(w, r, p.Tenant, req.InstanceID, req.Instance)
	if !ok {
		return
	}
	resp := model.EvaluateResponse{
		Feasible:    true,
		Cost:        cflp.Cost(in, req.Solution),
		Utilization: cflp.Utilization(in, req.Solution),
	}
	if err := cflp.Check(in, req.Solution); err != nil {
		resp.Feasible = false
		resp.Reason = err.Error()
	}
	writeJSON(w, 200, resp)
}

// PrecheckHandler handles POST /v1/precheck
func (s *Server) PrecheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/precheck" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	var req model.PrecheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	in, ok := s.lookupInstance(w, r, p.Tenant, req.InstanceID, req.Instance)
	if !ok {
		return
	}
	writeJSON(w, 200, model.PrecheckResponse{
		Infeasible:    cflp.IsInfeasible(in),
		TotalDemand:   in.TotalDemand(),
		TotalCapacity: in.TotalCapacity(),
	})
}

// lookupInstance is resolveInstance without storing inline instances.
func (s *Server) lookupInstance(w http.ResponseWriter, r *http.Request, tenant, id string, inline *cflp.Instance) (*cflp.Instance, bool) {
	if id != "" {
		rec, err := s.Store.GetInstance(r.Context(), tenant, id)
		if err != nil {
			s.storeProblem(w, r, "Instance not found", err)
			return nil, false
		}
		return rec.Instance, true
	}
	if err := inline.Validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid instance", err.Error(), r.URL.Path)
		return nil, false
	}
	return inline, true
}

// SolverConfigHandler returns the default solver configuration and the
// tenant's effective one.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	effective, err := s.effectiveConfig(r.Context(), p.Tenant, model.SolveRequest{})
	if err != nil {
		writeProblem(w, 500, "Tenant config invalid", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"defaults": s.Defaults, "effective": effective})
}

// AdminSolverConfigHandler gets or replaces the tenant's stored overrides.
func (s *Server) AdminSolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver/config" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Store.GetSolverConfig(r.Context(), p.Tenant)
		if err != nil {
			writeProblem(w, 500, "Load config failed", err.Error(), r.URL.Path)
			return
		}
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, 200, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config map[string]any `json:"config"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, 400, "Missing config", "", r.URL.Path)
			return
		}
		if _, err := s.Defaults.Override(body.Config); err != nil {
			writeProblem(w, 400, "Invalid solver config", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveSolverConfig(r.Context(), p.Tenant, body.Config); err != nil {
			writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SolverMetricsHandler lists the metrics of the latest run of each instance
// solved by this process. Optional instanceId narrows the list.
func (s *Server) SolverMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	only := r.URL.Query().Get("instanceId")
	items := []map[string]any{}
	for id, m := range opt.GetMetrics(p.Tenant) {
		if only != "" && id != only {
			continue
		}
		items = append(items, map[string]any{
			"instanceId":     id,
			"iterations":     m.Iterations,
			"improvements":   m.Improvements,
			"acceptedWorse":  m.AcceptedWorse,
			"initialCost":    m.InitialCost,
			"bestCost":       m.BestCost,
			"finalCost":      m.FinalCost,
			"destroySelects": m.DestroySelects[:],
			"destroyWins":    m.DestroyWins[:],
			"stoppedBy":      m.StoppedBy,
			"elapsedMs":      m.ElapsedMs,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i]["instanceId"].(string) < items[j]["instanceId"].(string) })
	writeJSON(w, 200, map[string]any{"items": items})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = p.Tenant
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor, limit := pageParams(r)
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		s.storeProblem(w, r, "Delete subscription failed", err)
		return
	}
	w.WriteHeader(204)
}

// WebhookDeliveriesHandler lists deliveries, filtered by ?status=
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	s.listDeliveries(w, r, r.URL.Query().Get("status"))
}

// WebhookDLQHandler lists deliveries that exhausted their attempts.
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-dlq" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	s.listDeliveries(w, r, store.DeliveryFailed)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request, status string) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(405)
		return
	}
	cursor, limit := pageParams(r)
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
		s.storeProblem(w, r, "Retry delivery failed", err)
		return
	}
	writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, title, err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

func pageParams(r *http.Request) (string, int) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	return r.URL.Query().Get("cursor"), limit
}

func isTrue(v string) bool { return v == "1" || strings.EqualFold(v, "true") }
