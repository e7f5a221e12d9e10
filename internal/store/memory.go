package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"facloc/internal/cflp"
	"facloc/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	instances map[string]model.InstanceRecord // id -> instance
	instTen   map[string][]string             // tenant -> instance ids
	runs      map[string]model.Run            // id -> run
	runsTen   map[string][]string             // tenant -> run ids
	solverCfg map[string]map[string]any       // tenant -> overrides
	subs      map[string][]model.Subscription // tenant -> subscriptions
	// Webhooks queue state
	deliveries         map[string]*WebhookDelivery
	deliveriesByTenant map[string][]string
	dlq                []WebhookDelivery
}

func NewMemory() *Memory {
	return &Memory{
		instances:          map[string]model.InstanceRecord{},
		instTen:            map[string][]string{},
		runs:               map[string]model.Run{},
		runsTen:            map[string][]string{},
		solverCfg:          map[string]map[string]any{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*WebhookDelivery{},
		deliveriesByTenant: map[string][]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateInstance(ctx context.Context, tenantID, name string, in *cflp.Instance) (model.InstanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := model.InstanceRecord{ID: uuid.New().String(), TenantID: tenantID, Name: name, Instance: in, CreatedAt: time.Now().UTC()}
	m.instances[rec.ID] = rec
	m.instTen[tenantID] = append(m.instTen[tenantID], rec.ID)
	return rec, nil
}

func (m *Memory) GetInstance(ctx context.Context, tenantID, id string) (model.InstanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.instances[id]
	if !ok || rec.TenantID != tenantID {
		return model.InstanceRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.InstanceSummary, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, next := page(m.instTen[tenantID], cursor, clampLimit(limit), func(string) bool { return true })
	out := make([]model.InstanceSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Summarize(m.instances[id]))
	}
	return out, next, nil
}

func (m *Memory) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	m.runs[run.ID] = run
	m.runsTen[run.TenantID] = append(m.runsTen[run.TenantID], run.ID)
	return run, nil
}

func (m *Memory) UpdateRun(ctx context.Context, tenantID, id string, patch model.RunPatch) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return model.Run{}, ErrNotFound
	}
	r = applyRunPatch(r, patch)
	m.runs[id] = r
	return r, nil
}

func applyRunPatch(r model.Run, p model.RunPatch) model.Run {
	if p.Status != "" {
		r.Status = p.Status
	}
	if p.Solution != nil {
		r.Solution = p.Solution.Clone()
	}
	if p.Cost != nil {
		r.Cost = p.Cost
	}
	if p.Metrics != nil {
		r.Metrics = p.Metrics
	}
	if p.Error != "" {
		r.Error = p.Error
	}
	if p.StartedAt != nil {
		r.StartedAt = p.StartedAt
	}
	if p.FinishedAt != nil {
		r.FinishedAt = p.FinishedAt
	}
	return r
}

func (m *Memory) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return model.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, tenantID, instanceID, status, cursor string, limit int) ([]model.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := func(id string) bool {
		r := m.runs[id]
		return (instanceID == "" || r.InstanceID == instanceID) && (status == "" || r.Status == status)
	}
	ids, next := page(m.runsTen[tenantID], cursor, clampLimit(limit), match)
	out := make([]model.Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.runs[id])
	}
	return out, next, nil
}

// page walks ids after cursor and keeps up to limit matches. The cursor
// returned is the last id kept, or "" when the list is exhausted.
func page(ids []string, cursor string, limit int, match func(string) bool) ([]string, string) {
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	var out []string
	for i := start; i < len(ids); i++ {
		if !match(ids[i]) {
			continue
		}
		if len(out) == limit {
			return out, out[len(out)-1]
		}
		out = append(out, ids[i])
	}
	return out, ""
}

func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.solverCfg[tenantID]; ok {
		return cfg, nil
	}
	return nil, nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solverCfg[tenantID] = cfg
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	ids := make([]string, len(list))
	byID := make(map[string]model.Subscription, len(list))
	for i, s := range list {
		ids[i] = s.ID
		byID[s.ID] = s
	}
	keep, next := page(ids, cursor, clampLimit(limit), func(string) bool { return true })
	items := make([]model.Subscription, 0, len(keep))
	for _, id := range keep {
		items = append(items, byID[id])
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(arr) {
		return ErrNotFound
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	now := time.Now()
	m.deliveries[id] = &WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: &now}
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, ids := range m.deliveriesByTenant {
		for _, id := range ids {
			d := m.deliveries[id]
			if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && (d.NextAttemptAt == nil || !d.NextAttemptAt.After(now)) {
				out = append(out, *d)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	if success {
		d.Status = DeliveryDelivered
		d.NextAttemptAt = nil
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	d.NextAttemptAt = nextAttemptAt
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.NextAttemptAt = nil
	m.dlq = append(m.dlq, *d)
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := func(id string) bool { return status == "" || m.deliveries[id].Status == status }
	ids, next := page(m.deliveriesByTenant[tenantID], cursor, clampLimit(limit), match)
	out := make([]WebhookDelivery, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.deliveries[id])
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	now := time.Now()
	d.Status = DeliveryPending
	d.NextAttemptAt = &now
	return nil
}
