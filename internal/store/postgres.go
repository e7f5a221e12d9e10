package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"facloc/internal/cflp"
	"facloc/internal/model"
	"facloc/internal/opt"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order, skipping files
// already recorded in schema_migrations.
func (p *Postgres) MigrateDir(dir string) error {
	ctx := context.Background()
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		name := filepath.Base(f)
		var done bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil {
			return err
		}
		if done {
			continue
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateInstance(ctx context.Context, tenantID, name string, in *cflp.Instance) (model.InstanceRecord, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return model.InstanceRecord{}, err
	}
	rec := model.InstanceRecord{ID: uuid.New().String(), TenantID: tenantID, Name: name, Instance: in, CreatedAt: time.Now().UTC()}
	_, err = p.db.ExecContext(ctx, `INSERT INTO instances (id, tenant_id, name, payload, facilities, customers, total_demand, total_capacity, timeout_sec, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, tenantID, nullIfEmpty(name), payload, in.NumFacilities(), in.NumCustomers(), in.TotalDemand(), in.TotalCapacity(), in.Timeout, rec.CreatedAt)
	if err != nil {
		return model.InstanceRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) GetInstance(ctx context.Context, tenantID, id string) (model.InstanceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.InstanceRecord{}, ErrNotFound
	}
	var rec model.InstanceRecord
	var name sql.NullString
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id, name, payload, created_at FROM instances WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&rec.ID, &rec.TenantID, &name, &payload, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InstanceRecord{}, ErrNotFound
	}
	if err != nil {
		return model.InstanceRecord{}, err
	}
	rec.Name = name.String
	rec.Instance = &cflp.Instance{}
	if err := json.Unmarshal(payload, rec.Instance); err != nil {
		return model.InstanceRecord{}, fmt.Errorf("decode instance %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.InstanceSummary, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id::text, name, facilities, customers, total_demand, total_capacity, timeout_sec, created_at FROM instances WHERE tenant_id=$1`
	args := []any{tenantID}
	if cursor != "" {
		q += ` AND id::text > $2 ORDER BY id LIMIT $3`
		args = append(args, cursor, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.InstanceSummary{}
	for rows.Next() {
		s := model.InstanceSummary{TenantID: tenantID}
		var name sql.NullString
		if err := rows.Scan(&s.ID, &name, &s.Facilities, &s.Customers, &s.TotalDemand, &s.TotalCapacity, &s.Timeout, &s.CreatedAt); err != nil {
			return nil, "", err
		}
		s.Name = name.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

const runColumns = `id::text, tenant_id, instance_id::text, status, seed, config, assignment, cost, metrics, error, created_at, started_at, finished_at`

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return model.Run{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, tenant_id, instance_id, status, seed, config, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.TenantID, run.InstanceID, run.Status, run.Seed, cfg, run.CreatedAt)
	if err != nil {
		return model.Run{}, err
	}
	return run, nil
}

// UpdateRun applies patch with COALESCE so unset fields keep their stored values.
func (p *Postgres) UpdateRun(ctx context.Context, tenantID, id string, patch model.RunPatch) (model.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Run{}, ErrNotFound
	}
	var metrics any
	if patch.Metrics != nil {
		b, err := json.Marshal(patch.Metrics)
		if err != nil {
			return model.Run{}, err
		}
		metrics = b
	}
	var assignment any
	if patch.Solution != nil {
		assignment = pq.Array(toInt64s(patch.Solution))
	}
	row := p.db.QueryRowContext(ctx, `UPDATE runs SET
			status=COALESCE($3, status),
			assignment=COALESCE($4::int[], assignment),
			cost=COALESCE($5, cost),
			metrics=COALESCE($6::jsonb, metrics),
			error=COALESCE($7, error),
			started_at=COALESCE($8, started_at),
			finished_at=COALESCE($9, finished_at)
		WHERE tenant_id=$1 AND id=$2 RETURNING `+runColumns,
		tenantID, id, nullIfEmpty(patch.Status), assignment, patch.Cost, metrics, nullIfEmpty(patch.Error), patch.StartedAt, patch.FinishedAt)
	return scanRun(row)
}

func (p *Postgres) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Run{}, ErrNotFound
	}
	return scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (p *Postgres) ListRuns(ctx context.Context, tenantID, instanceID, status, cursor string, limit int) ([]model.Run, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id=$1`
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND "+cond, len(args))
	}
	if instanceID != "" {
		add("instance_id::text=$%d", instanceID)
	}
	if status != "" {
		add("status=$%d", status)
	}
	if cursor != "" {
		add("id::text > $%d", cursor)
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	var cfg, metrics []byte
	var assignment pq.Int64Array
	var cost sql.NullFloat64
	var errStr sql.NullString
	var started, finished sql.NullTime
	err := row.Scan(&r.ID, &r.TenantID, &r.InstanceID, &r.Status, &r.Seed, &cfg, &assignment, &cost, &metrics, &errStr, &r.CreatedAt, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &r.Config); err != nil {
			return model.Run{}, fmt.Errorf("decode run config: %w", err)
		}
	}
	if len(metrics) > 0 {
		r.Metrics = &opt.Metrics{}
		if err := json.Unmarshal(metrics, r.Metrics); err != nil {
			return model.Run{}, fmt.Errorf("decode run metrics: %w", err)
		}
	}
	if assignment != nil {
		r.Solution = fromInt64s(assignment)
	}
	if cost.Valid {
		c := cost.Float64
		r.Cost = &c
	}
	r.Error = errStr.String
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

func toInt64s(s cflp.Solution) []int64 {
	out := make([]int64, len(s))
	for i, f := range s {
		out[i] = int64(f)
	}
	return out
}

func fromInt64s(a []int64) cflp.Solution {
	out := make(cflp.Solution, len(a))
	for i, f := range a {
		out[i] = int(f)
	}
	return out
}

func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	var js []byte
	err := p.db.QueryRowContext(ctx, `SELECT config FROM solver_config WHERE tenant_id=$1`, tenantID).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(js, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	js, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO solver_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
	return err
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		id, req.TenantID, req.URL, pq.Array(req.Events), nullIfEmpty(req.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND $2 = ANY(events)`, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s := model.Subscription{TenantID: tenantID}
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, pq.Array(&s.Events)); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s := model.Subscription{TenantID: tenantID}
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, pq.Array(&s.Events)); err != nil {
			return nil, "", err
		}
		out = append(out, s)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
		ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`,
		id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
		SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError)); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id::text, event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0) FROM webhook_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d := WebhookDelivery{TenantID: tenantID}
		var nextAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &nextAt, &d.LastError, &d.ResponseCode); err != nil {
			return nil, "", err
		}
		if nextAt.Valid {
			d.NextAttemptAt = &nextAt.Time
		}
		out = append(out, d)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// computeDedupKey uses the payload's "id" field when present, otherwise a
// short content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
