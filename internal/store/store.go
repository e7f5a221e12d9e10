package store

import (
	"context"
	"errors"
	"time"

	"facloc/internal/cflp"
	"facloc/internal/model"
)

// Store is the persistence interface used by the API server and the run manager.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, tenantID, name string, in *cflp.Instance) (model.InstanceRecord, error)
	GetInstance(ctx context.Context, tenantID, id string) (model.InstanceRecord, error)
	ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.InstanceSummary, string, error)

	// Runs
	CreateRun(ctx context.Context, run model.Run) (model.Run, error)
	UpdateRun(ctx context.Context, tenantID, id string, patch model.RunPatch) (model.Run, error)
	GetRun(ctx context.Context, tenantID, id string) (model.Run, error)
	ListRuns(ctx context.Context, tenantID, instanceID, status, cursor string, limit int) ([]model.Run, string, error)

	// Solver config per tenant
	GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}
