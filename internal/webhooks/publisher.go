package webhooks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"facloc/internal/store"
)

type Publisher struct {
	Store store.Store
	Log   *zap.Logger
}

func NewPublisher(s store.Store, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{Store: s, Log: log}
}

// Event is the JSON body delivered to subscribers.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

// Emit enqueues an event for every subscription of the tenant to eventType.
// It returns the number of deliveries enqueued.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType, ts string, data any) int {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		p.Log.Warn("load subscriptions", zap.String("tenant", tenantID), zap.String("event", eventType), zap.Error(err))
		return 0
	}
	if len(subs) == 0 {
		return 0
	}
	body, err := json.Marshal(Event{ID: "evt_" + uuid.New().String(), Type: eventType, TenantID: tenantID, TS: ts, Data: data})
	if err != nil {
		p.Log.Error("encode webhook event", zap.String("event", eventType), zap.Error(err))
		return 0
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("enqueue webhook", zap.String("subscription", s.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
