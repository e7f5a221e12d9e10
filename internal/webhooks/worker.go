package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"facloc/internal/metrics"
	"facloc/internal/store"
)

type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Log         *zap.Logger
	MaxAttempts int
	Interval    time.Duration
	BatchSize   int
}

func NewWorker(s store.Store, maxAttempts int, log *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Log: log, MaxAttempts: maxAttempts, Interval: time.Second, BatchSize: 50}
}

// Run polls for due deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
	if err != nil {
		w.Log.Warn("fetch due deliveries", zap.Error(err))
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	log := w.Log.With(zap.String("delivery", it.ID), zap.String("event", it.EventType))
	code, latency, err := w.post(ctx, it)
	success := err == nil && code >= 200 && code < 300
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = http.StatusText(code)
	}
	status := "delivered"
	if !success {
		status = "failed"
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))

	if !success && it.Attempts+1 >= w.MaxAttempts {
		log.Warn("webhook dead-lettered", zap.Int("attempts", it.Attempts+1), zap.Int("code", code), zap.String("error", lastErr))
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			log.Error("fail delivery", zap.Error(err))
		}
		return
	}
	next := time.Now().Add(nextBackoff(it.Attempts))
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
		log.Error("mark delivery", zap.Error(err))
		return
	}
	if !success {
		log.Info("webhook retry scheduled", zap.Time("next", next), zap.Int("code", code), zap.String("error", lastErr))
	}
}

func (w *Worker) post(ctx context.Context, it store.WebhookDelivery) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Id", it.ID)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		return 0, latency, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, latency, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 12 {
		attempts = 12
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
