package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facloc/internal/model"
	"facloc/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []string
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, id)
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerDeliversSignedEvent(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		gotBody, _ = json.Marshal(ev)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	rs := &recordStore{Memory: store.NewMemory()}
	_, err := rs.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: srv.URL, Events: []string{model.EventRunCompleted}, Secret: "secret"})
	require.NoError(t, err)

	pub := NewPublisher(rs, nil)
	n := pub.Emit(ctx, "t1", model.EventRunCompleted, "2026-01-01T00:00:00Z", map[string]any{"runId": "r1"})
	require.Equal(t, 1, n)

	w := NewWorker(rs, 3, nil)
	w.HTTP = srv.Client()
	w.processOnce(ctx)

	assert.Equal(t, model.EventRunCompleted, gotType)
	require.NotEmpty(t, gotSig)
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)
	assert.Contains(t, string(gotBody), `"runId":"r1"`)

	due, err := rs.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }))
	defer srv.Close()

	ctx := context.Background()
	rs := &recordStore{Memory: store.NewMemory()}
	id, err := rs.Memory.EnqueueWebhook(ctx, "t1", "", model.EventRunFailed, srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w := NewWorker(rs, 2, nil)
	w.HTTP = srv.Client()
	w.processOnce(ctx)
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, http.StatusInternalServerError, rs.marks[0].Code)
	assert.Empty(t, rs.fails)

	require.NoError(t, rs.RetryWebhookDelivery(ctx, "t1", id))
	w.processOnce(ctx)
	assert.Equal(t, []string{id}, rs.fails)
}

func TestEmitWithoutSubscribers(t *testing.T) {
	pub := NewPublisher(store.NewMemory(), nil)
	assert.Zero(t, pub.Emit(context.Background(), "t1", model.EventRunCompleted, "", nil))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(0))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, time.Hour, nextBackoff(50))
}

func TestSignature(t *testing.T) {
	body := []byte(`{"id":"evt"}`)
	sig := SignHMAC("k", body)
	assert.True(t, VerifyHMAC("k", body, sig))
	assert.False(t, VerifyHMAC("other", body, sig))
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.False(t, VerifyHMAC("k", body, "zz"))
}
