package store

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facloc/internal/cflp"
	"facloc/internal/model"
)

func sampleInstance() *cflp.Instance {
	return &cflp.Instance{
		Facilities:      []cflp.Facility{{Capacity: 10, OpeningCost: 5}, {Capacity: 10, OpeningCost: 1}},
		CustomerDemands: []float64{4, 4, 4},
		AssignmentCosts: [][]float64{{1, 2, 3}, {10, 20, 30}},
		Timeout:         1,
	}
}

func TestMemoryInstances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := m.CreateInstance(ctx, "t1", "demo", sampleInstance())
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	_, err := m.CreateInstance(ctx, "t2", "other", sampleInstance())
	require.NoError(t, err)

	got, err := m.GetInstance(ctx, "t1", ids[1])
	require.NoError(t, err)
	assert.Equal(t, 3, got.Instance.NumCustomers())

	_, err = m.GetInstance(ctx, "t2", ids[1])
	assert.True(t, errors.Is(err, ErrNotFound), "tenants must be isolated")

	page1, next, err := m.ListInstances(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[1], next)
	assert.Equal(t, 12.0, page1[0].TotalDemand)

	page2, next, err := m.ListInstances(ctx, "t1", next, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)
	assert.Empty(t, next)
}

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run, err := m.CreateRun(ctx, model.Run{TenantID: "t1", InstanceID: "i1", Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, run.Status)
	assert.NotEmpty(t, run.ID)

	now := time.Now()
	cost := 39.0
	sol := cflp.Solution{0, 0, 1}
	run, err = m.UpdateRun(ctx, "t1", run.ID, model.RunPatch{Status: model.RunSucceeded, Solution: sol, Cost: &cost, FinishedAt: &now})
	require.NoError(t, err)
	sol[0] = 1
	assert.Equal(t, cflp.Solution{0, 0, 1}, run.Solution, "stored solution must not alias the caller's")
	assert.True(t, run.Done())

	_, err = m.CreateRun(ctx, model.Run{TenantID: "t1", InstanceID: "i2"})
	require.NoError(t, err)
	done, _, err := m.ListRuns(ctx, "t1", "", model.RunSucceeded, "", 0)
	require.NoError(t, err)
	assert.Len(t, done, 1)
	byInst, _, err := m.ListRuns(ctx, "t1", "i2", "", "", 0)
	require.NoError(t, err)
	assert.Len(t, byInst, 1)

	_, err = m.UpdateRun(ctx, "t2", run.ID, model.RunPatch{Status: model.RunFailed})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemorySubscriptionsAndDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://x", Events: []string{model.EventRunCompleted}, Secret: "s"})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", model.EventRunCompleted)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	subs, err = m.GetSubscriptionsForEvent(ctx, "t1", model.EventRunFailed)
	require.NoError(t, err)
	assert.Empty(t, subs)

	id, err := m.EnqueueWebhook(ctx, "t1", sub.ID, model.EventRunCompleted, sub.URL, sub.Secret, []byte(`{"id":"e1"}`))
	require.NoError(t, err)
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, m.RetryWebhookDelivery(ctx, "t1", id))
	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gone", 410, 3))
	list, _, err := m.ListWebhookDeliveries(ctx, "t1", DeliveryFailed, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Attempts)

	require.NoError(t, m.DeleteSubscription(ctx, "t1", sub.ID))
	assert.True(t, errors.Is(m.DeleteSubscription(ctx, "t1", sub.ID), ErrNotFound))
}

func TestMemorySolverConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cfg, err := m.GetSolverConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, cfg)
	require.NoError(t, m.SaveSolverConfig(ctx, "t1", map[string]any{"cooling": 0.99}))
	cfg, err = m.GetSolverConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0.99, cfg["cooling"])
}

func TestComputeDedupKey(t *testing.T) {
	assert.Equal(t, "evt_123", computeDedupKey([]byte(`{"id":"evt_123","type":"x"}`)))

	b, err := hex.DecodeString(computeDedupKey([]byte(`{"notId":"x"}`)))
	require.NoError(t, err)
	assert.Len(t, b, 8)
}

func TestSolutionArrayConversion(t *testing.T) {
	sol := cflp.Solution{2, 0, cflp.Unassigned}
	assert.Equal(t, []int64{2, 0, -1}, toInt64s(sol))
	assert.Equal(t, sol, fromInt64s(toInt64s(sol)))
}
