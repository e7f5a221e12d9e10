//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facloc/internal/cflp"
	"facloc/internal/model"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.MigrateDir("../../db/migrations"))

	rec, err := p.CreateInstance(ctx, "t_it", "it", sampleInstance())
	require.NoError(t, err)
	got, err := p.GetInstance(ctx, "t_it", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleInstance(), got.Instance)

	run, err := p.CreateRun(ctx, model.Run{TenantID: "t_it", InstanceID: rec.ID, Seed: 1})
	require.NoError(t, err)
	cost := 39.0
	run, err = p.UpdateRun(ctx, "t_it", run.ID, model.RunPatch{Status: model.RunSucceeded, Solution: cflp.Solution{0, 0, 1}, Cost: &cost})
	require.NoError(t, err)
	assert.Equal(t, cflp.Solution{0, 0, 1}, run.Solution)
	assert.Equal(t, model.RunSucceeded, run.Status)

	sub, err := p.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t_it", URL: "http://example.invalid/hook", Events: []string{model.EventRunCompleted}})
	require.NoError(t, err)
	subs, err := p.GetSubscriptionsForEvent(ctx, "t_it", model.EventRunCompleted)
	require.NoError(t, err)
	assert.NotEmpty(t, subs)
	require.NoError(t, p.DeleteSubscription(ctx, "t_it", sub.ID))
}
