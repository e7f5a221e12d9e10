package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facloc/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	other := b.Subscribe("r2")

	b.Publish("r1", model.RunEvent{Type: "progress", RunID: "r1", BestCost: 42})
	select {
	case got := <-ch:
		assert.Equal(t, "progress", got.Type)
		assert.Equal(t, 42.0, got.BestCost)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	assert.Empty(t, other, "events are scoped to their run")

	b.Unsubscribe("r1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	b.Unsubscribe("r1", ch) // second call is a no-op
	b.Publish("r1", model.RunEvent{Type: "progress"})
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	for i := 0; i < 100; i++ {
		b.Publish("r1", model.RunEvent{Type: "progress", Iteration: i})
	}
	assert.Equal(t, cap(ch), len(ch))
	first := <-ch
	assert.Equal(t, 0, first.Iteration)
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://" + mr.Addr())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ch := b.Subscribe("r1")
	b.Publish("r1", model.RunEvent{Type: "status", RunID: "r1", Status: model.RunSucceeded, BestCost: 39})
	select {
	case got := <-ch:
		assert.Equal(t, model.RunSucceeded, got.Status)
		assert.Equal(t, 39.0, got.BestCost)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe("r1", ch)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after unsubscribe")
		}
	}
}

func TestRedisBrokerBadURL(t *testing.T) {
	_, err := NewRedisBroker("not-a-url")
	assert.Error(t, err)
}
