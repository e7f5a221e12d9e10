// Package runs executes solver runs in the background and records their
// outcome in the store.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"facloc/internal/cflp"
	"facloc/internal/metrics"
	"facloc/internal/model"
	"facloc/internal/opt"
	"facloc/internal/store"
	"facloc/internal/webhooks"
)

// ErrBusy is returned by Submit when the queue is full.
var ErrBusy = errors.New("run queue full")

// EventPublisher receives run progress; implemented by the API brokers.
type EventPublisher interface {
	Publish(runID string, evt model.RunEvent)
}

// Job is one solve request after the caller has resolved the instance and
// the effective configuration.
type Job struct {
	TenantID  string
	Instance  model.InstanceRecord
	Config    opt.Config
	Seed      int64
	WarmStart cflp.Solution
}

type Manager struct {
	Store  store.Store
	Pub    *webhooks.Publisher
	Events EventPublisher
	Log    *zap.Logger

	slots chan struct{}
	queue chan struct{}

	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

// NewManager runs at most maxConcurrent searches at once and accepts up to
// maxQueued waiting runs beyond that.
func NewManager(st store.Store, pub *webhooks.Publisher, events EventPublisher, maxConcurrent, maxQueued int, log *zap.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxQueued < 0 {
		maxQueued = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		Store:   st,
		Pub:     pub,
		Events:  events,
		Log:     log,
		slots:   make(chan struct{}, maxConcurrent),
		queue:   make(chan struct{}, maxConcurrent+maxQueued),
		base:    base,
		stop:    stop,
		cancels: map[string]context.CancelFunc{},
		done:    map[string]chan struct{}{},
	}
}

// Submit records a queued run and starts it in the background. The returned
// channel is closed once the run reaches a terminal status.
func (m *Manager) Submit(ctx context.Context, job Job) (model.Run, <-chan struct{}, error) {
	select {
	case m.queue <- struct{}{}:
	default:
		return model.Run{}, nil, ErrBusy
	}
	if job.Seed == 0 {
		job.Seed = time.Now().UnixNano()
	}
	run, err := m.Store.CreateRun(ctx, model.Run{
		TenantID:   job.TenantID,
		InstanceID: job.Instance.ID,
		Status:     model.RunQueued,
		Seed:       job.Seed,
		Config:     job.Config,
	})
	if err != nil {
		<-m.queue
		return model.Run{}, nil, fmt.Errorf("create run: %w", err)
	}
	runCtx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancels[run.ID] = cancel
	m.done[run.ID] = done
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.queue }()
		defer close(done)
		defer m.forget(run.ID)
		defer cancel()
		m.execute(runCtx, run, job)
	}()
	return run, done, nil
}

// Cancel stops a queued or running search early. The run still completes
// with the best solution found so far.
func (m *Manager) Cancel(runID string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[runID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait returns the completion channel of an active run, or nil.
func (m *Manager) Wait(runID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[runID]
}

// Shutdown cancels every active run and waits for them to be persisted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) forget(runID string) {
	m.mu.Lock()
	delete(m.cancels, runID)
	delete(m.done, runID)
	m.mu.Unlock()
}

func (m *Manager) execute(ctx context.Context, run model.Run, job Job) {
	log := m.Log.With(zap.String("run", run.ID), zap.String("tenant", run.TenantID), zap.String("instance", run.InstanceID))
	// A run cancelled while queued skips the slot wait; the solver sees the
	// done context and returns its construction.
	if m.acquire(ctx) {
		defer func() { <-m.slots }()
	} else {
		log.Info("run cancelled while queued")
	}

	started := time.Now().UTC()
	pctx, cancel := m.persistCtx()
	if _, err := m.Store.UpdateRun(pctx, run.TenantID, run.ID, model.RunPatch{Status: model.RunRunning, StartedAt: &started}); err != nil {
		log.Warn("mark run running", zap.Error(err))
	}
	cancel()
	m.publish(model.RunEvent{Type: "status", RunID: run.ID, Status: model.RunRunning, TS: started})
	metrics.SolverActive.Inc()
	defer metrics.SolverActive.Dec()

	solver, err := opt.New(job.Config, job.Seed)
	if err != nil {
		m.finish(log, run, opt.Result{}, err)
		return
	}
	solver.Log = log.Named("solver")
	solver.OnImprove = func(p opt.Progress) {
		m.publish(model.RunEvent{Type: "progress", RunID: run.ID, Iteration: p.Iteration, BestCost: p.BestCost, ElapsedMs: p.Elapsed.Milliseconds(), TS: time.Now().UTC()})
	}

	var res opt.Result
	if job.WarmStart != nil {
		res, err = solver.SolveFrom(ctx, job.Instance.Instance, job.WarmStart)
	} else {
		res, err = solver.Solve(ctx, job.Instance.Instance)
	}
	metrics.SolverDuration.Observe(time.Since(started).Seconds())
	m.finish(log, run, res, err)
}

// acquire takes a free slot, or reports false once ctx is done while waiting.
func (m *Manager) acquire(ctx context.Context) bool {
	select {
	case m.slots <- struct{}{}:
		return true
	default:
	}
	select {
	case m.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish persists the terminal state, then notifies stream subscribers and
// webhook subscriptions.
func (m *Manager) finish(log *zap.Logger, run model.Run, res opt.Result, runErr error) {
	now := time.Now().UTC()
	patch := model.RunPatch{FinishedAt: &now}
	event := model.RunEvent{Type: "status", RunID: run.ID, TS: now}
	webhook := model.EventRunCompleted
	data := map[string]any{"runId": run.ID, "instanceId": run.InstanceID}

	if runErr != nil {
		patch.Status = model.RunFailed
		patch.Error = runErr.Error()
		event.Status, event.Error = model.RunFailed, runErr.Error()
		webhook = model.EventRunFailed
		data["error"] = runErr.Error()
		log.Warn("run failed", zap.Error(runErr))
	} else {
		cost := res.Cost
		patch.Status = model.RunSucceeded
		patch.Solution = res.Solution
		patch.Cost = &cost
		patch.Metrics = &res.Metrics
		event.Status, event.BestCost, event.Iteration = model.RunSucceeded, cost, res.Metrics.Iterations
		data["cost"] = cost
		data["iterations"] = res.Metrics.Iterations
		data["stoppedBy"] = res.Metrics.StoppedBy
		opt.RecordMetrics(run.TenantID, run.InstanceID, res.Metrics)
		metrics.SolverIterations.Add(float64(res.Metrics.Iterations))
		metrics.SolverBestCost.WithLabelValues(run.TenantID).Set(cost)
		log.Info("run succeeded", zap.Float64("cost", cost), zap.Int("iterations", res.Metrics.Iterations), zap.String("stoppedBy", res.Metrics.StoppedBy))
	}
	metrics.SolverRuns.WithLabelValues(patch.Status).Inc()

	ctx, cancel := m.persistCtx()
	defer cancel()
	if _, err := m.Store.UpdateRun(ctx, run.TenantID, run.ID, patch); err != nil {
		log.Error("persist run result", zap.Error(err))
	}
	m.publish(event)
	if m.Pub != nil {
		m.Pub.Emit(ctx, run.TenantID, webhook, now.Format(time.RFC3339), data)
	}
}

func (m *Manager) publish(evt model.RunEvent) {
	if m.Events != nil {
		m.Events.Publish(evt.RunID, evt)
	}
}

// persistCtx is detached from the run so results are stored even after a
// cancellation.
func (m *Manager) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
