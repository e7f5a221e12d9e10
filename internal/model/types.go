package model

import (
	"time"

	"facloc/internal/cflp"
	"facloc/internal/opt"
)

// Run statuses
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Webhook event types
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// InstanceRecord is a stored problem instance.
type InstanceRecord struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Name      string         `json:"name,omitempty"`
	Instance  *cflp.Instance `json:"instance"`
	CreatedAt time.Time      `json:"createdAt"`
}

// InstanceSummary is the list view of an instance; the matrices are omitted.
type InstanceSummary struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	Name          string    `json:"name,omitempty"`
	Facilities    int       `json:"facilities"`
	Customers     int       `json:"customers"`
	TotalDemand   float64   `json:"totalDemand"`
	TotalCapacity float64   `json:"totalCapacity"`
	Timeout       float64   `json:"timeout"`
	CreatedAt     time.Time `json:"createdAt"`
}

func Summarize(r InstanceRecord) InstanceSummary {
	s := InstanceSummary{ID: r.ID, TenantID: r.TenantID, Name: r.Name, CreatedAt: r.CreatedAt}
	if r.Instance != nil {
		s.Facilities = r.Instance.NumFacilities()
		s.Customers = r.Instance.NumCustomers()
		s.TotalDemand = r.Instance.TotalDemand()
		s.TotalCapacity = r.Instance.TotalCapacity()
		s.Timeout = r.Instance.Timeout
	}
	return s
}

type CreateInstanceRequest struct {
	Name     string         `json:"name,omitempty"`
	Instance *cflp.Instance `json:"instance"`
}

// SolveRequest starts a run. Exactly one of InstanceID and Instance is set;
// an inline instance is stored first.
type SolveRequest struct {
	InstanceID    string         `json:"instanceId,omitempty"`
	Instance      *cflp.Instance `json:"instance,omitempty"`
	Seed          int64          `json:"seed,omitempty"`
	TimeoutSec    float64        `json:"timeoutSec,omitempty"`
	MaxIterations int            `json:"maxIterations,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
	WarmStart     cflp.Solution  `json:"warmStart,omitempty"`
}

type Run struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenantId"`
	InstanceID string        `json:"instanceId"`
	Status     string        `json:"status"`
	Seed       int64         `json:"seed"`
	Config     opt.Config    `json:"config"`
	Solution   cflp.Solution `json:"solution,omitempty"`
	Cost       *float64      `json:"cost,omitempty"`
	Metrics    *opt.Metrics  `json:"metrics,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// Done reports whether the run reached a terminal status.
func (r Run) Done() bool { return r.Status == RunSucceeded || r.Status == RunFailed }

// RunPatch updates a run; nil fields are left unchanged.
type RunPatch struct {
	Status     string
	Solution   cflp.Solution
	Cost       *float64
	Metrics    *opt.Metrics
	Error      string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// RunEvent is pushed to stream and websocket subscribers while a run progresses.
type RunEvent struct {
	Type      string    `json:"type"` // progress, status
	RunID     string    `json:"runId"`
	Status    string    `json:"status,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	BestCost  float64   `json:"bestCost,omitempty"`
	ElapsedMs int64     `json:"elapsedMs,omitempty"`
	Error     string    `json:"error,omitempty"`
	TS        time.Time `json:"ts"`
}

type EvaluateRequest struct {
	InstanceID string         `json:"instanceId,omitempty"`
	Instance   *cflp.Instance `json:"instance,omitempty"`
	Solution   cflp.Solution  `json:"solution"`
}

type EvaluateResponse struct {
	Feasible    bool                `json:"feasible"`
	Reason      string              `json:"reason,omitempty"`
	Cost        float64             `json:"cost"`
	Utilization []cflp.FacilityLoad `json:"utilization"`
}

type PrecheckRequest struct {
	InstanceID string         `json:"instanceId,omitempty"`
	Instance   *cflp.Instance `json:"instance,omitempty"`
}

type PrecheckResponse struct {
	Infeasible    bool    `json:"infeasible"`
	TotalDemand   float64 `json:"totalDemand"`
	TotalCapacity float64 `json:"totalCapacity"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
