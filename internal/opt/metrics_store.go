package opt

import "sync"

type metricsKey struct {
	Tenant   string
	Instance string
}

var (
	metricsMu sync.Mutex
	lastRuns  = map[metricsKey]Metrics{}
)

// RecordMetrics keeps the metrics of the latest run per tenant and instance.
func RecordMetrics(tenant, instanceID string, m Metrics) {
	metricsMu.Lock()
	lastRuns[metricsKey{Tenant: tenant, Instance: instanceID}] = m
	metricsMu.Unlock()
}

// GetMetrics returns the latest run metrics of every instance of tenant,
// keyed by instance id.
func GetMetrics(tenant string) map[string]Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := map[string]Metrics{}
	for k, v := range lastRuns {
		if k.Tenant == tenant {
			out[k.Instance] = v
		}
	}
	return out
}
