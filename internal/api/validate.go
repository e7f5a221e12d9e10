package api

import (
	"fmt"
	"math"
	"net/url"

	"facloc/internal/model"
)

var knownEvents = map[string]struct{}{
	model.EventRunCompleted: {},
	model.EventRunFailed:    {},
}

func validateSolveRequest(req *model.SolveRequest) error {
	if (req.InstanceID == "") == (req.Instance == nil) {
		return fmt.Errorf("exactly one of instanceId and instance is required")
	}
	if req.TimeoutSec < 0 || math.IsNaN(req.TimeoutSec) || math.IsInf(req.TimeoutSec, 0) {
		return fmt.Errorf("timeoutSec must be >= 0")
	}
	if req.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	return nil
}

func validateSubscription(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range req.Events {
		if _, ok := knownEvents[e]; !ok {
			return fmt.Errorf("unknown event type: %s (allowed: %s, %s)", e, model.EventRunCompleted, model.EventRunFailed)
		}
	}
	return nil
}
