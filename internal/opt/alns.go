package opt

import (
	"context"

	"facloc/internal/cflp"
)

// Lightweight API surface for callers that only want an answer.

// Optimize solves in with the default configuration. Construction failures are
// returned as errors; otherwise the returned solution is feasible.
func Optimize(ctx context.Context, in *cflp.Instance, seed int64) (cflp.Solution, error) {
	s, err := New(DefaultConfig(), seed)
	if err != nil {
		return nil, err
	}
	res, err := s.Solve(ctx, in)
	if err != nil {
		return nil, err
	}
	return res.Solution, nil
}
