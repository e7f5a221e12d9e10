// Package integrations connects external instance sources to the store.
package integrations

import (
	"context"
	"fmt"

	"facloc/internal/cflp"
	"facloc/internal/model"
)

// InstanceSource lists and fetches problem instances from outside the service.
type InstanceSource interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, ref string) (*cflp.Instance, error)
}

// InstanceSink is the subset of the store that Import writes to.
type InstanceSink interface {
	CreateInstance(ctx context.Context, tenantID, name string, in *cflp.Instance) (model.InstanceRecord, error)
}

// Import copies every instance of src into dst for tenantID, named by its
// source reference. It stops at the first failure.
func Import(ctx context.Context, src InstanceSource, dst InstanceSink, tenantID string) ([]model.InstanceRecord, error) {
	refs, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list: %w", src.Name(), err)
	}
	out := make([]model.InstanceRecord, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		in, err := src.Fetch(ctx, ref)
		if err != nil {
			return out, fmt.Errorf("%s: fetch %s: %w", src.Name(), ref, err)
		}
		rec, err := dst.CreateInstance(ctx, tenantID, ref, in)
		if err != nil {
			return out, fmt.Errorf("store %s: %w", ref, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
