package opt

import (
	"errors"
	"fmt"

	"facloc/internal/cflp"
)

var (
	// ErrConstructionInfeasible is returned when the greedy pass cannot place a customer.
	ErrConstructionInfeasible = errors.New("construction infeasible")
	// ErrRepairInfeasible is returned when repair cannot place a customer.
	ErrRepairInfeasible = errors.New("repair infeasible")
)

// construct assigns customers in index order to the cheapest facility that
// still has room, updating remaining capacity after every placement.
func construct(in *cflp.Instance, order facilityOrder) (*state, error) {
	st := newState(in)
	for c, d := range in.CustomerDemands {
		placed := false
		for _, f := range order[c] {
			if st.fits(f, d) {
				st.place(c, f)
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("%w: no facility can take customer %d (demand %v)", ErrConstructionInfeasible, c, d)
		}
	}
	return st, nil
}

// Construct runs the pre-check and the greedy construction heuristic.
// A pre-check rejection wraps both ErrConstructionInfeasible and cflp.ErrInfeasibleInstance.
func Construct(in *cflp.Instance) (cflp.Solution, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	st, err := initial(in, newFacilityOrder(in))
	if err != nil {
		return nil, err
	}
	return st.assign.Clone(), nil
}

func initial(in *cflp.Instance, order facilityOrder) (*state, error) {
	if cflp.IsInfeasible(in) {
		return nil, fmt.Errorf("%w: %w", ErrConstructionInfeasible, cflp.ErrInfeasibleInstance)
	}
	return construct(in, order)
}
