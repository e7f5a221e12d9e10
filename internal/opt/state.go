package opt

import (
	"fmt"
	"math"

	"facloc/internal/cflp"
)

// accountingTolerance absorbs float drift when comparing incremental and
// recomputed remaining capacity.
const accountingTolerance = 1e-6

// state is a solution plus its derived per-facility accumulators. Operators
// never mutate a state the driver holds as current or best; they work on a clone.
type state struct {
	in        *cflp.Instance
	assign    cflp.Solution
	remaining []float64
	usage     []int
}

func newState(in *cflp.Instance) *state {
	st := &state{
		in:        in,
		assign:    cflp.NewSolution(in.NumCustomers()),
		remaining: make([]float64, in.NumFacilities()),
		usage:     make([]int, in.NumFacilities()),
	}
	for f, fac := range in.Facilities {
		st.remaining[f] = fac.Capacity
	}
	return st
}

// stateFrom rebuilds accumulators for an existing assignment. Unassigned
// entries are allowed; capacity violations are not.
func stateFrom(in *cflp.Instance, sol cflp.Solution) (*state, error) {
	if len(sol) != in.NumCustomers() {
		return nil, fmt.Errorf("%w: solution has %d entries, want %d", cflp.ErrSolutionInfeasible, len(sol), in.NumCustomers())
	}
	st := newState(in)
	for c, f := range sol {
		if f < 0 {
			continue
		}
		if f >= in.NumFacilities() {
			return nil, fmt.Errorf("%w: customer %d assigned to unknown facility %d", cflp.ErrSolutionInfeasible, c, f)
		}
		st.place(c, f)
	}
	for f, r := range st.remaining {
		if r < -cflp.Slack(in.Facilities[f].Capacity) {
			return nil, fmt.Errorf("%w: facility %d over capacity by %v", cflp.ErrSolutionInfeasible, f, -r)
		}
	}
	return st, nil
}

func (s *state) clone() *state {
	return &state{
		in:        s.in,
		assign:    s.assign.Clone(),
		remaining: append([]float64(nil), s.remaining...),
		usage:     append([]int(nil), s.usage...),
	}
}

func (s *state) place(c, f int) {
	s.assign[c] = f
	s.remaining[f] -= s.in.CustomerDemands[c]
	s.usage[f]++
}

// fits reports whether demand d fits into facility f. Operators keep within
// half of cflp.Slack, so every state they build passes cflp.Check.
func (s *state) fits(f int, d float64) bool {
	return s.remaining[f]+cflp.Slack(s.in.Facilities[f].Capacity)/2 >= d
}

func (s *state) unplace(c int) {
	f := s.assign[c]
	if f < 0 {
		return
	}
	s.remaining[f] += s.in.CustomerDemands[c]
	s.usage[f]--
	s.assign[c] = cflp.Unassigned
}

func (s *state) move(c, f int) {
	s.unplace(c)
	s.place(c, f)
}

// swap exchanges the facilities of c1 and c2. Usage counts are unchanged.
func (s *state) swap(c1, c2 int) {
	f1, f2 := s.assign[c1], s.assign[c2]
	d1, d2 := s.in.CustomerDemands[c1], s.in.CustomerDemands[c2]
	s.remaining[f1] += d1 - d2
	s.remaining[f2] += d2 - d1
	s.assign[c1], s.assign[c2] = f2, f1
}

// assignCost is the cost of the current assignment of c, 0 when unassigned.
func (s *state) assignCost(c int) float64 {
	f := s.assign[c]
	if f < 0 {
		return 0
	}
	return s.in.AssignmentCosts[f][c]
}

func (s *state) unassigned() []int {
	var out []int
	for c, f := range s.assign {
		if f < 0 {
			out = append(out, c)
		}
	}
	return out
}

// openSet returns the facilities with at least one customer.
func (s *state) openSet() []bool {
	out := make([]bool, len(s.usage))
	for f, u := range s.usage {
		out[f] = u > 0
	}
	return out
}

// verify recomputes remaining capacity and usage from the assignment and
// compares them with the incremental accumulators.
func (s *state) verify() error {
	fresh, err := stateFrom(s.in, s.assign)
	if err != nil {
		return err
	}
	for f := range s.remaining {
		if math.Abs(fresh.remaining[f]-s.remaining[f]) > accountingTolerance {
			return fmt.Errorf("facility %d remaining capacity drift: tracked %v, recomputed %v", f, s.remaining[f], fresh.remaining[f])
		}
		if fresh.usage[f] != s.usage[f] {
			return fmt.Errorf("facility %d usage drift: tracked %d, recomputed %d", f, s.usage[f], fresh.usage[f])
		}
	}
	return nil
}
