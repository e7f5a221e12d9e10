package opt

import (
	"fmt"
	"math/rand"
	"sort"
)

// Candidate list sizes when choosing among near-equal facilities.
const (
	usedChoices   = 3
	unusedChoices = 2
)

// repairResult carries either a complete feasible state or the reason the
// repair gave up.
type repairResult struct {
	st  *state
	err error
}

func (r repairResult) ok() bool { return r.err == nil }

// repair completes partial in place. Customers on forbidden facilities are
// unassigned first; pending customers are placed largest demand first.
func repair(partial *state, order facilityOrder, forbidden []bool, topK int, rng *rand.Rand) repairResult {
	st := partial
	if forbidden != nil {
		for c, f := range st.assign {
			if f >= 0 && forbidden[f] {
				st.unplace(c)
			}
		}
	}
	pending := st.unassigned()
	demands := st.in.CustomerDemands
	sort.SliceStable(pending, func(i, j int) bool { return demands[pending[i]] > demands[pending[j]] })

	for _, c := range pending {
		f := pickFacility(st, order, c, forbidden, topK, rng)
		if f < 0 {
			return repairResult{err: fmt.Errorf("%w: no facility can take customer %d (demand %v)", ErrRepairInfeasible, c, demands[c])}
		}
		st.place(c, f)
	}
	return repairResult{st: st}
}

// pickFacility prefers already open facilities among the top-k cheapest,
// then unused ones, then any facility beyond top-k with room.
func pickFacility(st *state, order facilityOrder, c int, forbidden []bool, topK int, rng *rand.Rand) int {
	d := st.in.CustomerDemands[c]
	var used, unused [usedChoices]int
	nu, nn := 0, 0
	top := order.top(c, topK)
	for _, f := range top {
		if (forbidden != nil && forbidden[f]) || !st.fits(f, d) {
			continue
		}
		if st.usage[f] > 0 {
			if nu < usedChoices {
				used[nu] = f
				nu++
			}
		} else if nn < unusedChoices {
			unused[nn] = f
			nn++
		}
		if nu == usedChoices {
			break
		}
	}
	if nu > 0 {
		return used[rng.Intn(nu)]
	}
	if nn > 0 {
		return unused[rng.Intn(nn)]
	}
	for _, f := range order[c][len(top):] {
		if (forbidden == nil || !forbidden[f]) && st.fits(f, d) {
			return f
		}
	}
	return -1
}
