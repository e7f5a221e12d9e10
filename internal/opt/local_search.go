package opt

import "math/rand"

// improveEps is the smallest cost reduction treated as an improvement.
const improveEps = 1e-9

// localImprove relocates single customers, most expensive first, to the best
// of their top-k cheapest facilities with room. It stops after maxPasses sweeps
// or after a sweep without moves, and returns the number of relocations.
func localImprove(st *state, order facilityOrder, maxPasses, topK int) int {
	in := st.in
	total := 0
	for pass := 0; pass < maxPasses; pass++ {
		moves := 0
		for _, c := range byCostDesc(st) {
			src := st.assign[c]
			d := in.CustomerDemands[c]
			old := in.AssignmentCosts[src][c]
			closeGain := 0.0
			if st.usage[src] == 1 {
				closeGain = in.Facilities[src].OpeningCost
			}
			best, bestDelta := -1, -improveEps
			for _, f := range order.top(c, topK) {
				if f == src || !st.fits(f, d) {
					continue
				}
				delta := in.AssignmentCosts[f][c] - old - closeGain
				if st.usage[f] == 0 {
					delta += in.Facilities[f].OpeningCost
				}
				if delta < bestDelta {
					best, bestDelta = f, delta
				}
			}
			if best >= 0 {
				st.move(c, best)
				moves++
			}
		}
		total += moves
		if moves == 0 {
			break
		}
	}
	return total
}

// swapImprove exchanges the facilities of two customers when that lowers
// total assignment cost and both facilities keep within capacity. One side is
// drawn from the poolSize most expensive customers, the other uniformly.
// The set of open facilities never changes. Returns the number of swaps.
func swapImprove(st *state, poolSize, budget int, rng *rand.Rand) int {
	in := st.in
	n := len(st.assign)
	if n < 2 || budget <= 0 {
		return 0
	}
	pool := byCostDesc(st)
	if len(pool) > poolSize {
		pool = pool[:poolSize]
	}
	if len(pool) == 0 {
		return 0
	}
	swaps := 0
	for i := 0; i < budget; i++ {
		c1 := pool[rng.Intn(len(pool))]
		c2 := rng.Intn(n)
		f1, f2 := st.assign[c1], st.assign[c2]
		if f1 == f2 || f1 < 0 || f2 < 0 {
			continue
		}
		d1, d2 := in.CustomerDemands[c1], in.CustomerDemands[c2]
		if !st.fits(f1, d2-d1) || !st.fits(f2, d1-d2) {
			continue
		}
		delta := in.AssignmentCosts[f2][c1] + in.AssignmentCosts[f1][c2] - in.AssignmentCosts[f1][c1] - in.AssignmentCosts[f2][c2]
		if delta < -improveEps {
			st.swap(c1, c2)
			swaps++
		}
	}
	return swaps
}
