package opt

import (
	"math"
	"math/rand"
	"sort"
)

type destroyOp int

const (
	randomDestroy destroyOp = iota
	facilityDestroy
	expensiveDestroy
	numDestroyOps
)

func (op destroyOp) String() string {
	switch op {
	case randomDestroy:
		return "random"
	case facilityDestroy:
		return "facility"
	case expensiveDestroy:
		return "expensive"
	}
	return "unknown"
}

// destroy applies op to a clone of st. The input is left untouched.
func destroy(op destroyOp, st *state, ratio float64, rng *rand.Rand) *state {
	switch op {
	case facilityDestroy:
		return destroyFacilities(st, ratio, rng)
	case expensiveDestroy:
		return destroyExpensive(st, ratio)
	default:
		return destroyRandom(st, ratio, rng)
	}
}

// destroyRandom unassigns ⌈ratio·C⌉ customers sampled uniformly.
func destroyRandom(st *state, ratio float64, rng *rand.Rand) *state {
	out := st.clone()
	n := len(out.assign)
	k := clampInt(int(math.Ceil(ratio*float64(n))), 0, n)
	for _, c := range rng.Perm(n)[:k] {
		out.unplace(c)
	}
	return out
}

// destroyFacilities samples max(1, ⌊ratio·F⌋) facilities and unassigns every
// customer they serve.
func destroyFacilities(st *state, ratio float64, rng *rand.Rand) *state {
	out := st.clone()
	nf := len(out.usage)
	k := clampInt(int(math.Floor(ratio*float64(nf))), 1, nf)
	closed := make([]bool, nf)
	for _, f := range rng.Perm(nf)[:k] {
		closed[f] = true
	}
	for c, f := range out.assign {
		if f >= 0 && closed[f] {
			out.unplace(c)
		}
	}
	return out
}

// destroyExpensive unassigns the ⌊ratio·C⌋ customers with the highest
// current assignment cost.
func destroyExpensive(st *state, ratio float64) *state {
	out := st.clone()
	k := clampInt(int(math.Floor(ratio*float64(len(out.assign)))), 0, len(out.assign))
	for _, c := range byCostDesc(out)[:min(k, assignedCount(out))] {
		out.unplace(c)
	}
	return out
}

// byCostDesc lists assigned customers by descending assignment cost.
func byCostDesc(st *state) []int {
	cs := make([]int, 0, len(st.assign))
	for c, f := range st.assign {
		if f >= 0 {
			cs = append(cs, c)
		}
	}
	sort.SliceStable(cs, func(i, j int) bool { return st.assignCost(cs[i]) > st.assignCost(cs[j]) })
	return cs
}

func assignedCount(st *state) int {
	n := 0
	for _, f := range st.assign {
		if f >= 0 {
			n++
		}
	}
	return n
}

// destroyRange is the [lo, hi) interval the destroy ratio is drawn from.
// Small instances get wider neighborhoods; the range shrinks as the run
// approaches its deadline.
func (c Config) destroyRange(customers int, progress float64) (float64, float64) {
	lo, hi := c.DestroyMin, c.DestroyMax
	switch {
	case customers < c.SmallInstance:
		hi = math.Min(0.9, hi*1.5)
	case customers >= c.LargeInstance:
		lo, hi = lo*0.5, hi*0.5
	}
	shrink := 1 - c.DestroyShrink*clampFloat(progress, 0, 1)
	return lo * shrink, hi * shrink
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
