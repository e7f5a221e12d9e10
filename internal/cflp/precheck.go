package cflp

import "sort"

// packingNodeBudget bounds the exhaustive packing search run after a
// best-fit-decreasing failure.
const packingNodeBudget = 200000

// IsInfeasible is a cheap necessary-condition test on capacities only.
// It reports true when
//   - some demand exceeds the largest capacity,
//   - total demand exceeds total capacity, or
//   - best-fit-decreasing cannot pack the demands and a bounded exhaustive
//     search proves that no packing exists.
//
// Assignment costs are ignored. A true result is never wrong; an exhausted
// search budget yields false.
func IsInfeasible(in *Instance) bool {
	if in.NumCustomers() == 0 {
		return false
	}
	maxCap := 0.0
	for _, f := range in.Facilities {
		if f.Capacity > maxCap {
			maxCap = f.Capacity
		}
	}
	for _, d := range in.CustomerDemands {
		if d > maxCap+Slack(maxCap) {
			return true
		}
	}
	if in.TotalDemand() > in.TotalCapacity()+Slack(in.TotalCapacity()) {
		return true
	}
	demands := append([]float64(nil), in.CustomerDemands...)
	sort.Sort(sort.Reverse(sort.Float64Slice(demands)))
	if bestFitDecreasing(demands, capacities(in)) {
		return false
	}
	return exhaustivePacking(demands, capacities(in), packingNodeBudget) == packingImpossible
}

func capacities(in *Instance) []float64 {
	out := make([]float64, in.NumFacilities())
	for i, f := range in.Facilities {
		out[i] = f.Capacity
	}
	return out
}

// binSlack is the capacity slack used for every bin of a packing search.
func binSlack(remaining []float64) float64 {
	largest := 0.0
	for _, r := range remaining {
		largest = max(largest, r)
	}
	return Slack(largest)
}

// bestFitDecreasing places each demand (sorted descending) into the bin with
// the smallest remaining capacity that still fits it.
func bestFitDecreasing(demands, remaining []float64) bool {
	tol := binSlack(remaining)
	for _, d := range demands {
		best := -1
		for b, r := range remaining {
			if r+tol >= d && (best < 0 || r < remaining[best]) {
				best = b
			}
		}
		if best < 0 {
			return false
		}
		remaining[best] -= d
	}
	return true
}

type packingOutcome int

const (
	packingFound packingOutcome = iota
	packingImpossible
	packingUnknown
)

// exhaustivePacking runs a depth-first search over bin choices for demands
// sorted descending. Bins with equal remaining capacity are tried once per level.
func exhaustivePacking(demands, remaining []float64, budget int) packingOutcome {
	tol := binSlack(remaining)
	free := 0.0
	for _, r := range remaining {
		free += r
	}
	// every bin may overfill by tol
	freeTol := Slack(free) + tol*float64(len(remaining))
	suffix := make([]float64, len(demands)+1)
	for i := len(demands) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + demands[i]
	}
	nodes := 0
	var dfs func(i int, free float64) packingOutcome
	dfs = func(i int, free float64) packingOutcome {
		if i == len(demands) {
			return packingFound
		}
		if free+freeTol < suffix[i] {
			return packingImpossible
		}
		nodes++
		if nodes > budget {
			return packingUnknown
		}
		d := demands[i]
		tried := map[float64]bool{}
		outcome := packingImpossible
		for b, r := range remaining {
			if r+tol < d || tried[r] {
				continue
			}
			tried[r] = true
			remaining[b] -= d
			// capacity left in a bin that cannot take the smallest remaining item is wasted
			res := dfs(i+1, free-d-wasted(remaining[b], demands, i+1, tol))
			remaining[b] += d
			switch res {
			case packingFound:
				return packingFound
			case packingUnknown:
				outcome = packingUnknown
			}
		}
		return outcome
	}
	return dfs(0, free)
}

func wasted(rem float64, demands []float64, next int, tol float64) float64 {
	if next >= len(demands) {
		return 0
	}
	if rem+tol < demands[len(demands)-1] {
		return rem
	}
	return 0
}
