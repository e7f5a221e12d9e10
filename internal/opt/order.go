package opt

import (
	"sort"

	"facloc/internal/cflp"
)

// facilityOrder lists, per customer, facility indices by ascending assignment
// cost. Built once per instance and shared read-only by every operator.
type facilityOrder [][]int

func newFacilityOrder(in *cflp.Instance) facilityOrder {
	nf, nc := in.NumFacilities(), in.NumCustomers()
	order := make(facilityOrder, nc)
	for c := 0; c < nc; c++ {
		fs := make([]int, nf)
		for f := range fs {
			fs[f] = f
		}
		sort.SliceStable(fs, func(i, j int) bool {
			return in.AssignmentCosts[fs[i]][c] < in.AssignmentCosts[fs[j]][c]
		})
		order[c] = fs
	}
	return order
}

// top returns at most k cheapest facilities for c.
func (o facilityOrder) top(c, k int) []int {
	fs := o[c]
	if k <= 0 || k >= len(fs) {
		return fs
	}
	return fs[:k]
}
