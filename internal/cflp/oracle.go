package cflp

import (
	"fmt"
	"math"
)

// UnassignedPenalty is charged per customer without a facility.
const UnassignedPenalty = 10000.0

// CapacityTolerance is the relative slack allowed when a load is compared
// with a capacity.
const CapacityTolerance = 1e-9

// Slack is the absolute capacity slack for a quantity of magnitude v.
func Slack(v float64) float64 { return CapacityTolerance * math.Max(1, math.Abs(v)) }

// Cost returns opening costs of used facilities plus assignment costs.
// Unassigned or out-of-range entries cost UnassignedPenalty each.
func Cost(in *Instance, s Solution) float64 {
	nf := in.NumFacilities()
	used := make([]bool, nf)
	total := 0.0
	for c, f := range s {
		if f < 0 || f >= nf || c >= in.NumCustomers() {
			total += UnassignedPenalty
			continue
		}
		total += in.AssignmentCosts[f][c]
		used[f] = true
	}
	for f, u := range used {
		if u {
			total += in.Facilities[f].OpeningCost
		}
	}
	return total
}

// Check returns nil when s is feasible for in, otherwise the first violation
// wrapped in ErrSolutionInfeasible.
func Check(in *Instance, s Solution) error {
	nf, nc := in.NumFacilities(), in.NumCustomers()
	if len(s) != nc {
		return fmt.Errorf("%w: solution has %d entries, want %d (customers)", ErrSolutionInfeasible, len(s), nc)
	}
	load := make([]float64, nf)
	for c, f := range s {
		if f < 0 {
			return fmt.Errorf("%w: customer %d has not been assigned to any facility", ErrSolutionInfeasible, c)
		}
		if f >= nf {
			return fmt.Errorf("%w: customer %d assigned to unknown facility %d", ErrSolutionInfeasible, c, f)
		}
		load[f] += in.CustomerDemands[c]
	}
	for f, l := range load {
		if l > in.Facilities[f].Capacity+Slack(in.Facilities[f].Capacity) {
			return fmt.Errorf("%w: total demand %v assigned to facility %d exceeds its capacity %v", ErrSolutionInfeasible, l, f, in.Facilities[f].Capacity)
		}
	}
	return nil
}

// Feasible reports whether every customer is assigned and no facility is overloaded.
func Feasible(in *Instance, s Solution) bool { return Check(in, s) == nil }

// FacilityLoad summarizes one facility under a solution.
type FacilityLoad struct {
	Facility    int     `json:"facility"`
	Capacity    float64 `json:"capacity"`
	Load        float64 `json:"load"`
	Customers   int     `json:"customers"`
	OpeningCost float64 `json:"openingCost"`
	Open        bool    `json:"open"`
}

// Utilization reports per-facility load. Unassigned entries are skipped.
func Utilization(in *Instance, s Solution) []FacilityLoad {
	out := make([]FacilityLoad, in.NumFacilities())
	for f, fac := range in.Facilities {
		out[f] = FacilityLoad{Facility: f, Capacity: fac.Capacity, OpeningCost: fac.OpeningCost}
	}
	for c, f := range s {
		if f < 0 || f >= len(out) || c >= in.NumCustomers() {
			continue
		}
		out[f].Load += in.CustomerDemands[c]
		out[f].Customers++
		out[f].Open = true
	}
	return out
}
