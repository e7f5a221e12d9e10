package cflp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeCustomers: facility 0 is cheaper for everyone but only fits two customers.
func threeCustomers() *Instance {
	return &Instance{
		Facilities:      []Facility{{Capacity: 10, OpeningCost: 5}, {Capacity: 10, OpeningCost: 1}},
		CustomerDemands: []float64{4, 4, 4},
		AssignmentCosts: [][]float64{{1, 2, 3}, {10, 20, 30}},
		Timeout:         1,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, threeCustomers().Validate())

	cases := map[string]func(in *Instance){
		"row count":         func(in *Instance) { in.AssignmentCosts = in.AssignmentCosts[:1] },
		"column count":      func(in *Instance) { in.AssignmentCosts[1] = []float64{1, 2} },
		"negative demand":   func(in *Instance) { in.CustomerDemands[2] = -1 },
		"negative capacity": func(in *Instance) { in.Facilities[0].Capacity = -3 },
		"negative timeout":  func(in *Instance) { in.Timeout = -1 },
		"no facilities":     func(in *Instance) { in.Facilities = nil; in.AssignmentCosts = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := threeCustomers()
			mutate(in)
			err := in.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInstanceIllFormed), "got %v", err)
		})
	}
}

func TestDecodeInstance(t *testing.T) {
	body := `{"facilities":[{"capacity":10,"opening_cost":5}],"customer_demands":[3,4],"assignment_costs":[[1,2]],"timeout":2.5}`
	in, err := DecodeInstance(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 1, in.NumFacilities())
	assert.Equal(t, 2, in.NumCustomers())
	assert.Equal(t, 2500, int(in.TimeBudget().Milliseconds()))

	_, err = DecodeInstance(strings.NewReader(`{"facilities":[{"capacity":10,"opening_cost":5}],"customer_demands":[3],"assignment_costs":[[1,2]],"timeout":1}`))
	assert.ErrorIs(t, err, ErrInstanceIllFormed)
}

func TestSolutionJSON(t *testing.T) {
	s := Solution{0, Unassigned, 2}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `[0,null,2]`, string(b))

	var back Solution
	require.NoError(t, json.Unmarshal([]byte(`[1,null,0]`), &back))
	assert.Equal(t, Solution{1, Unassigned, 0}, back)
	assert.False(t, back.Complete())

	assert.Error(t, json.Unmarshal([]byte(`[-2]`), &back))
}

func TestCostAndFeasible(t *testing.T) {
	in := threeCustomers()
	s := Solution{0, 0, 1}
	if got := Cost(in, s); got != 5+1+1+2+30 {
		t.Fatalf("cost = %v, want 39", got)
	}
	if !Feasible(in, s) {
		t.Fatalf("expected feasible: %v", Check(in, s))
	}

	over := Solution{0, 0, 0}
	err := Check(in, over)
	if !errors.Is(err, ErrSolutionInfeasible) || !strings.Contains(err.Error(), "facility 0") {
		t.Fatalf("expected capacity violation, got %v", err)
	}

	partial := Solution{0, Unassigned, 1}
	if Feasible(in, partial) {
		t.Fatal("partial solution must not be feasible")
	}
	if got := Cost(in, partial); got != 5+1+1+UnassignedPenalty+30 {
		t.Fatalf("partial cost = %v", got)
	}
	if Feasible(in, Solution{0, 1}) {
		t.Fatal("short solution must not be feasible")
	}
}

func TestUtilization(t *testing.T) {
	in := threeCustomers()
	u := Utilization(in, Solution{0, 0, Unassigned})
	require.Len(t, u, 2)
	assert.Equal(t, FacilityLoad{Facility: 0, Capacity: 10, Load: 8, Customers: 2, OpeningCost: 5, Open: true}, u[0])
	assert.False(t, u[1].Open)
}

func TestIsInfeasible(t *testing.T) {
	assert.False(t, IsInfeasible(threeCustomers()))

	tooBig := threeCustomers()
	tooBig.CustomerDemands = []float64{11}
	tooBig.AssignmentCosts = [][]float64{{1}, {1}}
	assert.True(t, IsInfeasible(tooBig), "single demand above every capacity")

	tooMuch := threeCustomers()
	tooMuch.CustomerDemands = []float64{7, 7, 7}
	assert.True(t, IsInfeasible(tooMuch), "total demand 21 above total capacity 20")

	// 6+6+6 fits in total capacity 20 but no bin holds two items
	packing := threeCustomers()
	packing.CustomerDemands = []float64{6, 6, 6}
	assert.True(t, IsInfeasible(packing))
}

func TestIsInfeasibleNoFalsePositiveWhenBFDFails(t *testing.T) {
	// best fit puts the first 3 into the 4-bin and strands both 2s;
	// {3,3} {2,2} packs exactly
	in := &Instance{
		Facilities:      []Facility{{Capacity: 6}, {Capacity: 4}},
		CustomerDemands: []float64{3, 3, 2, 2},
		AssignmentCosts: [][]float64{make([]float64, 4), make([]float64, 4)},
	}
	require.False(t, bestFitDecreasing([]float64{3, 3, 2, 2}, []float64{6, 4}))
	assert.False(t, IsInfeasible(in))

	hard := &Instance{
		Facilities:      []Facility{{Capacity: 6}, {Capacity: 5}, {Capacity: 4}},
		CustomerDemands: []float64{4, 4, 3, 2, 2},
		AssignmentCosts: [][]float64{make([]float64, 5), make([]float64, 5), make([]float64, 5)},
	}
	// {4,2} {3,2} {4}
	require.False(t, bestFitDecreasing([]float64{4, 4, 3, 2, 2}, []float64{6, 5, 4}))
	assert.False(t, IsInfeasible(hard))
}

func TestExhaustivePackingBudget(t *testing.T) {
	demands := []float64{6, 6, 6}
	assert.Equal(t, packingImpossible, exhaustivePacking(demands, []float64{10, 10}, 100))
	assert.Equal(t, packingFound, exhaustivePacking([]float64{4, 3, 2}, []float64{6, 3}, 100))
	assert.Equal(t, packingUnknown, exhaustivePacking([]float64{3, 3, 3, 3, 3, 3}, []float64{4, 4, 4, 4, 4, 4, 4}, 1))
}

// tightFractional fills facility 0 exactly; the float sum of its demands
// rounds to 20.200000000000003.
func tightFractional() *Instance {
	return &Instance{
		Facilities:      []Facility{{Capacity: 20.2, OpeningCost: 1}, {Capacity: 100, OpeningCost: 1000}},
		CustomerDemands: []float64{4.1, 2.3, 6.9, 6.9},
		AssignmentCosts: [][]float64{{1, 1, 1, 1}, {100, 100, 100, 100}},
		Timeout:         1,
	}
}

func TestCheckToleratesRoundingAtCapacity(t *testing.T) {
	in := tightFractional()
	require.Greater(t, in.TotalDemand(), 20.2)
	assert.NoError(t, Check(in, Solution{0, 0, 0, 0}))

	in.CustomerDemands[0] = 4.2
	assert.ErrorIs(t, Check(in, Solution{0, 0, 0, 0}), ErrSolutionInfeasible)
}

func TestIsInfeasibleToleratesRoundingAtCapacity(t *testing.T) {
	in := tightFractional()
	in.Facilities = in.Facilities[:1]
	in.AssignmentCosts = in.AssignmentCosts[:1]
	assert.False(t, IsInfeasible(in))
	assert.Equal(t, packingFound, exhaustivePacking([]float64{6.9, 6.9, 4.1, 2.3}, []float64{20.2}, 100))

	in.CustomerDemands[0] = 4.2
	assert.True(t, IsInfeasible(in))
}
