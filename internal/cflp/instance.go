// Package cflp holds the capacitated facility location problem model and the
// feasibility/cost oracle shared by the search engine, the API and the CLI.
package cflp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

var (
	// ErrInstanceIllFormed reports dimension mismatches or invalid numbers.
	ErrInstanceIllFormed = errors.New("instance ill-formed")
	// ErrInfeasibleInstance reports that the capacity pre-check rejected the instance.
	ErrInfeasibleInstance = errors.New("instance infeasible")
	// ErrSolutionInfeasible is wrapped by Check for every violated constraint.
	ErrSolutionInfeasible = errors.New("solution infeasible")
)

type Facility struct {
	Capacity    float64 `json:"capacity" yaml:"capacity"`
	OpeningCost float64 `json:"opening_cost" yaml:"opening_cost"`
}

// Instance is immutable once validated.
type Instance struct {
	Facilities      []Facility  `json:"facilities" yaml:"facilities"`
	CustomerDemands []float64   `json:"customer_demands" yaml:"customer_demands"`
	AssignmentCosts [][]float64 `json:"assignment_costs" yaml:"assignment_costs"`
	// Timeout is the wall-clock search budget in seconds.
	Timeout float64 `json:"timeout" yaml:"timeout"`
}

func (in *Instance) NumFacilities() int { return len(in.Facilities) }

func (in *Instance) NumCustomers() int { return len(in.CustomerDemands) }

// TimeBudget converts Timeout to a duration.
func (in *Instance) TimeBudget() time.Duration {
	return time.Duration(in.Timeout * float64(time.Second))
}

// Validate checks shape and sign invariants. Every failure wraps ErrInstanceIllFormed.
func (in *Instance) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: nil instance", ErrInstanceIllFormed)
	}
	nf, nc := in.NumFacilities(), in.NumCustomers()
	if nf == 0 {
		return fmt.Errorf("%w: no facilities", ErrInstanceIllFormed)
	}
	if len(in.AssignmentCosts) != nf {
		return fmt.Errorf("%w: assignment_costs has %d rows, want %d (facilities)", ErrInstanceIllFormed, len(in.AssignmentCosts), nf)
	}
	for f, fac := range in.Facilities {
		if !finite(fac.Capacity) || fac.Capacity < 0 {
			return fmt.Errorf("%w: facility %d capacity %v", ErrInstanceIllFormed, f, fac.Capacity)
		}
		if !finite(fac.OpeningCost) {
			return fmt.Errorf("%w: facility %d opening_cost %v", ErrInstanceIllFormed, f, fac.OpeningCost)
		}
		row := in.AssignmentCosts[f]
		if len(row) != nc {
			return fmt.Errorf("%w: assignment_costs row %d has %d columns, want %d (customers)", ErrInstanceIllFormed, f, len(row), nc)
		}
		for c, v := range row {
			if !finite(v) {
				return fmt.Errorf("%w: assignment_costs[%d][%d] = %v", ErrInstanceIllFormed, f, c, v)
			}
		}
	}
	for c, d := range in.CustomerDemands {
		if !finite(d) || d < 0 {
			return fmt.Errorf("%w: customer %d demand %v", ErrInstanceIllFormed, c, d)
		}
	}
	if !finite(in.Timeout) || in.Timeout < 0 {
		return fmt.Errorf("%w: timeout %v", ErrInstanceIllFormed, in.Timeout)
	}
	return nil
}

// TotalDemand sums all customer demands.
func (in *Instance) TotalDemand() float64 {
	t := 0.0
	for _, d := range in.CustomerDemands {
		t += d
	}
	return t
}

// TotalCapacity sums all facility capacities.
func (in *Instance) TotalCapacity() float64 {
	t := 0.0
	for _, f := range in.Facilities {
		t += f.Capacity
	}
	return t
}

// DecodeInstance reads one JSON instance and validates it.
func DecodeInstance(r io.Reader) (*Instance, error) {
	var in Instance
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
