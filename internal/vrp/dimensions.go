package vrp

import (
	"fmt"
	"math"
)

// Dimensions holds the per-vehicle cumulative limits the search checks on
// every candidate move: carried load against capacity and route length
// against range, the latter scaled to matrix units.
type Dimensions struct {
	Capacity   []float64
	RangeUnits []int64
}

// NewDimensions derives the limit vectors from the problem's fleet. A
// vehicle with non-positive limits yields an *InfeasibleError; NewProblem
// normally rejects such fleets before this runs.
func NewDimensions(p *Problem) (*Dimensions, error) {
	d := &Dimensions{
		Capacity:   make([]float64, len(p.Vehicles)),
		RangeUnits: make([]int64, len(p.Vehicles)),
	}
	for i, v := range p.Vehicles {
		if v.Capacity <= 0 {
			return nil, &InfeasibleError{Reason: fmt.Sprintf("vehicle %s has no usable capacity", v.ID)}
		}
		if v.MaxDistanceKm <= 0 {
			return nil, &InfeasibleError{Reason: fmt.Sprintf("vehicle %s has no usable range", v.ID)}
		}
		d.Capacity[i] = v.Capacity
		d.RangeUnits[i] = int64(math.Round(v.MaxDistanceKm * UnitsPerKm))
	}
	return d, nil
}

// FitsLoad reports whether load fits vehicle v. A small epsilon absorbs
// float accumulation from repeated add/remove of demands.
func (d *Dimensions) FitsLoad(v int, load float64) bool {
	return load <= d.Capacity[v]+1e-9
}

// FitsRange reports whether a route of the given length fits vehicle v.
func (d *Dimensions) FitsRange(v int, units int64) bool {
	return units <= d.RangeUnits[v]
}
