// Package vrp implements the route solver: haversine distance matrix,
// cheapest-insertion construction and guided local search improvement.
// A Problem is immutable once built and safe to share across goroutines;
// each Solve call keeps all working state on its own stack.
package vrp

import (
	"fmt"
	"sort"
	"time"

	"fleetroute/internal/geo"
)

const (
	ModeMinDistance = "minimize_distance"
	ModeMinCost     = "minimize_cost"

	DefaultTimeBudget      = 30 * time.Second
	DefaultSpanCoefficient = 100
	// DefaultSpeedKmh is the average speed assumed when converting route
	// distance into duration for display.
	DefaultSpeedKmh = 50.0
)

// Location is one node in the travel matrix. Index 0 is always the depot;
// delivery i sits at index i+1.
type Location struct {
	ID   string
	Name string
	Lat  float64
	Lng  float64
	Kind string
}

type Delivery struct {
	ID             string
	CustomerID     string
	CustomerName   string
	Lat            float64
	Lng            float64
	Address        string
	Demand         float64
	ServiceTimeMin int
	Priority       int
	// TimeWindow is carried through to the formatted output but does not
	// constrain the search.
	TimeWindow *Window
}

type Window struct {
	Start string
	End   string
}

type Vehicle struct {
	ID            string
	Capacity      float64
	CostPerKm     float64
	MaxDistanceKm float64
}

// Problem is a validated, normalized routing problem. Deliveries and
// vehicles are held sorted by id; equal inputs walk them in the same
// order on every solve.
type Problem struct {
	Depot           Location
	Deliveries      []Delivery
	Vehicles        []Vehicle
	Mode            string
	SpanCoefficient int64
	TimeBudget      time.Duration
}

// NewProblem validates the inputs and returns a normalized problem.
// Violations come back as *InputError.
func NewProblem(depot Location, deliveries []Delivery, vehicles []Vehicle, mode string, spanCoefficient int64, budget time.Duration) (*Problem, error) {
	if !geo.ValidCoord(depot.Lat, depot.Lng) {
		return nil, &InputError{Field: "depot", Msg: "coordinates out of range"}
	}
	if len(deliveries) == 0 {
		return nil, &InputError{Field: "deliveries", Msg: "at least one delivery is required"}
	}
	if len(vehicles) == 0 {
		return nil, &InputError{Field: "vehicles", Msg: "at least one vehicle is required"}
	}
	switch mode {
	case "":
		mode = ModeMinDistance
	case ModeMinDistance, ModeMinCost:
	default:
		return nil, &InputError{Field: "mode", Msg: fmt.Sprintf("unknown mode %q", mode)}
	}

	seen := make(map[string]bool, len(deliveries))
	for i, d := range deliveries {
		field := fmt.Sprintf("deliveries[%d]", i)
		if d.ID == "" {
			return nil, &InputError{Field: field + ".id", Msg: "must not be empty"}
		}
		if seen[d.ID] {
			return nil, &InputError{Field: field + ".id", Msg: fmt.Sprintf("duplicate delivery id %q", d.ID)}
		}
		seen[d.ID] = true
		if !geo.ValidCoord(d.Lat, d.Lng) {
			return nil, &InputError{Field: field, Msg: "coordinates out of range"}
		}
		if d.Demand < 0 {
			return nil, &InputError{Field: field + ".demand", Msg: "must not be negative"}
		}
		if d.ServiceTimeMin < 0 {
			return nil, &InputError{Field: field + ".serviceTimeMin", Msg: "must not be negative"}
		}
		if d.Priority != 0 && (d.Priority < 1 || d.Priority > 3) {
			return nil, &InputError{Field: field + ".priority", Msg: "must be 1, 2 or 3"}
		}
	}

	seenV := make(map[string]bool, len(vehicles))
	for i, v := range vehicles {
		field := fmt.Sprintf("vehicles[%d]", i)
		if v.ID == "" {
			return nil, &InputError{Field: field + ".id", Msg: "must not be empty"}
		}
		if seenV[v.ID] {
			return nil, &InputError{Field: field + ".id", Msg: fmt.Sprintf("duplicate vehicle id %q", v.ID)}
		}
		seenV[v.ID] = true
		if v.Capacity <= 0 {
			return nil, &InputError{Field: field + ".capacity", Msg: "must be positive"}
		}
		if v.MaxDistanceKm <= 0 {
			return nil, &InputError{Field: field + ".maxDistanceKm", Msg: "must be positive"}
		}
		if v.CostPerKm < 0 {
			return nil, &InputError{Field: field + ".costPerKm", Msg: "must not be negative"}
		}
		if mode == ModeMinCost && v.CostPerKm == 0 {
			return nil, &InputError{Field: field + ".costPerKm", Msg: "required when mode is minimize_cost"}
		}
	}

	p := &Problem{
		Depot:           depot,
		Deliveries:      append([]Delivery(nil), deliveries...),
		Vehicles:        append([]Vehicle(nil), vehicles...),
		Mode:            mode,
		SpanCoefficient: spanCoefficient,
		TimeBudget:      budget,
	}
	if p.SpanCoefficient <= 0 {
		p.SpanCoefficient = DefaultSpanCoefficient
	}
	if p.TimeBudget <= 0 {
		p.TimeBudget = DefaultTimeBudget
	}
	sort.Slice(p.Deliveries, func(i, j int) bool { return p.Deliveries[i].ID < p.Deliveries[j].ID })
	sort.Slice(p.Vehicles, func(i, j int) bool { return p.Vehicles[i].ID < p.Vehicles[j].ID })
	return p, nil
}

// Locations returns the matrix node list: depot first, then deliveries in
// id order.
func (p *Problem) Locations() []Location {
	locs := make([]Location, 0, len(p.Deliveries)+1)
	locs = append(locs, p.Depot)
	for _, d := range p.Deliveries {
		locs = append(locs, Location{ID: d.ID, Name: d.CustomerName, Lat: d.Lat, Lng: d.Lng, Kind: "delivery"})
	}
	return locs
}
