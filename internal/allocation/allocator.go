// Package allocation assigns orders to fulfillment warehouses. Selection
// is a linear scan per order: among the warehouses whose stock snapshot
// covers every line item, pick the lowest score, where score is distance
// in km plus utilization times a configurable weight. Orders never
// reserve stock against each other; every order sees the same snapshot.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"fleetroute/internal/geo"
)

// ErrUnfulfillable is reported per order when no warehouse covers its
// stock requirements. The batch itself keeps going.
var ErrUnfulfillable = errors.New("no suitable warehouse found")

const (
	DefaultUtilizationWeight = 10.0
	DefaultAvgSpeedKmh       = 50.0
)

type Item struct {
	SKU      string
	Quantity int
}

type Order struct {
	ID    string
	Lat   float64
	Lng   float64
	Items []Item
}

// Candidate is a read-only warehouse snapshot taken once per batch.
// Utilization is a fraction in [0,1].
type Candidate struct {
	WarehouseID string
	Name        string
	Lat         float64
	Lng         float64
	Utilization float64
	Stock       map[string]int
}

// Allocation is one fulfilled order. Utilization echoes the chosen
// warehouse's fraction; converting to percent is the caller's concern.
type Allocation struct {
	OrderID        string
	WarehouseID    string
	WarehouseName  string
	DistanceKm     float64
	Score          float64
	EstimatedCost  decimal.Decimal
	EstimatedHours float64
	Utilization    float64
}

type Failure struct {
	OrderID string
	Err     error
}

type Batch struct {
	TotalOrders        int
	Successful         int
	Failed             int
	TotalEstimatedCost decimal.Decimal
	Allocations        []Allocation
	Failures           []Failure
	GeneratedAt        time.Time
}

type Options struct {
	UtilizationWeight float64
	CostPerKm         decimal.Decimal
	AvgSpeedKmh       float64
}

func DefaultOptions() Options {
	return Options{
		UtilizationWeight: DefaultUtilizationWeight,
		CostPerKm:         decimal.NewFromInt(2),
		AvgSpeedKmh:       DefaultAvgSpeedKmh,
	}
}

// AllocateOne picks the best candidate for a single order. Candidates are
// scanned in the given order and ties keep the earliest, so passing them
// sorted by id makes the result deterministic.
func AllocateOne(o Order, candidates []Candidate, opts Options) (Allocation, error) {
	speed := opts.AvgSpeedKmh
	if speed <= 0 {
		speed = DefaultAvgSpeedKmh
	}
	best := -1
	bestScore := math.MaxFloat64
	var bestKm float64
	for i, c := range candidates {
		if !covers(c, o.Items) {
			continue
		}
		km := geo.HaversineKm(o.Lat, o.Lng, c.Lat, c.Lng)
		score := km + c.Utilization*opts.UtilizationWeight
		if score < bestScore {
			best, bestScore, bestKm = i, score, km
		}
	}
	if best < 0 {
		return Allocation{}, fmt.Errorf("order %s: %w", o.ID, ErrUnfulfillable)
	}
	c := candidates[best]
	return Allocation{
		OrderID:        o.ID,
		WarehouseID:    c.WarehouseID,
		WarehouseName:  c.Name,
		DistanceKm:     round2(bestKm),
		Score:          round2(bestScore),
		EstimatedCost:  opts.CostPerKm.Mul(decimal.NewFromFloat(bestKm)).Round(2),
		EstimatedHours: round2(bestKm / speed),
		Utilization:    c.Utilization,
	}, nil
}

// AllocateBatch allocates each order independently. A failed order lands
// in Failures and does not stop the rest.
func AllocateBatch(orders []Order, candidates []Candidate, opts Options) Batch {
	b := Batch{
		TotalOrders:        len(orders),
		TotalEstimatedCost: decimal.Zero,
		GeneratedAt:        time.Now().UTC(),
	}
	for _, o := range orders {
		a, err := AllocateOne(o, candidates, opts)
		if err != nil {
			b.Failed++
			b.Failures = append(b.Failures, Failure{OrderID: o.ID, Err: err})
			continue
		}
		b.Successful++
		b.TotalEstimatedCost = b.TotalEstimatedCost.Add(a.EstimatedCost)
		b.Allocations = append(b.Allocations, a)
	}
	return b
}

// covers reports whether the candidate's snapshot satisfies every line
// item in full. An order with no items qualifies everywhere.
func covers(c Candidate, items []Item) bool {
	for _, it := range items {
		if c.Stock[it.SKU] < it.Quantity {
			return false
		}
	}
	return true
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
