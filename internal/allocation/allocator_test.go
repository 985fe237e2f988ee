package allocation

import (
	"errors"
	"testing"
)

func twoWarehouses() []Candidate {
	return []Candidate{
		{WarehouseID: "WH-A", Name: "Near", Lat: 40.72, Lng: -74.00, Utilization: 0.5, Stock: map[string]int{"SKU-X": 2}},
		{WarehouseID: "WH-B", Name: "Far", Lat: 41.50, Lng: -74.50, Utilization: 0.5, Stock: map[string]int{"SKU-X": 50}},
	}
}

func TestAllocateRequiresStockCoverage(t *testing.T) {
	// only the far warehouse has 5 units, so distance must not matter
	o := Order{ID: "O1", Lat: 40.71, Lng: -74.01, Items: []Item{{SKU: "SKU-X", Quantity: 5}}}
	a, err := AllocateOne(o, twoWarehouses(), DefaultOptions())
	if err != nil {
		t.Fatalf("AllocateOne: %v", err)
	}
	if a.WarehouseID != "WH-B" {
		t.Fatalf("allocated to %s, want WH-B", a.WarehouseID)
	}
	if a.DistanceKm <= 0 || a.EstimatedHours <= 0 {
		t.Fatalf("estimates not set: %+v", a)
	}
	if a.EstimatedCost.IsZero() {
		t.Fatal("cost not set")
	}
}

func TestAllocateScoreBalancesDistanceAndUtilization(t *testing.T) {
	// near but almost full vs farther but idle: 5 + 0.9*10 = 14 beats 8 + 0.2*10 = 10
	cands := []Candidate{
		{WarehouseID: "WH-busy", Lat: 40.7578, Lng: -74.00, Utilization: 0.9, Stock: map[string]int{"SKU-X": 10}},
		{WarehouseID: "WH-idle", Lat: 40.7848, Lng: -74.00, Utilization: 0.2, Stock: map[string]int{"SKU-X": 10}},
	}
	o := Order{ID: "O1", Lat: 40.7128, Lng: -74.00, Items: []Item{{SKU: "SKU-X", Quantity: 1}}}
	a, err := AllocateOne(o, cands, DefaultOptions())
	if err != nil {
		t.Fatalf("AllocateOne: %v", err)
	}
	if a.WarehouseID != "WH-idle" {
		t.Fatalf("allocated to %s, want WH-idle", a.WarehouseID)
	}
}

func TestAllocateTieKeepsFirstCandidate(t *testing.T) {
	cands := []Candidate{
		{WarehouseID: "WH-1", Lat: 40.80, Lng: -74.00, Utilization: 0.3, Stock: map[string]int{"SKU-X": 10}},
		{WarehouseID: "WH-2", Lat: 40.80, Lng: -74.00, Utilization: 0.3, Stock: map[string]int{"SKU-X": 10}},
	}
	o := Order{ID: "O1", Lat: 40.7128, Lng: -74.00, Items: []Item{{SKU: "SKU-X", Quantity: 1}}}
	a, err := AllocateOne(o, cands, DefaultOptions())
	if err != nil {
		t.Fatalf("AllocateOne: %v", err)
	}
	if a.WarehouseID != "WH-1" {
		t.Fatalf("tie broken to %s, want WH-1", a.WarehouseID)
	}
}

func TestAllocateUnfulfillable(t *testing.T) {
	o := Order{ID: "O1", Lat: 40.71, Lng: -74.01, Items: []Item{{SKU: "SKU-MISSING", Quantity: 1}}}
	_, err := AllocateOne(o, twoWarehouses(), DefaultOptions())
	if !errors.Is(err, ErrUnfulfillable) {
		t.Fatalf("expected ErrUnfulfillable, got %v", err)
	}
}

func TestAllocateEmptyItemsQualifiesEverywhere(t *testing.T) {
	o := Order{ID: "O1", Lat: 40.71, Lng: -74.01}
	a, err := AllocateOne(o, twoWarehouses(), DefaultOptions())
	if err != nil {
		t.Fatalf("AllocateOne: %v", err)
	}
	if a.WarehouseID != "WH-A" {
		t.Fatalf("allocated to %s, want nearest WH-A", a.WarehouseID)
	}
}

func TestAllocateBatchIndependentOrders(t *testing.T) {
	// both orders want the last 2 units; no reservation between them
	orders := []Order{
		{ID: "O1", Lat: 40.71, Lng: -74.01, Items: []Item{{SKU: "SKU-X", Quantity: 2}}},
		{ID: "O2", Lat: 40.72, Lng: -74.02, Items: []Item{{SKU: "SKU-X", Quantity: 2}}},
		{ID: "O3", Lat: 40.73, Lng: -74.03, Items: []Item{{SKU: "SKU-GONE", Quantity: 1}}},
	}
	b := AllocateBatch(orders, twoWarehouses(), DefaultOptions())
	if b.TotalOrders != 3 || b.Successful != 2 || b.Failed != 1 {
		t.Fatalf("batch counts: %+v", b)
	}
	if len(b.Allocations) != 2 || len(b.Failures) != 1 {
		t.Fatalf("batch slices: %d allocations, %d failures", len(b.Allocations), len(b.Failures))
	}
	if b.Failures[0].OrderID != "O3" {
		t.Fatalf("failed order = %s", b.Failures[0].OrderID)
	}
	want := b.Allocations[0].EstimatedCost.Add(b.Allocations[1].EstimatedCost)
	if !b.TotalEstimatedCost.Equal(want) {
		t.Fatalf("total cost %s, want %s", b.TotalEstimatedCost, want)
	}
	if b.GeneratedAt.IsZero() {
		t.Fatal("GeneratedAt not set")
	}
}
