package api

import (
	"fmt"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
	"fleetroute/internal/vrp"
)

// Wire-level request checks. Deep domain validation (coordinates, demands,
// capacities) happens in vrp.NewProblem so both layers report the same way.

const (
	maxDeliveries = 2000
	maxVehicles   = 200
	maxOrders     = 1000
	maxBudgetMs   = 300_000
)

func validateSolveRequest(req *model.SolveRequest) error {
	if req.DepotID == "" {
		return fmt.Errorf("depotId is required")
	}
	if req.Mode != "" && req.Mode != vrp.ModeMinDistance && req.Mode != vrp.ModeMinCost {
		return fmt.Errorf("invalid mode: %s (allowed: %s, %s)", req.Mode, vrp.ModeMinDistance, vrp.ModeMinCost)
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if req.TimeBudgetMs > maxBudgetMs {
		return fmt.Errorf("timeBudgetMs must be <= %d", maxBudgetMs)
	}
	if req.SpanCoefficient < 0 {
		return fmt.Errorf("spanCoefficient must be >= 0")
	}
	if len(req.Deliveries) > maxDeliveries {
		return fmt.Errorf("too many deliveries: %d (max %d)", len(req.Deliveries), maxDeliveries)
	}
	if len(req.Vehicles) > maxVehicles {
		return fmt.Errorf("too many vehicles: %d (max %d)", len(req.Vehicles), maxVehicles)
	}
	return nil
}

func validateAllocateRequest(req *model.AllocateRequest) error {
	if len(req.Orders) == 0 {
		return fmt.Errorf("orders must not be empty")
	}
	if len(req.Orders) > maxOrders {
		return fmt.Errorf("too many orders: %d (max %d)", len(req.Orders), maxOrders)
	}
	seen := map[string]struct{}{}
	for i, o := range req.Orders {
		if o.ID == "" {
			return fmt.Errorf("orders[%d].id is required", i)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("duplicate order id: %s", o.ID)
		}
		seen[o.ID] = struct{}{}
		if !geo.ValidCoord(o.Lat, o.Lng) {
			return fmt.Errorf("order %s has invalid coordinates", o.ID)
		}
		for j, it := range o.Items {
			if it.SKU == "" {
				return fmt.Errorf("order %s items[%d].sku is required", o.ID, j)
			}
			if it.Quantity <= 0 {
				return fmt.Errorf("order %s items[%d].quantity must be > 0", o.ID, j)
			}
		}
	}
	return nil
}
