package vrp

import (
	"math"

	"github.com/shopspring/decimal"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// Format expands a solution into per-stop detail for the API: cumulative
// load and distance at each stop, utilization, duration at the given
// average speed plus service times, and a per-route cost estimate. Pass
// speedKmh <= 0 to use the default. Kilometers here come straight from
// haversine rather than the solver's integer units.
func Format(p *Problem, sol *Solution, speedKmh float64) ([]model.RouteOut, model.SolveSummary) {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	routes := make([]model.RouteOut, 0, len(sol.Routes))
	summary := model.SolveSummary{TotalEstimatedCost: decimal.Zero}

	for _, r := range sol.Routes {
		out := model.RouteOut{
			VehicleID:       r.Vehicle.ID,
			VehicleCapacity: r.Vehicle.Capacity,
			Stops:           make([]model.StopOut, 0, len(r.Deliveries)+2),
		}
		out.Stops = append(out.Stops, model.StopOut{
			Kind: "depot",
			Lat:  p.Depot.Lat,
			Lng:  p.Depot.Lng,
		})

		cumKm, cumLoad := 0.0, 0.0
		serviceMin := 0
		prevLat, prevLng := p.Depot.Lat, p.Depot.Lng
		for i, d := range r.Deliveries {
			cumKm += geo.HaversineKm(prevLat, prevLng, d.Lat, d.Lng)
			cumLoad += d.Demand
			serviceMin += d.ServiceTimeMin
			out.Stops = append(out.Stops, model.StopOut{
				ArrivalOrder:   i + 1,
				Kind:           "delivery",
				DeliveryID:     d.ID,
				CustomerName:   d.CustomerName,
				Lat:            d.Lat,
				Lng:            d.Lng,
				Demand:         d.Demand,
				CumulativeLoad: cumLoad,
				CumulativeKm:   round2(cumKm),
			})
			prevLat, prevLng = d.Lat, d.Lng
		}
		cumKm += geo.HaversineKm(prevLat, prevLng, p.Depot.Lat, p.Depot.Lng)
		out.Stops = append(out.Stops, model.StopOut{
			ArrivalOrder:   len(r.Deliveries) + 1,
			Kind:           "depot",
			Lat:            p.Depot.Lat,
			Lng:            p.Depot.Lng,
			CumulativeLoad: cumLoad,
			CumulativeKm:   round2(cumKm),
		})

		out.DistanceKm = round2(cumKm)
		out.Load = cumLoad
		out.CapacityUtilization = round1(cumLoad / r.Vehicle.Capacity * 100)
		out.EstimatedHours = round2(cumKm/speedKmh + float64(serviceMin)/60)
		out.CostEstimate = decimal.NewFromFloat(cumKm).Mul(decimal.NewFromFloat(r.Vehicle.CostPerKm)).Round(2)

		summary.TotalDistanceKm += cumKm
		summary.TotalLoad += cumLoad
		summary.TotalDeliveries += len(r.Deliveries)
		summary.TotalEstimatedCost = summary.TotalEstimatedCost.Add(out.CostEstimate)
		routes = append(routes, out)
	}

	summary.TotalRoutes = len(routes)
	summary.VehiclesUsed = len(routes)
	if len(routes) > 0 {
		summary.AvgRouteDistanceKm = round2(summary.TotalDistanceKm / float64(len(routes)))
	}
	summary.TotalDistanceKm = round2(summary.TotalDistanceKm)
	return routes, summary
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

func round1(x float64) float64 { return math.Round(x*10) / 10 }
