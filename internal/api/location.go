package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
	"fleetroute/internal/vrp"
)

// locationCache is a read-through cache over the location store, keyed by
// tenant and id. Estimates hit the same handful of named locations over
// and over; creates invalidate their entry.
type locationCache struct {
	mu sync.Mutex
	m  map[string]model.Location
}

func newLocationCache() *locationCache {
	return &locationCache{m: map[string]model.Location{}}
}

func (c *locationCache) key(tenant, id string) string { return tenant + "|" + id }

func (c *locationCache) get(tenant, id string) (model.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.m[c.key(tenant, id)]
	return l, ok
}

func (c *locationCache) put(tenant string, l model.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(tenant, l.ID)] = l
}

func (c *locationCache) invalidate(tenant, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, c.key(tenant, id))
}

// lookupLocation consults the cache before the store.
func (s *Server) lookupLocation(ctx context.Context, tenant, id string) (model.Location, error) {
	if l, ok := s.locCache.get(tenant, id); ok {
		return l, nil
	}
	l, err := s.Store.GetLocation(ctx, tenant, id)
	if err != nil {
		return model.Location{}, err
	}
	s.locCache.put(tenant, l)
	return l, nil
}

// EstimateHandler handles GET /v1/estimate?from=&to=&trafficFactor=
func (s *Server) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeProblem(w, http.StatusBadRequest, "Missing parameters", "from and to are required", r.URL.Path)
		return
	}
	factor := 1.0
	if v := q.Get("trafficFactor"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid trafficFactor", err.Error(), r.URL.Path)
			return
		}
		factor = f
	}
	if factor < 0.5 || factor > 3.0 {
		writeProblem(w, http.StatusBadRequest, "Invalid trafficFactor", "trafficFactor must be within [0.5, 3.0]", r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	a, err := s.lookupLocation(ctx, tenant, from)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Location not found", fmt.Sprintf("no location %s", from), r.URL.Path)
		return
	}
	b, err := s.lookupLocation(ctx, tenant, to)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Location not found", fmt.Sprintf("no location %s", to), r.URL.Path)
		return
	}
	km := geo.HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
	hours := km / vrp.DefaultSpeedKmh * factor
	writeJSON(w, http.StatusOK, model.EstimateOut{
		FromLocation:     a.ID,
		ToLocation:       b.ID,
		DistanceKm:       math.Round(km*100) / 100,
		EstimatedHours:   math.Round(hours*100) / 100,
		EstimatedMinutes: math.Round(hours * 60),
		TrafficFactor:    factor,
	})
}
