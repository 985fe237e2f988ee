package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fleetroute/internal/allocation"
	"fleetroute/internal/geo"
	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/store"
	"fleetroute/internal/vrp"
	"fleetroute/internal/webhooks"
)

// SolveHandler handles POST /v1/solve
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	depot, err := s.lookupLocation(ctx, tenant, req.DepotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusBadRequest, "Unknown depot", fmt.Sprintf("location %s not found", req.DepotID), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Load depot failed", err.Error(), r.URL.Path)
		return
	}

	// Tenant config overlays request defaults, env sits beneath both.
	cfg, _ := s.Store.GetEngineConfig(ctx, tenant)
	if req.Mode == "" {
		req.Mode = cfg.DefaultMode
	}
	if req.TimeBudgetMs == 0 {
		req.TimeBudgetMs = cfg.TimeBudgetMs
	}
	if req.TimeBudgetMs == 0 {
		if v := os.Getenv("SOLVE_TIME_BUDGET_MS"); v != "" {
			fmt.Sscanf(v, "%d", &req.TimeBudgetMs)
		}
	}
	if req.SpanCoefficient == 0 {
		req.SpanCoefficient = cfg.SpanCoefficient
	}

	prob, err := vrp.NewProblem(toVrpLocation(depot), toVrpDeliveries(req.Deliveries), toVrpVehicles(req.Vehicles),
		req.Mode, req.SpanCoefficient, time.Duration(req.TimeBudgetMs)*time.Millisecond)
	if err != nil {
		var ie *vrp.InputError
		if errors.As(err, &ie) {
			writeProblem(w, http.StatusBadRequest, "Invalid solve request", ie.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
		return
	}

	// Streaming clients may name the solve up front so they can subscribe
	// to its events before this request returns.
	solveID := r.Header.Get("X-Solve-Id")
	if solveID == "" {
		solveID = "slv_" + uuid.New().String()
	}
	var sol *vrp.Solution
	err = s.Pool.Do(ctx, func() error {
		matrix := vrp.BuildMatrix(prob.Locations())
		dims, derr := vrp.NewDimensions(prob)
		if derr != nil {
			return derr
		}
		solver := vrp.NewSolver(prob, matrix, dims)
		solver.OnPhase = func(st vrp.Status) {
			s.Broker.Publish(solveID, SSEEvent{Type: "solve.phase", Data: map[string]any{"solveId": solveID, "phase": string(st)}})
		}
		solver.OnProgress = func(pr vrp.Progress) {
			s.Broker.Publish(solveID, SSEEvent{Type: "solve.progress", Data: map[string]any{"solveId": solveID, "iteration": pr.Iteration, "objective": pr.Objective}})
		}
		var serr error
		sol, serr = solver.Solve(ctx)
		return serr
	})
	if err != nil {
		var inf *vrp.InfeasibleError
		switch {
		case errors.As(err, &inf):
			writeProblem(w, http.StatusUnprocessableEntity, "Infeasible problem", inf.Reason, r.URL.Path)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			writeProblem(w, http.StatusServiceUnavailable, "Solver unavailable", "no solver slot became free", r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
		}
		return
	}

	metrics.Solves.WithLabelValues(string(sol.Status), prob.Mode).Inc()
	metrics.SolveDuration.WithLabelValues(prob.Mode).Observe(sol.Elapsed.Seconds())
	metrics.SolveIterations.Observe(float64(sol.Stats.Iterations))
	vrp.RecordStats(tenant, solveID, sol.Stats)
	createdAt := time.Now().UTC().Format(time.RFC3339)

	if sol.Status == vrp.StatusInfeasible {
		s.Broker.Publish(solveID, SSEEvent{Type: "solve.infeasible", Data: map[string]any{"solveId": solveID, "reason": sol.Reason}})
		s.Pub.Emit(ctx, tenant, webhooks.EventSolveInfeasible, map[string]any{"solveId": solveID, "reason": sol.Reason})
		s.persistSolution(tenant, model.SolutionRecord{
			ID: solveID, TenantID: tenant, Status: string(sol.Status), Reason: sol.Reason,
			Mode: prob.Mode, ElapsedMs: sol.Elapsed.Milliseconds(), Routes: []model.RouteOut{}, CreatedAt: createdAt,
		}, sol.Stats)
		writeProblem(w, http.StatusUnprocessableEntity, "Infeasible problem", sol.Reason, r.URL.Path)
		return
	}

	routes, summary := vrp.Format(prob, sol, cfg.AvgSpeedKmh)
	resp := model.SolveResponse{
		SolveID:   solveID,
		Status:    string(sol.Status),
		Mode:      prob.Mode,
		Objective: sol.Objective,
		ElapsedMs: sol.Elapsed.Milliseconds(),
		Routes:    routes,
		Summary:   summary,
		Stats:     toModelStats(sol.Stats),
	}
	s.Broker.Publish(solveID, SSEEvent{Type: "solve.completed", Data: map[string]any{
		"solveId": solveID, "status": resp.Status, "objective": resp.Objective,
	}})
	s.Pub.Emit(ctx, tenant, webhooks.EventSolveCompleted, map[string]any{
		"solveId": solveID, "status": resp.Status, "objective": resp.Objective,
		"totalDistanceKm": summary.TotalDistanceKm, "vehiclesUsed": summary.VehiclesUsed,
	})
	s.persistSolution(tenant, model.SolutionRecord{
		ID: solveID, TenantID: tenant, Status: resp.Status, Mode: resp.Mode, Objective: resp.Objective,
		ElapsedMs: resp.ElapsedMs, Routes: routes, Summary: summary, CreatedAt: createdAt,
	}, sol.Stats)
	writeJSON(w, http.StatusOK, resp)
}

// persistSolution writes the record and its stats from a goroutine.
// Store errors are logged, never surfaced to the caller.
func (s *Server) persistSolution(tenant string, rec model.SolutionRecord, st vrp.Stats) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.InsertSolution(ctx, rec); err != nil {
			log.Printf("persist solution %s: %v", rec.ID, err)
		}
		day := time.Now().UTC().Format("2006-01-02")
		if err := s.Store.SaveSolveStats(ctx, tenant, rec.ID, day, toModelStats(st)); err != nil {
			log.Printf("persist solve stats %s: %v", rec.ID, err)
		}
	}()
}

// SolutionsHandler handles GET /v1/solutions
func (s *Server) SolutionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solutions" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSolutions(r.Context(), tenant, status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List solutions failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// SolutionByIDHandler handles GET /v1/solutions/{id}, the per-solve SSE
// stream at /v1/solutions/{id}/events/stream, /v1/solutions/{id}/stats and
// the tenant-wide registry listing at /v1/solutions/stats.
func (s *Server) SolutionByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/solutions/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if rest == "stats" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, tenant := s.withTenant(r)
		items := map[string]model.SolveStats{}
		for sid, st := range vrp.ListStats(tenant) {
			items[sid] = toModelStats(st)
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		ch := s.Broker.Subscribe(id)
		defer s.Broker.Unsubscribe(id, ch)
		// initial heartbeat
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"solveId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
		flusher.Flush()
		notify := r.Context().Done()
		for {
			select {
			case <-notify:
				return
			case evt := <-ch:
				b, _ := json.Marshal(evt.Data)
				fmt.Fprintf(w, "event: %s\n", evt.Type)
				fmt.Fprintf(w, "data: %s\n\n", string(b))
				flusher.Flush()
			case <-time.After(15 * time.Second):
				fmt.Fprintf(w, "event: heartbeat\n")
				fmt.Fprintf(w, "data: {\"solveId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
				flusher.Flush()
			}
		}
	}
	if len(parts) > 1 && parts[1] == "stats" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, tenant := s.withTenant(r)
		if st, ok := vrp.GetStats(tenant, id); ok {
			writeJSON(w, http.StatusOK, map[string]any{"solveId": id, "stats": toModelStats(st)})
			return
		}
		st, err := s.Store.GetSolveStats(r.Context(), tenant, id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Stats not found", fmt.Sprintf("no stats for solve %s", id), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"solveId": id, "stats": st})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	rec, err := s.Store.GetSolution(r.Context(), tenant, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Solution not found", fmt.Sprintf("no solution %s", id), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AllocateHandler handles POST /v1/allocate
func (s *Server) AllocateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateAllocateRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid allocate request", err.Error(), r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	whs, err := s.Store.ListWarehouses(ctx, tenant)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load warehouses failed", err.Error(), r.URL.Path)
		return
	}

	cfg, _ := s.Store.GetEngineConfig(ctx, tenant)
	opts := allocation.DefaultOptions()
	if cfg.UtilizationWeight > 0 {
		opts.UtilizationWeight = cfg.UtilizationWeight
	}
	if cfg.AvgSpeedKmh > 0 {
		opts.AvgSpeedKmh = cfg.AvgSpeedKmh
	}
	if cfg.CostPerKm != "" {
		if d, derr := decimal.NewFromString(cfg.CostPerKm); derr == nil && d.IsPositive() {
			opts.CostPerKm = d
		}
	}

	batch := allocation.AllocateBatch(toAllocOrders(req.Orders), toAllocCandidates(whs), opts)
	out := toModelBatch("alloc_"+uuid.New().String(), batch)

	metrics.Allocations.WithLabelValues("fulfilled").Add(float64(batch.Successful))
	metrics.Allocations.WithLabelValues("failed").Add(float64(batch.Failed))
	s.Pub.Emit(ctx, tenant, webhooks.EventAllocationCompleted, map[string]any{
		"batchId": out.BatchID, "totalOrders": out.TotalOrders,
		"successfulAllocations": out.Successful, "failedAllocations": out.Failed,
	})
	go func(rec model.AllocationBatch) {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.InsertAllocationBatch(pctx, tenant, rec); err != nil {
			log.Printf("persist allocation batch %s: %v", rec.BatchID, err)
		}
	}(out)
	writeJSON(w, http.StatusOK, out)
}

// LocationsHandler handles POST/GET /v1/locations
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in model.LocationIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if !geo.ValidCoord(in.Lat, in.Lng) {
			writeProblem(w, http.StatusBadRequest, "Invalid location", "coordinates out of range", r.URL.Path)
			return
		}
		if in.Kind != "" && in.Kind != "depot" && in.Kind != "customer" && in.Kind != "supplier" {
			writeProblem(w, http.StatusBadRequest, "Invalid location", fmt.Sprintf("unknown kind %q", in.Kind), r.URL.Path)
			return
		}
		ctx, tenant := s.withTenant(r)
		loc, err := s.Store.CreateLocation(ctx, tenant, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create location failed", err.Error(), r.URL.Path)
			return
		}
		s.locCache.invalidate(tenant, loc.ID)
		writeJSON(w, http.StatusCreated, loc)
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		kind := r.URL.Query().Get("kind")
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListLocations(r.Context(), tenant, kind, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List locations failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// LocationByIDHandler handles GET /v1/locations/{id}
func (s *Server) LocationByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/locations/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	loc, err := s.lookupLocation(ctx, tenant, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Location not found", fmt.Sprintf("no location %s", id), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// WarehousesHandler handles POST/GET /v1/warehouses
func (s *Server) WarehousesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in model.WarehouseIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if !geo.ValidCoord(in.Lat, in.Lng) {
			writeProblem(w, http.StatusBadRequest, "Invalid warehouse", "coordinates out of range", r.URL.Path)
			return
		}
		if in.StorageCapacity < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid warehouse", "storageCapacity must be >= 0", r.URL.Path)
			return
		}
		if in.CurrentUtilization < 0 || in.CurrentUtilization > 1 {
			writeProblem(w, http.StatusBadRequest, "Invalid warehouse", "currentUtilization must be within [0,1]", r.URL.Path)
			return
		}
		ctx, tenant := s.withTenant(r)
		wh, err := s.Store.CreateWarehouse(ctx, tenant, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create warehouse failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, wh)
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		items, err := s.Store.ListWarehouses(r.Context(), tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List warehouses failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DemoSolveRequestHandler returns a canned payload for POST /v1/solve.
func (s *Server) DemoSolveRequestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, model.SolveRequest{
		DepotID: "WH001",
		Mode:    vrp.ModeMinDistance,
		Deliveries: []model.DeliveryIn{
			{ID: "D1", CustomerName: "Midtown Customer", Lat: 40.7589, Lng: -73.9851, Demand: 25, ServiceTimeMin: 10},
			{ID: "D2", CustomerName: "Harbor Customer", Lat: 40.6892, Lng: -74.0445, Demand: 15, ServiceTimeMin: 10},
			{ID: "D3", CustomerName: "Garment District", Lat: 40.7505, Lng: -73.9934, Demand: 30, ServiceTimeMin: 10},
		},
		Vehicles: []model.VehicleIn{
			{ID: "V1", Capacity: 100, CostPerKm: 2, MaxDistanceKm: 200},
			{ID: "V2", Capacity: 150, CostPerKm: 2.5, MaxDistanceKm: 200},
		},
	})
}

// DemoAllocationRequestHandler returns a canned payload for POST /v1/allocate.
func (s *Server) DemoAllocationRequestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, model.AllocateRequest{
		Orders: []model.OrderIn{
			{ID: "ORD-1001", Lat: 40.7420, Lng: -73.9890, Items: []model.OrderItemIn{{SKU: "SKU-100", Quantity: 3}}},
			{ID: "ORD-1002", Lat: 40.6650, Lng: -74.1000, Items: []model.OrderItemIn{{SKU: "SKU-300", Quantity: 12}}},
		},
	})
}

// EngineConfigHandler returns effective engine defaults for the tenant.
func (s *Server) EngineConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/engine/config" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	defaults := map[string]any{
		"defaultMode":       vrp.ModeMinDistance,
		"timeBudgetMs":      int(vrp.DefaultTimeBudget / time.Millisecond),
		"spanCoefficient":   vrp.DefaultSpanCoefficient,
		"avgSpeedKmh":       vrp.DefaultSpeedKmh,
		"costPerKm":         allocation.DefaultOptions().CostPerKm.String(),
		"utilizationWeight": allocation.DefaultUtilizationWeight,
	}
	ctx, tenant := s.withTenant(r)
	cfg, _ := s.Store.GetEngineConfig(ctx, tenant)
	if cfg.DefaultMode != "" {
		defaults["defaultMode"] = cfg.DefaultMode
	}
	if cfg.TimeBudgetMs > 0 {
		defaults["timeBudgetMs"] = cfg.TimeBudgetMs
	}
	if cfg.SpanCoefficient > 0 {
		defaults["spanCoefficient"] = cfg.SpanCoefficient
	}
	if cfg.AvgSpeedKmh > 0 {
		defaults["avgSpeedKmh"] = cfg.AvgSpeedKmh
	}
	if cfg.CostPerKm != "" {
		defaults["costPerKm"] = cfg.CostPerKm
	}
	if cfg.UtilizationWeight > 0 {
		defaults["utilizationWeight"] = cfg.UtilizationWeight
	}
	writeJSON(w, http.StatusOK, map[string]any{"defaults": defaults})
}

// AdminEngineConfigHandler gets and sets per-tenant engine overrides.
func (s *Server) AdminEngineConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/engine/config" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Store.GetEngineConfig(ctx, tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load config failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config *model.EngineConfig `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, http.StatusBadRequest, "Missing config", "", r.URL.Path)
			return
		}
		if m := body.Config.DefaultMode; m != "" && m != vrp.ModeMinDistance && m != vrp.ModeMinCost {
			writeProblem(w, http.StatusBadRequest, "Invalid config", fmt.Sprintf("unknown mode %q", m), r.URL.Path)
			return
		}
		if err := s.Store.SaveEngineConfig(ctx, tenant, *body.Config); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = tenant
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(ctx, req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		// Signing secrets are write-only.
		sub.Secret = ""
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(ctx, tenant, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(ctx, tenant, id); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler lists webhook deliveries for the tenant.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListWebhookDeliveries(ctx, tenant, status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler requeues a delivery for immediate retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(ctx, tenant, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Delivery not found", fmt.Sprintf("no delivery %s", id), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Boundary conversions between wire types and the solver/allocator.

func toVrpLocation(l model.Location) vrp.Location {
	return vrp.Location{ID: l.ID, Name: l.Name, Lat: l.Lat, Lng: l.Lng, Kind: l.Kind}
}

func toVrpDeliveries(in []model.DeliveryIn) []vrp.Delivery {
	out := make([]vrp.Delivery, 0, len(in))
	for _, d := range in {
		vd := vrp.Delivery{
			ID: d.ID, CustomerID: d.CustomerID, CustomerName: d.CustomerName,
			Lat: d.Lat, Lng: d.Lng, Address: d.Address,
			Demand: d.Demand, ServiceTimeMin: d.ServiceTimeMin, Priority: d.Priority,
		}
		if d.TimeWindow != nil {
			vd.TimeWindow = &vrp.Window{Start: d.TimeWindow.Start, End: d.TimeWindow.End}
		}
		out = append(out, vd)
	}
	return out
}

func toVrpVehicles(in []model.VehicleIn) []vrp.Vehicle {
	out := make([]vrp.Vehicle, 0, len(in))
	for _, v := range in {
		out = append(out, vrp.Vehicle{ID: v.ID, Capacity: v.Capacity, CostPerKm: v.CostPerKm, MaxDistanceKm: v.MaxDistanceKm})
	}
	return out
}

func toModelStats(st vrp.Stats) model.SolveStats {
	return model.SolveStats{
		Iterations:       st.Iterations,
		Improvements:     st.Improvements,
		PenaltyRounds:    st.PenaltyRounds,
		PenalizedArcs:    st.PenalizedArcs,
		InitialObjective: st.InitialObjective,
		FinalObjective:   st.FinalObjective,
		ConstructionMs:   st.ConstructionMs,
		ImprovementMs:    st.ImprovementMs,
	}
}

func toAllocOrders(in []model.OrderIn) []allocation.Order {
	out := make([]allocation.Order, 0, len(in))
	for _, o := range in {
		ao := allocation.Order{ID: o.ID, Lat: o.Lat, Lng: o.Lng}
		for _, it := range o.Items {
			ao.Items = append(ao.Items, allocation.Item{SKU: it.SKU, Quantity: it.Quantity})
		}
		out = append(out, ao)
	}
	return out
}

func toAllocCandidates(in []model.Warehouse) []allocation.Candidate {
	out := make([]allocation.Candidate, 0, len(in))
	for _, wh := range in {
		out = append(out, allocation.Candidate{
			WarehouseID: wh.ID, Name: wh.Name, Lat: wh.Lat, Lng: wh.Lng,
			Utilization: wh.CurrentUtilization, Stock: wh.Stock,
		})
	}
	return out
}

func toModelBatch(batchID string, b allocation.Batch) model.AllocationBatch {
	out := model.AllocationBatch{
		BatchID:            batchID,
		TotalOrders:        b.TotalOrders,
		Successful:         b.Successful,
		Failed:             b.Failed,
		TotalEstimatedCost: b.TotalEstimatedCost,
		Allocations:        make([]model.AllocationOut, 0, len(b.Allocations)),
		GeneratedAt:        b.GeneratedAt.UTC().Format(time.RFC3339),
	}
	for _, a := range b.Allocations {
		out.Allocations = append(out.Allocations, model.AllocationOut{
			OrderID:              a.OrderID,
			WarehouseID:          a.WarehouseID,
			WarehouseName:        a.WarehouseName,
			DistanceKm:           a.DistanceKm,
			EstimatedCost:        a.EstimatedCost,
			EstimatedHours:       a.EstimatedHours,
			WarehouseUtilization: pct(a.Utilization),
		})
	}
	for _, f := range b.Failures {
		out.Failures = append(out.Failures, model.AllocationFailure{OrderID: f.OrderID, Error: f.Err.Error()})
	}
	return out
}

func pct(frac float64) float64 {
	return math.Round(frac*1000) / 10
}
