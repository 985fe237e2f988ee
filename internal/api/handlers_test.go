package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetroute/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestDemoSolveRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.DemoSolveRequestHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/demo/sample-solve-request", nil))
	if rr.Code != 200 {
		t.Fatalf("demo payload: %d", rr.Code)
	}
	var req model.SolveRequest
	if err := json.Unmarshal(rr.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode demo: %v", err)
	}

	rr = postJSON(t, s.SolveHandler, "/v1/solve", req)
	if rr.Code != 200 {
		t.Fatalf("solve: %d body=%s", rr.Code, rr.Body.String())
	}
	var res model.SolveResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode solve: %v", err)
	}
	if res.Status != "solved" {
		t.Fatalf("status: %s", res.Status)
	}
	if !strings.HasPrefix(res.SolveID, "slv_") {
		t.Fatalf("solveId: %s", res.SolveID)
	}
	if len(res.Routes) == 0 {
		t.Fatalf("no routes")
	}
	seen := map[string]int{}
	for _, rt := range res.Routes {
		if len(rt.Stops) < 3 {
			t.Fatalf("route %s too short: %d stops", rt.VehicleID, len(rt.Stops))
		}
		if rt.Stops[0].Kind != "depot" || rt.Stops[len(rt.Stops)-1].Kind != "depot" {
			t.Fatalf("route %s does not start and end at depot", rt.VehicleID)
		}
		load := 0.0
		for _, st := range rt.Stops {
			if st.Kind == "delivery" {
				seen[st.DeliveryID]++
				load += st.Demand
			}
		}
		if load > rt.VehicleCapacity {
			t.Fatalf("route %s overloaded: %.1f > %.1f", rt.VehicleID, load, rt.VehicleCapacity)
		}
	}
	for _, id := range []string{"D1", "D2", "D3"} {
		if seen[id] != 1 {
			t.Fatalf("delivery %s served %d times", id, seen[id])
		}
	}
	if res.Summary.TotalDeliveries != 3 {
		t.Fatalf("summary deliveries: %d", res.Summary.TotalDeliveries)
	}
	if res.Summary.TotalDistanceKm <= 0 {
		t.Fatalf("summary distance: %v", res.Summary.TotalDistanceKm)
	}

	// Stats are recorded in-process before the response is written.
	rr = httptest.NewRecorder()
	s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/"+res.SolveID+"/stats", nil))
	if rr.Code != 200 {
		t.Fatalf("stats: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/stats", nil))
	if rr.Code != 200 {
		t.Fatalf("stats listing: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), res.SolveID) {
		t.Fatalf("stats listing missing %s: %s", res.SolveID, rr.Body.String())
	}

	// History is persisted from a goroutine; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = httptest.NewRecorder()
		s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/"+res.SolveID, nil))
		if rr.Code == 200 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("solution never persisted: %d", rr.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}
	var rec model.SolutionRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Status != "solved" || rec.ID != res.SolveID {
		t.Fatalf("record: %+v", rec)
	}

	rr = httptest.NewRecorder()
	s.SolutionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions?limit=10", nil))
	if rr.Code != 200 {
		t.Fatalf("list solutions: %d", rr.Code)
	}
	var list struct {
		Items []model.SolutionRecord `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) == 0 {
		t.Fatalf("empty history")
	}
}

func TestSolveHonorsClientSolveID(t *testing.T) {
	s := newTestServer(t)
	b, _ := json.Marshal(map[string]any{
		"depotId":    "WH001",
		"deliveries": []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 10}},
		"vehicles":   []map[string]any{{"id": "V1", "capacity": 100, "maxDistanceKm": 200}},
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Solve-Id", "slv_client_7")
	s.SolveHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("solve: %d", rr.Code)
	}
	var res model.SolveResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.SolveID != "slv_client_7" {
		t.Fatalf("solveId: %s", res.SolveID)
	}
}

func TestSolveUnknownDepot(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.SolveHandler, "/v1/solve", map[string]any{
		"depotId":    "nope",
		"deliveries": []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 10}},
		"vehicles":   []map[string]any{{"id": "V1", "capacity": 100, "maxDistanceKm": 200}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type: %s", ct)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Status != 400 || p.Title != "Unknown depot" {
		t.Fatalf("problem: %+v", p)
	}
}

func TestSolveRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	okDeliveries := []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 10}}
	okVehicles := []map[string]any{{"id": "V1", "capacity": 100, "maxDistanceKm": 200}}
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing depot", map[string]any{"deliveries": okDeliveries, "vehicles": okVehicles}},
		{"unknown mode", map[string]any{"depotId": "WH001", "mode": "fastest", "deliveries": okDeliveries, "vehicles": okVehicles}},
		{"budget too large", map[string]any{"depotId": "WH001", "timeBudgetMs": 600000, "deliveries": okDeliveries, "vehicles": okVehicles}},
		{"no deliveries", map[string]any{"depotId": "WH001", "deliveries": []any{}, "vehicles": okVehicles}},
		{"no vehicles", map[string]any{"depotId": "WH001", "deliveries": okDeliveries, "vehicles": []any{}}},
		{"negative demand", map[string]any{"depotId": "WH001", "deliveries": []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": -5}}, "vehicles": okVehicles}},
		{"zero capacity", map[string]any{"depotId": "WH001", "deliveries": okDeliveries, "vehicles": []map[string]any{{"id": "V1", "capacity": 0, "maxDistanceKm": 200}}}},
		{"bad latitude", map[string]any{"depotId": "WH001", "deliveries": []map[string]any{{"id": "D1", "lat": 95, "lng": -73.98, "demand": 10}}, "vehicles": okVehicles}},
		{"duplicate delivery id", map[string]any{"depotId": "WH001", "deliveries": []map[string]any{
			{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 10},
			{"id": "D1", "lat": 40.76, "lng": -73.97, "demand": 5},
		}, "vehicles": okVehicles}},
	}
	for _, tc := range cases {
		rr := postJSON(t, s.SolveHandler, "/v1/solve", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d body=%s", tc.name, rr.Code, rr.Body.String())
		}
	}
}

func TestSolveInfeasibleOverCapacity(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.SolveHandler, "/v1/solve", map[string]any{
		"depotId":    "WH001",
		"deliveries": []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 500}},
		"vehicles": []map[string]any{
			{"id": "V1", "capacity": 100, "maxDistanceKm": 200},
			{"id": "V2", "capacity": 150, "maxDistanceKm": 200},
		},
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got %d body=%s", rr.Code, rr.Body.String())
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Status != 422 || !strings.Contains(p.Detail, "D1") {
		t.Fatalf("problem: %+v", p)
	}
}

func TestAllocateRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.DemoAllocationRequestHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/demo/sample-allocation-request", nil))
	if rr.Code != 200 {
		t.Fatalf("demo payload: %d", rr.Code)
	}
	var req model.AllocateRequest
	if err := json.Unmarshal(rr.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode demo: %v", err)
	}

	rr = postJSON(t, s.AllocateHandler, "/v1/allocate", req)
	if rr.Code != 200 {
		t.Fatalf("allocate: %d body=%s", rr.Code, rr.Body.String())
	}
	var batch model.AllocationBatch
	if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if !strings.HasPrefix(batch.BatchID, "alloc_") {
		t.Fatalf("batchId: %s", batch.BatchID)
	}
	if batch.TotalOrders != 2 || batch.Successful != 2 || batch.Failed != 0 {
		t.Fatalf("counts: %+v", batch)
	}
	for _, a := range batch.Allocations {
		if a.DistanceKm <= 0 || a.EstimatedHours <= 0 {
			t.Fatalf("allocation %s: %+v", a.OrderID, a)
		}
		// SKU-300 is only stocked in Newark.
		if a.OrderID == "ORD-1002" && a.WarehouseID != "WH-WEST" {
			t.Fatalf("ORD-1002 went to %s", a.WarehouseID)
		}
	}
	if batch.TotalEstimatedCost.IsZero() {
		t.Fatalf("total cost should not be zero")
	}
}

func TestAllocateUnfulfillableOrder(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.AllocateHandler, "/v1/allocate", map[string]any{
		"orders": []map[string]any{
			{"id": "ORD-1", "lat": 40.74, "lng": -73.99, "items": []map[string]any{{"sku": "SKU-999", "quantity": 1}}},
		},
	})
	if rr.Code != 200 {
		t.Fatalf("allocate: %d", rr.Code)
	}
	var batch model.AllocationBatch
	if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if batch.Successful != 0 || batch.Failed != 1 {
		t.Fatalf("counts: %+v", batch)
	}
	if len(batch.Failures) != 1 || batch.Failures[0].OrderID != "ORD-1" || batch.Failures[0].Error == "" {
		t.Fatalf("failures: %+v", batch.Failures)
	}
}

func TestAllocateRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body map[string]any
	}{
		{"empty orders", map[string]any{"orders": []any{}}},
		{"missing id", map[string]any{"orders": []map[string]any{{"lat": 40.7, "lng": -74.0}}}},
		{"duplicate id", map[string]any{"orders": []map[string]any{
			{"id": "O1", "lat": 40.7, "lng": -74.0},
			{"id": "O1", "lat": 40.8, "lng": -74.1},
		}}},
		{"bad coords", map[string]any{"orders": []map[string]any{{"id": "O1", "lat": 120, "lng": -74.0}}}},
		{"zero quantity", map[string]any{"orders": []map[string]any{
			{"id": "O1", "lat": 40.7, "lng": -74.0, "items": []map[string]any{{"sku": "SKU-100", "quantity": 0}}},
		}}},
	}
	for _, tc := range cases {
		rr := postJSON(t, s.AllocateHandler, "/v1/allocate", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d", tc.name, rr.Code)
		}
	}
}

func TestEstimateHandler(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.EstimateHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/estimate?from=WH001&to=CUST001", nil))
	if rr.Code != 200 {
		t.Fatalf("estimate: %d body=%s", rr.Code, rr.Body.String())
	}
	var est model.EstimateOut
	if err := json.Unmarshal(rr.Body.Bytes(), &est); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if est.FromLocation != "WH001" || est.ToLocation != "CUST001" {
		t.Fatalf("endpoints: %+v", est)
	}
	if est.DistanceKm < 4 || est.DistanceKm > 7 {
		t.Fatalf("distance out of expected band: %v", est.DistanceKm)
	}
	if est.TrafficFactor != 1.0 || est.EstimatedMinutes <= 0 {
		t.Fatalf("estimate: %+v", est)
	}

	rr = httptest.NewRecorder()
	s.EstimateHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/estimate?from=WH001&to=CUST001&trafficFactor=2.0", nil))
	var est2 model.EstimateOut
	if err := json.Unmarshal(rr.Body.Bytes(), &est2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if est2.EstimatedHours <= est.EstimatedHours {
		t.Fatalf("traffic factor should raise hours: %v vs %v", est2.EstimatedHours, est.EstimatedHours)
	}
}

func TestEstimateValidation(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct {
		url  string
		want int
	}{
		{"/v1/estimate?from=WH001", 400},
		{"/v1/estimate?from=WH001&to=CUST001&trafficFactor=9", 400},
		{"/v1/estimate?from=WH001&to=CUST001&trafficFactor=abc", 400},
		{"/v1/estimate?from=WH001&to=ZZZ", 404},
	} {
		rr := httptest.NewRecorder()
		s.EstimateHandler(rr, httptest.NewRequest(http.MethodGet, tc.url, nil))
		if rr.Code != tc.want {
			t.Fatalf("%s: got %d want %d", tc.url, rr.Code, tc.want)
		}
	}
}

func TestLocationsCreateListGet(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.LocationsHandler, "/v1/locations", map[string]any{
		"id": "LOC-9", "name": "Dock 9", "lat": 40.71, "lng": -74.01, "kind": "supplier",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.LocationsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/locations?kind=supplier", nil))
	if rr.Code != 200 {
		t.Fatalf("list: %d", rr.Code)
	}
	var list struct {
		Items []model.Location `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != "LOC-9" {
		t.Fatalf("list: %+v", list.Items)
	}

	rr = httptest.NewRecorder()
	s.LocationByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/locations/LOC-9", nil))
	if rr.Code != 200 {
		t.Fatalf("get: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.LocationByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/locations/ghost", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing: %d", rr.Code)
	}

	rr = postJSON(t, s.LocationsHandler, "/v1/locations", map[string]any{"lat": 95.0, "lng": 0.0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad coords: %d", rr.Code)
	}
	rr = postJSON(t, s.LocationsHandler, "/v1/locations", map[string]any{"lat": 40.7, "lng": -74.0, "kind": "plane"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: %d", rr.Code)
	}
}

func TestWarehousesCreateList(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.WarehousesHandler, "/v1/warehouses", map[string]any{
		"id": "WH-NEW", "name": "Bronx Annex", "lat": 40.85, "lng": -73.88,
		"storageCapacity": 500, "currentUtilization": 0.2, "stock": map[string]int{"SKU-100": 10},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.WarehousesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/warehouses", nil))
	if rr.Code != 200 {
		t.Fatalf("list: %d", rr.Code)
	}
	var list struct {
		Items []model.Warehouse `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 3 {
		t.Fatalf("expected 2 seeded + 1 created, got %d", len(list.Items))
	}

	rr = postJSON(t, s.WarehousesHandler, "/v1/warehouses", map[string]any{
		"name": "Bad", "lat": 40.8, "lng": -73.9, "currentUtilization": 1.5,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad utilization: %d", rr.Code)
	}
}

func TestEngineConfigOverlay(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.EngineConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/engine/config", nil))
	if rr.Code != 200 {
		t.Fatalf("defaults: %d", rr.Code)
	}
	var out struct {
		Defaults map[string]any `json:"defaults"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Defaults["defaultMode"] != "minimize_distance" {
		t.Fatalf("mode default: %v", out.Defaults["defaultMode"])
	}
	if out.Defaults["timeBudgetMs"] != float64(30000) {
		t.Fatalf("budget default: %v", out.Defaults["timeBudgetMs"])
	}

	b, _ := json.Marshal(map[string]any{"config": map[string]any{
		"defaultMode": "minimize_cost", "timeBudgetMs": 5000, "avgSpeedKmh": 40,
	}})
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/engine/config", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	s.AdminEngineConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("put config: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.EngineConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/engine/config", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Defaults["defaultMode"] != "minimize_cost" || out.Defaults["timeBudgetMs"] != float64(5000) {
		t.Fatalf("overlay: %v", out.Defaults)
	}

	rr = httptest.NewRecorder()
	s.AdminEngineConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/engine/config", nil))
	if rr.Code != 200 {
		t.Fatalf("get config: %d", rr.Code)
	}

	b, _ = json.Marshal(map[string]any{"config": map[string]any{"defaultMode": "fastest"}})
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/v1/admin/engine/config", bytes.NewReader(b))
	s.AdminEngineConfigHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad mode: %d", rr.Code)
	}
}

func TestSubscriptionsAndDeliveriesFlow(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", map[string]any{
		"url": "https://example.invalid/hook", "events": []string{"solve.completed"}, "secret": "shh",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d body=%s", rr.Code, rr.Body.String())
	}
	var sub model.Subscription
	if err := json.Unmarshal(rr.Body.Bytes(), &sub); err != nil || sub.ID == "" {
		t.Fatalf("decode sub: %v %+v", err, sub)
	}

	rr = postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", map[string]any{"url": "https://example.invalid"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing events: %d", rr.Code)
	}

	// A completed solve enqueues one delivery for the subscription.
	rr = postJSON(t, s.SolveHandler, "/v1/solve", map[string]any{
		"depotId":    "WH001",
		"deliveries": []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 10}},
		"vehicles":   []map[string]any{{"id": "V1", "capacity": 100, "maxDistanceKm": 200}},
	})
	if rr.Code != 200 {
		t.Fatalf("solve: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.WebhookDeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries?limit=10", nil))
	if rr.Code != 200 {
		t.Fatalf("deliveries: %d", rr.Code)
	}
	var dres struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil {
		t.Fatalf("decode deliveries: %v", err)
	}
	if len(dres.Items) == 0 {
		t.Fatalf("expected at least one delivery")
	}
	if et, _ := dres.Items[0]["eventType"].(string); et != "solve.completed" {
		t.Fatalf("eventType: %v", dres.Items[0]["eventType"])
	}
	id, _ := dres.Items[0]["id"].(string)

	rr = httptest.NewRecorder()
	s.WebhookDeliveryRetryHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/webhook-deliveries/"+id+"/retry", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("retry: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.WebhookDeliveryRetryHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/webhook-deliveries/ghost/retry", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("retry missing: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete sub: %d", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	mu   sync.Mutex
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}

func (r *sseRecorder) WriteHeader(c int) { r.code = c }

func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *sseRecorder) Flush() {}

func (r *sseRecorder) body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf.Bytes()...)
}

func TestSolutionEventsSSE(t *testing.T) {
	s := newTestServer(t)
	solveID := "slv_sse"

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/solutions/"+solveID+"/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.SolutionByIDHandler(rec, sseReq)
		close(done)
	}()

	// Give the handler time to subscribe and send the first heartbeat.
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(solveID, SSEEvent{Type: "solve.progress", Data: map[string]any{"solveId": solveID, "iteration": 40}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.body(), []byte("event: solve.progress")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	body := rec.body()
	if !bytes.Contains(body, []byte("event: heartbeat")) {
		t.Fatalf("missing heartbeat. Body: %s", body)
	}
	if !bytes.Contains(body, []byte("event: solve.progress")) {
		t.Fatalf("missing event. Body: %s", body)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestSolveStreamWS(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.SolveStreamWSHandler))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		t.Fatalf("ack: %v %+v", err, ack)
	}

	payload, _ := json.Marshal(map[string]any{
		"query":     "subscription { solveEvents }",
		"variables": map[string]any{"solveId": "slv_ws"},
	})
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: payload}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Publish until the server-side subscription picks one up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(25 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				s.Broker.Publish("slv_ws", SSEEvent{Type: "solve.progress", Data: map[string]any{"solveId": "slv_ws", "iteration": 10}})
			}
		}
	}()

	var next wsMessage
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.Type != "next" || next.ID != "1" {
		t.Fatalf("unexpected message: %+v", next)
	}
	if !bytes.Contains(next.Payload, []byte("solve.progress")) || !bytes.Contains(next.Payload, []byte("solveEvents")) {
		t.Fatalf("payload: %s", next.Payload)
	}
}

func TestGraphQLQueries(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.SolveHandler, "/v1/solve", map[string]any{
		"depotId":    "WH001",
		"deliveries": []map[string]any{{"id": "D1", "lat": 40.75, "lng": -73.98, "demand": 10}},
		"vehicles":   []map[string]any{{"id": "V1", "capacity": 100, "maxDistanceKm": 200}},
	})
	if rr.Code != 200 {
		t.Fatalf("solve: %d", rr.Code)
	}
	var res model.SolveResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode solve: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = httptest.NewRecorder()
		s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/"+res.SolveID, nil))
		if rr.Code == 200 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("solution never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr = postJSON(t, s.GraphQLHTTPHandler, "/graphql", map[string]any{"query": "query { solutions }"})
	if rr.Code != 200 {
		t.Fatalf("graphql solutions: %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), res.SolveID) {
		t.Fatalf("solutions missing %s: %s", res.SolveID, rr.Body.String())
	}

	rr = postJSON(t, s.GraphQLHTTPHandler, "/graphql", map[string]any{
		"query":     "query($id: ID!) { solution(id: $id) }",
		"variables": map[string]any{"id": res.SolveID},
	})
	if rr.Code != 200 {
		t.Fatalf("graphql solution: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, s.GraphQLHTTPHandler, "/graphql", map[string]any{"query": "query { vehicles }"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unsupported query: %d", rr.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Setenv("RATE_RPS", "1")
	t.Setenv("RATE_BURST", "1")
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	h := Middleware(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	if rr.Code != 200 {
		t.Fatalf("first: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type: %s", ct)
	}

	// Probes bypass the limiter.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code == http.StatusTooManyRequests {
		t.Fatalf("health should be exempt")
	}
}
