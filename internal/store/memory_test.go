package store

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fleetroute/internal/model"
)

func TestMemorySeedsDemoData(t *testing.T) {
	m := NewMemory()
	depot, err := m.GetLocation(t.Context(), "t_demo", "WH001")
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if depot.Kind != "depot" || depot.Name != "NYC Warehouse" {
		t.Fatalf("unexpected depot seed: %+v", depot)
	}
	custs, _, err := m.ListLocations(t.Context(), "t_demo", "customer", "", 50)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(custs) != 2 {
		t.Fatalf("want 2 seeded customers, got %d", len(custs))
	}
	whs, err := m.ListWarehouses(t.Context(), "t_demo")
	if err != nil {
		t.Fatalf("ListWarehouses: %v", err)
	}
	if len(whs) != 2 || whs[0].ID != "WH-EAST" || whs[1].ID != "WH-WEST" {
		t.Fatalf("want WH-EAST,WH-WEST, got %+v", whs)
	}
	if whs[0].Stock["SKU-100"] != 120 {
		t.Fatalf("seed stock missing: %+v", whs[0].Stock)
	}
}

func TestMemoryLocationRoundTrip(t *testing.T) {
	m := NewMemory()
	l, err := m.CreateLocation(t.Context(), "t1", model.LocationIn{Name: "Dock 9", Lat: 40.70, Lng: -74.01})
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	if l.ID == "" {
		t.Fatalf("expected generated id")
	}
	if l.Kind != "customer" {
		t.Fatalf("kind should default to customer, got %q", l.Kind)
	}
	got, err := m.GetLocation(t.Context(), "t1", l.ID)
	if err != nil || got.Name != "Dock 9" {
		t.Fatalf("GetLocation: %v %+v", err, got)
	}
	if _, err := m.GetLocation(t.Context(), "t2", l.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read should be ErrNotFound, got %v", err)
	}
	// re-create with the same id should not duplicate the listing
	if _, err := m.CreateLocation(t.Context(), "t1", model.LocationIn{ID: l.ID, Name: "Dock 9b", Lat: 40.70, Lng: -74.01}); err != nil {
		t.Fatalf("CreateLocation update: %v", err)
	}
	all, _, err := m.ListLocations(t.Context(), "t1", "", "", 50)
	if err != nil || len(all) != 1 {
		t.Fatalf("want 1 location after upsert, got %d (%v)", len(all), err)
	}
	if all[0].Name != "Dock 9b" {
		t.Fatalf("upsert did not replace: %+v", all[0])
	}
}

func TestMemoryListLocationsCursor(t *testing.T) {
	m := NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.CreateLocation(t.Context(), "t_pag", model.LocationIn{ID: id, Lat: 1, Lng: 1}); err != nil {
			t.Fatalf("CreateLocation %s: %v", id, err)
		}
	}
	page, next, err := m.ListLocations(t.Context(), "t_pag", "", "", 2)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(page) != 2 || next != "b" {
		t.Fatalf("first page: got %d items, next %q", len(page), next)
	}
	page, next, err = m.ListLocations(t.Context(), "t_pag", "", next, 2)
	if err != nil {
		t.Fatalf("ListLocations page 2: %v", err)
	}
	if len(page) != 1 || page[0].ID != "c" || next != "" {
		t.Fatalf("second page: got %+v next %q", page, next)
	}
}

func TestMemorySolutionsRoundTrip(t *testing.T) {
	m := NewMemory()
	recs := []model.SolutionRecord{
		{ID: "slv_1", TenantID: "t1", Status: "solved", Mode: "minimize_distance", Objective: 12345, CreatedAt: time.Now().UTC().Format(time.RFC3339)},
		{ID: "slv_2", TenantID: "t1", Status: "infeasible", Reason: "total demand 400.0 exceeds fleet capacity 250.0", Mode: "minimize_distance", CreatedAt: time.Now().UTC().Format(time.RFC3339)},
	}
	for _, rec := range recs {
		if err := m.InsertSolution(t.Context(), rec); err != nil {
			t.Fatalf("InsertSolution: %v", err)
		}
	}
	got, err := m.GetSolution(t.Context(), "t1", "slv_2")
	if err != nil {
		t.Fatalf("GetSolution: %v", err)
	}
	if got.Status != "infeasible" || got.Reason == "" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if _, err := m.GetSolution(t.Context(), "t_other", "slv_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read should be ErrNotFound, got %v", err)
	}
	solved, _, err := m.ListSolutions(t.Context(), "t1", "solved", "", 50)
	if err != nil {
		t.Fatalf("ListSolutions: %v", err)
	}
	if len(solved) != 1 || solved[0].ID != "slv_1" {
		t.Fatalf("status filter: %+v", solved)
	}
}

func TestMemoryStatsAndConfig(t *testing.T) {
	m := NewMemory()
	st := model.SolveStats{Iterations: 900, Improvements: 41, PenaltyRounds: 7, InitialObjective: 100, FinalObjective: 80}
	if err := m.SaveSolveStats(t.Context(), "t1", "slv_1", "2026-08-26", st); err != nil {
		t.Fatalf("SaveSolveStats: %v", err)
	}
	got, err := m.GetSolveStats(t.Context(), "t1", "slv_1")
	if err != nil || got.Iterations != 900 {
		t.Fatalf("GetSolveStats: %v %+v", err, got)
	}
	if _, err := m.GetSolveStats(t.Context(), "t1", "slv_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing stats should be ErrNotFound, got %v", err)
	}

	cfg, err := m.GetEngineConfig(t.Context(), "t1")
	if err != nil {
		t.Fatalf("GetEngineConfig: %v", err)
	}
	if cfg.DefaultMode != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
	if err := m.SaveEngineConfig(t.Context(), "t1", model.EngineConfig{DefaultMode: "minimize_cost", TimeBudgetMs: 5000, CostPerKm: "2.50"}); err != nil {
		t.Fatalf("SaveEngineConfig: %v", err)
	}
	cfg, err = m.GetEngineConfig(t.Context(), "t1")
	if err != nil || cfg.DefaultMode != "minimize_cost" || cfg.TenantID != "t1" {
		t.Fatalf("config round trip: %v %+v", err, cfg)
	}
}

func TestMemorySubscriptions(t *testing.T) {
	m := NewMemory()
	s1, err := m.CreateSubscription(t.Context(), model.SubscriptionRequest{TenantID: "t1", URL: "https://hooks.example.com/a", Events: []string{"solve.completed"}, Secret: "s3cr3t"})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if _, err := m.CreateSubscription(t.Context(), model.SubscriptionRequest{TenantID: "t1", URL: "https://hooks.example.com/b", Events: []string{"allocation.completed"}}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	subs, err := m.GetSubscriptionsForEvent(t.Context(), "t1", "solve.completed")
	if err != nil {
		t.Fatalf("GetSubscriptionsForEvent: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != s1.ID {
		t.Fatalf("event filter: %+v", subs)
	}
	all, _, err := m.ListSubscriptions(t.Context(), "t1", "", 50)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListSubscriptions: %v (%d)", err, len(all))
	}
	if err := m.DeleteSubscription(t.Context(), "t1", s1.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	subs, _ = m.GetSubscriptionsForEvent(t.Context(), "t1", "solve.completed")
	if len(subs) != 0 {
		t.Fatalf("subscription should be gone, got %+v", subs)
	}
}

func TestMemoryWebhookLifecycle(t *testing.T) {
	m := NewMemory()
	id, err := m.EnqueueWebhook(t.Context(), "t1", "sub_1", "solve.completed", "https://hooks.example.com/a", "s3cr3t", []byte(`{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(t.Context(), 10)
	if err != nil {
		t.Fatalf("FetchDueWebhookDeliveries: %v", err)
	}
	if len(due) != 1 || due[0].ID != id || due[0].Status != "pending" {
		t.Fatalf("expected one pending delivery, got %+v", due)
	}

	// failed attempt schedules a retry in the future
	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(t.Context(), id, false, &next, "connection refused", 0, 12); err != nil {
		t.Fatalf("MarkWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(t.Context(), 10)
	if len(due) != 0 {
		t.Fatalf("retry should not be due yet, got %+v", due)
	}

	// manual retry makes it due now again
	if err := m.RetryWebhookDelivery(t.Context(), "t1", id); err != nil {
		t.Fatalf("RetryWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(t.Context(), 10)
	if len(due) != 1 {
		t.Fatalf("retried delivery should be due, got %d", len(due))
	}
	if err := m.MarkWebhookDelivery(t.Context(), id, true, nil, "", 200, 30); err != nil {
		t.Fatalf("MarkWebhookDelivery success: %v", err)
	}
	items, _, err := m.ListWebhookDeliveries(t.Context(), "t1", "delivered", "", 50)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListWebhookDeliveries: %v (%d)", err, len(items))
	}
	if items[0]["attempts"] != 2 {
		t.Fatalf("want 2 attempts, got %v", items[0]["attempts"])
	}
	if err := m.RetryWebhookDelivery(t.Context(), "t_other", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant retry should be ErrNotFound, got %v", err)
	}
}

func TestMemoryAllocationBatchInsert(t *testing.T) {
	m := NewMemory()
	batch := model.AllocationBatch{
		BatchID:            "alloc_1",
		TotalOrders:        2,
		Successful:         1,
		Failed:             1,
		TotalEstimatedCost: decimal.RequireFromString("18.40"),
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.InsertAllocationBatch(t.Context(), "t1", batch); err != nil {
		t.Fatalf("InsertAllocationBatch: %v", err)
	}
	// idempotent on the same id
	if err := m.InsertAllocationBatch(t.Context(), "t1", batch); err != nil {
		t.Fatalf("InsertAllocationBatch repeat: %v", err)
	}
}
