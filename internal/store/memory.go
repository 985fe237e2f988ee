package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// It comes pre-seeded with the demo locations and warehouses so the
// sample requests work against a fresh process.
type Memory struct {
	mu       sync.Mutex
	locs     map[string]model.Location       // id -> location
	locTen   map[string][]string             // tenant -> location ids
	whs      map[string]model.Warehouse      // id -> warehouse
	whTen    map[string][]string             // tenant -> warehouse ids
	sols     map[string]model.SolutionRecord // solve id -> record
	solTen   map[string][]string             // tenant -> solve ids
	batches  map[string]model.AllocationBatch
	batchTen map[string][]string
	stats    map[string]model.SolveStats  // tenant|solveId -> stats
	engCfg   map[string]model.EngineConfig
	subs     map[string][]model.Subscription
	// Webhooks queue state
	deliveries         map[string]*memDelivery
	deliveryOrder      []string // enqueue order, drives FetchDue
	deliveriesByTenant map[string][]string
	dlq                []map[string]any
}

func NewMemory() *Memory {
	m := &Memory{
		locs:               map[string]model.Location{},
		locTen:             map[string][]string{},
		whs:                map[string]model.Warehouse{},
		whTen:              map[string][]string{},
		sols:               map[string]model.SolutionRecord{},
		solTen:             map[string][]string{},
		batches:            map[string]model.AllocationBatch{},
		batchTen:           map[string][]string{},
		stats:              map[string]model.SolveStats{},
		engCfg:             map[string]model.EngineConfig{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		dlq:                []map[string]any{},
	}
	m.seedDemo("t_demo")
	return m
}

// seedDemo installs the stock demo fixtures: a depot, two customers and
// two stocked warehouses.
func (m *Memory) seedDemo(tenantID string) {
	seedLocs := []model.Location{
		{ID: "WH001", TenantID: tenantID, Name: "NYC Warehouse", Lat: 40.7128, Lng: -74.0060, Address: "1 Depot Way, New York, NY", Kind: "depot"},
		{ID: "CUST001", TenantID: tenantID, Name: "Midtown Customer", Lat: 40.7589, Lng: -73.9851, Address: "Times Square, New York, NY", Kind: "customer"},
		{ID: "CUST002", TenantID: tenantID, Name: "Harbor Customer", Lat: 40.6892, Lng: -74.0445, Address: "Liberty Island, New York, NY", Kind: "customer"},
	}
	for _, l := range seedLocs {
		m.locs[l.ID] = l
		m.locTen[tenantID] = append(m.locTen[tenantID], l.ID)
	}
	seedWhs := []model.Warehouse{
		{ID: "WH-EAST", TenantID: tenantID, Name: "Queens Fulfillment", Lat: 40.7282, Lng: -73.7949, StorageCapacity: 1000, CurrentUtilization: 0.55, Stock: map[string]int{"SKU-100": 120, "SKU-200": 40}},
		{ID: "WH-WEST", TenantID: tenantID, Name: "Newark Fulfillment", Lat: 40.6710, Lng: -74.1180, StorageCapacity: 800, CurrentUtilization: 0.30, Stock: map[string]int{"SKU-100": 60, "SKU-300": 200}},
	}
	for _, w := range seedWhs {
		m.whs[w.ID] = w
		m.whTen[tenantID] = append(m.whTen[tenantID], w.ID)
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

// Locations

func (m *Memory) CreateLocation(ctx context.Context, tenantID string, in model.LocationIn) (model.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	kind := in.Kind
	if kind == "" {
		kind = "customer"
	}
	l := model.Location{ID: id, TenantID: tenantID, Name: in.Name, Lat: in.Lat, Lng: in.Lng, Address: in.Address, Kind: kind}
	if _, exists := m.locs[id]; !exists {
		m.locTen[tenantID] = append(m.locTen[tenantID], id)
	}
	m.locs[id] = l
	return l, nil
}

func (m *Memory) GetLocation(ctx context.Context, tenantID, id string) (model.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locs[id]
	if !ok || l.TenantID != tenantID {
		return model.Location{}, ErrNotFound
	}
	return l, nil
}

func (m *Memory) ListLocations(ctx context.Context, tenantID, kind, cursor string, limit int) ([]model.Location, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.locTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Location{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		l := m.locs[ids[i]]
		if kind == "" || l.Kind == kind {
			out = append(out, l)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

// Warehouses

func (m *Memory) CreateWarehouse(ctx context.Context, tenantID string, in model.WarehouseIn) (model.Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	w := model.Warehouse{ID: id, TenantID: tenantID, Name: in.Name, Lat: in.Lat, Lng: in.Lng, StorageCapacity: in.StorageCapacity, CurrentUtilization: in.CurrentUtilization, Stock: in.Stock}
	if _, exists := m.whs[id]; !exists {
		m.whTen[tenantID] = append(m.whTen[tenantID], id)
	}
	m.whs[id] = w
	return w, nil
}

func (m *Memory) GetWarehouse(ctx context.Context, tenantID, id string) (model.Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.whs[id]
	if !ok || w.TenantID != tenantID {
		return model.Warehouse{}, ErrNotFound
	}
	return w, nil
}

// ListWarehouses returns the tenant's warehouses sorted by id, so
// allocation tie-breaks are stable regardless of creation order.
func (m *Memory) ListWarehouses(ctx context.Context, tenantID string) ([]model.Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]string(nil), m.whTen[tenantID]...)
	sort.Strings(ids)
	out := make([]model.Warehouse, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.whs[id])
	}
	return out, nil
}

// Solve history

func (m *Memory) InsertSolution(ctx context.Context, rec model.SolutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sols[rec.ID]; !exists {
		m.solTen[rec.TenantID] = append(m.solTen[rec.TenantID], rec.ID)
	}
	m.sols[rec.ID] = rec
	return nil
}

func (m *Memory) GetSolution(ctx context.Context, tenantID, id string) (model.SolutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sols[id]
	if !ok || rec.TenantID != tenantID {
		return model.SolutionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListSolutions(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolutionRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.solTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.SolutionRecord{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		rec := m.sols[ids[i]]
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

// Allocation batches

func (m *Memory) InsertAllocationBatch(ctx context.Context, tenantID string, batch model.AllocationBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[batch.BatchID]; !exists {
		m.batchTen[tenantID] = append(m.batchTen[tenantID], batch.BatchID)
	}
	m.batches[batch.BatchID] = batch
	return nil
}

// Solver stats

func (m *Memory) SaveSolveStats(ctx context.Context, tenantID, solveID, day string, stats model.SolveStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[tenantID+"|"+solveID] = stats
	return nil
}

func (m *Memory) GetSolveStats(ctx context.Context, tenantID, solveID string) (model.SolveStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[tenantID+"|"+solveID]
	if !ok {
		return model.SolveStats{}, ErrNotFound
	}
	return st, nil
}

// Engine config

func (m *Memory) GetEngineConfig(ctx context.Context, tenantID string) (model.EngineConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engCfg[tenantID], nil
}

func (m *Memory) SaveEngineConfig(ctx context.Context, tenantID string, cfg model.EngineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.TenantID = tenantID
	m.engCfg[tenantID] = cfg
	return nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveryOrder = append(m.deliveryOrder, id)
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Attempts++
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = time.Now()
	return nil
}
