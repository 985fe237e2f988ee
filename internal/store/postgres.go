package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetroute/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping backs the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Locations

func (p *Postgres) CreateLocation(ctx context.Context, tenantID string, in model.LocationIn) (model.Location, error) {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	kind := in.Kind
	if kind == "" {
		kind = "customer"
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO locations (id, tenant_id, name, lat, lng, address, kind) VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lat=EXCLUDED.lat, lng=EXCLUDED.lng, address=EXCLUDED.address, kind=EXCLUDED.kind`,
		id, tenantID, nullIfEmpty(in.Name), in.Lat, in.Lng, nullIfEmpty(in.Address), kind)
	if err != nil {
		return model.Location{}, err
	}
	return model.Location{ID: id, TenantID: tenantID, Name: in.Name, Lat: in.Lat, Lng: in.Lng, Address: in.Address, Kind: kind}, nil
}

func (p *Postgres) GetLocation(ctx context.Context, tenantID, id string) (model.Location, error) {
	var l model.Location
	var name, addr sql.NullString
	row := p.db.QueryRowContext(ctx, `SELECT id, tenant_id, name, lat, lng, address, kind FROM locations WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err := row.Scan(&l.ID, &l.TenantID, &name, &l.Lat, &l.Lng, &addr, &l.Kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, ErrNotFound
		}
		return l, err
	}
	l.Name = name.String
	l.Address = addr.String
	return l, nil
}

func (p *Postgres) ListLocations(ctx context.Context, tenantID, kind, cursor string, limit int) ([]model.Location, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if kind != "" {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, name, lat, lng, address, kind FROM locations WHERE tenant_id=$1 AND kind=$2 AND id > $3 ORDER BY id LIMIT $4`, tenantID, kind, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, name, lat, lng, address, kind FROM locations WHERE tenant_id=$1 AND kind=$2 ORDER BY id LIMIT $3`, tenantID, kind, limit)
		}
	} else {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, name, lat, lng, address, kind FROM locations WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, name, lat, lng, address, kind FROM locations WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
		}
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Location{}
	var last string
	for rows.Next() {
		var l model.Location
		var name, addr sql.NullString
		if err := rows.Scan(&l.ID, &l.TenantID, &name, &l.Lat, &l.Lng, &addr, &l.Kind); err != nil {
			return nil, "", err
		}
		l.Name = name.String
		l.Address = addr.String
		out = append(out, l)
		last = l.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

// Warehouses

func (p *Postgres) CreateWarehouse(ctx context.Context, tenantID string, in model.WarehouseIn) (model.Warehouse, error) {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO warehouses (id, tenant_id, name, lat, lng, storage_capacity, current_utilization, stock) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lat=EXCLUDED.lat, lng=EXCLUDED.lng, storage_capacity=EXCLUDED.storage_capacity, current_utilization=EXCLUDED.current_utilization, stock=EXCLUDED.stock`,
		id, tenantID, in.Name, in.Lat, in.Lng, in.StorageCapacity, in.CurrentUtilization, toJSON(in.Stock))
	if err != nil {
		return model.Warehouse{}, err
	}
	return model.Warehouse{ID: id, TenantID: tenantID, Name: in.Name, Lat: in.Lat, Lng: in.Lng, StorageCapacity: in.StorageCapacity, CurrentUtilization: in.CurrentUtilization, Stock: in.Stock}, nil
}

func (p *Postgres) GetWarehouse(ctx context.Context, tenantID, id string) (model.Warehouse, error) {
	var w model.Warehouse
	var stock []byte
	row := p.db.QueryRowContext(ctx, `SELECT id, tenant_id, name, lat, lng, storage_capacity, current_utilization, stock FROM warehouses WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err := row.Scan(&w.ID, &w.TenantID, &w.Name, &w.Lat, &w.Lng, &w.StorageCapacity, &w.CurrentUtilization, &stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w, ErrNotFound
		}
		return w, err
	}
	if len(stock) > 0 {
		_ = json.Unmarshal(stock, &w.Stock)
	}
	return w, nil
}

func (p *Postgres) ListWarehouses(ctx context.Context, tenantID string) ([]model.Warehouse, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, name, lat, lng, storage_capacity, current_utilization, stock FROM warehouses WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Warehouse{}
	for rows.Next() {
		var w model.Warehouse
		var stock []byte
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &w.Lat, &w.Lng, &w.StorageCapacity, &w.CurrentUtilization, &stock); err != nil {
			return nil, err
		}
		if len(stock) > 0 {
			_ = json.Unmarshal(stock, &w.Stock)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Solve history

func (p *Postgres) InsertSolution(ctx context.Context, rec model.SolutionRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO solutions (id, tenant_id, status, reason, mode, objective, elapsed_ms, routes, summary, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::timestamptz)`,
		rec.ID, rec.TenantID, rec.Status, nullIfEmpty(rec.Reason), rec.Mode, rec.Objective, rec.ElapsedMs, toJSON(rec.Routes), toJSON(rec.Summary), rec.CreatedAt)
	return err
}

func (p *Postgres) GetSolution(ctx context.Context, tenantID, id string) (model.SolutionRecord, error) {
	var rec model.SolutionRecord
	var reason sql.NullString
	var routes, summary []byte
	var created time.Time
	row := p.db.QueryRowContext(ctx, `SELECT id, tenant_id, status, reason, mode, objective, elapsed_ms, routes, summary, created_at FROM solutions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Status, &reason, &rec.Mode, &rec.Objective, &rec.ElapsedMs, &routes, &summary, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	rec.Reason = reason.String
	rec.CreatedAt = created.UTC().Format(time.RFC3339)
	if len(routes) > 0 {
		_ = json.Unmarshal(routes, &rec.Routes)
	}
	if len(summary) > 0 {
		_ = json.Unmarshal(summary, &rec.Summary)
	}
	return rec, nil
}

// ListSolutions returns history rows without the per-stop route detail;
// GetSolution carries the full record.
func (p *Postgres) ListSolutions(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolutionRecord, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, status, reason, mode, objective, elapsed_ms, summary, created_at FROM solutions WHERE tenant_id=$1 AND status=$2 AND id > $3 ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, status, reason, mode, objective, elapsed_ms, summary, created_at FROM solutions WHERE tenant_id=$1 AND status=$2 ORDER BY id LIMIT $3`, tenantID, status, limit)
		}
	} else {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, status, reason, mode, objective, elapsed_ms, summary, created_at FROM solutions WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, status, reason, mode, objective, elapsed_ms, summary, created_at FROM solutions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
		}
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.SolutionRecord{}
	var last string
	for rows.Next() {
		var rec model.SolutionRecord
		var reason sql.NullString
		var summary []byte
		var created time.Time
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Status, &reason, &rec.Mode, &rec.Objective, &rec.ElapsedMs, &summary, &created); err != nil {
			return nil, "", err
		}
		rec.Reason = reason.String
		rec.CreatedAt = created.UTC().Format(time.RFC3339)
		if len(summary) > 0 {
			_ = json.Unmarshal(summary, &rec.Summary)
		}
		out = append(out, rec)
		last = rec.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

// Allocation batches

func (p *Postgres) InsertAllocationBatch(ctx context.Context, tenantID string, batch model.AllocationBatch) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO allocation_batches (id, tenant_id, total_orders, successful, failed, total_cost, allocations, failures, generated_at) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9::timestamptz)`,
		batch.BatchID, tenantID, batch.TotalOrders, batch.Successful, batch.Failed, batch.TotalEstimatedCost.String(), toJSON(batch.Allocations), toJSON(batch.Failures), batch.GeneratedAt)
	return err
}

// Solver stats

func (p *Postgres) SaveSolveStats(ctx context.Context, tenantID, solveID, day string, stats model.SolveStats) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO solve_stats (tenant_id, solve_id, day, stats) VALUES ($1,$2,$3,$4)
        ON CONFLICT (tenant_id, solve_id) DO UPDATE SET day=EXCLUDED.day, stats=EXCLUDED.stats`,
		tenantID, solveID, day, toJSON(stats))
	return err
}

func (p *Postgres) GetSolveStats(ctx context.Context, tenantID, solveID string) (model.SolveStats, error) {
	var raw []byte
	row := p.db.QueryRowContext(ctx, `SELECT stats FROM solve_stats WHERE tenant_id=$1 AND solve_id=$2`, tenantID, solveID)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SolveStats{}, ErrNotFound
		}
		return model.SolveStats{}, err
	}
	var st model.SolveStats
	_ = json.Unmarshal(raw, &st)
	return st, nil
}

// Engine config

func (p *Postgres) GetEngineConfig(ctx context.Context, tenantID string) (model.EngineConfig, error) {
	var raw []byte
	row := p.db.QueryRowContext(ctx, `SELECT config FROM engine_config WHERE tenant_id=$1`, tenantID)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EngineConfig{}, nil
		}
		return model.EngineConfig{}, err
	}
	var cfg model.EngineConfig
	_ = json.Unmarshal(raw, &cfg)
	cfg.TenantID = tenantID
	return cfg, nil
}

func (p *Postgres) SaveEngineConfig(ctx context.Context, tenantID string, cfg model.EngineConfig) error {
	cfg.TenantID = tenantID
	_, err := p.db.ExecContext(ctx, `INSERT INTO engine_config (tenant_id, config, updated_at) VALUES ($1,$2,now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=EXCLUDED.config, updated_at=now()`,
		tenantID, toJSON(cfg))
	return err
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		id, req.TenantID, req.URL, toJSON(req.Events), req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, url, events, secret FROM subscriptions WHERE tenant_id=$1 AND events ? $2 ORDER BY id`, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, url, events, secret FROM subscriptions WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id, tenant_id, url, events, secret FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	var last string
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil {
			return nil, "", err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at) VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
		id, tenantID, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts FROM webhook_deliveries
        WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3, delivered_at=now() WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='retry', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=$5 WHERE id=$1`,
		id, lastError, responseCode, latencyMs, next)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT id, event_type, status, attempts, url, next_attempt_at, last_error FROM webhook_deliveries WHERE tenant_id=$1 AND status=$2 AND id > $3 ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT id, event_type, status, attempts, url, next_attempt_at, last_error FROM webhook_deliveries WHERE tenant_id=$1 AND status=$2 ORDER BY id LIMIT $3`, tenantID, status, limit)
		}
	} else {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT id, event_type, status, attempts, url, next_attempt_at, last_error FROM webhook_deliveries WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT id, event_type, status, attempts, url, next_attempt_at, last_error FROM webhook_deliveries WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
		}
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, eventType, st, url string
		var attempts int
		var nextAt sql.NullTime
		var lastErr sql.NullString
		if err := rows.Scan(&id, &eventType, &st, &attempts, &url, &nextAt, &lastErr); err != nil {
			return nil, "", err
		}
		item := map[string]any{"id": id, "eventType": eventType, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid {
			item["nextAttemptAt"] = nextAt.Time
		}
		if lastErr.Valid && lastErr.String != "" {
			item["lastError"] = lastErr.String
		}
		out = append(out, item)
		last = id
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
