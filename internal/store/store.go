package store

import (
	"context"
	"errors"
	"time"

	"fleetroute/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Locations
	CreateLocation(ctx context.Context, tenantID string, in model.LocationIn) (model.Location, error)
	GetLocation(ctx context.Context, tenantID, id string) (model.Location, error)
	ListLocations(ctx context.Context, tenantID, kind, cursor string, limit int) ([]model.Location, string, error)

	// Warehouses (allocation candidates)
	CreateWarehouse(ctx context.Context, tenantID string, in model.WarehouseIn) (model.Warehouse, error)
	GetWarehouse(ctx context.Context, tenantID, id string) (model.Warehouse, error)
	ListWarehouses(ctx context.Context, tenantID string) ([]model.Warehouse, error)

	// Solve history
	InsertSolution(ctx context.Context, rec model.SolutionRecord) error
	GetSolution(ctx context.Context, tenantID, id string) (model.SolutionRecord, error)
	ListSolutions(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolutionRecord, string, error)

	// Allocation batches (fire-and-forget persistence)
	InsertAllocationBatch(ctx context.Context, tenantID string, batch model.AllocationBatch) error

	// Solver stats per solve
	SaveSolveStats(ctx context.Context, tenantID, solveID, day string, stats model.SolveStats) error
	GetSolveStats(ctx context.Context, tenantID, solveID string) (model.SolveStats, error)

	// Engine config per tenant
	GetEngineConfig(ctx context.Context, tenantID string) (model.EngineConfig, error)
	SaveEngineConfig(ctx context.Context, tenantID string, cfg model.EngineConfig) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
}

var ErrNotFound = errors.New("not found")
