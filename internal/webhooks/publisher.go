package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/store"
)

// Event types emitted by the engine.
const (
	EventSolveCompleted      = "solve.completed"
	EventSolveInfeasible     = "solve.infeasible"
	EventAllocationCompleted = "allocation.completed"
)

// envelope is the wire shape delivered to subscriber endpoints.
type envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per subscription matching the tenant and
// event type. Delivery itself happens asynchronously in the Worker.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		log.Printf("webhooks: list subscriptions for %s: %v", eventType, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(envelope{
		ID:       "evt_" + uuid.New().String(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       time.Now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		log.Printf("webhooks: marshal %s event: %v", eventType, err)
		return
	}
	for _, sub := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, sub.ID, eventType, sub.URL, sub.Secret, body); err != nil {
			log.Printf("webhooks: enqueue %s for %s: %v", eventType, sub.URL, err)
		}
	}
}
