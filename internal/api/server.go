package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"fleetroute/internal/store"
	"fleetroute/internal/webhooks"
	"fleetroute/internal/work"
)

type Server struct {
	Store  store.Store
	Pub    *webhooks.Publisher
	Broker EventBroker
	Pool   *work.Pool

	locCache *locationCache
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}
	// Broker selection
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	workers := 0
	if v := os.Getenv("SOLVER_WORKERS"); v != "" {
		workers, _ = strconv.Atoi(v)
	}
	return &Server{Store: s, Pub: webhooks.NewPublisher(s), Broker: broker, Pool: work.NewPool(workers), locCache: newLocationCache()}, nil
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	// Tenant comes from a header; production deployments put a gateway in front.
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}
