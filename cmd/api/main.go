package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetroute/internal/api"
	"fleetroute/internal/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
	metrics.RegisterDefault()

	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Solve
	mux.HandleFunc("/v1/solve", srvDeps.SolveHandler)
	mux.HandleFunc("/v1/solve/ws", srvDeps.SolveStreamWSHandler)
	mux.HandleFunc("/v1/solutions", srvDeps.SolutionsHandler)
	mux.HandleFunc("/v1/solutions/", srvDeps.SolutionByIDHandler) // includes /events/stream, /stats

	// Allocation
	mux.HandleFunc("/v1/allocate", srvDeps.AllocateHandler)

	// Estimates and reference data
	mux.HandleFunc("/v1/estimate", srvDeps.EstimateHandler)
	mux.HandleFunc("/v1/locations", srvDeps.LocationsHandler)
	mux.HandleFunc("/v1/locations/", srvDeps.LocationByIDHandler)
	mux.HandleFunc("/v1/warehouses", srvDeps.WarehousesHandler)

	// Demo payloads
	mux.HandleFunc("/v1/demo/sample-solve-request", srvDeps.DemoSolveRequestHandler)
	mux.HandleFunc("/v1/demo/sample-allocation-request", srvDeps.DemoAllocationRequestHandler)

	// Engine config
	mux.HandleFunc("/v1/engine/config", srvDeps.EngineConfigHandler)
	mux.HandleFunc("/v1/admin/engine/config", srvDeps.AdminEngineConfigHandler)

	// Subscriptions, webhook admin
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)

	// GraphQL query surface
	mux.HandleFunc("/graphql", srvDeps.GraphQLHTTPHandler)

	// Health, metrics, docs
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug", srvDeps.DebugJSON)
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
	mux.HandleFunc("/docs", srvDeps.DocsHandler)
	mux.HandleFunc("/swagger", srvDeps.SwaggerHandler)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := srvDeps.NewWebhookWorker()
	worker.Start()

	go func() {
		log.Printf("API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("shutting down")
	close(worker.Stop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
