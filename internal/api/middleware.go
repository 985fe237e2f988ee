package api

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fleetroute/internal/metrics"
)

// Middleware wraps the mux with request logging, Prometheus accounting,
// and a global token-bucket limit when RATE_RPS is set.
func Middleware(next http.Handler) http.Handler {
	return observe(rateLimit(next))
}

// statusWriter records the response code for logs and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps WebSocket upgrades working through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		path := metricPath(r.URL.Path)
		status := strconv.Itoa(sw.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, sw.status, dur)
	})
}

// metricPath collapses per-resource segments so label cardinality stays
// bounded no matter how many solutions or locations exist.
func metricPath(p string) string {
	for _, prefix := range []string{
		"/v1/solutions/",
		"/v1/locations/",
		"/v1/subscriptions/",
		"/v1/admin/webhook-deliveries/",
	} {
		if strings.HasPrefix(p, prefix) {
			return prefix + ":id"
		}
	}
	return p
}

func rateLimit(next http.Handler) http.Handler {
	rps, _ := strconv.ParseFloat(os.Getenv("RATE_RPS"), 64)
	if rps <= 0 {
		return next
	}
	burst := int(rps)
	if v, err := strconv.Atoi(os.Getenv("RATE_BURST")); err == nil && v > 0 {
		burst = v
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes and scrapes are exempt.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if !lim.Allow() {
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "request rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
