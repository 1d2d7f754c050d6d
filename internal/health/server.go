package health

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/speakerid/internal/observe"
)

// NewServer assembles the admin HTTP server: liveness and readiness probes
// plus the Prometheus scrape endpoint, all wrapped in the shared request
// middleware so admin traffic is traced and measured like any other.
//
// The metrics served by /metrics come from the Prometheus exporter installed
// by [observe.InitProvider]; it registers with the default registerer, which
// is what promhttp.Handler reads.
func NewServer(addr string, m *observe.Metrics, checkers ...Checker) *http.Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	mux := http.NewServeMux()
	New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
