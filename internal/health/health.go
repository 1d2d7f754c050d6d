// Package health implements the admin listener's probe endpoints.
//
//   - /healthz — liveness; answers 200 whenever the process can serve HTTP.
//   - /readyz  — readiness; answers 200 only while every registered probe
//     passes, typically the profile store ping and the model provider
//     configuration checks.
//
// Both endpoints reply with a JSON body carrying a top-level "status" of
// "ok" or "fail" plus a "checks" map with one entry per probe. [NewServer]
// assembles these together with the Prometheus /metrics endpoint into the
// complete admin server.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds a single readiness probe. Probes run concurrently, so
// this is also the worst-case latency of a /readyz request.
const probeTimeout = 3 * time.Second

// Checker is a named readiness probe. Check returns nil while the dependency
// is usable and an error describing the problem otherwise. It must honor
// context cancellation; slow dependencies are cut off at [probeTimeout].
type Checker struct {
	// Name keys the probe's entry in the /readyz response, e.g.
	// "profile-store" or "chat-provider".
	Name string

	Check func(ctx context.Context) error
}

// Pinger is the subset of a backing store used for readiness probing. The
// Postgres profile store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a [Pinger] as a named readiness probe.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers liveness and readiness requests. The probe set is fixed at
// construction; the handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given probes. With no probes /readyz always
// reports ready, which is the right answer for a process with no external
// dependencies configured.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. It never fails: reaching this handler proves the
// process is up and serving.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe concurrently, each under its own [probeTimeout]
// deadline derived from the request context, and reports 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The bodies here are tiny fixed structs; an encode failure means the
	// connection is gone and there is nobody left to tell.
	_ = json.NewEncoder(w).Encode(v)
}
