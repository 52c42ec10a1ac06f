// Package health serves the liveness and readiness endpoints of the
// simulator's operations server.
//
//   - /healthz: liveness; always 200 while the process serves HTTP. The body
//     carries the state reported by the optional status function, such as
//     the current conversation mode.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//     Checkers typically confirm that credentials are configured and that
//     the report store answers.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name is the key of the result in the JSON response (e.g. "chat",
	// "report_store").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Credential returns a Checker that runs a provider's offline validation,
// such as chat.Provider.Validate.
func Credential(name string, validate func() error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return validate() }}
}

// Ping returns a Checker around a context-aware ping, such as the report
// store's connection check.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

type result struct {
	Status string            `json:"status"`
	State  map[string]string `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	status   func() map[string]string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStatus adds the map returned by fn to every /healthz response.
func WithStatus(fn func() map[string]string) Option {
	return func(h *Handler) { h.status = fn }
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.status != nil {
		res.State = h.status()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs every checker concurrently, each with a [checkTimeout]
// deadline derived from the request context, and returns 200 only when all
// of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
