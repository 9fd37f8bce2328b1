package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency. A nil error means the component can
// serve the pipelines that need it.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	order  []string
	checks map[string]HealthCheck
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: make(map[string]HealthCheck)}
}

// AddCheck registers a named dependency probe. Checks run in registration
// order so readiness output is stable.
func (h *HealthHandler) AddCheck(name string, check HealthCheck) {
	if _, exists := h.checks[name]; !exists {
		h.order = append(h.order, name)
	}
	h.checks[name] = check
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports per-dependency health: the document store and vector index
// (Postgres), the ingestion queue and locks (Redis), and the object store.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.order))
	status := http.StatusOK
	for _, name := range h.order {
		if err := h.checks[name](ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	writeJSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}
