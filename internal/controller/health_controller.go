package controller

import (
	"context"
	"net/http"
	"time"
)

// Dependency is a backing service the API needs to serve traffic.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthController struct {
	deps []Dependency
}

func NewHealthController(deps ...Dependency) *HealthController {
	return &HealthController{deps: deps}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, d := range h.deps {
		if err := d.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": d.Name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
