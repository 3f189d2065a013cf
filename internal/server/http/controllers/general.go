package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adyach/nakadi/internal/runtime"
)

// GeneralController handles health and feature endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given router.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Feature toggles (/v1/features)
// - Prometheus metrics (/metrics)
func (c *GeneralController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/healthz", c.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/features", c.handleFeatures).Methods(http.MethodGet)
	r.Handle("/metrics", c.rt.Metrics().Handler()).Methods(http.MethodGet)
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with {"status": "ok"} if healthy, 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"items": c.rt.Features().States()})
}
