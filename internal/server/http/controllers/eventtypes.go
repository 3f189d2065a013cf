package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/runtime"
)

// EventTypesController manages event types and their partitions.
type EventTypesController struct {
	rt *runtime.Runtime
}

// NewEventTypesController creates a new event types controller.
func NewEventTypesController(rt *runtime.Runtime) *EventTypesController {
	return &EventTypesController{rt: rt}
}

// RegisterRoutes registers event type routes with the given router.
func (c *EventTypesController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/event-types", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/event-types", c.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/event-types/{name}", c.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/event-types/{name}/partitions", c.handlePartitions).Methods(http.MethodGet)
}

func (c *EventTypesController) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := c.rt.Admin().ListEventTypes(r.Context())
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": list})
}

// handleCreate creates an event type. Partitions and retention default to
// the configured values when omitted.
func (c *EventTypesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.EventType
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	et, err := c.rt.Admin().CreateEventType(r.Context(), req)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeCreated(w, et)
}

func (c *EventTypesController) handleGet(w http.ResponseWriter, r *http.Request) {
	et, err := c.rt.Admin().GetEventType(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, et)
}

// handlePartitions returns the oldest and newest cursor of every partition.
func (c *EventTypesController) handlePartitions(w http.ResponseWriter, r *http.Request) {
	views, err := c.rt.Events().Partitions(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, views)
}
