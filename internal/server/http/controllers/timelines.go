package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adyach/nakadi/internal/runtime"
)

// TimelinesController lists and creates timelines of an event type.
type TimelinesController struct {
	rt *runtime.Runtime
}

// NewTimelinesController creates a new timelines controller.
func NewTimelinesController(rt *runtime.Runtime) *TimelinesController {
	return &TimelinesController{rt: rt}
}

// RegisterRoutes registers timeline routes with the given router.
func (c *TimelinesController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/event-types/{name}/timelines", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/event-types/{name}/timelines", c.handleCreate).Methods(http.MethodPost)
}

func (c *TimelinesController) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := c.rt.Timelines().ListTimelines(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": list})
}

// handleCreate switches the event type to a new timeline on the requested
// storage. Only the admin client may call it.
func (c *TimelinesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTimelineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StorageID == "" {
		writeError(w, http.StatusBadRequest, "storage_id is required")
		return
	}
	tl, err := c.rt.Timelines().CreateTimeline(r.Context(), mux.Vars(r)["name"], req.StorageID, clientFrom(r))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeCreated(w, tl)
}
