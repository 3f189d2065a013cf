package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/runtime"
)

// StoragesController manages storage definitions.
type StoragesController struct {
	rt *runtime.Runtime
}

// NewStoragesController creates a new storages controller.
func NewStoragesController(rt *runtime.Runtime) *StoragesController {
	return &StoragesController{rt: rt}
}

// RegisterRoutes registers storage routes with the given router.
func (c *StoragesController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/storages", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/storages", c.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/storages/{id}", c.handleGet).Methods(http.MethodGet)
}

func (c *StoragesController) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := c.rt.Admin().ListStorages(r.Context())
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": list})
}

func (c *StoragesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.Storage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, err := c.rt.Admin().CreateStorage(r.Context(), req, clientFrom(r))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeCreated(w, st)
}

func (c *StoragesController) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := c.rt.Admin().GetStorage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, st)
}
