package controllers

import (
	"github.com/gorilla/mux"

	"github.com/adyach/nakadi/internal/runtime"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general    *GeneralController
	storages   *StoragesController
	eventTypes *EventTypesController
	timelines  *TimelinesController
	events     *EventsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime) *ControllerRegistry {
	return &ControllerRegistry{
		general:    NewGeneralController(rt),
		storages:   NewStoragesController(rt),
		eventTypes: NewEventTypesController(rt),
		timelines:  NewTimelinesController(rt),
		events:     NewEventsController(rt),
	}
}

// RegisterAllRoutes registers all controller routes with the given router.
func (r *ControllerRegistry) RegisterAllRoutes(router *mux.Router) {
	r.general.RegisterRoutes(router)
	r.storages.RegisterRoutes(router)
	r.eventTypes.RegisterRoutes(router)
	r.timelines.RegisterRoutes(router)
	r.events.RegisterRoutes(router)
}
