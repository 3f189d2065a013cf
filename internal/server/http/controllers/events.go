package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/events"
	"github.com/adyach/nakadi/internal/runtime"
)

// EventsController publishes and reads events.
type EventsController struct {
	rt      *runtime.Runtime
	limiter *clientLimiter
}

// NewEventsController creates a new events controller.
func NewEventsController(rt *runtime.Runtime) *EventsController {
	rl := rt.Config().RateLimit
	return &EventsController{rt: rt, limiter: newClientLimiter(rate.Limit(rl.PublishPerSecond), rl.Burst)}
}

// RegisterRoutes registers event routes with the given router.
func (c *EventsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/event-types/{name}/events", c.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/v1/event-types/{name}/events", c.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/v1/event-types/{name}/events/stream", c.handleStreamSSE).Methods(http.MethodGet)
}

// handlePublish appends a JSON array of events to one partition.
// Query params: partition, key
func (c *EventsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r)
	if !c.limiter.allow(client.ID) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "publish rate exceeded")
		return
	}
	var batch []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of events")
		return
	}
	payloads := make([][]byte, len(batch))
	for i, ev := range batch {
		payloads[i] = ev
	}
	opts := events.PublishOptions{
		Partition: r.URL.Query().Get("partition"),
		Key:       r.URL.Query().Get("key"),
	}
	cursors, err := c.rt.Events().Publish(r.Context(), mux.Vars(r)["name"], opts, payloads)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, publishResp{Cursors: cursors})
}

// handleRead returns one batch per cursor.
// Query params: limit, filter, wait_ms. Cursors are passed as a JSON list in
// the X-Nakadi-Cursors header; without it the read starts at the newest event.
func (c *EventsController) handleRead(w http.ResponseWriter, r *http.Request) {
	cursors, opts, err := readRequest(r)
	if err != nil {
		writeProblem(w, err)
		return
	}
	batches, err := c.rt.Events().Read(r.Context(), mux.Vars(r)["name"], cursors, opts)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": batches})
}

func readRequest(r *http.Request) ([]cursor.Cursor, events.ReadOptions, error) {
	q := r.URL.Query()
	opts := events.ReadOptions{
		Limit:  parseLimit(q.Get("limit")),
		Filter: q.Get("filter"),
		Wait:   parseMillis(q.Get("wait_ms")),
	}
	if len(opts.Filter) > 2048 {
		return nil, opts, fmt.Errorf("%w: filter too long", domain.ErrInvalidArgument)
	}
	var cursors []cursor.Cursor
	if h := r.Header.Get(CursorsHeader); h != "" {
		if err := json.Unmarshal([]byte(h), &cursors); err != nil {
			return nil, opts, fmt.Errorf("%w: %s header: %v", domain.ErrInvalidArgument, CursorsHeader, err)
		}
	}
	return cursors, opts, nil
}

// clientLimiter keeps one token bucket per client id.
type clientLimiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	byUser map[string]*rate.Limiter
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = max(1, int(limit))
	}
	return &clientLimiter{limit: limit, burst: burst, byUser: make(map[string]*rate.Limiter)}
}

func (l *clientLimiter) allow(clientID string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.byUser[clientID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byUser[clientID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
