package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/events"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// sseSink writes read batches as Server-Sent Events.
type sseSink struct {
	w http.ResponseWriter
}

// Send writes one non-empty batch as an SSE data event.
func (s sseSink) Send(b events.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	return nil
}

// Flush flushes the HTTP response writer if it supports flushing.
func (s sseSink) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// defaultStreamWait is the long-poll window between stream reads.
const defaultStreamWait = 5 * time.Second

// handleStreamSSE streams batches until the client goes away. Every read
// long-polls and continues from the cursors of the previous one, so the
// stream follows timeline switches like any other reader.
// Query params: limit, filter, wait_ms
func (c *EventsController) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	cursors, opts, err := readRequest(r)
	if err != nil {
		writeProblem(w, err)
		return
	}
	if opts.Wait <= 0 {
		opts.Wait = defaultStreamWait
	}
	name := mux.Vars(r)["name"]
	ctx := r.Context()

	batches, err := c.rt.Events().Read(ctx, name, cursors, opts)
	if err != nil {
		writeProblem(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sink := sseSink{w: w}
	sink.Flush()

	log := c.rt.Logger()
	for {
		for _, b := range batches {
			if len(b.Events) == 0 {
				continue
			}
			if err := sink.Send(b); err != nil {
				return
			}
		}
		sink.Flush()
		if ctx.Err() != nil {
			return
		}
		next := make([]cursor.Cursor, len(batches))
		for i, b := range batches {
			next[i] = b.Cursor
		}
		read, err := c.rt.Events().Read(ctx, name, next, opts)
		switch {
		case err == nil:
			batches = read
		case errors.Is(err, domain.ErrRetryLater):
			// A timeline switch is running; resume from the same cursors.
			for i := range batches {
				batches[i].Events = nil
			}
		default:
			if ctx.Err() == nil {
				log.Warn("event stream ended", logpkg.EventType(name), logpkg.Err(err))
			}
			return
		}
	}
}
