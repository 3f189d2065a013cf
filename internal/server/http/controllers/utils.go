package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Title: http.StatusText(status), Error: message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeCreated writes a 201 Created response carrying data.
func writeCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(data)
}

// writeProblem maps a service error to its status code.
//
// Invalid cursors are reported as 412 with the rejection kind so that
// consumers can tell a malformed cursor from one that expired.
func writeProblem(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	body := errorBody{Title: http.StatusText(status), Error: err.Error()}
	if kind, ok := domain.CursorKind(err); ok {
		body.Kind = kind.String()
	}
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var tlErr *domain.TimelineError
	switch {
	case errors.As(err, &tlErr) && errors.Is(err, storage.ErrTopicNotFound):
		// A topic missing behind a timeline is a backend failure, not a lookup miss.
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, security.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrEventTypeNotFound),
		errors.Is(err, domain.ErrStorageNotFound),
		errors.Is(err, storage.ErrTopicNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCursor):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrMigrationTimeout),
		errors.Is(err, domain.ErrRetryLater):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFeatureNotAvailable):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type clientKey struct{}

// WithClient stores the resolved client of a request.
func WithClient(ctx context.Context, c security.Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// clientFrom returns the client resolved by the server middleware.
func clientFrom(r *http.Request) security.Client {
	if c, ok := r.Context().Value(clientKey{}).(security.Client); ok {
		return c
	}
	return security.Client{ID: security.UnauthenticatedClientID}
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseMillis parses a millisecond count into a duration. Invalid values are zero.
func parseMillis(s string) time.Duration {
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
