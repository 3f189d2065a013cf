package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("create timeline: %w", domain.ErrForbidden), http.StatusForbidden},
		{security.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrEventTypeNotFound, http.StatusNotFound},
		{fmt.Errorf("read: %w", storage.ErrTopicNotFound), http.StatusNotFound},
		{&domain.TimelineError{EventType: "orders", Err: fmt.Errorf("load statistics of t1: %w", storage.ErrTopicNotFound)}, http.StatusInternalServerError},
		{&domain.TimelineError{EventType: "orders", Err: domain.ErrStorageNotFound}, http.StatusNotFound},
		{&domain.InvalidCursorError{Kind: domain.CursorBadFormat}, http.StatusPreconditionFailed},
		{&domain.TimelineError{EventType: "orders", Err: domain.ErrMigrationTimeout}, http.StatusServiceUnavailable},
		{&domain.TimelineError{EventType: "orders", Err: domain.ErrConcurrentUpdate}, http.StatusConflict},
		{domain.ErrRetryLater, http.StatusServiceUnavailable},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{fmt.Errorf("%w: empty batch", domain.ErrInvalidArgument), http.StatusBadRequest},
		{domain.ErrFeatureNotAvailable, http.StatusNotImplemented},
		{domain.ErrConfiguration, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Fatalf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
