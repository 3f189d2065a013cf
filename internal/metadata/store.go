// Package metadata persists event types, storages and timelines.
//
// Timeline mutations only happen inside RunInTransaction so that a timeline
// switch (insert the successor, retire the predecessor) is all-or-nothing.
// Two implementations are provided: Pebble (default, shares the broker's
// embedded database) and SQLite.
package metadata

import (
	"context"
	"fmt"

	"github.com/adyach/nakadi/internal/domain"
)

// Reader exposes committed metadata.
type Reader interface {
	GetEventType(ctx context.Context, name string) (domain.EventType, error)
	ListEventTypes(ctx context.Context) ([]domain.EventType, error)
	GetStorage(ctx context.Context, id string) (domain.Storage, error)
	ListStorages(ctx context.Context) ([]domain.Storage, error)
	// ListTimelines returns the persisted timelines of eventType ordered by order.
	ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error)
	// ActiveTimeline returns the timeline without switchedAt, if any is persisted.
	ActiveTimeline(ctx context.Context, eventType string) (domain.Timeline, bool, error)
}

// Tx is the timeline view available inside a transaction.
type Tx interface {
	ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error)
	// InsertTimeline fails with ErrConcurrentUpdate if the order is taken.
	InsertTimeline(ctx context.Context, tl domain.Timeline) error
	UpdateTimeline(ctx context.Context, tl domain.Timeline) error
}

// Store is the durable metadata store.
type Store interface {
	Reader
	CreateEventType(ctx context.Context, et domain.EventType) error
	CreateStorage(ctx context.Context, st domain.Storage) error
	// RunInTransaction runs fn in one transaction, committing when fn returns
	// nil and discarding every write otherwise. Transactions are serialised.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

func activeOf(timelines []domain.Timeline) (domain.Timeline, bool) {
	for i := len(timelines) - 1; i >= 0; i-- {
		if timelines[i].Active() {
			return timelines[i], true
		}
	}
	return domain.Timeline{}, false
}

func validateTimeline(tl domain.Timeline) error {
	if tl.EventType == "" || tl.Order <= domain.StartingOrder || tl.Fake {
		return fmt.Errorf("%w: cannot persist timeline %s", domain.ErrInvalidArgument, tl)
	}
	return nil
}
