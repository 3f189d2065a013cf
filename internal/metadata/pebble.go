package metadata

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/adyach/nakadi/internal/domain"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

// Keyspace:
//   - meta/et/{name}            event type JSON
//   - meta/st/{id}              storage JSON
//   - meta/tl/{et}/{order_be4}  timeline JSON
var (
	eventTypePrefix = []byte("meta/et/")
	storagePrefix   = []byte("meta/st/")
	timelinePrefix  = []byte("meta/tl/")
)

func keyEventType(name string) []byte { return append(append([]byte(nil), eventTypePrefix...), name...) }
func keyStorage(id string) []byte     { return append(append([]byte(nil), storagePrefix...), id...) }

func keyTimelines(eventType string) []byte {
	k := make([]byte, 0, len(timelinePrefix)+len(eventType)+1)
	k = append(k, timelinePrefix...)
	k = append(k, eventType...)
	return append(k, '/')
}

func keyTimeline(eventType string, order int) []byte {
	k := keyTimelines(eventType)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(order))
	return append(k, b[:]...)
}

// PebbleStore keeps metadata as JSON records in the shared Pebble database.
type PebbleStore struct {
	db *pebblestore.DB
	// mu serialises writers; readers go straight to committed state.
	mu sync.Mutex
}

// NewPebbleStore returns a Store over db. The caller owns db.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

// Close is a no-op; the database is owned by the runtime.
func (s *PebbleStore) Close() error { return nil }

func (s *PebbleStore) GetEventType(_ context.Context, name string) (domain.EventType, error) {
	var et domain.EventType
	if err := s.getJSON(keyEventType(name), &et); err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return domain.EventType{}, fmt.Errorf("%w: %s", domain.ErrEventTypeNotFound, name)
		}
		return domain.EventType{}, err
	}
	return et, nil
}

func (s *PebbleStore) ListEventTypes(_ context.Context) ([]domain.EventType, error) {
	var out []domain.EventType
	err := scanJSON(s.db, eventTypePrefix, func(b []byte) error {
		var et domain.EventType
		if err := json.Unmarshal(b, &et); err != nil {
			return err
		}
		out = append(out, et)
		return nil
	})
	return out, err
}

func (s *PebbleStore) CreateEventType(_ context.Context, et domain.EventType) error {
	return s.createJSON(keyEventType(et.Name), et, "event type "+et.Name)
}

func (s *PebbleStore) GetStorage(_ context.Context, id string) (domain.Storage, error) {
	var st domain.Storage
	if err := s.getJSON(keyStorage(id), &st); err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return domain.Storage{}, fmt.Errorf("%w: %s", domain.ErrStorageNotFound, id)
		}
		return domain.Storage{}, err
	}
	return st, nil
}

func (s *PebbleStore) ListStorages(_ context.Context) ([]domain.Storage, error) {
	var out []domain.Storage
	err := scanJSON(s.db, storagePrefix, func(b []byte) error {
		var st domain.Storage
		if err := json.Unmarshal(b, &st); err != nil {
			return err
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

func (s *PebbleStore) CreateStorage(_ context.Context, st domain.Storage) error {
	return s.createJSON(keyStorage(st.ID), st, "storage "+st.ID)
}

func (s *PebbleStore) ListTimelines(_ context.Context, eventType string) ([]domain.Timeline, error) {
	return listTimelines(s.db, eventType)
}

func (s *PebbleStore) ActiveTimeline(ctx context.Context, eventType string) (domain.Timeline, bool, error) {
	tls, err := s.ListTimelines(ctx, eventType)
	if err != nil {
		return domain.Timeline{}, false, err
	}
	tl, ok := activeOf(tls)
	return tl, ok, nil
}

// RunInTransaction stages fn's writes in an indexed batch and commits it
// atomically. Nothing is visible to readers until the commit.
func (s *PebbleStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(&pebbleTx{b: b}); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

func (s *PebbleStore) getJSON(key []byte, v any) error {
	b, err := s.db.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *PebbleStore) createJSON(key []byte, v any, what string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Get(key); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, what)
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, b)
}

type pebbleTx struct {
	b *pebble.Batch
}

func (t *pebbleTx) ListTimelines(_ context.Context, eventType string) ([]domain.Timeline, error) {
	return listTimelines(t.b, eventType)
}

func (t *pebbleTx) InsertTimeline(_ context.Context, tl domain.Timeline) error {
	if err := validateTimeline(tl); err != nil {
		return err
	}
	key := keyTimeline(tl.EventType, tl.Order)
	_, closer, err := t.b.Get(key)
	if err == nil {
		_ = closer.Close()
		return fmt.Errorf("%w: timeline %d of %s already exists", domain.ErrConcurrentUpdate, tl.Order, tl.EventType)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return t.put(key, tl)
}

func (t *pebbleTx) UpdateTimeline(_ context.Context, tl domain.Timeline) error {
	if err := validateTimeline(tl); err != nil {
		return err
	}
	key := keyTimeline(tl.EventType, tl.Order)
	_, closer, err := t.b.Get(key)
	if err != nil {
		return fmt.Errorf("update timeline %d of %s: %w", tl.Order, tl.EventType, err)
	}
	_ = closer.Close()
	return t.put(key, tl)
}

func (t *pebbleTx) put(key []byte, tl domain.Timeline) error {
	b, err := json.Marshal(tl)
	if err != nil {
		return err
	}
	return t.b.Set(key, b, nil)
}

// iterSource is satisfied by the DB wrapper and by indexed batches.
type iterSource interface {
	NewIter(*pebble.IterOptions) (*pebble.Iterator, error)
}

func listTimelines(src iterSource, eventType string) ([]domain.Timeline, error) {
	var out []domain.Timeline
	err := scanJSON(src, keyTimelines(eventType), func(b []byte) error {
		var tl domain.Timeline
		if err := json.Unmarshal(b, &tl); err != nil {
			return err
		}
		out = append(out, tl)
		return nil
	})
	return out, err
}

func scanJSON(src iterSource, prefix []byte, fn func([]byte) error) (err error) {
	iter, err := src.NewIter(pebblestore.PrefixIterOptions(prefix))
	if err != nil {
		return err
	}
	defer closeInto(iter, &err)
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("decode %q: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}

func closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
