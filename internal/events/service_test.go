package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/metadata"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
	"github.com/adyach/nakadi/internal/storage/local"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
	"github.com/adyach/nakadi/internal/timeline"
)

var admin = security.Client{ID: "nakadi-admin", FullAccess: true}

type fixture struct {
	svc       *Service
	timelines *timeline.Service
	sync      *timeline.Synchronizer
	registry  *storage.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := metadata.NewPebbleStore(db)
	for _, id := range []string{"default", "storage-2"} {
		if err := store.CreateStorage(ctx, domain.Storage{ID: id, Type: domain.StorageLocal}); err != nil {
			t.Fatalf("create storage %s: %v", id, err)
		}
	}
	et := domain.EventType{Name: "orders", Partitions: 2, RetentionTimeMs: int64(time.Hour / time.Millisecond)}
	if err := store.CreateEventType(ctx, et); err != nil {
		t.Fatalf("create event type: %v", err)
	}
	reg := storage.NewRegistry(store, nil)
	reg.RegisterFactory(domain.StorageLocal, local.Factory(db, nil, nil))
	repo, err := reg.Get(ctx, "default")
	if err != nil {
		t.Fatalf("default repo: %v", err)
	}
	if err := repo.EnsureTopic(ctx, et.Name, et.Partitions, et.RetentionTime()); err != nil {
		t.Fatalf("ensure topic: %v", err)
	}

	sync := timeline.NewSynchronizer(nil)
	tls := timeline.New(store, reg, sync, timeline.Config{
		AdminClientID:  admin.ID,
		DefaultStorage: "default",
		WaitTimeout:    time.Second,
	})
	svc := New(Deps{
		EventTypes: store,
		Timelines:  tls,
		Guard:      sync,
		Repos:      reg,
		Codec:      cursor.NewConverter(tls, nil),
	}, cfg, nil)
	return &fixture{svc: svc, timelines: tls, sync: sync, registry: reg}
}

func (f *fixture) publish(t *testing.T, partition string, payloads ...string) []cursor.Cursor {
	t.Helper()
	raw := make([][]byte, len(payloads))
	for i, p := range payloads {
		raw[i] = []byte(p)
	}
	cursors, err := f.svc.Publish(context.Background(), "orders", PublishOptions{Partition: partition}, raw)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return cursors
}

func (f *fixture) read(t *testing.T, partition, offset string, opts ReadOptions) Batch {
	t.Helper()
	batches, err := f.svc.Read(context.Background(), "orders", []cursor.Cursor{{Partition: partition, Offset: offset}}, opts)
	if err != nil {
		t.Fatalf("read %s@%s: %v", partition, offset, err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	return batches[0]
}

func (f *fixture) switchTo(t *testing.T, storageID string) domain.Timeline {
	t.Helper()
	tl, err := f.timelines.CreateTimeline(context.Background(), "orders", storageID, admin)
	if err != nil {
		t.Fatalf("create timeline on %s: %v", storageID, err)
	}
	return tl
}

func eventsOf(b Batch) []string {
	out := make([]string, len(b.Events))
	for i, e := range b.Events {
		out[i] = string(e)
	}
	return out
}

func TestPublishAndReadBeforeAnyTimeline(t *testing.T) {
	f := newFixture(t, Config{})
	cursors := f.publish(t, "0", `{"n":1}`, `{"n":2}`, `{"n":3}`)
	want := []cursor.Cursor{
		{Partition: "0", Offset: "000000000000000001"},
		{Partition: "0", Offset: "000000000000000002"},
		{Partition: "0", Offset: "000000000000000003"},
	}
	if diff := cmp.Diff(want, cursors); diff != "" {
		t.Fatalf("cursors (-want +got):\n%s", diff)
	}

	b := f.read(t, "0", cursor.BeginOffset, ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, eventsOf(b)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if b.Cursor.Offset != "000000000000000003" {
		t.Fatalf("cursor %q", b.Cursor.Offset)
	}

	b = f.read(t, "0", "1", ReadOptions{Limit: 1})
	if diff := cmp.Diff([]string{`{"n":2}`}, eventsOf(b)); diff != "" {
		t.Fatalf("limited read (-want +got):\n%s", diff)
	}
	if b.Cursor.Offset != "000000000000000002" {
		t.Fatalf("cursor %q", b.Cursor.Offset)
	}
}

func TestReadCrossesIntoNewStorage(t *testing.T) {
	f := newFixture(t, Config{})
	f.publish(t, "0", `{"n":1}`, `{"n":2}`)
	f.switchTo(t, "storage-2")
	cursors := f.publish(t, "0", `{"n":3}`, `{"n":4}`)
	if cursors[1].Offset != "001-0001-000000000000000002" {
		t.Fatalf("cursor after switch %q", cursors[1].Offset)
	}

	b := f.read(t, "0", "0", ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":1}`, `{"n":2}`}, eventsOf(b)); diff != "" {
		t.Fatalf("old timeline (-want +got):\n%s", diff)
	}
	if b.Cursor.Offset != "000000000000000002" {
		t.Fatalf("cursor %q", b.Cursor.Offset)
	}

	b = f.read(t, "0", b.Cursor.Offset, ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":3}`, `{"n":4}`}, eventsOf(b)); diff != "" {
		t.Fatalf("new timeline (-want +got):\n%s", diff)
	}
	if b.Cursor.Offset != "001-0001-000000000000000002" {
		t.Fatalf("cursor %q", b.Cursor.Offset)
	}
}

func TestLegacyCursorFollowsTakenOverTopic(t *testing.T) {
	f := newFixture(t, Config{})
	f.publish(t, "0", `{"n":1}`, `{"n":2}`)
	first := f.switchTo(t, "default")
	if first.Topic != "orders" {
		t.Fatalf("expected the pre-timeline topic to be reused, got %q", first.Topic)
	}
	cursors := f.publish(t, "0", `{"n":3}`)
	if cursors[0].Offset != "001-0001-000000000000000003" {
		t.Fatalf("cursor %q", cursors[0].Offset)
	}

	b := f.read(t, "0", "000000000000000002", ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":3}`}, eventsOf(b)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if b.Cursor.Offset != "001-0001-000000000000000003" {
		t.Fatalf("cursor %q", b.Cursor.Offset)
	}

	f.switchTo(t, "storage-2")
	b = f.read(t, "0", b.Cursor.Offset, ReadOptions{})
	if len(b.Events) != 0 || b.Cursor.Offset != "001-0002-000000000000000000" {
		t.Fatalf("expected an empty batch at the start of order 2, got %+v", b)
	}
	f.publish(t, "0", `{"n":4}`)
	b = f.read(t, "0", b.Cursor.Offset, ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":4}`}, eventsOf(b)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestRetiredTimelineEndsAtLatestPosition(t *testing.T) {
	f := newFixture(t, Config{})
	f.switchTo(t, "storage-2")
	f.publish(t, "1", `{"n":1}`)
	f.switchTo(t, "default")

	// Events appended to a retired topic after the switch are never served.
	repo, err := f.registry.Get(context.Background(), "storage-2")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	tls, err := f.timelines.ListTimelines(context.Background(), "orders")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := repo.Append(context.Background(), tls[0].Topic, "1", [][]byte{[]byte(`{"late":true}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.publish(t, "1", `{"n":2}`)

	b := f.read(t, "1", "001-0001-000000000000000000", ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":1}`}, eventsOf(b)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	b = f.read(t, "1", b.Cursor.Offset, ReadOptions{})
	if diff := cmp.Diff([]string{`{"n":2}`}, eventsOf(b)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if b.Cursor.Offset != "001-0002-000000000000000001" {
		t.Fatalf("cursor %q", b.Cursor.Offset)
	}
}

func TestReadRejectsInvalidCursors(t *testing.T) {
	f := newFixture(t, Config{})
	f.publish(t, "0", `{"n":1}`)
	cases := []struct {
		name      string
		partition string
		offset    string
		kind      domain.CursorErrorKind
	}{
		{"unknown order", "0", "001-0005-000000000000000000", domain.CursorUnavailable},
		{"past newest", "0", "000000000000000099", domain.CursorUnavailable},
		{"unknown partition", "7", "0", domain.CursorUnavailable},
		{"bad format", "0", "abc", domain.CursorBadFormat},
		{"unsupported version", "0", "999-0001-1", domain.CursorUnsupportedVersion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Read(context.Background(), "orders", []cursor.Cursor{{Partition: tc.partition, Offset: tc.offset}}, ReadOptions{})
			kind, ok := domain.CursorKind(err)
			if !ok || kind != tc.kind {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}

	_, err := f.svc.Read(context.Background(), "orders", []cursor.Cursor{{Partition: "0", Offset: "0"}, {Partition: "0", Offset: "1"}}, ReadOptions{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for duplicate partitions, got %v", err)
	}
}

func TestReadFilter(t *testing.T) {
	f := newFixture(t, Config{})
	f.publish(t, "0", `{"n":1}`, `{"n":2}`, `{"n":3}`)
	b := f.read(t, "0", "0", ReadOptions{Filter: `json.n >= 2.0`})
	if diff := cmp.Diff([]string{`{"n":2}`, `{"n":3}`}, eventsOf(b)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	b = f.read(t, "0", "0", ReadOptions{Filter: `text.contains("nope")`})
	if len(b.Events) != 0 || b.Cursor.Offset != "000000000000000003" {
		t.Fatalf("filtered records must still advance the cursor: %+v", b)
	}
	_, err := f.svc.Read(context.Background(), "orders", nil, ReadOptions{Filter: `json.n >=`})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if _, err := f.svc.Publish(ctx, "orders", PublishOptions{}, [][]byte{[]byte("not json")}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := f.svc.Publish(ctx, "orders", PublishOptions{}, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty batch, got %v", err)
	}
	if _, err := f.svc.Publish(ctx, "orders", PublishOptions{Partition: "2"}, [][]byte{[]byte(`{}`)}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for partition, got %v", err)
	}
	if _, err := f.svc.Publish(ctx, "missing", PublishOptions{}, [][]byte{[]byte(`{}`)}); !errors.Is(err, domain.ErrEventTypeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	a, err := f.svc.Publish(ctx, "orders", PublishOptions{Key: "customer-7"}, [][]byte{[]byte(`{}`)})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	b, err := f.svc.Publish(ctx, "orders", PublishOptions{Key: "customer-7"}, [][]byte{[]byte(`{}`)})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a[0].Partition != b[0].Partition {
		t.Fatalf("same key landed on partitions %s and %s", a[0].Partition, b[0].Partition)
	}
}

func TestHotPathRetriesLaterDuringSwitch(t *testing.T) {
	f := newFixture(t, Config{HotPathTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	if err := f.sync.StartUpdate(ctx, "orders", time.Second); err != nil {
		t.Fatalf("start update: %v", err)
	}
	_, err := f.svc.Publish(ctx, "orders", PublishOptions{}, [][]byte{[]byte(`{}`)})
	if !errors.Is(err, domain.ErrRetryLater) {
		t.Fatalf("expected retry later, got %v", err)
	}
	_, err = f.svc.Read(ctx, "orders", []cursor.Cursor{{Partition: "0", Offset: "0"}}, ReadOptions{})
	if !errors.Is(err, domain.ErrRetryLater) {
		t.Fatalf("expected retry later, got %v", err)
	}
	if err := f.sync.FinishUpdate(ctx, "orders"); err != nil {
		t.Fatalf("finish update: %v", err)
	}
	f.publish(t, "0", `{}`)
}

func TestLongPollWakesOnAppend(t *testing.T) {
	f := newFixture(t, Config{})
	done := make(chan Batch, 1)
	go func() {
		batches, err := f.svc.Read(context.Background(), "orders", []cursor.Cursor{{Partition: "1", Offset: "0"}}, ReadOptions{Wait: 5 * time.Second})
		if err != nil || len(batches) != 1 {
			done <- Batch{}
			return
		}
		done <- batches[0]
	}()
	time.Sleep(50 * time.Millisecond)
	f.publish(t, "1", `{"late":1}`)

	select {
	case b := <-done:
		if diff := cmp.Diff([]string{`{"late":1}`}, eventsOf(b)); diff != "" {
			t.Fatalf("events (-want +got):\n%s", diff)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("long poll did not return")
	}

	start := time.Now()
	b := f.read(t, "0", "0", ReadOptions{Wait: 30 * time.Millisecond})
	if len(b.Events) != 0 || time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected an empty batch after waiting, got %+v", b)
	}
}

func TestPartitionsSpanTimelines(t *testing.T) {
	f := newFixture(t, Config{})
	f.publish(t, "0", `{}`, `{}`)
	f.switchTo(t, "storage-2")
	f.publish(t, "0", `{}`)

	views, err := f.svc.Partitions(context.Background(), "orders")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	want := []PartitionView{
		{Partition: "0", Oldest: "000000000000000000", Newest: "001-0001-000000000000000001"},
		{Partition: "1", Oldest: "000000000000000000", Newest: "001-0001-000000000000000000"},
	}
	if diff := cmp.Diff(want, views); diff != "" {
		t.Fatalf("views (-want +got):\n%s", diff)
	}

	// Reading without cursors starts at the newest event.
	batches, err := f.svc.Read(context.Background(), "orders", nil, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, b := range batches {
		if len(b.Events) != 0 {
			t.Fatalf("tail read returned events: %+v", b)
		}
	}
	f.publish(t, "0", `{"tail":true}`)
	next := []cursor.Cursor{batches[0].Cursor, batches[1].Cursor}
	batches, err = f.svc.Read(context.Background(), "orders", next, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]json.RawMessage{json.RawMessage(`{"tail":true}`)}, batches[0].Events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}
