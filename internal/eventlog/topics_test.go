package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

func openTopicDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTopicLifecycle(t *testing.T) {
	db := openTopicDB(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := TopicMeta{Name: "orders", Partitions: 2, RetentionMs: 60000, CreatedAt: created}
	if err := CreateTopic(db, "default", meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CreateTopic(db, "default", meta); !errors.Is(err, ErrTopicExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	// Same name on another storage is a different topic.
	if err := CreateTopic(db, "other", meta); err != nil {
		t.Fatalf("create on other storage: %v", err)
	}
	got, err := GetTopic(db, "default", "orders")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(meta, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if got.Retention() != time.Minute {
		t.Fatalf("retention %s", got.Retention())
	}

	l, err := OpenLog(db, "default", "orders", 1)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := l.Append(ctx, []Event{{Payload: []byte("a")}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := DropTopic(ctx, db, "default", "orders"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := GetTopic(db, "default", "orders"); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	reopened, err := OpenLog(db, "default", "orders", 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.LastSeq() != 0 {
		t.Fatalf("partition data survived drop")
	}
	topics, err := ListTopics(db, "other")
	if err != nil || len(topics) != 1 || topics[0].Name != "orders" {
		t.Fatalf("list other: %v %v", topics, err)
	}
}

func TestBoundsOfEmptyAndFilledLog(t *testing.T) {
	l := newTestLog(t)
	first, last, err := l.Bounds()
	if err != nil || first != 0 || last != 0 {
		t.Fatalf("empty bounds = (%d, %d, %v)", first, last, err)
	}
	if _, err := l.Append(context.Background(), []Event{{Payload: []byte("a")}, {Payload: []byte("b")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	first, last, err = l.Bounds()
	if err != nil || first != 0 || last != 2 {
		t.Fatalf("bounds = (%d, %d, %v)", first, last, err)
	}
}
