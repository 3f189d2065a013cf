package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/feature"
	"github.com/adyach/nakadi/internal/metadata"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
	"github.com/adyach/nakadi/internal/storage/local"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

var admin = security.Client{ID: "nakadi-admin", FullAccess: true}

func newService(t *testing.T, toggles *feature.Toggles) (*Service, *storage.Registry) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := metadata.NewPebbleStore(db)
	reg := storage.NewRegistry(store, nil)
	reg.RegisterFactory(domain.StorageLocal, local.Factory(db, nil, nil))
	svc := New(store, reg, toggles, Config{
		AdminClientID:  admin.ID,
		DefaultStorage: "default",
		Defaults:       EventTypeDefaults{Partitions: 8, RetentionTimeMs: 172800000},
	}, nil)
	return svc, reg
}

func TestBootstrapCreatesDefaultStorageOnce(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	extra := domain.Storage{ID: "kafka-1", Type: domain.StorageKafka, Kafka: &domain.KafkaStorage{Brokers: []string{"localhost:9092"}}}
	for i := 0; i < 2; i++ {
		if err := svc.Bootstrap(ctx, []domain.Storage{extra}); err != nil {
			t.Fatalf("bootstrap %d: %v", i, err)
		}
	}
	list, err := svc.ListStorages(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make([]string, len(list))
	for i, st := range list {
		ids[i] = st.ID
	}
	if diff := cmp.Diff([]string{"default", "kafka-1"}, ids, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("storages (-want +got):\n%s", diff)
	}
	if err := svc.Bootstrap(ctx, []domain.Storage{{ID: "bad", Type: "s3"}}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCreateEventTypeAppliesDefaultsAndCreatesTopic(t *testing.T) {
	svc, reg := newService(t, nil)
	ctx := context.Background()
	if err := svc.Bootstrap(ctx, nil); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	et, err := svc.CreateEventType(ctx, domain.EventType{Name: "order.created"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := domain.EventType{Name: "order.created", Partitions: 8, RetentionTimeMs: 172800000}
	if diff := cmp.Diff(want, et, cmpopts.IgnoreFields(domain.EventType{}, "CreatedAt")); diff != "" {
		t.Fatalf("event type (-want +got):\n%s", diff)
	}
	repo, err := reg.Get(ctx, "default")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	stats, err := repo.LoadPartitionStatistics(ctx, "order.created")
	if err != nil {
		t.Fatalf("topic of the event type: %v", err)
	}
	if len(stats) != 8 {
		t.Fatalf("expected 8 partitions, got %d", len(stats))
	}
	got, err := svc.GetEventType(ctx, "order.created")
	if err != nil || !got.CreatedAt.Equal(et.CreatedAt) {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := svc.CreateEventType(ctx, domain.EventType{Name: "order.created"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestCreateEventTypeValidation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	if err := svc.Bootstrap(ctx, nil); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, et := range []domain.EventType{
		{Name: ""},
		{Name: "1orders"},
		{Name: "orders..x"},
		{Name: "orders", Partitions: -1},
		{Name: "orders", Partitions: MaxPartitions + 1},
		{Name: "orders", RetentionTimeMs: -5},
	} {
		if _, err := svc.CreateEventType(ctx, et); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("%+v: expected invalid argument, got %v", et, err)
		}
	}
	list, err := svc.ListEventTypes(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no event types, got %v %v", list, err)
	}
}

func TestCreateEventTypeWithoutDefaultStorage(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.CreateEventType(context.Background(), domain.EventType{Name: "orders"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEventTypeCreationCanBeDisabled(t *testing.T) {
	toggles, err := feature.NewToggles(map[string]bool{string(feature.DisableEventTypeCreation): true})
	if err != nil {
		t.Fatalf("toggles: %v", err)
	}
	svc, _ := newService(t, toggles)
	if _, err := svc.CreateEventType(context.Background(), domain.EventType{Name: "orders"}); !errors.Is(err, domain.ErrFeatureNotAvailable) {
		t.Fatalf("expected feature not available, got %v", err)
	}
}

func TestCreateStorage(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	st := domain.Storage{ID: "storage-2", Type: domain.StorageLocal}
	if _, err := svc.CreateStorage(ctx, st, security.Client{ID: "someone"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.CreateStorage(ctx, st, security.PermitAll); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("permit-all is not the admin client, got %v", err)
	}
	created, err := svc.CreateStorage(ctx, st, admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if time.Since(created.CreatedAt) > time.Minute {
		t.Fatalf("created at not set: %v", created.CreatedAt)
	}
	if _, err := svc.CreateStorage(ctx, st, admin); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	bad := []domain.Storage{
		{ID: "k", Type: domain.StorageKafka},
		{ID: "k", Type: domain.StorageKafka, Kafka: &domain.KafkaStorage{}},
		{ID: "l", Type: domain.StorageLocal, Kafka: &domain.KafkaStorage{Brokers: []string{"b:1"}}},
		{ID: "", Type: domain.StorageLocal},
	}
	for _, b := range bad {
		if _, err := svc.CreateStorage(ctx, b, admin); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("%+v: expected invalid argument, got %v", b, err)
		}
	}
	got, err := svc.GetStorage(ctx, "storage-2")
	if err != nil || got.Type != domain.StorageLocal {
		t.Fatalf("get: %+v %v", got, err)
	}
}
