package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/metadata"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

const zeroOffset = "000000000000000000"

var admin = security.Client{ID: "nakadi-admin", FullAccess: true}

// fakeRepo is an in-memory TopicRepository tracking partition statistics only.
type fakeRepo struct {
	mu        sync.Mutex
	name      string
	topics    map[string][]domain.PartitionStatistics
	created   int
	deleted   []string
	createErr error
	// failStatsOnCall fails the n-th LoadPartitionStatistics call (1-based).
	failStatsOnCall int
	statsCalls      int
}

func newFakeRepo(name string) *fakeRepo {
	return &fakeRepo{name: name, topics: make(map[string][]domain.PartitionStatistics)}
}

func emptyStats(partitions int) []domain.PartitionStatistics {
	stats := make([]domain.PartitionStatistics, partitions)
	for i := range stats {
		stats[i] = domain.PartitionStatistics{Partition: storage.FormatPartition(i), First: zeroOffset, Last: zeroOffset}
	}
	return stats
}

func (r *fakeRepo) CreateTopic(_ context.Context, partitions int, _ time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	r.created++
	topic := fmt.Sprintf("%s-topic-%d", r.name, r.created)
	r.topics[topic] = emptyStats(partitions)
	return topic, nil
}

func (r *fakeRepo) EnsureTopic(_ context.Context, topic string, partitions int, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[topic]; !ok {
		r.topics[topic] = emptyStats(partitions)
	}
	return nil
}

func (r *fakeRepo) DeleteTopic(_ context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, topic)
	r.deleted = append(r.deleted, topic)
	return nil
}

func (r *fakeRepo) LoadPartitionStatistics(_ context.Context, topic string) ([]domain.PartitionStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsCalls++
	if r.failStatsOnCall > 0 && r.statsCalls == r.failStatsOnCall {
		return nil, errors.New("backend unavailable")
	}
	stats, ok := r.topics[topic]
	if !ok {
		return nil, storage.ErrTopicNotFound
	}
	return append([]domain.PartitionStatistics(nil), stats...), nil
}

func (r *fakeRepo) Append(context.Context, string, string, [][]byte) ([]string, error) {
	return nil, errors.New("not supported")
}

func (r *fakeRepo) Read(context.Context, string, string, string, int) ([]storage.Record, error) {
	return nil, errors.New("not supported")
}

// setLast moves the newest offset of one partition.
func (r *fakeRepo) setLast(topic string, partition int, n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[topic][partition].Last = storage.FormatOffset(n)
}

type repoMap map[string]*fakeRepo

func (m repoMap) Get(_ context.Context, id string) (storage.TopicRepository, error) {
	r, ok := m[id]
	if !ok {
		return nil, domain.ErrStorageNotFound
	}
	return r, nil
}

// countingBarrier wraps a Synchronizer and counts barrier calls.
type countingBarrier struct {
	*Synchronizer
	mu        sync.Mutex
	starts    int
	finishes  int
	finishErr error
}

func (b *countingBarrier) StartUpdate(ctx context.Context, et string, timeout time.Duration) error {
	err := b.Synchronizer.StartUpdate(ctx, et, timeout)
	b.mu.Lock()
	b.starts++
	b.mu.Unlock()
	return err
}

func (b *countingBarrier) FinishUpdate(ctx context.Context, et string) error {
	err := b.Synchronizer.FinishUpdate(ctx, et)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishes++
	if b.finishErr != nil {
		return b.finishErr
	}
	return err
}

func (b *countingBarrier) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.finishes
}

// failingStore injects a failure into UpdateTimeline inside transactions.
type failingStore struct {
	metadata.Store
	failUpdate bool
	// cancelInTx, when set, is called at the start of every transaction.
	cancelInTx context.CancelFunc
}

type failingTx struct {
	metadata.Tx
}

func (failingTx) UpdateTimeline(context.Context, domain.Timeline) error {
	return errors.New("metadata write failed")
}

func (s *failingStore) RunInTransaction(ctx context.Context, fn func(tx metadata.Tx) error) error {
	return s.Store.RunInTransaction(ctx, func(tx metadata.Tx) error {
		if s.cancelInTx != nil {
			s.cancelInTx()
		}
		if s.failUpdate {
			return fn(failingTx{Tx: tx})
		}
		return fn(tx)
	})
}

type fixture struct {
	store   *failingStore
	repos   repoMap
	barrier *countingBarrier
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := &failingStore{Store: metadata.NewPebbleStore(db)}
	ctx := context.Background()
	repos := repoMap{}
	for _, id := range []string{"default", "storage-2", "storage-3"} {
		if err := store.CreateStorage(ctx, domain.Storage{ID: id, Type: domain.StorageLocal}); err != nil {
			t.Fatalf("create storage: %v", err)
		}
		repos[id] = newFakeRepo(id)
	}
	if err := store.CreateEventType(ctx, domain.EventType{Name: "orders", Partitions: 2, RetentionTimeMs: 3600000}); err != nil {
		t.Fatalf("create event type: %v", err)
	}
	if err := repos["default"].EnsureTopic(ctx, "orders", 2, time.Hour); err != nil {
		t.Fatalf("ensure topic: %v", err)
	}
	barrier := &countingBarrier{Synchronizer: NewSynchronizer(nil)}
	svc := New(store, repos, barrier, Config{AdminClientID: admin.ID, DefaultStorage: "default", WaitTimeout: time.Second})
	return &fixture{store: store, repos: repos, barrier: barrier, svc: svc}
}

func (f *fixture) activeTimeline(t *testing.T) domain.Timeline {
	t.Helper()
	tl, err := f.svc.ActiveTimeline(context.Background(), "orders")
	if err != nil {
		t.Fatalf("active timeline: %v", err)
	}
	return tl
}

func TestCreateTimelineExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repos["default"].setLast("orders", 0, 5)

	if got := f.activeTimeline(t); !got.Fake || got.Order != 0 || got.Topic != "orders" {
		t.Fatalf("expected fake timeline, got %s", got)
	}

	first, err := f.svc.CreateTimeline(ctx, "orders", "storage-2", admin)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Order != 1 || first.StorageID != "storage-2" || first.Topic != "storage-2-topic-1" {
		t.Fatalf("unexpected first timeline %s", first)
	}
	if got := f.repos["storage-2"].topics[first.Topic]; len(got) != 2 {
		t.Fatalf("topic created with %d partitions", len(got))
	}
	active := f.activeTimeline(t)
	if active.Order != 1 || active.SwitchedAt != nil {
		t.Fatalf("expected order 1 active, got %s switchedAt=%v", active, active.SwitchedAt)
	}

	f.repos["storage-2"].setLast(first.Topic, 0, 7)
	second, err := f.svc.CreateTimeline(ctx, "orders", "storage-3", admin)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Order != 2 {
		t.Fatalf("expected order 2, got %s", second)
	}
	tls, err := f.svc.ListTimelines(ctx, "orders")
	if err != nil || len(tls) != 2 {
		t.Fatalf("list: %v %v", tls, err)
	}
	if tls[0].SwitchedAt == nil {
		t.Fatalf("order 1 not retired")
	}
	want := &domain.StoragePosition{Partitions: []domain.PartitionPosition{
		{Partition: "0", Offset: "000000000000000007"},
		{Partition: "1", Offset: zeroOffset},
	}}
	if diff := cmp.Diff(want, tls[0].LatestPosition); diff != "" {
		t.Fatalf("latest position (-want +got):\n%s", diff)
	}
	if tls[1].SwitchedAt != nil || tls[1].LatestPosition != nil {
		t.Fatalf("order 2 must be active: %+v", tls[1])
	}
	if starts, finishes := f.barrier.counts(); starts != 2 || finishes != 2 {
		t.Fatalf("barrier starts=%d finishes=%d", starts, finishes)
	}
}

func TestFirstTimelineOnDefaultStorageReusesTopic(t *testing.T) {
	f := newFixture(t)
	tl, err := f.svc.CreateTimeline(context.Background(), "orders", "default", admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tl.Order != 1 || tl.Topic != "orders" {
		t.Fatalf("expected order 1 on the pre-timeline topic, got %s", tl)
	}
	if f.repos["default"].created != 0 {
		t.Fatalf("no topic should have been created")
	}
}

func TestOrderMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storages := []string{"storage-2", "storage-3", "default"}
	const n = 5
	for i := 0; i < n; i++ {
		if _, err := f.svc.CreateTimeline(ctx, "orders", storages[i%len(storages)], admin); err != nil {
			t.Fatalf("migration %d: %v", i+1, err)
		}
	}
	if got := f.activeTimeline(t); got.Order != n {
		t.Fatalf("active order %d, want %d", got.Order, n)
	}
	tls, err := f.svc.ListTimelines(ctx, "orders")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	active := 0
	for i, tl := range tls {
		if tl.Order != i+1 {
			t.Fatalf("timeline %d has order %d", i, tl.Order)
		}
		if tl.Active() {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("%d active timelines", active)
	}
}

func TestSwitchTransactionFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateTimeline(ctx, "orders", "storage-2", admin)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	f.store.failUpdate = true
	_, err = f.svc.CreateTimeline(ctx, "orders", "storage-3", admin)
	var tlErr *domain.TimelineError
	if !errors.As(err, &tlErr) || tlErr.EventType != "orders" {
		t.Fatalf("expected timeline error for orders, got %v", err)
	}

	active := f.activeTimeline(t)
	if active.Order != first.Order || active.SwitchedAt != nil || active.LatestPosition != nil {
		t.Fatalf("previous timeline must stay active and unretired, got %+v", active)
	}
	tls, _ := f.svc.ListTimelines(ctx, "orders")
	if len(tls) != 1 {
		t.Fatalf("new timeline leaked: %v", tls)
	}
	if got := f.repos["storage-3"].deleted; len(got) != 1 {
		t.Fatalf("topic of aborted timeline not deleted: %v", got)
	}
	if _, finishes := f.barrier.counts(); finishes != 2 {
		t.Fatalf("finishes=%d", finishes)
	}
	if f.barrier.Updating("orders") {
		t.Fatalf("barrier leaked")
	}
}

func TestBarrierReleasedExactlyOnceOnFailure(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"transaction write fails", func(f *fixture) { f.store.failUpdate = true }},
		// Call 1 is the pre-switch statistics read, call 2 the final one under the barrier.
		{"final statistics fail", func(f *fixture) { f.repos["storage-2"].failStatsOnCall = 2 }},
		{"barrier release fails", func(f *fixture) { f.barrier.finishErr = context.Canceled }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if _, err := f.svc.CreateTimeline(ctx, "orders", "storage-2", admin); err != nil {
				t.Fatalf("first create: %v", err)
			}
			tc.setup(f)
			_, startsBefore := f.barrier.counts()
			if _, err := f.svc.CreateTimeline(ctx, "orders", "storage-3", admin); err == nil {
				t.Fatalf("expected failure")
			}
			if _, finishes := f.barrier.counts(); finishes-startsBefore != 1 {
				t.Fatalf("FinishUpdate ran %d times", finishes-startsBefore)
			}
		})
	}
}

func TestCancelledReleaseKeepsCommittedTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateTimeline(ctx, "orders", "storage-2", admin); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// The transaction commits, then the release reports the cancellation.
	f.barrier.finishErr = fmt.Errorf("interrupted: %w", context.Canceled)
	_, err := f.svc.CreateTimeline(ctx, "orders", "storage-3", admin)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation surfaced, got %v", err)
	}
	var tlErr *domain.TimelineError
	if !errors.As(err, &tlErr) {
		t.Fatalf("expected timeline error, got %T", err)
	}

	active := f.activeTimeline(t)
	if active.Order != 2 || active.StorageID != "storage-3" {
		t.Fatalf("committed timeline not active: %+v", active)
	}
	repo := f.repos["storage-3"]
	if len(repo.deleted) != 0 {
		t.Fatalf("topic of committed timeline deleted: %v", repo.deleted)
	}
	if _, err := repo.LoadPartitionStatistics(ctx, active.Topic); err != nil {
		t.Fatalf("active timeline's topic unreadable: %v", err)
	}
	if f.barrier.Updating("orders") {
		t.Fatalf("barrier leaked")
	}
}

func TestCancelledSwitchRollsBack(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CreateTimeline(context.Background(), "orders", "storage-2", admin); err != nil {
		t.Fatalf("first create: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.cancelInTx = cancel
	if _, err := f.svc.CreateTimeline(ctx, "orders", "storage-3", admin); err == nil {
		t.Fatalf("expected cancelled switch to fail")
	}
	f.store.cancelInTx = nil

	active := f.activeTimeline(t)
	if active.Order != 1 || active.StorageID != "storage-2" || active.SwitchedAt != nil {
		t.Fatalf("previous timeline must stay active, got %+v", active)
	}
	tls, _ := f.svc.ListTimelines(context.Background(), "orders")
	if len(tls) != 1 {
		t.Fatalf("cancelled timeline persisted: %v", tls)
	}
	if got := f.repos["storage-3"].deleted; len(got) != 1 {
		t.Fatalf("topic of rolled back timeline not deleted: %v", got)
	}
	if f.barrier.Updating("orders") {
		t.Fatalf("barrier leaked")
	}
}

func TestTimelineOrderLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic, err := f.repos["storage-2"].CreateTopic(ctx, 2, time.Hour)
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	last := domain.Timeline{ID: "last", EventType: "orders", Order: domain.MaxTimelineOrder, StorageID: "storage-2", Topic: topic}
	if err := f.store.RunInTransaction(ctx, func(tx metadata.Tx) error { return tx.InsertTimeline(ctx, last) }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = f.svc.CreateTimeline(ctx, "orders", "storage-3", admin)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected order limit error, got %v", err)
	}
	if f.repos["storage-3"].created != 0 {
		t.Fatalf("topic created past the order limit")
	}
	if starts, _ := f.barrier.counts(); starts != 0 {
		t.Fatalf("barrier raised past the order limit")
	}
}

func TestCreateTimelineForbidden(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTimeline(context.Background(), "orders", "storage-2", security.Client{ID: "app-1"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var tlErr *domain.TimelineError
	if errors.As(err, &tlErr) {
		t.Fatalf("forbidden must not be wrapped as a migration failure")
	}
	// PermitAll is not the admin.
	if _, err := f.svc.CreateTimeline(context.Background(), "orders", "storage-2", security.PermitAll); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for permit-all, got %v", err)
	}
	if starts, _ := f.barrier.counts(); starts != 0 {
		t.Fatalf("barrier touched on forbidden request")
	}
}

func TestCreateTimelineNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateTimeline(ctx, "missing", "storage-2", admin); !errors.Is(err, domain.ErrEventTypeNotFound) {
		t.Fatalf("expected event type not found, got %v", err)
	}
	_, err := f.svc.CreateTimeline(ctx, "orders", "nowhere", admin)
	if !errors.Is(err, domain.ErrStorageNotFound) {
		t.Fatalf("expected storage not found, got %v", err)
	}
	var tlErr *domain.TimelineError
	if !errors.As(err, &tlErr) || tlErr.EventType != "orders" {
		t.Fatalf("expected wrapping timeline error, got %v", err)
	}
}

func TestMissingDefaultStorage(t *testing.T) {
	f := newFixture(t)
	svc := New(f.store, f.repos, f.barrier, Config{AdminClientID: admin.ID, DefaultStorage: "absent", WaitTimeout: time.Second})
	_, err := svc.GetTimeline(context.Background(), domain.EventType{Name: "orders"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := svc.CreateTimeline(context.Background(), "orders", "storage-2", admin); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error from create, got %v", err)
	}
}

func TestMigrationTimeout(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.WaitTimeout = 20 * time.Millisecond
	release, err := f.barrier.WorkWithEventType(context.Background(), "orders", time.Second)
	if err != nil {
		t.Fatalf("work: %v", err)
	}
	defer release()

	_, err = f.svc.CreateTimeline(context.Background(), "orders", "storage-2", admin)
	if !errors.Is(err, domain.ErrMigrationTimeout) {
		t.Fatalf("expected migration timeout, got %v", err)
	}
	if got := f.activeTimeline(t); !got.Fake {
		t.Fatalf("nothing should have been switched, got %s", got)
	}
	if got := f.repos["storage-2"].deleted; len(got) != 1 {
		t.Fatalf("topic of timed out migration not deleted: %v", got)
	}
}

func TestConcurrentMigrationsAreSerialised(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateTimeline(ctx, "orders", "storage-2", admin)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrConcurrentUpdate):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded == 0 {
		t.Fatalf("no migration succeeded")
	}
	tls, err := f.svc.ListTimelines(ctx, "orders")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tls) != succeeded {
		t.Fatalf("%d timelines for %d successful migrations", len(tls), succeeded)
	}
	active := 0
	for i, tl := range tls {
		if tl.Order != i+1 {
			t.Fatalf("gap in orders: %v", tls)
		}
		if tl.Active() {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("%d active timelines", active)
	}
}
