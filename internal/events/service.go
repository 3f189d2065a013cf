package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"time"

	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/storage"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// EventTypes resolves event type definitions.
type EventTypes interface {
	GetEventType(ctx context.Context, name string) (domain.EventType, error)
}

// Timelines resolves the timelines of an event type.
type Timelines interface {
	GetTimeline(ctx context.Context, et domain.EventType) (domain.Timeline, error)
	ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error)
	FakeTimeline(ctx context.Context, eventType string) (domain.Timeline, error)
}

// Guard registers hot-path work so that timeline switches can wait for it.
type Guard interface {
	WorkWithEventType(ctx context.Context, eventType string, timeout time.Duration) (func(), error)
}

// Repositories resolves a storage id to its backend.
type Repositories interface {
	Get(ctx context.Context, storageID string) (storage.TopicRepository, error)
}

// Codec decodes wire cursors into timeline positions.
type Codec interface {
	DecodeBatch(ctx context.Context, cursors []cursor.EventTypeCursor) ([]domain.NakadiCursor, error)
}

// Metrics observes hot-path traffic.
type Metrics interface {
	EventsPublished(eventType string, count int)
	EventsRead(eventType string, count int)
}

// Config tunes the hot path.
type Config struct {
	// HotPathTimeout bounds how long an operation waits for a running
	// timeline switch before failing with ErrRetryLater.
	HotPathTimeout time.Duration
	// MaxBatch caps the events returned per partition by one read.
	MaxBatch int
	// MaxWait caps the long-poll wait a reader may request.
	MaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.HotPathTimeout <= 0 {
		c.HotPathTimeout = time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 1000
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	return c
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	EventTypes EventTypes
	Timelines  Timelines
	Guard      Guard
	Repos      Repositories
	Codec      Codec
}

// Service publishes and reads events.
type Service struct {
	deps    Deps
	cfg     Config
	logger  logpkg.Logger
	metrics Metrics
	now     func() time.Time
	rr      atomic.Uint64
}

// New returns a hot-path service.
func New(deps Deps, cfg Config, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With(logpkg.Component("events")),
		now:    time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// PublishOptions selects the partition of a published batch. Partition wins
// over Key; with neither, batches are spread round robin.
type PublishOptions struct {
	Partition string
	Key       string
}

// Publish appends payloads to one partition of eventType's active timeline
// and returns the cursor of every stored event.
func (s *Service) Publish(ctx context.Context, eventType string, opts PublishOptions, payloads [][]byte) ([]cursor.Cursor, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidArgument)
	}
	for i, p := range payloads {
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: event %d is not valid JSON", domain.ErrInvalidArgument, i)
		}
	}
	et, err := s.deps.EventTypes.GetEventType(ctx, eventType)
	if err != nil {
		return nil, err
	}
	partition, err := s.selectPartition(et, opts)
	if err != nil {
		return nil, err
	}

	release, err := s.deps.Guard.WorkWithEventType(ctx, et.Name, s.cfg.HotPathTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	tl, err := s.deps.Timelines.GetTimeline(ctx, et)
	if err != nil {
		return nil, err
	}
	repo, err := s.deps.Repos.Get(ctx, tl.StorageID)
	if err != nil {
		return nil, err
	}
	offsets, err := repo.Append(ctx, tl.Topic, partition, payloads)
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", tl, err)
	}
	out := make([]cursor.Cursor, len(offsets))
	for i, off := range offsets {
		out[i] = cursor.Encode(domain.NakadiCursor{Timeline: tl, Partition: partition, Offset: off})
	}
	if s.metrics != nil {
		s.metrics.EventsPublished(et.Name, len(payloads))
	}
	s.logger.Debug("events published",
		logpkg.EventType(et.Name), logpkg.Str("partition", partition), logpkg.Int("count", len(payloads)), logpkg.Int("order", tl.Order))
	return out, nil
}

func (s *Service) selectPartition(et domain.EventType, opts PublishOptions) (string, error) {
	switch {
	case opts.Partition != "":
		p, err := storage.ParsePartition(opts.Partition, et.Partitions)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		return storage.FormatPartition(p), nil
	case opts.Key != "":
		return storage.FormatPartition(int(crc32.ChecksumIEEE([]byte(opts.Key)) % uint32(et.Partitions))), nil
	default:
		return storage.FormatPartition(int(s.rr.Add(1)-1) % et.Partitions), nil
	}
}

// PartitionView reports the readable window of one partition as wire cursors.
type PartitionView struct {
	Partition string `json:"partition"`
	Oldest    string `json:"oldest_available_offset"`
	Newest    string `json:"newest_available_offset"`
}

// Partitions returns the readable window of every partition of eventType.
// Oldest is the position before the oldest retained event of the earliest
// timeline and Newest the last event of the active one.
func (s *Service) Partitions(ctx context.Context, eventType string) ([]PartitionView, error) {
	et, err := s.deps.EventTypes.GetEventType(ctx, eventType)
	if err != nil {
		return nil, err
	}
	release, err := s.deps.Guard.WorkWithEventType(ctx, et.Name, s.cfg.HotPathTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	chain, err := s.chain(ctx, et.Name)
	if err != nil {
		return nil, err
	}
	first, err := s.statistics(ctx, chain[0])
	if err != nil {
		return nil, err
	}
	last := first
	if len(chain) > 1 {
		if last, err = s.statistics(ctx, chain[len(chain)-1]); err != nil {
			return nil, err
		}
	}
	views := make([]PartitionView, 0, len(last))
	for _, st := range last {
		oldest := st.First
		if f, ok := findStat(first, st.Partition); ok {
			oldest = f.First
		}
		views = append(views, PartitionView{
			Partition: st.Partition,
			Oldest:    cursor.Encode(domain.NakadiCursor{Timeline: chain[0], Partition: st.Partition, Offset: oldest}).Offset,
			Newest:    cursor.Encode(domain.NakadiCursor{Timeline: chain[len(chain)-1], Partition: st.Partition, Offset: st.Last}).Offset,
		})
	}
	return views, nil
}

// chain returns the timelines of eventType in read order. The fake timeline
// leads the chain unless the first persisted timeline took over its topic.
func (s *Service) chain(ctx context.Context, eventType string) ([]domain.Timeline, error) {
	persisted, err := s.deps.Timelines.ListTimelines(ctx, eventType)
	if err != nil {
		return nil, err
	}
	fake, err := s.deps.Timelines.FakeTimeline(ctx, eventType)
	if err != nil {
		if len(persisted) > 0 && errors.Is(err, domain.ErrConfiguration) {
			return persisted, nil
		}
		return nil, err
	}
	if len(persisted) == 0 {
		return []domain.Timeline{fake}, nil
	}
	if sharesTopic(fake, persisted[0]) {
		return persisted, nil
	}
	return append([]domain.Timeline{fake}, persisted...), nil
}

func sharesTopic(a, b domain.Timeline) bool {
	return a.StorageID == b.StorageID && a.Topic == b.Topic
}

func (s *Service) statistics(ctx context.Context, tl domain.Timeline) ([]domain.PartitionStatistics, error) {
	repo, err := s.deps.Repos.Get(ctx, tl.StorageID)
	if err != nil {
		return nil, err
	}
	stats, err := repo.LoadPartitionStatistics(ctx, tl.Topic)
	if err != nil {
		return nil, fmt.Errorf("load statistics of %s: %w", tl, err)
	}
	return stats, nil
}

func findStat(stats []domain.PartitionStatistics, partition string) (domain.PartitionStatistics, bool) {
	for _, st := range stats {
		if st.Partition == partition {
			return st, true
		}
	}
	return domain.PartitionStatistics{}, false
}
