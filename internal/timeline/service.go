package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/metadata"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
	"github.com/adyach/nakadi/pkg/id"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// Barrier is the migration side of the Synchronizer.
type Barrier interface {
	StartUpdate(ctx context.Context, eventType string, timeout time.Duration) error
	FinishUpdate(ctx context.Context, eventType string) error
}

// Repositories resolves a storage id to its backend.
type Repositories interface {
	Get(ctx context.Context, storageID string) (storage.TopicRepository, error)
}

// Metrics observes timeline switches.
type Metrics interface {
	TimelineSwitched(eventType string, success bool, elapsed time.Duration)
}

// Config holds the settings timeline operations depend on.
type Config struct {
	// AdminClientID is the only client allowed to create timelines.
	AdminClientID string
	// DefaultStorage hosts the fake timeline of event types without timelines.
	DefaultStorage string
	// WaitTimeout bounds how long a switch waits for in-flight operations.
	WaitTimeout time.Duration
}

// Service orchestrates timeline creation and resolution.
type Service struct {
	store   metadata.Store
	repos   Repositories
	barrier Barrier
	cfg     Config
	logger  logpkg.Logger
	metrics Metrics
	ids     *id.Generator
	now     func() time.Time
}

// New returns a Service using a default logger.
func New(store metadata.Store, repos Repositories, barrier Barrier, cfg Config) *Service {
	return NewWithLogger(store, repos, barrier, cfg, nil)
}

// NewWithLogger returns a Service using the provided logger.
func NewWithLogger(store metadata.Store, repos Repositories, barrier Barrier, cfg Config, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{
		store:   store,
		repos:   repos,
		barrier: barrier,
		cfg:     cfg,
		logger:  logger.With(logpkg.Component("timelines")),
		ids:     id.NewGenerator(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// CreateTimeline creates the successor of eventType's active timeline on
// storageID and switches to it. Only the admin client may do so.
func (s *Service) CreateTimeline(ctx context.Context, eventType, storageID string, client security.Client) (domain.Timeline, error) {
	if client.ID != s.cfg.AdminClientID {
		return domain.Timeline{}, fmt.Errorf("%w: request is forbidden for client %s", domain.ErrForbidden, client.ID)
	}
	next, err := s.createTimeline(ctx, eventType, storageID)
	if err != nil {
		return domain.Timeline{}, &domain.TimelineError{EventType: eventType, Err: err}
	}
	return next, nil
}

func (s *Service) createTimeline(ctx context.Context, eventTypeName, storageID string) (domain.Timeline, error) {
	et, err := s.store.GetEventType(ctx, eventTypeName)
	if err != nil {
		return domain.Timeline{}, err
	}
	target, err := s.store.GetStorage(ctx, storageID)
	if err != nil {
		return domain.Timeline{}, err
	}
	active, err := s.GetTimeline(ctx, et)
	if err != nil {
		return domain.Timeline{}, err
	}
	currentRepo, err := s.repos.Get(ctx, active.StorageID)
	if err != nil {
		return domain.Timeline{}, err
	}
	nextRepo, err := s.repos.Get(ctx, target.ID)
	if err != nil {
		return domain.Timeline{}, err
	}
	stats, err := currentRepo.LoadPartitionStatistics(ctx, active.Topic)
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("load statistics of %s: %w", active.Topic, err)
	}

	if active.Order >= domain.MaxTimelineOrder {
		return domain.Timeline{}, fmt.Errorf("%w: event type %s reached the last timeline order %d", domain.ErrInvalidArgument, et.Name, domain.MaxTimelineOrder)
	}
	next := domain.Timeline{
		ID:        s.ids.Next().UUID(),
		EventType: et.Name,
		Order:     active.Order + 1,
		StorageID: target.ID,
		CreatedAt: s.now(),
	}
	createdTopic := false
	if active.Fake && active.StorageID == target.ID {
		// The first real timeline takes over the pre-timeline topic.
		next.Topic = active.Topic
	} else {
		topic, err := nextRepo.CreateTopic(ctx, len(stats), et.RetentionTime())
		if err != nil {
			return domain.Timeline{}, fmt.Errorf("create topic on %s: %w", target.ID, err)
		}
		next.Topic = topic
		createdTopic = true
	}

	committed, err := s.switchTimelines(ctx, et, active, currentRepo, next)
	if err != nil {
		switch {
		case committed:
			// next is durable and active; its topic must survive.
			s.logger.Warn("timeline switch committed but reported an error",
				logpkg.EventType(et.Name), logpkg.Int("order", next.Order), logpkg.Err(err))
		case createdTopic:
			if derr := nextRepo.DeleteTopic(context.WithoutCancel(ctx), next.Topic); derr != nil {
				s.logger.Warn("failed to delete topic of aborted timeline",
					logpkg.EventType(et.Name), logpkg.Str("topic", next.Topic), logpkg.Err(derr))
			}
		}
		return domain.Timeline{}, err
	}
	return next, nil
}

// switchTimelines raises the barrier, persists next and retires active in
// one metadata transaction, then lifts the barrier whatever happened.
// committed reports whether the transaction was committed, which can be the
// case even when err is set by the barrier release.
func (s *Service) switchTimelines(ctx context.Context, et domain.EventType, active domain.Timeline, activeRepo storage.TopicRepository, next domain.Timeline) (committed bool, err error) {
	log := s.logger.WithContext(ctx).With(logpkg.EventType(et.Name), logpkg.Int("from_order", active.Order), logpkg.Int("to_order", next.Order))
	log.Info("switching timelines", logpkg.Str("storage", next.StorageID), logpkg.Str("topic", next.Topic))
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.TimelineSwitched(et.Name, err == nil, time.Since(start))
		}
		if err != nil {
			log.Error("timeline switch failed", logpkg.Err(err), logpkg.Bool("committed", committed))
		}
	}()

	if err := s.barrier.StartUpdate(ctx, et.Name, s.cfg.WaitTimeout); err != nil {
		return false, err
	}
	defer func() {
		if ferr := s.barrier.FinishUpdate(ctx, et.Name); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	err = s.store.RunInTransaction(ctx, func(tx metadata.Tx) error {
		if err := s.persistSwitch(ctx, tx, et, active, activeRepo, next); err != nil {
			return err
		}
		// A cancelled caller rolls the switch back rather than committing it.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("timeline switch interrupted: %w", err)
		}
		return nil
	})
	return err == nil, err
}

func (s *Service) persistSwitch(ctx context.Context, tx metadata.Tx, et domain.EventType, active domain.Timeline, activeRepo storage.TopicRepository, next domain.Timeline) error {
	persisted, err := tx.ListTimelines(ctx, et.Name)
	if err != nil {
		return err
	}
	latest := domain.StartingOrder
	if n := len(persisted); n > 0 {
		latest = persisted[n-1].Order
	}
	if latest != active.Order {
		return fmt.Errorf("%w: active order is %d, expected %d", domain.ErrConcurrentUpdate, latest, active.Order)
	}
	if err := tx.InsertTimeline(ctx, next); err != nil {
		return err
	}
	if active.Fake {
		return nil
	}
	// Nothing can be appended to the outgoing topic while the barrier is up.
	stats, err := activeRepo.LoadPartitionStatistics(ctx, active.Topic)
	if err != nil {
		return fmt.Errorf("load final statistics of %s: %w", active.Topic, err)
	}
	pos := domain.PositionFromStatistics(stats)
	switchedAt := s.now()
	active.SwitchedAt = &switchedAt
	active.LatestPosition = &pos
	return tx.UpdateTimeline(ctx, active)
}

// GetTimeline returns the active timeline of et, or a synthesised fake
// timeline on the default storage when none is persisted.
func (s *Service) GetTimeline(ctx context.Context, et domain.EventType) (domain.Timeline, error) {
	active, ok, err := s.store.ActiveTimeline(ctx, et.Name)
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("load active timeline of %s: %w", et.Name, err)
	}
	if ok {
		return active, nil
	}
	return s.fakeTimeline(ctx, et)
}

// ActiveTimeline is GetTimeline keyed by event type name.
func (s *Service) ActiveTimeline(ctx context.Context, eventType string) (domain.Timeline, error) {
	et, err := s.store.GetEventType(ctx, eventType)
	if err != nil {
		return domain.Timeline{}, err
	}
	return s.GetTimeline(ctx, et)
}

// GetTopicRepository returns the backend of et's active timeline.
func (s *Service) GetTopicRepository(ctx context.Context, et domain.EventType) (storage.TopicRepository, error) {
	tl, err := s.GetTimeline(ctx, et)
	if err != nil {
		return nil, err
	}
	return s.repos.Get(ctx, tl.StorageID)
}

// FakeTimeline returns the order-0 timeline of eventType.
func (s *Service) FakeTimeline(ctx context.Context, eventType string) (domain.Timeline, error) {
	et, err := s.store.GetEventType(ctx, eventType)
	if err != nil {
		return domain.Timeline{}, err
	}
	return s.fakeTimeline(ctx, et)
}

func (s *Service) fakeTimeline(ctx context.Context, et domain.EventType) (domain.Timeline, error) {
	st, err := s.store.GetStorage(ctx, s.cfg.DefaultStorage)
	if err != nil {
		if errors.Is(err, domain.ErrStorageNotFound) {
			return domain.Timeline{}, fmt.Errorf("%w: fake timeline creation failed for event type %s, no default storage %q defined",
				domain.ErrConfiguration, et.Name, s.cfg.DefaultStorage)
		}
		return domain.Timeline{}, err
	}
	return domain.NewFakeTimeline(et, st), nil
}

// ListTimelines returns the persisted timelines of eventType ordered by order.
func (s *Service) ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error) {
	if _, err := s.store.GetEventType(ctx, eventType); err != nil {
		return nil, err
	}
	return s.store.ListTimelines(ctx, eventType)
}
