// Package admin manages event types and storages.
package admin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/feature"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z][-0-9a-zA-Z_]*(\.[0-9a-zA-Z][-0-9a-zA-Z_]*)*$`)

// MaxPartitions bounds the partition count of an event type.
const MaxPartitions = 1024

// Store is the metadata the service reads and writes.
type Store interface {
	GetEventType(ctx context.Context, name string) (domain.EventType, error)
	ListEventTypes(ctx context.Context) ([]domain.EventType, error)
	CreateEventType(ctx context.Context, et domain.EventType) error
	GetStorage(ctx context.Context, id string) (domain.Storage, error)
	ListStorages(ctx context.Context) ([]domain.Storage, error)
	CreateStorage(ctx context.Context, st domain.Storage) error
}

// Repositories resolves a storage id to its backend.
type Repositories interface {
	Get(ctx context.Context, storageID string) (storage.TopicRepository, error)
}

// EventTypeDefaults fill unset event type fields.
type EventTypeDefaults struct {
	Partitions      int
	RetentionTimeMs int64
}

// Config holds the administration settings.
type Config struct {
	AdminClientID  string
	DefaultStorage string
	Defaults       EventTypeDefaults
}

// Service administers event types and storages.
type Service struct {
	store    Store
	repos    Repositories
	features *feature.Toggles
	cfg      Config
	logger   logpkg.Logger
	now      func() time.Time
}

// New returns an administration service. A nil toggle set enables every operation.
func New(store Store, repos Repositories, features *feature.Toggles, cfg Config, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if features == nil {
		features, _ = feature.NewToggles(nil)
	}
	return &Service{
		store:    store,
		repos:    repos,
		features: features,
		cfg:      cfg,
		logger:   logger.With(logpkg.Component("admin")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateEventType registers et and creates its pre-timeline topic on the
// default storage. Unset partitions and retention take the configured defaults.
func (s *Service) CreateEventType(ctx context.Context, et domain.EventType) (domain.EventType, error) {
	if s.features.IsEnabled(feature.DisableEventTypeCreation) {
		return domain.EventType{}, fmt.Errorf("%w: event type creation is disabled", domain.ErrFeatureNotAvailable)
	}
	if !namePattern.MatchString(et.Name) {
		return domain.EventType{}, fmt.Errorf("%w: event type name %q", domain.ErrInvalidArgument, et.Name)
	}
	if et.Partitions == 0 {
		et.Partitions = s.cfg.Defaults.Partitions
	}
	if et.RetentionTimeMs == 0 {
		et.RetentionTimeMs = s.cfg.Defaults.RetentionTimeMs
	}
	if et.Partitions <= 0 || et.Partitions > MaxPartitions {
		return domain.EventType{}, fmt.Errorf("%w: partitions must be within [1, %d], got %d", domain.ErrInvalidArgument, MaxPartitions, et.Partitions)
	}
	if et.RetentionTimeMs < 0 {
		return domain.EventType{}, fmt.Errorf("%w: negative retention", domain.ErrInvalidArgument)
	}
	et.CreatedAt = s.now()

	if _, err := s.store.GetEventType(ctx, et.Name); err == nil {
		return domain.EventType{}, fmt.Errorf("event type %s: %w", et.Name, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrEventTypeNotFound) {
		return domain.EventType{}, err
	}
	repo, err := s.repos.Get(ctx, s.cfg.DefaultStorage)
	if err != nil {
		if errors.Is(err, domain.ErrStorageNotFound) {
			return domain.EventType{}, fmt.Errorf("%w: default storage %q is not defined", domain.ErrConfiguration, s.cfg.DefaultStorage)
		}
		return domain.EventType{}, err
	}
	// The topic exists before the event type becomes visible so that the
	// fake timeline always points at a real topic.
	if err := repo.EnsureTopic(ctx, et.Name, et.Partitions, et.RetentionTime()); err != nil {
		return domain.EventType{}, fmt.Errorf("create topic of %s: %w", et.Name, err)
	}
	if err := s.store.CreateEventType(ctx, et); err != nil {
		return domain.EventType{}, err
	}
	s.logger.WithContext(ctx).Info("event type created",
		logpkg.EventType(et.Name), logpkg.Int("partitions", et.Partitions), logpkg.Duration("retention", et.RetentionTime()))
	return et, nil
}

// GetEventType returns the event type called name.
func (s *Service) GetEventType(ctx context.Context, name string) (domain.EventType, error) {
	return s.store.GetEventType(ctx, name)
}

// ListEventTypes returns every event type.
func (s *Service) ListEventTypes(ctx context.Context) ([]domain.EventType, error) {
	return s.store.ListEventTypes(ctx)
}

// CreateStorage registers a storage. Only the admin client may do so.
func (s *Service) CreateStorage(ctx context.Context, st domain.Storage, client security.Client) (domain.Storage, error) {
	if client.ID != s.cfg.AdminClientID {
		return domain.Storage{}, fmt.Errorf("%w: request is forbidden for client %s", domain.ErrForbidden, client.ID)
	}
	if err := validateStorage(st); err != nil {
		return domain.Storage{}, err
	}
	st.CreatedAt = s.now()
	if err := s.store.CreateStorage(ctx, st); err != nil {
		return domain.Storage{}, err
	}
	s.logger.WithContext(ctx).Info("storage created", logpkg.Str("storage", st.ID), logpkg.Str("type", string(st.Type)))
	return st, nil
}

// GetStorage returns the storage id.
func (s *Service) GetStorage(ctx context.Context, id string) (domain.Storage, error) {
	return s.store.GetStorage(ctx, id)
}

// ListStorages returns every storage.
func (s *Service) ListStorages(ctx context.Context) ([]domain.Storage, error) {
	return s.store.ListStorages(ctx)
}

// Bootstrap registers the configured storages that do not exist yet. The
// default storage is created as a local storage when not configured.
func (s *Service) Bootstrap(ctx context.Context, storages []domain.Storage) error {
	hasDefault := false
	for _, st := range storages {
		if st.ID == s.cfg.DefaultStorage {
			hasDefault = true
		}
	}
	if !hasDefault {
		storages = append(storages, domain.Storage{ID: s.cfg.DefaultStorage, Type: domain.StorageLocal})
	}
	for _, st := range storages {
		if err := validateStorage(st); err != nil {
			return fmt.Errorf("bootstrap storage %s: %w", st.ID, err)
		}
		st.CreatedAt = s.now()
		err := s.store.CreateStorage(ctx, st)
		switch {
		case err == nil:
			s.logger.Info("storage bootstrapped", logpkg.Str("storage", st.ID), logpkg.Str("type", string(st.Type)))
		case errors.Is(err, domain.ErrAlreadyExists):
		default:
			return fmt.Errorf("bootstrap storage %s: %w", st.ID, err)
		}
	}
	return nil
}

func validateStorage(st domain.Storage) error {
	if !namePattern.MatchString(st.ID) {
		return fmt.Errorf("%w: storage id %q", domain.ErrInvalidArgument, st.ID)
	}
	switch st.Type {
	case domain.StorageLocal:
		if st.Kafka != nil {
			return fmt.Errorf("%w: local storage %s has kafka settings", domain.ErrInvalidArgument, st.ID)
		}
	case domain.StorageKafka:
		if st.Kafka == nil || len(st.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka storage %s needs brokers", domain.ErrInvalidArgument, st.ID)
		}
	default:
		return fmt.Errorf("%w: unknown storage type %q", domain.ErrInvalidArgument, st.Type)
	}
	return nil
}
