package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adyach/nakadi/internal/admin"
	cfgpkg "github.com/adyach/nakadi/internal/config"
	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/events"
	"github.com/adyach/nakadi/internal/feature"
	"github.com/adyach/nakadi/internal/metadata"
	"github.com/adyach/nakadi/internal/metrics"
	"github.com/adyach/nakadi/internal/retention"
	"github.com/adyach/nakadi/internal/security"
	"github.com/adyach/nakadi/internal/storage"
	"github.com/adyach/nakadi/internal/storage/kafka"
	"github.com/adyach/nakadi/internal/storage/local"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
	"github.com/adyach/nakadi/internal/timeline"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	// FsyncInterval is the group-commit window of FsyncModeInterval.
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, metadata and services for a single-node instance.
type Runtime struct {
	db       *pebblestore.DB
	store    metadata.Store
	config   cfgpkg.Config
	logger   logpkg.Logger
	metrics  *metrics.Metrics
	features *feature.Toggles
	registry *storage.Registry
	sync     *timeline.Synchronizer

	admin     *admin.Service
	timelines *timeline.Service
	codec     *cursor.Converter
	events    *events.Service
	resolver  *security.Resolver
	retention *retention.Manager
}

// Open initializes storage, bootstraps the configured storages and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if opts.Fsync == pebblestore.FsyncModeUnspecified {
		opts.Fsync = pebblestore.FsyncModeAlways
	}
	features, err := feature.NewToggles(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("%w: features: %v", domain.ErrConfiguration, err)
	}
	maxBytes, err := cfg.MaxPartitionBytes()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval, Metrics: m})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{db: db, config: cfg, logger: logger, metrics: m, features: features}

	switch cfg.Metadata.Backend {
	case "sqlite":
		sq, err := metadata.OpenSQLite(cfg.Metadata.SQLitePath)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.store = sq
	default:
		rt.store = metadata.NewPebbleStore(db)
	}

	rt.registry = storage.NewRegistry(rt.store, logger)
	rt.registry.RegisterFactory(domain.StorageLocal, local.Factory(db, logger, m))
	rt.registry.RegisterFactory(domain.StorageKafka, kafka.Factory(logger))

	rt.admin = admin.New(rt.store, rt.registry, features, admin.Config{
		AdminClientID:  cfg.AdminClientID,
		DefaultStorage: cfg.DefaultStorage,
		Defaults: admin.EventTypeDefaults{
			Partitions:      cfg.EventTypeDefaults.Partitions,
			RetentionTimeMs: cfg.EventTypeDefaults.RetentionTimeMs,
		},
	}, logger)
	if err := rt.admin.Bootstrap(ctx, cfg.Storages); err != nil {
		_ = rt.Close()
		return nil, err
	}
	if err := rt.openLocalStorages(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.sync = timeline.NewSynchronizer(logger)
	rt.timelines = timeline.NewWithLogger(rt.store, rt.registry, rt.sync, timeline.Config{
		AdminClientID:  cfg.AdminClientID,
		DefaultStorage: cfg.DefaultStorage,
		WaitTimeout:    cfg.TimelineWaitTimeout(),
	}, logger).WithMetrics(m)
	rt.codec = cursor.NewConverter(rt.timelines, logger).WithRecorder(m)
	rt.events = events.New(events.Deps{
		EventTypes: rt.store,
		Timelines:  rt.timelines,
		Guard:      rt.sync,
		Repos:      rt.registry,
		Codec:      rt.codec,
	}, events.Config{
		HotPathTimeout: cfg.HotPathWaitTimeout(),
		MaxBatch:       cfg.Read.MaxBatch,
		MaxWait:        cfg.MaxReadWait(),
	}, logger).WithMetrics(m)
	rt.resolver = security.NewResolver(security.Settings{
		AdminClientID: cfg.AdminClientID,
		AuthMode:      security.AuthMode(cfg.AuthMode),
	}, features)
	rt.retention, err = retention.New(retention.Config{
		Schedule:             cfg.Retention.Schedule,
		BatchLimit:           cfg.Retention.BatchLimit,
		MaxBytesPerPartition: maxBytes,
	}, rt.registry, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("runtime opened",
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("metadata", cfg.Metadata.Backend),
		logpkg.Str("default_storage", cfg.DefaultStorage))
	return rt, nil
}

// openLocalStorages opens every local storage so that retention covers
// topics nobody has touched since start.
func (r *Runtime) openLocalStorages(ctx context.Context) error {
	storages, err := r.store.ListStorages(ctx)
	if err != nil {
		return err
	}
	for _, st := range storages {
		if st.Type != domain.StorageLocal {
			continue
		}
		if _, err := r.registry.ForStorage(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.registry != nil {
		errs = append(errs, r.registry.Close())
	}
	if sq, ok := r.store.(*metadata.SQLiteStore); ok {
		errs = append(errs, sq.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth verifies the database and the metadata store respond.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	if err := it.Close(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := r.store.GetStorage(ctx, r.config.DefaultStorage); err != nil {
		return fmt.Errorf("default storage: %w", err)
	}
	return nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func (r *Runtime) Logger() logpkg.Logger                { return r.logger }
func (r *Runtime) Metrics() *metrics.Metrics            { return r.metrics }
func (r *Runtime) Features() *feature.Toggles           { return r.features }
func (r *Runtime) Storages() *storage.Registry          { return r.registry }
func (r *Runtime) Synchronizer() *timeline.Synchronizer { return r.sync }
func (r *Runtime) Admin() *admin.Service                { return r.admin }
func (r *Runtime) Timelines() *timeline.Service         { return r.timelines }
func (r *Runtime) Cursors() *cursor.Converter           { return r.codec }
func (r *Runtime) Events() *events.Service              { return r.events }
func (r *Runtime) Resolver() *security.Resolver         { return r.resolver }
func (r *Runtime) Retention() *retention.Manager        { return r.retention }
