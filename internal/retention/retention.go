// Package retention periodically trims expired events from storages that
// enforce retention in process.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/storage"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// Repositories enumerates the opened storage backends.
type Repositories interface {
	Each(fn func(id string, repo storage.TopicRepository))
}

// Config schedules retention runs.
type Config struct {
	// Schedule is a cron expression; empty disables the scheduler.
	Schedule string
	// BatchLimit caps deletions per partition and pass.
	BatchLimit int
	// MaxBytesPerPartition additionally caps partition size when positive.
	MaxBytesPerPartition int64
}

// Manager runs retention passes on a cron schedule.
type Manager struct {
	cfg    Config
	repos  Repositories
	logger logpkg.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates the schedule and returns a Manager.
func New(cfg Config, repos Repositories, logger logpkg.Logger) (*Manager, error) {
	if cfg.Schedule != "" && !gronx.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("%w: invalid retention schedule %q", domain.ErrConfiguration, cfg.Schedule)
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Manager{
		cfg:    cfg,
		repos:  repos,
		logger: logger.With(logpkg.Component("retention")),
		now:    time.Now,
	}, nil
}

// Run blocks running passes at every scheduled tick until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.Schedule == "" {
		m.logger.Info("retention disabled")
		<-ctx.Done()
		return nil
	}
	m.logger.Info("retention enabled", logpkg.Str("schedule", m.cfg.Schedule))
	for {
		next, err := gronx.NextTickAfter(m.cfg.Schedule, m.now(), false)
		if err != nil {
			m.logger.Error("retention next tick failed", logpkg.Err(err))
			next = m.now().Add(30 * time.Second)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("retention run failed", logpkg.Err(err))
		}
	}
}

// RunOnce trims every storage that supports it. Overlapping calls are skipped.
func (m *Manager) RunOnce(ctx context.Context) (storage.TrimStats, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return storage.TrimStats{}, nil
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	start := m.now()
	opts := storage.TrimOptions{Now: start, BatchLimit: m.cfg.BatchLimit, MaxBytesPerPartition: m.cfg.MaxBytesPerPartition}
	var (
		total    storage.TrimStats
		firstErr error
	)
	m.repos.Each(func(id string, repo storage.TopicRepository) {
		t, ok := repo.(storage.Trimmer)
		if !ok {
			return
		}
		st, err := t.Trim(ctx, opts)
		total.Topics += st.Topics
		total.Deleted += st.Deleted
		if err != nil {
			m.logger.Warn("retention pass failed", logpkg.Str("storage", id), logpkg.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("trim storage %s: %w", id, err)
			}
		}
	})
	m.logger.Info("retention pass finished",
		logpkg.Int("topics", total.Topics),
		logpkg.Str("deleted", humanize.Comma(int64(total.Deleted))),
		logpkg.Duration("elapsed", time.Since(start)))
	return total, firstErr
}
