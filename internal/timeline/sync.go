package timeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adyach/nakadi/internal/domain"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// gate tracks hot-path work and the migration barrier of one event type.
type gate struct {
	inflight int
	updating bool
	// released is closed when the barrier is lifted.
	released chan struct{}
	// drained is closed when inflight reaches zero while updating.
	drained chan struct{}
}

// Synchronizer coordinates the hot path with timeline switches. Event
// types are fully independent of each other.
type Synchronizer struct {
	mu     sync.Mutex
	gates  map[string]*gate
	logger logpkg.Logger
}

// NewSynchronizer returns an idle Synchronizer.
func NewSynchronizer(logger logpkg.Logger) *Synchronizer {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Synchronizer{gates: make(map[string]*gate), logger: logger.With(logpkg.Component("timeline-sync"))}
}

func (s *Synchronizer) gateLocked(eventType string) *gate {
	g, ok := s.gates[eventType]
	if !ok {
		g = &gate{}
		s.gates[eventType] = g
	}
	return g
}

func (s *Synchronizer) gcLocked(eventType string, g *gate) {
	if g.inflight == 0 && !g.updating {
		delete(s.gates, eventType)
	}
}

// WorkWithEventType registers one hot-path operation on eventType. While a
// barrier is up it waits up to timeout for the release and then fails with
// ErrRetryLater. The returned release func must be called when the
// operation completes; extra calls are ignored.
func (s *Synchronizer) WorkWithEventType(ctx context.Context, eventType string, timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		g := s.gateLocked(eventType)
		if !g.updating {
			g.inflight++
			s.mu.Unlock()
			var once sync.Once
			return func() { once.Do(func() { s.done(eventType) }) }, nil
		}
		released := g.released
		s.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", domain.ErrRetryLater, eventType)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Synchronizer) done(eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[eventType]
	if !ok {
		return
	}
	g.inflight--
	if g.updating && g.inflight == 0 && g.drained != nil {
		close(g.drained)
		g.drained = nil
	}
	s.gcLocked(eventType, g)
}

// StartUpdate raises the barrier for eventType and waits up to timeout for
// in-flight operations to finish. On success the caller must call
// FinishUpdate exactly once. On failure the barrier is already lifted.
func (s *Synchronizer) StartUpdate(ctx context.Context, eventType string, timeout time.Duration) error {
	s.mu.Lock()
	g := s.gateLocked(eventType)
	if g.updating {
		s.mu.Unlock()
		return fmt.Errorf("%w: timeline update already in progress for %s", domain.ErrConcurrentUpdate, eventType)
	}
	g.updating = true
	g.released = make(chan struct{})
	if g.inflight == 0 {
		s.mu.Unlock()
		s.logger.Debug("timeline barrier raised", logpkg.EventType(eventType))
		return nil
	}
	g.drained = make(chan struct{})
	drained := g.drained
	inflight := g.inflight
	s.mu.Unlock()

	s.logger.Debug("waiting for in-flight operations", logpkg.EventType(eventType), logpkg.Int("inflight", inflight))
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
		s.release(eventType)
		return fmt.Errorf("%w: %s still had in-flight operations after %s", domain.ErrMigrationTimeout, eventType, timeout)
	case <-ctx.Done():
		s.release(eventType)
		return fmt.Errorf("timeline update for %s interrupted: %w", eventType, ctx.Err())
	}
}

// FinishUpdate lifts the barrier for eventType. The barrier is always
// lifted; if ctx was cancelled meanwhile the cancellation is returned so
// the enclosing migration fails instead of silently succeeding.
func (s *Synchronizer) FinishUpdate(ctx context.Context, eventType string) error {
	if !s.release(eventType) {
		return fmt.Errorf("no timeline update in progress for %s", eventType)
	}
	s.logger.Debug("timeline barrier released", logpkg.EventType(eventType))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("timeline update for %s interrupted: %w", eventType, err)
	}
	return nil
}

func (s *Synchronizer) release(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[eventType]
	if !ok || !g.updating {
		return false
	}
	g.updating = false
	g.drained = nil
	close(g.released)
	s.gcLocked(eventType, g)
	return true
}

// Updating reports whether a barrier is up for eventType.
func (s *Synchronizer) Updating(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[eventType]
	return ok && g.updating
}
