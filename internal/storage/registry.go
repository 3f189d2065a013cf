package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/adyach/nakadi/internal/domain"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// Factory builds the repository of a storage.
type Factory func(ctx context.Context, st domain.Storage) (TopicRepository, error)

// Lookup resolves storage definitions.
type Lookup interface {
	GetStorage(ctx context.Context, id string) (domain.Storage, error)
}

// Registry caches one TopicRepository per storage id.
type Registry struct {
	lookup    Lookup
	factories map[domain.StorageType]Factory
	logger    logpkg.Logger

	mu    sync.Mutex
	repos map[string]TopicRepository
}

// NewRegistry returns an empty registry resolving storages through lookup.
func NewRegistry(lookup Lookup, logger logpkg.Logger) *Registry {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Registry{
		lookup:    lookup,
		factories: make(map[domain.StorageType]Factory),
		logger:    logger.With(logpkg.Component("storages")),
		repos:     make(map[string]TopicRepository),
	}
}

// RegisterFactory installs the factory used for storages of type t.
func (r *Registry) RegisterFactory(t domain.StorageType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Get returns the repository of storage id, building it on first use.
func (r *Registry) Get(ctx context.Context, id string) (TopicRepository, error) {
	r.mu.Lock()
	repo, ok := r.repos[id]
	r.mu.Unlock()
	if ok {
		return repo, nil
	}
	st, err := r.lookup.GetStorage(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.ForStorage(ctx, st)
}

// ForStorage returns the repository of st, building it on first use.
func (r *Registry) ForStorage(ctx context.Context, st domain.Storage) (TopicRepository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if repo, ok := r.repos[st.ID]; ok {
		return repo, nil
	}
	f, ok := r.factories[st.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no backend for storage type %q (storage %s)", domain.ErrConfiguration, st.Type, st.ID)
	}
	repo, err := f(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", st.ID, err)
	}
	r.repos[st.ID] = repo
	r.logger.Info("storage opened", logpkg.Str("storage", st.ID), logpkg.Str("type", string(st.Type)))
	return repo, nil
}

// Each calls fn for every opened repository.
func (r *Registry) Each(fn func(id string, repo TopicRepository)) {
	r.mu.Lock()
	snapshot := make(map[string]TopicRepository, len(r.repos))
	for id, repo := range r.repos {
		snapshot[id] = repo
	}
	r.mu.Unlock()
	for id, repo := range snapshot {
		fn(id, repo)
	}
}

// Close closes every opened repository that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, repo := range r.repos {
		if c, ok := repo.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close storage %s: %w", id, err)
			}
		}
	}
	r.repos = make(map[string]TopicRepository)
	return firstErr
}
