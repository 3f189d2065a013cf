// Package local implements a storage backend over the embedded event log.
//
// Topics of one storage are isolated from other local storages sharing the
// same database by scoping every key with the storage id. Offsets are the
// log sequence numbers, zero padded to storage.OffsetWidth.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/eventlog"
	"github.com/adyach/nakadi/internal/storage"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
	"github.com/adyach/nakadi/pkg/id"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

type logKey struct {
	topic string
	part  uint32
}

// Repository is the TopicRepository of one local storage.
type Repository struct {
	db       *pebblestore.DB
	scope    string
	logger   logpkg.Logger
	ids      *id.Generator
	now      func() time.Time
	observer eventlog.TrimObserver

	mu   sync.Mutex
	logs map[logKey]*eventlog.Log
}

var (
	_ storage.TopicRepository = (*Repository)(nil)
	_ storage.Waiter          = (*Repository)(nil)
	_ storage.Trimmer         = (*Repository)(nil)
)

// New returns the repository of storage storageID backed by db.
func New(db *pebblestore.DB, storageID string, logger logpkg.Logger) *Repository {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Repository{
		db:     db,
		scope:  storageID,
		logger: logger.With(logpkg.Component("local-storage"), logpkg.Str("storage", storageID)),
		ids:    id.NewGenerator(),
		now:    time.Now,
		logs:   make(map[logKey]*eventlog.Log),
	}
}

// Factory builds local repositories over db for the storage registry.
func Factory(db *pebblestore.DB, logger logpkg.Logger, observer eventlog.TrimObserver) storage.Factory {
	return func(_ context.Context, st domain.Storage) (storage.TopicRepository, error) {
		r := New(db, st.ID, logger)
		r.observer = observer
		return r, nil
	}
}

// CreateTopic implements storage.TopicRepository.
func (r *Repository) CreateTopic(ctx context.Context, partitions int, retention time.Duration) (string, error) {
	topic := r.ids.Next().UUID()
	if err := r.createTopic(topic, partitions, retention); err != nil {
		return "", err
	}
	r.logger.Info("topic created", logpkg.Str("topic", topic), logpkg.Int("partitions", partitions))
	return topic, nil
}

// EnsureTopic implements storage.TopicRepository.
func (r *Repository) EnsureTopic(_ context.Context, topic string, partitions int, retention time.Duration) error {
	err := r.createTopic(topic, partitions, retention)
	if errors.Is(err, eventlog.ErrTopicExists) {
		return nil
	}
	return err
}

func (r *Repository) createTopic(topic string, partitions int, retention time.Duration) error {
	if partitions <= 0 {
		return fmt.Errorf("%w: partitions must be positive, got %d", domain.ErrInvalidArgument, partitions)
	}
	return eventlog.CreateTopic(r.db, r.scope, eventlog.TopicMeta{
		Name:        topic,
		Partitions:  partitions,
		RetentionMs: retention.Milliseconds(),
		CreatedAt:   r.now().UTC(),
	})
}

// DeleteTopic implements storage.TopicRepository.
func (r *Repository) DeleteTopic(ctx context.Context, topic string) error {
	if _, err := r.topic(topic); err != nil {
		return err
	}
	r.mu.Lock()
	for k := range r.logs {
		if k.topic == topic {
			delete(r.logs, k)
		}
	}
	r.mu.Unlock()
	if err := eventlog.DropTopic(ctx, r.db, r.scope, topic); err != nil {
		return err
	}
	r.logger.Info("topic deleted", logpkg.Str("topic", topic))
	return nil
}

// Topics lists the topics of this storage.
func (r *Repository) Topics() ([]eventlog.TopicMeta, error) {
	return eventlog.ListTopics(r.db, r.scope)
}

// LoadPartitionStatistics implements storage.TopicRepository.
func (r *Repository) LoadPartitionStatistics(_ context.Context, topic string) ([]domain.PartitionStatistics, error) {
	meta, err := r.topic(topic)
	if err != nil {
		return nil, err
	}
	stats := make([]domain.PartitionStatistics, 0, meta.Partitions)
	for p := 0; p < meta.Partitions; p++ {
		l, err := r.log(topic, uint32(p))
		if err != nil {
			return nil, err
		}
		first, last, err := l.Bounds()
		if err != nil {
			return nil, fmt.Errorf("bounds of %s/%d: %w", topic, p, err)
		}
		stats = append(stats, domain.PartitionStatistics{
			Partition: storage.FormatPartition(p),
			First:     storage.FormatOffset(first),
			Last:      storage.FormatOffset(last),
		})
	}
	return stats, nil
}

// Append implements storage.TopicRepository. Every record carries the
// write time used by retention.
func (r *Repository) Append(ctx context.Context, topic, partition string, payloads [][]byte) ([]string, error) {
	l, err := r.partitionLog(topic, partition)
	if err != nil {
		return nil, err
	}
	nowMs := r.now().UnixMilli()
	recs := make([]eventlog.Event, len(payloads))
	for i, p := range payloads {
		recs[i] = eventlog.Event{WrittenAtMs: nowMs, Payload: p}
	}
	seqs, err := l.Append(ctx, recs)
	if err != nil {
		return nil, err
	}
	offsets := make([]string, len(seqs))
	for i, seq := range seqs {
		offsets[i] = storage.FormatOffset(seq)
	}
	return offsets, nil
}

// Read implements storage.TopicRepository.
func (r *Repository) Read(_ context.Context, topic, partition, after string, limit int) ([]storage.Record, error) {
	l, err := r.partitionLog(topic, partition)
	if err != nil {
		return nil, err
	}
	seq, err := storage.ParseOffset(after)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	items, _, err := l.Read(eventlog.ReadOptions{Start: eventlog.TokenFromSeq(seq + 1), Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]storage.Record, len(items))
	for i, it := range items {
		out[i] = storage.Record{
			Partition: partition,
			Offset:    storage.FormatOffset(it.Seq),
			Payload:   it.Payload,
			WrittenAt: time.UnixMilli(it.WrittenAtMs).UTC(),
		}
	}
	return out, nil
}

// WaitForAppend implements storage.Waiter.
func (r *Repository) WaitForAppend(ctx context.Context, topic, partition string, timeout time.Duration) bool {
	l, err := r.partitionLog(topic, partition)
	if err != nil {
		return false
	}
	return l.WaitForAppend(ctx, timeout)
}

// Trim implements storage.Trimmer: it deletes events older than each
// topic's retention and, when configured, caps partition size.
func (r *Repository) Trim(ctx context.Context, opts storage.TrimOptions) (storage.TrimStats, error) {
	var stats storage.TrimStats
	topics, err := r.Topics()
	if err != nil {
		return stats, err
	}
	for _, meta := range topics {
		if meta.RetentionMs <= 0 && opts.MaxBytesPerPartition <= 0 {
			continue
		}
		stats.Topics++
		cutoff := opts.Now.Add(-meta.Retention()).UnixMilli()
		for p := 0; p < meta.Partitions; p++ {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			l, err := r.log(meta.Name, uint32(p))
			if err != nil {
				return stats, err
			}
			if meta.RetentionMs > 0 {
				n, _, err := l.TrimOlderThan(ctx, cutoff, opts.BatchLimit, 0)
				stats.Deleted += n
				if err != nil {
					return stats, fmt.Errorf("trim %s/%d: %w", meta.Name, p, err)
				}
			}
			if opts.MaxBytesPerPartition > 0 {
				n, err := l.TrimToMaxBytes(ctx, opts.MaxBytesPerPartition, opts.BatchLimit, 0)
				stats.Deleted += n
				if err != nil {
					return stats, fmt.Errorf("trim %s/%d by size: %w", meta.Name, p, err)
				}
			}
		}
	}
	return stats, nil
}

// Close implements io.Closer. The database is owned by the caller.
func (r *Repository) Close() error {
	r.mu.Lock()
	r.logs = make(map[logKey]*eventlog.Log)
	r.mu.Unlock()
	return nil
}

func (r *Repository) topic(topic string) (eventlog.TopicMeta, error) {
	meta, err := eventlog.GetTopic(r.db, r.scope, topic)
	if errors.Is(err, eventlog.ErrTopicNotFound) {
		return meta, fmt.Errorf("%w: %s on storage %s", storage.ErrTopicNotFound, topic, r.scope)
	}
	return meta, err
}

func (r *Repository) partitionLog(topic, partition string) (*eventlog.Log, error) {
	meta, err := r.topic(topic)
	if err != nil {
		return nil, err
	}
	p, err := storage.ParsePartition(partition, meta.Partitions)
	if err != nil {
		return nil, err
	}
	return r.log(topic, uint32(p))
}

// log returns the cached Log of a partition; one handle per partition keeps
// sequence assignment serialised.
func (r *Repository) log(topic string, part uint32) (*eventlog.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := logKey{topic: topic, part: part}
	if l, ok := r.logs[k]; ok {
		return l, nil
	}
	l, err := eventlog.OpenLog(r.db, r.scope, topic, part)
	if err != nil {
		return nil, err
	}
	if r.observer != nil {
		l.SetTrimObserver(r.observer)
	}
	r.logs[k] = l
	return l, nil
}
