// Package storage defines the TopicRepository capability every storage
// backend implements and the Registry that resolves a storage id to one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adyach/nakadi/internal/domain"
)

// ErrTopicNotFound is returned for operations on unknown topics.
var ErrTopicNotFound = errors.New("topic not found")

// ErrPartitionNotFound is returned when a partition id is outside the topic.
var ErrPartitionNotFound = errors.New("partition not found")

// OffsetWidth is the zero-padded width of backend offsets.
const OffsetWidth = 18

// Record is one event read back from a topic partition.
type Record struct {
	Partition string
	Offset    string
	Payload   []byte
	WrittenAt time.Time
}

// TopicRepository is the backend contract consumed by timelines and the hot path.
//
// Offsets are decimal strings ordered numerically within one partition. An
// offset names the last consumed event: reading after offset N returns the
// event at N+1 onwards, and offset zero is the position before the first event.
type TopicRepository interface {
	// CreateTopic creates a topic and returns its generated identifier.
	CreateTopic(ctx context.Context, partitions int, retention time.Duration) (string, error)
	// EnsureTopic creates topic under the given name unless it exists. Event
	// types use it for their pre-timeline topic on the default storage.
	EnsureTopic(ctx context.Context, topic string, partitions int, retention time.Duration) error
	// DeleteTopic removes a topic and all of its events.
	DeleteTopic(ctx context.Context, topic string) error
	// LoadPartitionStatistics returns one entry per partition, ordered by partition.
	LoadPartitionStatistics(ctx context.Context, topic string) ([]domain.PartitionStatistics, error)
	// Append writes payloads to one partition atomically and returns their offsets.
	Append(ctx context.Context, topic, partition string, payloads [][]byte) ([]string, error)
	// Read returns up to limit records written after offset.
	Read(ctx context.Context, topic, partition, after string, limit int) ([]Record, error)
}

// FormatOffset renders n as a zero-padded backend offset.
func FormatOffset(n uint64) string {
	return fmt.Sprintf("%0*d", OffsetWidth, n)
}

// ParseOffset parses a backend offset.
func ParseOffset(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse offset %q: %w", s, err)
	}
	return n, nil
}

// FormatPartition renders a partition index.
func FormatPartition(p int) string { return strconv.Itoa(p) }

// ParsePartition parses a partition id and checks it is below count.
func ParsePartition(s string, count int) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p >= count {
		return 0, fmt.Errorf("%w: %q", ErrPartitionNotFound, s)
	}
	return p, nil
}

// Waiter is implemented by backends able to block until a partition grows.
type Waiter interface {
	// WaitForAppend returns true when an append to the partition happened
	// before timeout or ctx ended.
	WaitForAppend(ctx context.Context, topic, partition string, timeout time.Duration) bool
}

// TrimOptions bounds one retention pass.
type TrimOptions struct {
	Now        time.Time
	BatchLimit int
	// MaxBytesPerPartition additionally caps partition size when positive.
	MaxBytesPerPartition int64
}

// TrimStats summarises one retention pass.
type TrimStats struct {
	Topics  int
	Deleted int
}

// Trimmer is implemented by backends that enforce topic retention in process.
type Trimmer interface {
	Trim(ctx context.Context, opts TrimOptions) (TrimStats, error)
}
