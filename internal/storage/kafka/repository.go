// Package kafka implements a storage backend over an Apache Kafka cluster.
//
// Kafka offsets name the next message while storage offsets name the last
// consumed one, so the message at Kafka offset k has storage offset k+1 and
// a partition's statistics are simply its oldest and newest Kafka offsets.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Shopify/sarama"
	"golang.org/x/sync/errgroup"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/storage"
	"github.com/adyach/nakadi/pkg/id"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

const (
	defaultClientID    = "nakadi"
	defaultReplication = 1
	// statsParallelism bounds concurrent offset requests per statistics call.
	statsParallelism = 8
	readTimeout      = 5 * time.Second
)

// Repository is the TopicRepository of one Kafka storage.
type Repository struct {
	client      sarama.Client
	admin       sarama.ClusterAdmin
	producer    sarama.SyncProducer
	consumer    sarama.Consumer
	replication int16
	ids         *id.Generator
	logger      logpkg.Logger
}

var _ storage.TopicRepository = (*Repository)(nil)

// NewConfig builds the sarama configuration of a storage.
func NewConfig(k *domain.KafkaStorage) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	if k.ClientID != "" {
		cfg.ClientID = k.ClientID
	}
	if k.Version != "" {
		v, err := sarama.ParseKafkaVersion(k.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: kafka version %q: %v", domain.ErrConfiguration, k.Version, err)
		}
		cfg.Version = v
	}
	// Partitions are chosen by the caller.
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Consumer.Return.Errors = true
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return cfg, nil
}

// Open connects to the brokers of st.
func Open(st domain.Storage, logger logpkg.Logger) (*Repository, error) {
	if st.Kafka == nil || len(st.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("%w: storage %s has no kafka brokers", domain.ErrConfiguration, st.ID)
	}
	cfg, err := NewConfig(st.Kafka)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(st.Kafka.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka storage %s: %w", st.ID, err)
	}
	repo, err := NewFromClient(client, st.Kafka.ReplicationFactor, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return repo, nil
}

// Factory opens Kafka repositories for the storage registry.
func Factory(logger logpkg.Logger) storage.Factory {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return func(_ context.Context, st domain.Storage) (storage.TopicRepository, error) {
		return Open(st, logger.With(logpkg.Str("storage", st.ID)))
	}
}

// NewFromClient builds a Repository over an existing client. The client
// config must come from NewConfig.
func NewFromClient(client sarama.Client, replication int16, logger logpkg.Logger) (*Repository, error) {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if replication <= 0 {
		replication = defaultReplication
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("kafka admin: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return &Repository{
		client:      client,
		admin:       admin,
		producer:    producer,
		consumer:    consumer,
		replication: replication,
		ids:         id.NewGenerator(),
		logger:      logger.With(logpkg.Component("kafka-storage")),
	}, nil
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
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
		return nil
	}
	return err
}

func (r *Repository) createTopic(topic string, partitions int, retention time.Duration) error {
	if partitions <= 0 {
		return fmt.Errorf("%w: partitions must be positive, got %d", domain.ErrInvalidArgument, partitions)
	}
	detail := &sarama.TopicDetail{
		NumPartitions:     int32(partitions),
		ReplicationFactor: r.replication,
	}
	if retention > 0 {
		ms := strconv.FormatInt(retention.Milliseconds(), 10)
		detail.ConfigEntries = map[string]*string{"retention.ms": &ms}
	}
	return r.admin.CreateTopic(topic, detail, false)
}

// DeleteTopic implements storage.TopicRepository.
func (r *Repository) DeleteTopic(_ context.Context, topic string) error {
	err := r.admin.DeleteTopic(topic)
	if errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		return fmt.Errorf("%w: %s", storage.ErrTopicNotFound, topic)
	}
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrUnknownTopicOrPartition {
		return fmt.Errorf("%w: %s", storage.ErrTopicNotFound, topic)
	}
	return err
}

func (r *Repository) partitions(topic string) ([]int32, error) {
	parts, err := r.client.Partitions(topic)
	if errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		return nil, fmt.Errorf("%w: %s", storage.ErrTopicNotFound, topic)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	return parts, nil
}

// LoadPartitionStatistics implements storage.TopicRepository. Offsets of all
// partitions are fetched in parallel.
func (r *Repository) LoadPartitionStatistics(ctx context.Context, topic string) ([]domain.PartitionStatistics, error) {
	parts, err := r.partitions(topic)
	if err != nil {
		return nil, err
	}
	stats := make([]domain.PartitionStatistics, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statsParallelism)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			oldest, err := r.client.GetOffset(topic, p, sarama.OffsetOldest)
			if err != nil {
				return fmt.Errorf("oldest offset of %s/%d: %w", topic, p, err)
			}
			newest, err := r.client.GetOffset(topic, p, sarama.OffsetNewest)
			if err != nil {
				return fmt.Errorf("newest offset of %s/%d: %w", topic, p, err)
			}
			stats[i] = domain.PartitionStatistics{
				Partition: storage.FormatPartition(int(p)),
				First:     storage.FormatOffset(uint64(oldest)),
				Last:      storage.FormatOffset(uint64(newest)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *Repository) partition(topic, partition string) (int32, error) {
	parts, err := r.partitions(topic)
	if err != nil {
		return 0, err
	}
	p, err := storage.ParsePartition(partition, len(parts))
	if err != nil {
		return 0, err
	}
	return int32(p), nil
}

// Append implements storage.TopicRepository.
func (r *Repository) Append(_ context.Context, topic, partition string, payloads [][]byte) ([]string, error) {
	p, err := r.partition(topic, partition)
	if err != nil {
		return nil, err
	}
	msgs := make([]*sarama.ProducerMessage, len(payloads))
	for i, payload := range payloads {
		msgs[i] = &sarama.ProducerMessage{Topic: topic, Partition: p, Value: sarama.ByteEncoder(payload)}
	}
	if err := r.producer.SendMessages(msgs); err != nil {
		return nil, fmt.Errorf("produce to %s/%d: %w", topic, p, err)
	}
	offsets := make([]string, len(msgs))
	for i, m := range msgs {
		offsets[i] = storage.FormatOffset(uint64(m.Offset) + 1)
	}
	return offsets, nil
}

// Read implements storage.TopicRepository. It only returns messages that
// existed when the call started.
func (r *Repository) Read(ctx context.Context, topic, partition, after string, limit int) ([]storage.Record, error) {
	p, err := r.partition(topic, partition)
	if err != nil {
		return nil, err
	}
	start, err := storage.ParseOffset(after)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	newest, err := r.client.GetOffset(topic, p, sarama.OffsetNewest)
	if err != nil {
		return nil, err
	}
	if int64(start) >= newest || limit <= 0 {
		return nil, nil
	}
	want := newest - int64(start)
	if int64(limit) < want {
		want = int64(limit)
	}

	pc, err := r.consumer.ConsumePartition(topic, p, int64(start))
	if err != nil {
		return nil, fmt.Errorf("consume %s/%d from %d: %w", topic, p, start, err)
	}
	defer pc.AsyncClose()

	timer := time.NewTimer(readTimeout)
	defer timer.Stop()
	out := make([]storage.Record, 0, want)
	for int64(len(out)) < want {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return out, nil
			}
			out = append(out, storage.Record{
				Partition: partition,
				Offset:    storage.FormatOffset(uint64(msg.Offset) + 1),
				Payload:   msg.Value,
				WrittenAt: msg.Timestamp.UTC(),
			})
		case cerr := <-pc.Errors():
			if cerr != nil {
				return out, cerr.Err
			}
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

// Close releases the producer, consumer and client.
func (r *Repository) Close() error {
	return errors.Join(r.producer.Close(), r.consumer.Close(), r.admin.Close())
}
