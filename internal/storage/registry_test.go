package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adyach/nakadi/internal/domain"
)

type stubRepo struct{ closed bool }

func (s *stubRepo) CreateTopic(context.Context, int, time.Duration) (string, error) { return "t", nil }
func (s *stubRepo) EnsureTopic(context.Context, string, int, time.Duration) error   { return nil }
func (s *stubRepo) DeleteTopic(context.Context, string) error                       { return nil }
func (s *stubRepo) LoadPartitionStatistics(context.Context, string) ([]domain.PartitionStatistics, error) {
	return nil, nil
}
func (s *stubRepo) Append(context.Context, string, string, [][]byte) ([]string, error) {
	return nil, nil
}
func (s *stubRepo) Read(context.Context, string, string, string, int) ([]Record, error) {
	return nil, nil
}
func (s *stubRepo) Close() error { s.closed = true; return nil }

type mapLookup map[string]domain.Storage

func (m mapLookup) GetStorage(_ context.Context, id string) (domain.Storage, error) {
	st, ok := m[id]
	if !ok {
		return domain.Storage{}, domain.ErrStorageNotFound
	}
	return st, nil
}

func TestRegistryCachesPerStorage(t *testing.T) {
	lookup := mapLookup{
		"default": {ID: "default", Type: domain.StorageLocal},
		"kafka-1": {ID: "kafka-1", Type: domain.StorageKafka},
	}
	reg := NewRegistry(lookup, nil)
	built := 0
	repo := &stubRepo{}
	reg.RegisterFactory(domain.StorageLocal, func(context.Context, domain.Storage) (TopicRepository, error) {
		built++
		return repo, nil
	})

	for i := 0; i < 3; i++ {
		got, err := reg.Get(context.Background(), "default")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != repo {
			t.Fatalf("unexpected repo")
		}
	}
	if built != 1 {
		t.Fatalf("factory called %d times", built)
	}

	if _, err := reg.Get(context.Background(), "kafka-1"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := reg.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrStorageNotFound) {
		t.Fatalf("expected storage not found, got %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !repo.closed {
		t.Fatalf("expected repo closed")
	}
}

func TestOffsetHelpers(t *testing.T) {
	if got := FormatOffset(42); got != "000000000000000042" {
		t.Fatalf("format %q", got)
	}
	n, err := ParseOffset("000000000000000042")
	if err != nil || n != 42 {
		t.Fatalf("parse %d %v", n, err)
	}
	if _, err := ParseOffset("x"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParsePartition("3", 3); !errors.Is(err, ErrPartitionNotFound) {
		t.Fatalf("expected partition error, got %v", err)
	}
	if p, err := ParsePartition("2", 3); err != nil || p != 2 {
		t.Fatalf("partition %d %v", p, err)
	}
}
