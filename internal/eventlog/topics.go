package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

// ErrTopicExists is returned by CreateTopic for a taken name.
var ErrTopicExists = errors.New("topic already exists")

// ErrTopicNotFound is returned for unknown topics.
var ErrTopicNotFound = errors.New("topic not found")

// TopicMeta describes a topic of one storage.
type TopicMeta struct {
	Name        string    `json:"name"`
	Partitions  int       `json:"partitions"`
	RetentionMs int64     `json:"retentionMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Retention returns the retention as a duration; zero means unbounded.
func (m TopicMeta) Retention() time.Duration { return time.Duration(m.RetentionMs) * time.Millisecond }

// CreateTopic persists meta under scope, failing if the name is taken.
func CreateTopic(db *pebblestore.DB, scope string, meta TopicMeta) error {
	key := KeyTopic(scope, meta.Name)
	if _, err := db.Get(key); err == nil {
		return fmt.Errorf("%w: %s", ErrTopicExists, meta.Name)
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return db.Set(key, b)
}

// GetTopic loads the metadata of one topic.
func GetTopic(db *pebblestore.DB, scope, topic string) (TopicMeta, error) {
	v, err := db.Get(KeyTopic(scope, topic))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return TopicMeta{}, fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	if err != nil {
		return TopicMeta{}, err
	}
	var meta TopicMeta
	if err := json.Unmarshal(v, &meta); err != nil {
		return TopicMeta{}, fmt.Errorf("decode topic %s: %w", topic, err)
	}
	return meta, nil
}

// ListTopics returns every topic of scope in name order.
func ListTopics(db *pebblestore.DB, scope string) ([]TopicMeta, error) {
	var out []TopicMeta
	var decodeErr error
	err := db.ScanPrefix(KeyTopicPrefix(scope), func(_, value []byte) bool {
		var meta TopicMeta
		if decodeErr = json.Unmarshal(value, &meta); decodeErr != nil {
			return false
		}
		out = append(out, meta)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// DropTopic deletes the metadata and every partition of a topic. Open Log
// handles of the topic must not be used afterwards.
func DropTopic(ctx context.Context, db *pebblestore.DB, scope, topic string) error {
	prefix := KeyLogPrefix(scope, topic)
	if err := db.DeleteRange(ctx, prefix, pebblestore.PrefixUpperBound(prefix)); err != nil {
		return err
	}
	return db.Delete(KeyTopic(scope, topic))
}
