package domain

import (
	"fmt"
	"time"
)

// StartingOrder is the order of the implicit fake timeline.
const StartingOrder = 0

// MaxTimelineOrder is the highest order a cursor can carry: the order field
// of the wire format is four hex digits wide.
const MaxTimelineOrder = 0xFFFF

// StorageType selects the TopicRepository implementation backing a storage.
type StorageType string

const (
	StorageLocal StorageType = "local"
	StorageKafka StorageType = "kafka"
)

// KafkaStorage configures a Kafka-backed storage.
type KafkaStorage struct {
	Brokers           []string `json:"brokers"`
	ClientID          string   `json:"clientId,omitempty"`
	Version           string   `json:"version,omitempty"`
	ReplicationFactor int16    `json:"replicationFactor,omitempty"`
}

// Storage is a named backend capable of hosting topics.
type Storage struct {
	ID        string        `json:"id"`
	Type      StorageType   `json:"type"`
	Kafka     *KafkaStorage `json:"kafka,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// EventType is the logical stream producers publish to.
type EventType struct {
	Name            string    `json:"name"`
	Partitions      int       `json:"partitions"`
	RetentionTimeMs int64     `json:"retentionTimeMs"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RetentionTime returns the configured retention as a duration.
func (e EventType) RetentionTime() time.Duration {
	return time.Duration(e.RetentionTimeMs) * time.Millisecond
}

// PartitionPosition is the final offset of one partition of a retired timeline.
type PartitionPosition struct {
	Partition string `json:"partition"`
	Offset    string `json:"offset"`
}

// StoragePosition records where a retired timeline ended, per partition.
type StoragePosition struct {
	Partitions []PartitionPosition `json:"partitions"`
}

// Offset returns the recorded final offset for partition.
func (p StoragePosition) Offset(partition string) (string, bool) {
	for _, pp := range p.Partitions {
		if pp.Partition == partition {
			return pp.Offset, true
		}
	}
	return "", false
}

// PositionFromStatistics builds the final position of a topic from its statistics.
func PositionFromStatistics(stats []PartitionStatistics) StoragePosition {
	pos := StoragePosition{Partitions: make([]PartitionPosition, 0, len(stats))}
	for _, s := range stats {
		pos.Partitions = append(pos.Partitions, PartitionPosition{Partition: s.Partition, Offset: s.Last})
	}
	return pos
}

// PartitionStatistics is a snapshot of one partition of a backend topic.
// First is the offset just before the oldest retained event and Last the
// offset of the newest one; both are equal for an empty partition.
type PartitionStatistics struct {
	Partition string `json:"partition"`
	First     string `json:"first"`
	Last      string `json:"last"`
}

// Timeline is one storage segment backing an event type for a contiguous
// span of its history.
type Timeline struct {
	ID             string           `json:"id"`
	EventType      string           `json:"eventType"`
	Order          int              `json:"order"`
	StorageID      string           `json:"storageId"`
	Topic          string           `json:"topic"`
	CreatedAt      time.Time        `json:"createdAt"`
	SwitchedAt     *time.Time       `json:"switchedAt,omitempty"`
	LatestPosition *StoragePosition `json:"latestPosition,omitempty"`
	Fake           bool             `json:"fake,omitempty"`
}

// NewFakeTimeline synthesises the order-0 timeline of an event type. Its
// topic is named after the event type, as topics were before timelines.
func NewFakeTimeline(et EventType, storage Storage) Timeline {
	return Timeline{
		EventType: et.Name,
		Order:     StartingOrder,
		StorageID: storage.ID,
		Topic:     et.Name,
		CreatedAt: et.CreatedAt,
		Fake:      true,
	}
}

// Active reports whether the timeline has not been retired.
func (t Timeline) Active() bool { return t.SwitchedAt == nil }

func (t Timeline) String() string {
	return fmt.Sprintf("Timeline{eventType=%s, order=%d, storage=%s, topic=%s, fake=%t}",
		t.EventType, t.Order, t.StorageID, t.Topic, t.Fake)
}

// NakadiCursor is the internal read position: timeline, partition, offset.
type NakadiCursor struct {
	Timeline  Timeline
	Partition string
	Offset    string
}

// EventType returns the event type of the cursor's timeline.
func (c NakadiCursor) EventType() string { return c.Timeline.EventType }
