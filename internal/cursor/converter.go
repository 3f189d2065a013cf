package cursor

import (
	"context"
	"fmt"

	"github.com/adyach/nakadi/internal/domain"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// Cursor is the wire form a consumer stores and resubmits.
type Cursor struct {
	Partition string `json:"partition"`
	Offset    string `json:"offset"`
}

func (c Cursor) invalid(kind domain.CursorErrorKind) error {
	return &domain.InvalidCursorError{Kind: kind, Partition: c.Partition, Offset: c.Offset}
}

// EventTypeCursor is a wire cursor qualified with its event type, as used by
// batched decodes.
type EventTypeCursor struct {
	EventType string `json:"event_type"`
	Cursor
}

// TimelineSource resolves the timelines a cursor may point into.
type TimelineSource interface {
	// ListTimelines returns the persisted timelines of an event type ordered by order.
	ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error)
	// FakeTimeline returns the synthesised order-0 timeline of an event type.
	FakeTimeline(ctx context.Context, eventType string) (domain.Timeline, error)
}

// RejectionRecorder observes rejected cursors, typically a metrics sink.
type RejectionRecorder interface {
	CursorRejected(kind domain.CursorErrorKind)
}

// Converter decodes and encodes cursors for all supported versions.
type Converter struct {
	timelines TimelineSource
	recorder  RejectionRecorder
	logger    logpkg.Logger
}

// NewConverter returns a Converter resolving timelines through src.
func NewConverter(src TimelineSource, logger logpkg.Logger) *Converter {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Converter{timelines: src, logger: logger.With(logpkg.Component("cursors"))}
}

// WithRecorder attaches a rejection recorder.
func (c *Converter) WithRecorder(r RejectionRecorder) *Converter {
	c.recorder = r
	return c
}

// Decode converts a wire cursor of eventType into its internal triple.
func (c *Converter) Decode(ctx context.Context, eventType string, cur Cursor) (domain.NakadiCursor, error) {
	nc, err := c.decode(ctx, eventType, cur, nil)
	if err != nil {
		c.reject(eventType, cur, err)
		return domain.NakadiCursor{}, err
	}
	return nc, nil
}

// DecodeBatch decodes cursors preserving input order. If any cursor is
// invalid the whole batch fails and no partial result is returned.
func (c *Converter) DecodeBatch(ctx context.Context, cursors []EventTypeCursor) ([]domain.NakadiCursor, error) {
	cache := make(map[string][]domain.Timeline)
	out := make([]domain.NakadiCursor, 0, len(cursors))
	for _, etc := range cursors {
		nc, err := c.decode(ctx, etc.EventType, etc.Cursor, cache)
		if err != nil {
			c.reject(etc.EventType, etc.Cursor, err)
			return nil, err
		}
		out = append(out, nc)
	}
	return out, nil
}

// Encode renders nc in the newest encoding that can express it. Cursors into
// the fake timeline keep the legacy form so pre-timeline consumers can read them.
func (c *Converter) Encode(nc domain.NakadiCursor) Cursor {
	return Encode(nc)
}

// Encode is the stateless form of Converter.Encode. Legacy offsets are
// padded the way Decode pads them. Orders above domain.MaxTimelineOrder are
// never persisted, so every timeline is expressible.
func Encode(nc domain.NakadiCursor) Cursor {
	if nc.Timeline.Fake {
		return Cursor{Partition: nc.Partition, Offset: leftPad(nc.Offset)}
	}
	return Cursor{Partition: nc.Partition, Offset: formatVersionOne(nc.Timeline.Order, nc.Offset)}
}

func (c *Converter) decode(ctx context.Context, eventType string, cur Cursor, cache map[string][]domain.Timeline) (domain.NakadiCursor, error) {
	version, err := guessVersion(cur)
	if err != nil {
		return domain.NakadiCursor{}, err
	}
	switch version {
	case VersionZero:
		offset, err := parseVersionZero(cur)
		if err != nil {
			return domain.NakadiCursor{}, err
		}
		fake, err := c.timelines.FakeTimeline(ctx, eventType)
		if err != nil {
			return domain.NakadiCursor{}, err
		}
		return domain.NakadiCursor{Timeline: fake, Partition: cur.Partition, Offset: offset}, nil
	case VersionOne:
		fields, err := parseVersionOne(cur)
		if err != nil {
			return domain.NakadiCursor{}, err
		}
		timelines, err := c.listTimelines(ctx, eventType, cache)
		if err != nil {
			return domain.NakadiCursor{}, err
		}
		if len(timelines) == 0 {
			// A migration issued this cursor and was then rolled back.
			if fields.order != domain.StartingOrder+1 {
				return domain.NakadiCursor{}, cur.invalid(domain.CursorUnavailable)
			}
			fake, err := c.timelines.FakeTimeline(ctx, eventType)
			if err != nil {
				return domain.NakadiCursor{}, err
			}
			return domain.NakadiCursor{Timeline: fake, Partition: cur.Partition, Offset: leftPad(fields.offset)}, nil
		}
		for _, tl := range timelines {
			if tl.Order == fields.order {
				return domain.NakadiCursor{Timeline: tl, Partition: cur.Partition, Offset: fields.offset}, nil
			}
		}
		return domain.NakadiCursor{}, cur.invalid(domain.CursorUnavailable)
	default:
		return domain.NakadiCursor{}, fmt.Errorf("cursor version %s has no decoder: %w", version, cur.invalid(domain.CursorUnsupportedVersion))
	}
}

func (c *Converter) listTimelines(ctx context.Context, eventType string, cache map[string][]domain.Timeline) ([]domain.Timeline, error) {
	if cache != nil {
		if tls, ok := cache[eventType]; ok {
			return tls, nil
		}
	}
	tls, err := c.timelines.ListTimelines(ctx, eventType)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache[eventType] = tls
	}
	return tls, nil
}

func (c *Converter) reject(eventType string, cur Cursor, err error) {
	kind, ok := domain.CursorKind(err)
	if !ok {
		return
	}
	if c.recorder != nil {
		c.recorder.CursorRejected(kind)
	}
	c.logger.Debug("cursor rejected",
		logpkg.EventType(eventType),
		logpkg.Str("partition", cur.Partition),
		logpkg.Str("offset", cur.Offset),
		logpkg.Stringer("kind", kind))
}

// Inspect reports the version and, for versioned cursors, the timeline order
// embedded in offset without resolving any timeline.
func Inspect(offset string) (Version, int, error) {
	cur := Cursor{Offset: offset}
	v, err := guessVersion(cur)
	if err != nil {
		return 0, 0, err
	}
	if v == VersionZero {
		if _, err := parseVersionZero(cur); err != nil {
			return 0, 0, err
		}
		return v, domain.StartingOrder, nil
	}
	f, err := parseVersionOne(cur)
	if err != nil {
		return 0, 0, err
	}
	return v, f.order, nil
}
