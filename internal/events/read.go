package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/storage"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// ReadOptions tunes one read.
type ReadOptions struct {
	// Limit caps the events returned per partition; zero means the configured maximum.
	Limit int
	// Filter is an optional CEL expression over partition, offset,
	// written_at_ms, size, text, json and now_ms.
	Filter string
	// Wait, when positive, long-polls once for new events if nothing was found.
	Wait time.Duration
}

// Batch is the result of reading one partition. Cursor is where the next
// read of that partition continues and is set even when Events is empty.
type Batch struct {
	Cursor cursor.Cursor     `json:"cursor"`
	Events []json.RawMessage `json:"events,omitempty"`
}

type position struct {
	storageID string
	topic     string
	partition string
}

// Read returns the events after each cursor. Cursors written before a
// timeline switch keep working: once a retired timeline is exhausted the
// read continues at the start of its successor. Without cursors the read
// starts at the newest event of every partition.
func (s *Service) Read(ctx context.Context, eventType string, cursors []cursor.Cursor, opts ReadOptions) ([]Batch, error) {
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > s.cfg.MaxBatch {
		limit = s.cfg.MaxBatch
	}
	et, err := s.deps.EventTypes.GetEventType(ctx, eventType)
	if err != nil {
		return nil, err
	}
	if len(cursors) == 0 {
		views, err := s.Partitions(ctx, et.Name)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			cursors = append(cursors, cursor.Cursor{Partition: v.Partition, Offset: v.Newest})
		}
	}
	seen := make(map[string]bool, len(cursors))
	for _, c := range cursors {
		if seen[c.Partition] {
			return nil, fmt.Errorf("%w: duplicate cursor for partition %q", domain.ErrInvalidArgument, c.Partition)
		}
		seen[c.Partition] = true
		if _, err := storage.ParsePartition(c.Partition, et.Partitions); err != nil {
			return nil, &domain.InvalidCursorError{Kind: domain.CursorUnavailable, Partition: c.Partition, Offset: c.Offset}
		}
	}

	batches, positions, err := s.readOnce(ctx, et, cursors, limit, filter)
	if err != nil {
		return nil, err
	}
	wait := min(opts.Wait, s.cfg.MaxWait)
	if wait > 0 && allEmpty(batches) {
		s.waitForAppend(ctx, positions, wait)
		next := make([]cursor.Cursor, len(batches))
		for i, b := range batches {
			next[i] = b.Cursor
		}
		if batches, _, err = s.readOnce(ctx, et, next, limit, filter); err != nil {
			return nil, err
		}
	}
	if s.metrics != nil {
		n := 0
		for _, b := range batches {
			n += len(b.Events)
		}
		s.metrics.EventsRead(et.Name, n)
	}
	return batches, nil
}

func allEmpty(batches []Batch) bool {
	for _, b := range batches {
		if len(b.Events) > 0 {
			return false
		}
	}
	return true
}

// readOnce reads every cursor while registered with the synchronizer, so the
// timelines it resolves cannot be switched underneath it.
func (s *Service) readOnce(ctx context.Context, et domain.EventType, cursors []cursor.Cursor, limit int, filter celFilter) ([]Batch, []position, error) {
	release, err := s.deps.Guard.WorkWithEventType(ctx, et.Name, s.cfg.HotPathTimeout)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	chain, err := s.chain(ctx, et.Name)
	if err != nil {
		return nil, nil, err
	}

	wire := make([]cursor.EventTypeCursor, 0, len(cursors))
	for _, c := range cursors {
		if c.Offset != cursor.BeginOffset {
			wire = append(wire, cursor.EventTypeCursor{EventType: et.Name, Cursor: c})
		}
	}
	decoded, err := s.deps.Codec.DecodeBatch(ctx, wire)
	if err != nil {
		return nil, nil, err
	}

	r := chainReader{s: s, chain: chain, stats: make(map[int][]domain.PartitionStatistics), limit: limit, filter: filter}
	batches := make([]Batch, 0, len(cursors))
	positions := make([]position, 0, len(cursors))
	next := 0
	for _, c := range cursors {
		var (
			b   Batch
			pos position
			err error
		)
		if c.Offset == cursor.BeginOffset {
			b, pos, err = r.read(ctx, 0, c.Partition, "", true)
		} else {
			nc := decoded[next]
			next++
			i, ok := r.locate(nc.Timeline)
			if !ok {
				return nil, nil, &domain.InvalidCursorError{Kind: domain.CursorUnavailable, Partition: c.Partition, Offset: c.Offset}
			}
			b, pos, err = r.read(ctx, i, nc.Partition, nc.Offset, false)
		}
		if err != nil {
			return nil, nil, err
		}
		batches = append(batches, b)
		positions = append(positions, pos)
	}
	return batches, positions, nil
}

type chainReader struct {
	s      *Service
	chain  []domain.Timeline
	stats  map[int][]domain.PartitionStatistics
	limit  int
	filter celFilter
}

// locate finds tl in the chain. A fake cursor whose topic was taken over by
// the first real timeline resolves to that timeline.
func (r *chainReader) locate(tl domain.Timeline) (int, bool) {
	if tl.Fake {
		if sharesTopic(tl, r.chain[0]) {
			return 0, true
		}
		return -1, false
	}
	for i, c := range r.chain {
		if !c.Fake && c.Order == tl.Order {
			return i, true
		}
	}
	return -1, false
}

func (r *chainReader) statistics(ctx context.Context, i int) ([]domain.PartitionStatistics, error) {
	if st, ok := r.stats[i]; ok {
		return st, nil
	}
	st, err := r.s.statistics(ctx, r.chain[i])
	if err != nil {
		return nil, err
	}
	r.stats[i] = st
	return st, nil
}

// end returns the last readable offset of partition in chain[i]. Retired
// timelines end at their recorded final position.
func (r *chainReader) end(i int, partition string, st domain.PartitionStatistics) string {
	tl := r.chain[i]
	if i < len(r.chain)-1 && tl.LatestPosition != nil {
		if off, ok := tl.LatestPosition.Offset(partition); ok {
			return off
		}
	}
	return st.Last
}

func (r *chainReader) read(ctx context.Context, i int, partition, offset string, begin bool) (Batch, position, error) {
	unavailable := func() error {
		return &domain.InvalidCursorError{Kind: domain.CursorUnavailable, Partition: partition, Offset: offset}
	}
	for {
		tl := r.chain[i]
		stats, err := r.statistics(ctx, i)
		if err != nil {
			return Batch{}, position{}, err
		}
		st, ok := findStat(stats, partition)
		if !ok {
			return Batch{}, position{}, unavailable()
		}
		if begin {
			offset, begin = st.First, false
		}
		off, err := storage.ParseOffset(offset)
		if err != nil {
			return Batch{}, position{}, unavailable()
		}
		first, err := storage.ParseOffset(st.First)
		if err != nil {
			return Batch{}, position{}, err
		}
		end, err := storage.ParseOffset(r.end(i, partition, st))
		if err != nil {
			return Batch{}, position{}, err
		}
		if off < first || off > end {
			return Batch{}, position{}, unavailable()
		}
		pos := position{storageID: tl.StorageID, topic: tl.Topic, partition: partition}

		if off < end {
			return r.readRange(ctx, tl, partition, off, int(min(uint64(r.limit), end-off)), pos)
		}
		if i == len(r.chain)-1 {
			nc := domain.NakadiCursor{Timeline: tl, Partition: partition, Offset: storage.FormatOffset(off)}
			return Batch{Cursor: cursor.Encode(nc)}, pos, nil
		}
		r.s.logger.Debug("cursor crossed timeline boundary",
			logpkg.EventType(tl.EventType), logpkg.Str("partition", partition),
			logpkg.Int("from_order", tl.Order), logpkg.Int("to_order", r.chain[i+1].Order))
		i, begin = i+1, true
	}
}

func (r *chainReader) readRange(ctx context.Context, tl domain.Timeline, partition string, after uint64, n int, pos position) (Batch, position, error) {
	repo, err := r.s.deps.Repos.Get(ctx, tl.StorageID)
	if err != nil {
		return Batch{}, position{}, err
	}
	recs, err := repo.Read(ctx, tl.Topic, partition, storage.FormatOffset(after), n)
	if err != nil {
		return Batch{}, position{}, fmt.Errorf("read %s partition %s: %w", tl, partition, err)
	}
	last := storage.FormatOffset(after)
	now := r.s.now()
	var events []json.RawMessage
	for _, rec := range recs {
		last = rec.Offset
		if r.filter.Eval(rec, now) {
			events = append(events, json.RawMessage(rec.Payload))
		}
	}
	nc := domain.NakadiCursor{Timeline: tl, Partition: partition, Offset: last}
	return Batch{Cursor: cursor.Encode(nc), Events: events}, pos, nil
}

// waitForAppend blocks until one of the positions grows or wait elapses.
// Backends that cannot signal appends are simply polled again after wait.
func (s *Service) waitForAppend(ctx context.Context, positions []position, wait time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	woke := make(chan struct{}, len(positions))
	for _, p := range positions {
		repo, err := s.deps.Repos.Get(ctx, p.storageID)
		if err != nil {
			continue
		}
		w, ok := repo.(storage.Waiter)
		if !ok {
			continue
		}
		go func() {
			if w.WaitForAppend(ctx, p.topic, p.partition, wait) {
				woke <- struct{}{}
			}
		}()
	}
	select {
	case <-woke:
	case <-ctx.Done():
	}
}
