package eventlog

import (
	"context"
	"time"
)

func (l *Log) trimObserver() TrimObserver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.observer
}

// TrimOlderThan deletes the oldest entries written before cutoffMs. It stops
// at the first newer or unreadable entry.
// Deletes are committed in batches of up to batchLimit keys with an optional throttle between commits.
// Returns number of deleted entries and the last deleted sequence (0 if none).
func (l *Log) TrimOlderThan(ctx context.Context, cutoffMs int64, batchLimit int, throttle time.Duration) (int, uint64, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	observer := l.trimObserver()
	deleted := 0
	var minSeq, lastSeq uint64
	for ok := iter.First(); ok; {
		if err := ctx.Err(); err != nil {
			return deleted, lastSeq, err
		}
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			ev, err := decodeEvent(iter.Value())
			if err != nil || ev.WrittenAtMs >= cutoffMs {
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, lastSeq, err
			}
			seq := seqFromKey(iter.Key())
			if deleted == 0 {
				minSeq = seq
			}
			deleted++
			lastSeq = seq
			n++
			ok = iter.Next()
		}
		if n == 0 {
			// stop when we reach an entry newer than cutoff
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, lastSeq, err
		}
		b.Close()
		observer.ObserveTrim(l.scope, l.topic, l.part, minSeq, lastSeq)
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	return deleted, lastSeq, nil
}

// TrimToMaxBytes approximates retention by total value bytes.
// If current bytes <= maxBytes, it is a no-op. Otherwise, deletes the oldest entries
// until total bytes <= maxBytes. Batched and throttled like TrimOlderThan.
func (l *Log) TrimToMaxBytes(ctx context.Context, maxBytes int64, batchLimit int, throttle time.Duration) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	if maxBytes < 0 {
		return 0, nil
	}
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var total int64
	for ok := iter.First(); ok; ok = iter.Next() {
		total += int64(len(iter.Value()))
	}
	if total <= maxBytes {
		return 0, nil
	}

	observer := l.trimObserver()
	deleted := 0
	var minSeq, lastSeq uint64
	for ok := iter.First(); ok && total > maxBytes; {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit && total > maxBytes {
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			seq := seqFromKey(iter.Key())
			if deleted == 0 {
				minSeq = seq
			}
			total -= int64(len(iter.Value()))
			deleted++
			n++
			lastSeq = seq
			ok = iter.Next()
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		observer.ObserveTrim(l.scope, l.topic, l.part, minSeq, lastSeq)
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	return deleted, nil
}
