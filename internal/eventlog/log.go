package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

// Log provides append-only operations for one storage/topic/partition.
type Log struct {
	db    *pebblestore.DB
	scope string
	topic string
	part  uint32

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
	observer TrimObserver
}

// OpenLog initializes a Log and loads the last sequence from metadata (if any).
func OpenLog(db *pebblestore.DB, scope, topic string, partition uint32) (*Log, error) {
	l := &Log{db: db, scope: scope, topic: topic, part: partition, notifyCh: make(chan struct{}), observer: noopObserver{}}
	meta, err := db.Get(KeyLogMeta(scope, topic, partition))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}
	return l, nil
}

// SetTrimObserver installs the observer notified of trimmed ranges.
func (l *Log) SetTrimObserver(o TrimObserver) {
	if o == nil {
		o = noopObserver{}
	}
	l.mu.Lock()
	l.observer = o
	l.mu.Unlock()
}

// Append appends the provided records as a single atomic batch. Returns assigned seq numbers.
func (l *Log) Append(ctx context.Context, recs []Event) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	next := l.lastSeq
	seqs := make([]uint64, len(recs))
	for i, r := range recs {
		next++
		if err := b.Set(KeyLogEntry(l.scope, l.topic, l.part, next), encodeEvent(r), nil); err != nil {
			return nil, err
		}
		seqs[i] = next
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	if err := b.Set(KeyLogMeta(l.scope, l.topic, l.part), meta[:], nil); err != nil {
		return nil, err
	}

	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq = next
	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}

// LastSeq returns the sequence of the newest appended entry, 0 if none.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Bounds returns the sequence just before the oldest retained entry and
// the newest sequence. Both are equal when nothing is retained.
func (l *Log) Bounds() (first, last uint64, err error) {
	last = l.LastSeq()
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()
	if !iter.First() {
		return last, last, iter.Error()
	}
	return seqFromKey(iter.Key()) - 1, last, nil
}

func (l *Log) entryBounds() *pebble.IterOptions {
	low := KeyLogEntry(l.scope, l.topic, l.part, 0)
	hi := KeyLogEntry(l.scope, l.topic, l.part, ^uint64(0))
	return &pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)}
}
