package eventlog

import (
	"encoding/binary"
)

// Token encodes the starting position as seq (8 bytes big-endian).
type Token [8]byte

// TokenFromSeq builds a Token for seq.
func TokenFromSeq(seq uint64) Token { var t Token; binary.BigEndian.PutUint64(t[:], seq); return t }

// Seq returns the sequence the token points at.
func (t Token) Seq() uint64 { return binary.BigEndian.Uint64(t[:]) }

type ReadOptions struct {
	Start   Token // if zero, begin from the first entry
	Limit   int
	Reverse bool
}

type Item struct {
	Seq uint64
	Event
}

// Read returns up to Limit items starting at Start (inclusive). Reverse scans
// descending. The returned token is the position to resume from, zero when
// the scan reached the end.
func (l *Log) Read(opts ReadOptions) ([]Item, Token, error) {
	startSeq := opts.Start.Seq()
	startKey := KeyLogEntry(l.scope, l.topic, l.part, startSeq)

	items := make([]Item, 0, max(1, opts.Limit))
	var next Token
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return items, next, err
	}
	defer iter.Close()

	var ok bool
	switch {
	case opts.Reverse && startSeq == 0:
		ok = iter.Last()
	case opts.Reverse:
		ok = iter.SeekLT(startKey)
	case startSeq == 0:
		ok = iter.First()
	default:
		ok = iter.SeekGE(startKey)
	}
	for ok && (opts.Limit == 0 || len(items) < opts.Limit) {
		// Corrupt records are skipped rather than failing the whole read.
		if ev, err := decodeEvent(iter.Value()); err == nil {
			items = append(items, Item{Seq: seqFromKey(iter.Key()), Event: ev})
		}
		if opts.Reverse {
			ok = iter.Prev()
		} else {
			ok = iter.Next()
		}
	}
	if ok {
		next = TokenFromSeq(seqFromKey(iter.Key()))
	}
	return items, next, iter.Error()
}
