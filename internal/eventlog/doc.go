// Package eventlog implements the append-only partition log behind local
// storages.
//
// # Overview
//
// Logs are scoped by storage id and partitioned by topic/partition, and
// persisted in Pebble. Keys are lexicographically ordered for range scans:
//   - st/{storage}/topic/{topic}                  (topic metadata, JSON)
//   - st/{storage}/log/{topic}/{part_be4}/m       (partition metadata: lastSeq)
//   - st/{storage}/log/{topic}/{part_be4}/e/{seq_be8} (entries)
//
// Records are stored as: version | written_at_ms | payload | crc32c. The
// write time drives age based retention.
//
// Sequence numbers start at 1 and never go backwards, also across trims, so
// seq N can be exposed as an offset directly and seq 0 means "before the
// first event".
//
//	l, _ := OpenLog(db, "default", topic, 0)
//	seqs, _ := l.Append(ctx, []Event{{WrittenAtMs: nowMs, Payload: p}})
//	items, next := l.Read(ReadOptions{Start: TokenFromSeq(seqs[0]), Limit: 100})
//	first, last, _ := l.Bounds()
//	woke := l.WaitForAppend(ctx, 200*time.Millisecond)
//
//	// Trims (approximate), batched and throttled, reported via TrimObserver:
//	_, _, _ = l.TrimOlderThan(ctx, cutoffMs, 1024, 0)
//	_, _ = l.TrimToMaxBytes(ctx, maxBytes, 1024, 0)
package eventlog
