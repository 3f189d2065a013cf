package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - st/{storage}/topic/{topic}
// - st/{storage}/log/{topic}/{part_be4}/m
// - st/{storage}/log/{topic}/{part_be4}/e/{seq_be8}

var (
	sep        = byte('/')
	scopePref  = []byte("st/")
	topicSeg   = []byte("/topic/")
	logSeg     = []byte("/log/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyTopicPrefix returns the prefix of every topic metadata key of a storage.
func KeyTopicPrefix(scope string) []byte {
	k := make([]byte, 0, len(scope)+16)
	k = append(k, scopePref...)
	k = append(k, scope...)
	k = append(k, topicSeg...)
	return k
}

// KeyTopic builds the topic metadata key.
func KeyTopic(scope, topic string) []byte {
	return append(KeyTopicPrefix(scope), topic...)
}

// KeyLogPrefix returns the prefix shared by all partitions of a topic.
func KeyLogPrefix(scope, topic string) []byte {
	k := make([]byte, 0, len(scope)+len(topic)+16)
	k = append(k, scopePref...)
	k = append(k, scope...)
	k = append(k, logSeg...)
	k = append(k, topic...)
	k = append(k, sep)
	return k
}

// KeyLogMeta builds the partition metadata key.
func KeyLogMeta(scope, topic string, partition uint32) []byte {
	k := KeyLogPrefix(scope, topic)
	k = appendBE4(k, partition)
	k = append(k, metaSuffix...)
	return k
}

// KeyLogEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyLogEntry(scope, topic string, partition uint32, seq uint64) []byte {
	k := KeyLogPrefix(scope, topic)
	k = appendBE4(k, partition)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
