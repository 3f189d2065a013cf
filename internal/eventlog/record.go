package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Record layout: version(1) | written_at_ms(8, big-endian) | payload | crc32c(version..payload)
const (
	recordVersion    byte = 1
	recordHeaderSize      = 1 + 8
	recordTrailer         = 4
)

// ErrCorruptRecord is returned for values that fail the length, version or checksum check.
var ErrCorruptRecord = errors.New("eventlog: corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Event is one stored event with the time it was appended.
type Event struct {
	WrittenAtMs int64
	Payload     []byte
}

func encodeEvent(e Event) []byte {
	out := make([]byte, recordHeaderSize, recordHeaderSize+len(e.Payload)+recordTrailer)
	out[0] = recordVersion
	binary.BigEndian.PutUint64(out[1:recordHeaderSize], uint64(e.WrittenAtMs))
	out = append(out, e.Payload...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
}

func decodeEvent(b []byte) (Event, error) {
	if len(b) < recordHeaderSize+recordTrailer || b[0] != recordVersion {
		return Event{}, ErrCorruptRecord
	}
	body := b[:len(b)-recordTrailer]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-recordTrailer:]) {
		return Event{}, ErrCorruptRecord
	}
	return Event{
		WrittenAtMs: int64(binary.BigEndian.Uint64(body[1:recordHeaderSize])),
		Payload:     append([]byte(nil), body[recordHeaderSize:]...),
	}, nil
}
