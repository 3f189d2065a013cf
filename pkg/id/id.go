package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ID is a version 7 UUID.
type ID [16]byte

const maxCounter = 1<<12 - 1

// String returns the 8-4-4-4-12 form.
func (i ID) String() string {
	var buf [36]byte
	hex.Encode(buf[0:8], i[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], i[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], i[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], i[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], i[10:16])
	return string(buf[:])
}

// UUID is an alias of String.
func (i ID) UUID() string { return i.String() }

// Time returns the creation time embedded in the ID.
func (i ID) Time() time.Time {
	var b [8]byte
	copy(b[2:], i[0:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b[:]))).UTC()
}

// Version returns the UUID version nibble.
func (i ID) Version() int { return int(i[6] >> 4) }

// Parse accepts the hyphenated and the bare 32 digit form.
func Parse(s string) (ID, error) {
	var id ID
	raw := strings.ReplaceAll(s, "-", "")
	if len(raw) != 32 {
		return id, fmt.Errorf("invalid id %q: want 32 hex digits", s)
	}
	if _, err := hex.Decode(id[:], []byte(raw)); err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// Generator hands out IDs that increase strictly within one process, even
// when the wall clock steps back.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	rand    io.Reader
	lastMs  int64
	counter uint16
}

// NewGenerator returns a Generator using the wall clock and crypto/rand.
func NewGenerator() *Generator {
	return &Generator{now: time.Now, rand: rand.Reader}
}

// Next returns a new ID. When the 12-bit counter of a millisecond is
// exhausted the timestamp is advanced by one millisecond instead of waiting.
func (g *Generator) Next() ID {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	switch {
	case ms > g.lastMs:
		g.counter = 0
	case g.counter < maxCounter:
		ms = g.lastMs
		g.counter++
	default:
		ms = g.lastMs + 1
		g.counter = 0
	}
	g.lastMs = ms
	counter := g.counter
	g.mu.Unlock()

	var id ID
	if _, err := io.ReadFull(g.rand, id[8:]); err != nil {
		panic(fmt.Sprintf("id: read random: %v", err))
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ms))
	copy(id[0:6], ts[2:])
	id[6] = 0x70 | byte(counter>>8)
	id[7] = byte(counter)
	id[8] = 0x80 | id[8]&0x3f
	return id
}
