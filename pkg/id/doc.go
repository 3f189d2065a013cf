// Package id generates the identifiers of timelines and storage topics.
//
// IDs are version 7 UUIDs: a 48-bit millisecond timestamp, a 12-bit counter
// in the rand_a field and 62 random bits. Within one process a Generator
// hands out strictly increasing IDs; when the clock steps back the last
// timestamp is reused, and when a millisecond's counter is exhausted the
// timestamp moves forward by one.
//
//	g := id.NewGenerator()
//	topic := g.Next().String() // "018bcfe5-6800-7000-b3c1-..."
//	back, _ := id.Parse(topic)
package id
