// Package cursor converts between wire cursors handed to consumers and the
// internal (timeline, partition, offset) triple.
//
// Two encodings are supported simultaneously:
//
//	000  legacy flat offset, e.g. "000000000000000042" or "BEGIN"; always
//	     bound to the fake timeline of the event type
//	001  "001-<order:4 hex>-<digits>", e.g. "001-0002-000000000000000042"
//
// The version tag is the first three characters followed by a dash; an
// undashed offset is a legacy one. New cursors are always encoded with the
// newest version unless they point into the fake timeline.
package cursor
