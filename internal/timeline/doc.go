// Package timeline implements timeline migration for event types.
//
// A timeline is one storage segment of an event type. Service.CreateTimeline
// creates the successor of the active timeline and switches to it: the
// Synchronizer raises a per-event-type barrier so that no publish or read
// touches the outgoing topic while its final position is recorded, and the
// metadata store persists the new timeline and retires the old one in a
// single transaction. The barrier is released on every exit path.
package timeline
