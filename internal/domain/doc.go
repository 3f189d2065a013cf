// Package domain holds the broker's shared model: event types, storages,
// timelines and the internal cursor triple, plus the error kinds surfaced
// by the timeline and cursor subsystems.
package domain
