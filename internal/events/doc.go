// Package events is the hot path: publishing to and reading from the active
// storage of an event type.
//
// Every operation registers with the timeline synchronizer so that a switch
// never computes the final position of a topic that is still being written.
// Reads resolve wire cursors through the cursor codec and transparently
// continue from a retired timeline into its successor once the retired
// timeline's final position is reached.
package events
