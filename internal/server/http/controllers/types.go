package controllers

import "github.com/adyach/nakadi/internal/cursor"

// Common request/response types for HTTP controllers

// errorBody is the payload of every error response.
type errorBody struct {
	Title string `json:"title"`
	Error string `json:"error"`
	// Kind is set for rejected cursors.
	Kind string `json:"kind,omitempty"`
}

// createTimelineReq selects the storage of a new timeline.
type createTimelineReq struct {
	StorageID string `json:"storage_id"`
}

// publishResp lists the cursor of every published event.
type publishResp struct {
	Cursors []cursor.Cursor `json:"cursors"`
}

// CursorsHeader carries the JSON cursor list of a read.
const CursorsHeader = "X-Nakadi-Cursors"
