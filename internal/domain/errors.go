package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when a non-admin client requests an admin operation.
	ErrForbidden = errors.New("forbidden")
	// ErrEventTypeNotFound is returned when an event type does not exist.
	ErrEventTypeNotFound = errors.New("event type not found")
	// ErrStorageNotFound is returned when a storage id is unknown.
	ErrStorageNotFound = errors.New("storage not found")
	// ErrAlreadyExists is returned when creating an event type or storage twice.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidCursor matches every *InvalidCursorError.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrMigrationTimeout is returned when in-flight work does not quiesce in time.
	ErrMigrationTimeout = errors.New("timeline migration timed out")
	// ErrConcurrentUpdate is returned when another migration of the same
	// event type committed or is in progress.
	ErrConcurrentUpdate = errors.New("concurrent timeline update")
	// ErrRetryLater is returned by the hot path while a timeline switch holds the barrier.
	ErrRetryLater = errors.New("timeline switch in progress, retry later")
	// ErrConfiguration signals a broker misconfiguration, such as a missing default storage.
	ErrConfiguration = errors.New("configuration error")
	// ErrFeatureNotAvailable is returned when a disabled feature is required.
	ErrFeatureNotAvailable = errors.New("feature not available")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
)

// CursorErrorKind distinguishes why a cursor was rejected.
type CursorErrorKind int

const (
	// CursorBadFormat means the cursor string is malformed.
	CursorBadFormat CursorErrorKind = iota
	// CursorUnsupportedVersion means the version tag is not registered.
	CursorUnsupportedVersion
	// CursorUnavailable means the referenced timeline no longer exists.
	CursorUnavailable
)

func (k CursorErrorKind) String() string {
	switch k {
	case CursorBadFormat:
		return "bad_format"
	case CursorUnsupportedVersion:
		return "unsupported_version"
	case CursorUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// InvalidCursorError reports a cursor that cannot be decoded.
type InvalidCursorError struct {
	Kind      CursorErrorKind
	Partition string
	Offset    string
}

func (e *InvalidCursorError) Error() string {
	return fmt.Sprintf("invalid cursor (%s): partition=%q offset=%q", e.Kind, e.Partition, e.Offset)
}

// Is makes errors.Is(err, ErrInvalidCursor) match.
func (e *InvalidCursorError) Is(target error) bool { return target == ErrInvalidCursor }

// TimelineError reports a failed timeline operation for an event type.
type TimelineError struct {
	EventType string
	Err       error
}

func (e *TimelineError) Error() string {
	return fmt.Sprintf("timeline operation failed for event type %s: %v", e.EventType, e.Err)
}

func (e *TimelineError) Unwrap() error { return e.Err }

// CursorKind extracts the cursor error kind from err, if any.
func CursorKind(err error) (CursorErrorKind, bool) {
	var ice *InvalidCursorError
	if errors.As(err, &ice) {
		return ice.Kind, true
	}
	return 0, false
}
