package cursor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adyach/nakadi/internal/domain"
)

// Version is a wire cursor encoding.
type Version int

const (
	VersionZero Version = iota
	VersionOne
)

const (
	// VersionLength is the fixed width of a version tag.
	VersionLength = 3
	// TimelineOrderLength is the fixed width of the hex order field.
	TimelineOrderLength = 4
	// MinOffsetLength is the width legacy offsets are padded to.
	MinOffsetLength = 18
	// BeginOffset is the legacy alias for the position before the first event.
	BeginOffset = "BEGIN"

	timelineOrderBase = 16
)

var versionCodes = map[string]Version{
	"000": VersionZero,
	"001": VersionOne,
}

// Code returns the 3-character tag of v.
func (v Version) Code() string {
	switch v {
	case VersionZero:
		return "000"
	case VersionOne:
		return "001"
	default:
		return "???"
	}
}

func (v Version) String() string { return v.Code() }

// guessVersion inspects the offset for a "ttt-" prefix. Anything else is legacy.
func guessVersion(c Cursor) (Version, error) {
	if len(c.Offset) > VersionLength && c.Offset[VersionLength] == '-' {
		v, ok := versionCodes[c.Offset[:VersionLength]]
		if !ok {
			return 0, c.invalid(domain.CursorUnsupportedVersion)
		}
		return v, nil
	}
	return VersionZero, nil
}

// versionOneFields is the parsed form of a version ONE cursor.
type versionOneFields struct {
	order  int
	offset string
}

func parseVersionOne(c Cursor) (versionOneFields, error) {
	parts := strings.SplitN(c.Offset, "-", 3)
	if len(parts) != 3 {
		return versionOneFields{}, c.invalid(domain.CursorBadFormat)
	}
	if len(parts[0]) != VersionLength {
		return versionOneFields{}, c.invalid(domain.CursorBadFormat)
	}
	if len(parts[1]) != TimelineOrderLength {
		return versionOneFields{}, c.invalid(domain.CursorBadFormat)
	}
	if parts[2] == "" || !digitsOnly(parts[2]) {
		return versionOneFields{}, c.invalid(domain.CursorBadFormat)
	}
	order, err := strconv.ParseUint(parts[1], timelineOrderBase, 32)
	if err != nil {
		return versionOneFields{}, c.invalid(domain.CursorBadFormat)
	}
	return versionOneFields{order: int(order), offset: parts[2]}, nil
}

func formatVersionOne(order int, offset string) string {
	return fmt.Sprintf("%s-%04x-%s", VersionOne.Code(), order, offset)
}

// parseVersionZero validates a legacy offset and pads it to MinOffsetLength.
func parseVersionZero(c Cursor) (string, error) {
	if c.Offset == BeginOffset {
		return strings.Repeat("0", MinOffsetLength), nil
	}
	if c.Offset == "" || !digitsOnly(c.Offset) {
		return "", c.invalid(domain.CursorBadFormat)
	}
	return leftPad(c.Offset), nil
}

func leftPad(offset string) string {
	if len(offset) >= MinOffsetLength {
		return offset
	}
	return strings.Repeat("0", MinOffsetLength-len(offset)) + offset
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
