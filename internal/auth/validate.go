package auth

import (
	"regexp"
	"strings"
)

// Result is the tagged (valid, value | error) shape spec.md §4.B requires:
// validators never panic and always let the caller decide whether to
// reject or substitute a default.
type Result[T any] struct {
	Valid bool
	Value T
	Err   string
}

var (
	controlChars  = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	strippedChars = regexp.MustCompile(`[<>'"&\\]`)

	internalRoomID = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	fabricRoomID   = regexp.MustCompile(`^[a-z0-9]{10,20}$`)
)

// ValidateName sanitizes a player-supplied display name: trim, clip to 20
// characters, strip disallowed characters, default to "Player" if empty.
func ValidateName(raw string) Result[string] {
	name := strings.TrimSpace(raw)

	if len(name) > 20 {
		name = name[:20]
	}

	name = controlChars.ReplaceAllString(name, "")
	name = strippedChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)

	if name == "" {
		name = "Player"
	}

	return Result[string]{Valid: true, Value: name}
}

// ValidateRoomID accepts either the internal six-character private-room
// code or a host-fabric-assigned id (spec.md §4.B).
func ValidateRoomID(raw string) Result[string] {
	upper := strings.ToUpper(raw)
	if internalRoomID.MatchString(upper) {
		return Result[string]{Valid: true, Value: upper}
	}

	if fabricRoomID.MatchString(raw) {
		return Result[string]{Valid: true, Value: raw}
	}

	return Result[string]{Err: "Invalid room ID"}
}

// ValidateCursorOffset accepts an integer cursor offset within [0, 100000].
func ValidateCursorOffset(offset int) Result[int] {
	if offset < 0 || offset > 100000 {
		return Result[int]{Err: "Invalid cursor offset"}
	}
	return Result[int]{Valid: true, Value: offset}
}

// ValidateEditorText accepts any string up to 10000 characters.
func ValidateEditorText(text string) Result[string] {
	if len(text) > 10000 {
		return Result[string]{Err: "Editor text too long"}
	}
	return Result[string]{Valid: true, Value: text}
}

// CoerceBool coerces an arbitrary JSON-decoded value into a bool,
// defaulting when the value is absent.
func CoerceBool(raw interface{}, def bool) bool {
	if raw == nil {
		return def
	}
	if b, ok := raw.(bool); ok {
		return b
	}
	return def
}
