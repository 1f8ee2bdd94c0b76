package types

import "github.com/google/uuid"

// TruncateName clamps a client-supplied display name or room name to
// MaxNameLength runes. Names are untrusted input and never rejected for
// length alone, only clamped.
func TruncateName(name string) string {
	return truncateRunes(name, MaxNameLength)
}

// TruncateText clamps chat text to MaxMessageLength runes.
func TruncateText(text string) string {
	return truncateRunes(text, MaxMessageLength)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// IsValidRoomName reports whether a human-chosen room name is acceptable:
// 1 to MaxNameLength characters from [A-Za-z0-9_-]. Anything else must be
// rejected before a room is resolved.
func IsValidRoomName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// IsValidRoomID reports whether key parses as an opaque generated room
// identifier.
func IsValidRoomID(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil
}

// IsValidRoomKey accepts either form of room reference.
func IsValidRoomKey(key string) bool {
	return IsValidRoomID(key) || IsValidRoomName(key)
}
