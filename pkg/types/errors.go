package types

import "errors"

// ErrInvalidRoomKey rejects room references that are neither a generated
// identifier nor an acceptable human-chosen name.
var ErrInvalidRoomKey = errors.New("room key must be a generated ID or a 1-32 character name")
