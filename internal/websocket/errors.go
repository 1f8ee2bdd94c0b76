package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Metadata-related errors
var (
	ErrUnknownMetaVersion = errors.New("unknown connection metadata version")
)
