package room

import "errors"

var (
	ErrRoomAlreadyRunning = errors.New("room is already running")
	ErrRoomNotRunning     = errors.New("room is not running")
	ErrManagerClosed      = errors.New("room manager is closed")
)
