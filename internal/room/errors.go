package room

import "errors"

// Registry errors.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("you are not in this room")
)
