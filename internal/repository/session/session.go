package session

import "errors"

var ErrNotFound = errors.New("session not found")

// Session binds a websocket connection to the room and viewer it joined as.
type Session struct {
	RoomID   string
	ViewerID string
}
