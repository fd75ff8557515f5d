package domain

type RoomID string

// Channel is the broadcast channel name of the room.
func (r RoomID) Channel() string {
	return "room:" + string(r)
}
