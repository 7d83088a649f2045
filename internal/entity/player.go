package entity

// Player is the identity a client announces when it joins a room.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}
