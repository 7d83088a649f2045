package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client is one live connection. Send must not block: it reports false when
// the message could not be queued.
type Client interface {
	ID() string
	Send(frame []byte) bool
}

// Message is the frame exchanged with clients in both directions.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub groups clients into rooms keyed by game id.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[Client]struct{}
	members map[Client]map[string]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		rooms:   make(map[string]map[Client]struct{}),
		members: make(map[Client]map[string]struct{}),
	}
}

// JoinRoom adds the client to the room. Joining twice is a no-op.
func (that *Hub) JoinRoom(roomID string, client Client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.rooms[roomID] == nil {
		that.rooms[roomID] = make(map[Client]struct{})
	}
	that.rooms[roomID][client] = struct{}{}

	if that.members[client] == nil {
		that.members[client] = make(map[string]struct{})
	}
	that.members[client][roomID] = struct{}{}
}

// Leave removes the client from every room it joined.
func (that *Hub) Leave(client Client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for roomID := range that.members[client] {
		delete(that.rooms[roomID], client)
		if len(that.rooms[roomID]) == 0 {
			delete(that.rooms, roomID)
		}
	}

	delete(that.members, client)
}

// RoomSize reports how many clients are in the room.
func (that *Hub) RoomSize(roomID string) int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.rooms[roomID])
}

// Broadcast delivers to every client in the room.
func (that *Hub) Broadcast(roomID, action string, payload any) error {
	return that.deliver(roomID, nil, action, payload)
}

// EmitToOthers delivers to every client in the room except sender.
func (that *Hub) EmitToOthers(roomID string, sender Client, action string, payload any) error {
	return that.deliver(roomID, sender, action, payload)
}

// EmitTo delivers to a single client.
func (that *Hub) EmitTo(client Client, action string, payload any) error {
	frame, err := encode(action, payload)
	if err != nil {
		return err
	}

	if !client.Send(frame) {
		that.logger.Warn("dropped message for slow or closed client", "client", client.ID(), "action", action)
	}

	return nil
}

func (that *Hub) deliver(roomID string, skip Client, action string, payload any) error {
	frame, err := encode(action, payload)
	if err != nil {
		return err
	}

	that.mu.RLock()
	defer that.mu.RUnlock()

	for client := range that.rooms[roomID] {
		if client == skip {
			continue
		}

		if !client.Send(frame) {
			that.logger.Warn("dropped message for slow or closed client",
				"room", roomID, "client", client.ID(), "action", action)
		}
	}

	return nil
}

func encode(action string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	frame, err := json.Marshal(Message{Action: action, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return frame, nil
}
