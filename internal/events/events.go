// Package events publishes session lifecycle events for consumers outside
// the process, such as match history or analytics.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

const subjectPrefix = "games"

type Type string

const (
	GameCreated   Type = "created"
	PlayerJoined  Type = "joined"
	MovePlayed    Type = "moved"
	GameEnded     Type = "ended"
	GameRestarted Type = "restarted"
	GameRetired   Type = "retired"
)

type Move struct {
	Mark entity.Mark `json:"mark"`
	Cell int         `json:"cell"`
}

// Event is published after the change it describes was saved.
type Event struct {
	Type       Type         `json:"type"`
	GameID     string       `json:"gameId"`
	Game       *entity.Game `json:"game,omitempty"`
	Move       *Move        `json:"move,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Subject is games.<gameId>.<type>, so one game's events share a prefix.
func (that Event) Subject() string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, that.GameID, that.Type)
}

type Publisher interface {
	Publish(event Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(Event) error {
	return nil
}

type NATSPublisher struct {
	logger *slog.Logger
	conn   *nats.Conn
}

// Connect dials the NATS server at url. The connection reconnects forever;
// events published while disconnected are buffered by the client.
func Connect(logger *slog.Logger, url string) (*NATSPublisher, error) {
	log := logger.With("component", "events")

	conn, err := nats.Connect(url,
		nats.Name("tictactoe-live"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{logger: log, conn: conn}, nil
}

func (that *NATSPublisher) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err = that.conn.Publish(event.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Subject(), err)
	}

	return nil
}

// Close flushes pending events and closes the connection.
func (that *NATSPublisher) Close() {
	if err := that.conn.Drain(); err != nil {
		that.logger.Error("failed to drain NATS connection", "error", err)
	}
}
