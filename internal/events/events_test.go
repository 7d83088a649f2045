package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Subject(t *testing.T) {
	event := Event{Type: GameEnded, GameID: "g1"}

	assert.Equal(t, "games.g1.ended", event.Subject())
}

func TestEvent_JSON(t *testing.T) {
	event := Event{Type: GameRetired, GameID: "g1", OccurredAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}

	raw, err := json.Marshal(event)

	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"retired","gameId":"g1","occurredAt":"2024-05-01T00:00:00Z"}`, string(raw))
}

func TestNop_Publish(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(Event{Type: GameCreated, GameID: "g1"}))
}

func TestNATSPublisher_Publish(t *testing.T) {
	// Given: a NATS server and a subscriber on every game subject
	url := suite.NewNATS(t)

	subscriber, err := nats.Connect(url)
	require.NoError(t, err)
	defer subscriber.Close()

	sub, err := subscriber.SubscribeSync(subjectPrefix + ".>")
	require.NoError(t, err)
	require.NoError(t, subscriber.Flush())

	publisher, err := Connect(slog.New(slog.NewJSONHandler(io.Discard, nil)), url)
	require.NoError(t, err)
	defer publisher.Close()

	// When: a move is published
	game := entity.NewGame("g1", "U1")
	require.NoError(t, game.Join("U2"))
	_, err = game.Move("U1", 4)
	require.NoError(t, err)

	err = publisher.Publish(Event{Type: MovePlayed, GameID: game.ID, Game: game, Move: &Move{Mark: entity.PlayerX, Cell: 4}})
	require.NoError(t, err)

	// Then: the subscriber receives it on the game's subject
	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "games.g1.moved", msg.Subject)

	var received Event
	require.NoError(t, json.Unmarshal(msg.Data, &received))
	assert.Equal(t, MovePlayed, received.Type)
	require.NotNil(t, received.Move)
	assert.Equal(t, Move{Mark: entity.PlayerX, Cell: 4}, *received.Move)
	require.NotNil(t, received.Game)
	assert.Equal(t, entity.PlayerX, received.Game.Board[4])
}
