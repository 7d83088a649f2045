package websocket

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

const (
	actionJoin        = "join"
	actionMakeMove    = "makeMove"
	actionRestartGame = "restartGame"

	actionUpdateGame     = "updateGame"
	actionPlayerAssigned = "playerAssigned"
	actionNewPlayer      = "newPlayer"
	actionPlayerMove     = "playerMove"
	actionGameEnded      = "gameEnded"
)

type JoinPayload struct {
	GameID   string         `json:"gameId"`
	InfoUser *entity.Player `json:"infoUser"`
}

type MovePayload struct {
	GameID   string      `json:"gameId"`
	Position *int        `json:"position"`
	Player   entity.Mark `json:"player"`
}

// RestartPayload accepts both {"gameId": "..."} and a bare JSON string.
type RestartPayload struct {
	GameID string `json:"gameId"`
}

func (that *RestartPayload) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &that.GameID)
	}

	type plain RestartPayload
	return json.Unmarshal(data, (*plain)(that))
}

type UpdateGamePayload struct {
	Board         entity.Board `json:"board"`
	CurrentPlayer entity.Mark  `json:"currentPlayer"`
}

type PlayerAssignedPayload struct {
	Symbol entity.Mark `json:"symbol"`
}

type NewPlayerPayload struct {
	InfoUser *entity.Player `json:"infoUser"`
}

type PlayerMovePayload struct {
	Player   entity.Mark `json:"player"`
	Position int         `json:"position"`
}

// GameEndedPayload.Winner is the winning mark or "draw".
type GameEndedPayload struct {
	Winner   string `json:"winner"`
	WinnerID string `json:"winnerId,omitempty"`
}

func newUpdateGamePayload(game *entity.Game) UpdateGamePayload {
	return UpdateGamePayload{Board: game.Board, CurrentPlayer: game.Turn}
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
