package entity

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "playing"
	StatusFinished Status = "finished"
)

// WinnerDraw is stored in Game.Winner when nobody won.
const WinnerDraw = "draw"

// Game is the authoritative state of one session. Creator plays X, Joiner plays O.
type Game struct {
	ID          string    `json:"id"`
	Creator     string    `json:"creator"`
	Joiner      string    `json:"player,omitempty"`
	Board       Board     `json:"board"`
	Turn        Mark      `json:"currentPlayer"`
	Status      Status    `json:"state"`
	Winner      string    `json:"winner,omitempty"`
	WinnerScore *int      `json:"winnerScore,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MoveResult describes an accepted move.
type MoveResult struct {
	Mark     Mark
	Cell     int
	Outcome  Outcome
	WinnerID string
}

func (that MoveResult) Terminal() bool {
	return that.Outcome.IsTerminal()
}

func NewGame(id, creatorID string) *Game {
	return &Game{
		ID:      id,
		Creator: creatorID,
		Turn:    PlayerX,
		Status:  StatusPending,
	}
}

// Clone returns a deep copy; the registry mutates copies only.
func (that *Game) Clone() *Game {
	clone := *that
	if that.WinnerScore != nil {
		score := *that.WinnerScore
		clone.WinnerScore = &score
	}
	return &clone
}

func (that *Game) IsPending() bool {
	return that.Status == StatusPending
}

func (that *Game) IsActive() bool {
	return that.Status == StatusActive
}

func (that *Game) IsFinished() bool {
	return that.Status == StatusFinished
}

// MarkOf returns the mark owned by the player.
func (that *Game) MarkOf(playerID string) (Mark, bool) {
	switch {
	case playerID == "":
		return EmptyCell, false
	case playerID == that.Creator:
		return PlayerX, true
	case playerID == that.Joiner:
		return PlayerO, true
	default:
		return EmptyCell, false
	}
}

// OwnerOf returns the player id owning the mark, empty if the slot is free.
func (that *Game) OwnerOf(mark Mark) string {
	switch mark {
	case PlayerX:
		return that.Creator
	case PlayerO:
		return that.Joiner
	default:
		return ""
	}
}

// Join fills the second slot and starts a fresh board.
func (that *Game) Join(joinerID string) error {
	if joinerID == "" {
		return apperror.ErrMissingPlayer
	}

	if that.IsFinished() {
		return apperror.ErrGameFinished
	}

	if that.Joiner != "" {
		return fmt.Errorf("%w: game id %s", apperror.ErrAlreadyFull, that.ID)
	}

	if !that.IsPending() {
		return apperror.ErrGameNotPending
	}

	if joinerID == that.Creator {
		return apperror.ErrSelfJoin
	}

	that.Joiner = joinerID
	that.reset()

	return nil
}

// Move plays for a participant, using the mark that participant owns.
func (that *Game) Move(playerID string, cell int) (MoveResult, error) {
	mark, ok := that.MarkOf(playerID)
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: %s", apperror.ErrNotParticipant, playerID)
	}

	return that.MoveMark(mark, cell)
}

// MoveMark plays mark at cell. Nothing changes unless the move is accepted.
func (that *Game) MoveMark(mark Mark, cell int) (MoveResult, error) {
	if !that.IsActive() {
		return MoveResult{}, fmt.Errorf("%w: status %s", apperror.ErrGameNotActive, that.Status)
	}

	if !mark.IsValid() {
		return MoveResult{}, fmt.Errorf("%w: %q", apperror.ErrInvalidMark, mark)
	}

	if that.Turn != mark {
		return MoveResult{}, apperror.ErrNotYourTurn
	}

	board, err := that.Board.Place(cell, mark)
	if err != nil {
		return MoveResult{}, err
	}

	that.Board = board
	that.Turn = mark.Opponent()

	result := MoveResult{
		Mark:    mark,
		Cell:    cell,
		Outcome: board.Evaluate(),
	}

	switch result.Outcome.Kind {
	case Won:
		result.WinnerID = that.OwnerOf(result.Outcome.Mark)
		that.Winner = result.WinnerID
		that.Status = StatusFinished
	case Draw:
		that.Winner = WinnerDraw
		that.Status = StatusFinished
	case InProgress:
	}

	return result, nil
}

// Finish ends the game with an externally reported result, ignoring the board.
func (that *Game) Finish(winnerID string, score int) error {
	if that.IsFinished() {
		return apperror.ErrGameFinished
	}

	that.Winner = winnerID
	that.WinnerScore = &score
	that.Status = StatusFinished

	return nil
}

// Restart clears the board of a finished or running game, keeping both players.
func (that *Game) Restart() error {
	if that.IsPending() {
		return apperror.ErrGameIsNotStarted
	}

	that.reset()

	return nil
}

func (that *Game) reset() {
	that.Board = Board{}
	that.Turn = PlayerX
	that.Winner = ""
	that.WinnerScore = nil
	that.Status = StatusActive
}
