package entity

import (
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
)

// Mark is the symbol a player puts on the board.
type Mark string

const (
	PlayerX   Mark = "X"
	PlayerO   Mark = "O"
	EmptyCell Mark = ""
)

const BoardSize = 9

// WinCombos - all rows, columns and diagonals of the board.
var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Opponent returns the other mark.
func (that Mark) Opponent() Mark {
	if that == PlayerX {
		return PlayerO
	}
	return PlayerX
}

func (that Mark) IsValid() bool {
	return that == PlayerX || that == PlayerO
}

type OutcomeKind int

const (
	InProgress OutcomeKind = iota
	Won
	Draw
)

// Outcome is the result of evaluating a board. Mark is set only for Won.
type Outcome struct {
	Kind OutcomeKind
	Mark Mark
}

func (that Outcome) IsTerminal() bool {
	return that.Kind != InProgress
}

// Board is a 3x3 grid stored row by row.
type Board [BoardSize]Mark

// Place returns a copy of the board with mark set at cell.
func (that Board) Place(cell int, mark Mark) (Board, error) {
	if cell < 0 || cell >= BoardSize {
		return that, fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, cell)
	}

	if !mark.IsValid() {
		return that, fmt.Errorf("%w: %q", apperror.ErrInvalidMark, mark)
	}

	if that[cell] != EmptyCell {
		return that, fmt.Errorf("%w: cell %d", apperror.ErrCellOccupied, cell)
	}

	that[cell] = mark

	return that, nil
}

// Evaluate reports a win before a draw, so a full board with a line is Won.
func (that Board) Evaluate() Outcome {
	for _, combo := range WinCombos {
		a, b, c := that[combo[0]], that[combo[1]], that[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return Outcome{Kind: Won, Mark: a}
		}
	}

	if that.Full() {
		return Outcome{Kind: Draw}
	}

	return Outcome{Kind: InProgress}
}

func (that Board) Full() bool {
	for _, cell := range that {
		if cell == EmptyCell {
			return false
		}
	}
	return true
}

func (that Board) IsEmpty() bool {
	return that == Board{}
}

// MarshalJSON encodes empty cells as null, the way clients expect the board.
func (that Board) MarshalJSON() ([]byte, error) {
	cells := make([]*Mark, BoardSize)
	for i := range that {
		if that[i] != EmptyCell {
			mark := that[i]
			cells[i] = &mark
		}
	}

	return json.Marshal(cells)
}

func (that *Board) UnmarshalJSON(data []byte) error {
	var cells []*Mark
	if err := json.Unmarshal(data, &cells); err != nil {
		return fmt.Errorf("failed to unmarshal board: %w", err)
	}

	if len(cells) != BoardSize {
		return fmt.Errorf("board must have %d cells, got %d", BoardSize, len(cells))
	}

	var board Board
	for i, cell := range cells {
		if cell == nil || *cell == EmptyCell {
			continue
		}
		if !cell.IsValid() {
			return fmt.Errorf("%w: %q at cell %d", apperror.ErrInvalidMark, *cell, i)
		}
		board[i] = *cell
	}

	*that = board

	return nil
}
