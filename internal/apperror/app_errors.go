package apperror

import (
	"errors"
	"fmt"
)

// Error classes. Every specific error below wraps exactly one of them, so
// callers can branch on the class with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrIllegalMove  = errors.New("illegal move")
	ErrPersistence  = errors.New("persistence failure")
)

var (
	ErrGameNotFound = fmt.Errorf("game %w", ErrNotFound)

	ErrGameFinished     = fmt.Errorf("%w: game is already finished", ErrInvalidState)
	ErrGameIsNotStarted = fmt.Errorf("%w: game is not started", ErrInvalidState)
	ErrGameNotPending   = fmt.Errorf("%w: game is no longer pending", ErrInvalidState)
	ErrGameNotActive    = fmt.Errorf("%w: game is not active", ErrInvalidState)
	ErrAlreadyFull      = fmt.Errorf("%w: game already has two players", ErrInvalidState)

	ErrNotYourTurn    = fmt.Errorf("%w: it's not your turn", ErrIllegalMove)
	ErrCellOccupied   = fmt.Errorf("%w: cell is already occupied", ErrIllegalMove)
	ErrInvalidCell    = fmt.Errorf("%w: invalid cell index", ErrIllegalMove)
	ErrInvalidMark    = fmt.Errorf("%w: invalid mark", ErrIllegalMove)
	ErrNotParticipant = fmt.Errorf("%w: player is not part of this game", ErrIllegalMove)

	ErrMissingPlayer = fmt.Errorf("%w: player id is required", ErrValidation)
	ErrMissingGame   = fmt.Errorf("%w: game id is required", ErrValidation)
	ErrMissingScore  = fmt.Errorf("%w: score is required", ErrValidation)
	ErrUnknownAction = fmt.Errorf("%w: unknown action", ErrValidation)
	ErrSelfJoin      = fmt.Errorf("%w: creator cannot join own game", ErrValidation)
)
