package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/events"
	"github.com/rocketscienceinc/tictactoe-live/internal/registry"
)

type Action string

const (
	ActionJoin   Action = "join"
	ActionFinish Action = "finish"
)

// UpdateRequest carries the body of a join or finish request.
type UpdateRequest struct {
	UserID string
	Score  *int
	Winner string
}

type sessions interface {
	Create(ctx context.Context, creatorID string) (*entity.Game, error)
	Get(ctx context.Context, id string) (*entity.Game, error)
	View(ctx context.Context, id string, fn func(game *entity.Game)) error
	Update(ctx context.Context, id string, mutate registry.Mutation, commits ...registry.Commit) (*entity.Game, error)
	Retire(ctx context.Context, id string) error
}

// GameManager is the single entry point for every game mutation, whichever
// transport the request came from.
type GameManager struct {
	logger    *slog.Logger
	sessions  sessions
	publisher events.Publisher
}

// NewGameManager builds the manager. A nil publisher drops every event.
func NewGameManager(logger *slog.Logger, sessions sessions, publisher events.Publisher) *GameManager {
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &GameManager{
		logger:    logger.With("component", "game_manager"),
		sessions:  sessions,
		publisher: publisher,
	}
}

func (that *GameManager) CreateGame(ctx context.Context, creatorID string) (*entity.Game, error) {
	game, err := that.sessions.Create(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	that.publish(events.GameCreated, game.ID, game, nil)

	return game, nil
}

func (that *GameManager) GetGame(ctx context.Context, gameID string) (*entity.Game, error) {
	game, err := that.sessions.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	return game, nil
}

// JoinGame runs notify with the current game of a connection entering the
// room. No move of the game commits until notify returns, so whatever notify
// sends is never overtaken by an older state.
func (that *GameManager) JoinGame(ctx context.Context, gameID string, notify func(game *entity.Game)) error {
	if err := that.sessions.View(ctx, gameID, notify); err != nil {
		return fmt.Errorf("failed to join game: %w", err)
	}

	return nil
}

// UpdateGame applies a join or finish requested by userID.
func (that *GameManager) UpdateGame(ctx context.Context, action Action, gameID string, req UpdateRequest) (*entity.Game, error) {
	log := that.logger.With("method", "UpdateGame", "action", action, "gameID", gameID)

	if req.UserID == "" {
		return nil, apperror.ErrMissingPlayer
	}

	if gameID == "" {
		return nil, apperror.ErrMissingGame
	}

	var mutate registry.Mutation
	eventType := events.PlayerJoined

	switch action {
	case ActionJoin:
		mutate = func(game *entity.Game) error {
			return game.Join(req.UserID)
		}
	case ActionFinish:
		if req.Score == nil {
			return nil, apperror.ErrMissingScore
		}
		score := *req.Score
		mutate = func(game *entity.Game) error {
			return game.Finish(req.Winner, score)
		}
		eventType = events.GameEnded
	default:
		return nil, fmt.Errorf("%w: %s", apperror.ErrUnknownAction, action)
	}

	game, err := that.sessions.Update(ctx, gameID, mutate, func(game *entity.Game) {
		that.publish(eventType, game.ID, game, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to %s game: %w", action, err)
	}

	log.Info("game updated", "userID", req.UserID, "status", game.Status)

	return game, nil
}

// MakeMove plays mark at cell. notify runs once the new state is saved and
// before any later move of the same game is applied.
func (that *GameManager) MakeMove(
	ctx context.Context,
	gameID string,
	mark entity.Mark,
	cell int,
	notify func(game *entity.Game, result entity.MoveResult),
) (*entity.Game, entity.MoveResult, error) {
	var result entity.MoveResult

	commit := func(game *entity.Game) {
		if notify != nil {
			notify(game, result)
		}

		that.publish(events.MovePlayed, game.ID, game, &events.Move{Mark: result.Mark, Cell: result.Cell})
		if result.Terminal() {
			that.publish(events.GameEnded, game.ID, game, nil)
		}
	}

	game, err := that.sessions.Update(ctx, gameID, func(game *entity.Game) error {
		var err error
		result, err = game.MoveMark(mark, cell)
		return err
	}, commit)
	if err != nil {
		return nil, entity.MoveResult{}, fmt.Errorf("failed to make move: %w", err)
	}

	return game, result, nil
}

// RestartGame clears the board; notify runs after the reset is saved.
func (that *GameManager) RestartGame(ctx context.Context, gameID string, notify func(game *entity.Game)) (*entity.Game, error) {
	game, err := that.sessions.Update(ctx, gameID, func(game *entity.Game) error {
		return game.Restart()
	}, func(game *entity.Game) {
		if notify != nil {
			notify(game)
		}

		that.publish(events.GameRestarted, game.ID, game, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restart game: %w", err)
	}

	return game, nil
}

func (that *GameManager) RetireGame(ctx context.Context, gameID string) error {
	if err := that.sessions.Retire(ctx, gameID); err != nil {
		return fmt.Errorf("failed to retire game: %w", err)
	}

	that.publish(events.GameRetired, gameID, nil, nil)

	return nil
}

// publish never fails the caller: the change it reports is already saved.
func (that *GameManager) publish(eventType events.Type, gameID string, game *entity.Game, move *events.Move) {
	event := events.Event{
		Type:       eventType,
		GameID:     gameID,
		Game:       game,
		Move:       move,
		OccurredAt: time.Now(),
	}
	if game != nil {
		event.OccurredAt = game.UpdatedAt
	}

	if err := that.publisher.Publish(event); err != nil {
		that.logger.Warn("failed to publish event", "method", "publish", "gameID", gameID, "type", eventType, "error", err)
	}
}
