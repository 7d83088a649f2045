package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/realtime"
)

// handleJoin - attaches the connection to the game room and announces it.
func (that *Server) handleJoin(ctx context.Context, c *client, msg *realtime.Message) error {
	log := that.logger.With("method", "handleJoin", "connID", c.ID())

	var payload JoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: invalid join payload: %w", apperror.ErrValidation, err)
	}

	gameID := normalizeID(payload.GameID)
	if gameID == "" {
		return apperror.ErrMissingGame
	}

	if payload.InfoUser == nil || payload.InfoUser.ID == "" {
		return apperror.ErrMissingPlayer
	}

	player := payload.InfoUser

	var symbol entity.Mark
	var announceErr error

	// room entry and announcements run under the session lock, so a
	// concurrent move is broadcast after this snapshot, never before it
	err := that.gameUseCase.JoinGame(ctx, gameID, func(game *entity.Game) {
		c.setPlayerID(player.ID)
		that.rooms.JoinRoom(game.ID, c)

		symbol = entity.PlayerO
		if player.ID == game.Creator {
			symbol = entity.PlayerX
		}

		if err := that.rooms.Broadcast(game.ID, actionUpdateGame, newUpdateGamePayload(game)); err != nil {
			announceErr = fmt.Errorf("failed to broadcast game: %w", err)
			return
		}

		if err := that.rooms.EmitTo(c, actionPlayerAssigned, PlayerAssignedPayload{Symbol: symbol}); err != nil {
			announceErr = fmt.Errorf("failed to assign player: %w", err)
			return
		}

		if err := that.rooms.EmitToOthers(game.ID, c, actionNewPlayer, NewPlayerPayload{InfoUser: player}); err != nil {
			announceErr = fmt.Errorf("failed to announce player: %w", err)
		}
	})
	if err != nil {
		return err
	}

	if announceErr != nil {
		return announceErr
	}

	log.Info("player joined room", "gameID", gameID, "playerID", player.ID, "symbol", symbol)

	return nil
}

// handleMakeMove - applies the move; rejected moves are only logged.
func (that *Server) handleMakeMove(ctx context.Context, c *client, msg *realtime.Message) error {
	var payload MovePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: invalid move payload: %w", apperror.ErrValidation, err)
	}

	gameID := normalizeID(payload.GameID)
	if gameID == "" {
		return apperror.ErrMissingGame
	}

	if payload.Position == nil {
		return apperror.ErrInvalidCell
	}

	_, _, err := that.gameUseCase.MakeMove(ctx, gameID, payload.Player, *payload.Position, func(game *entity.Game, result entity.MoveResult) {
		that.announceMove(game, result)
	})
	if err != nil {
		return err
	}

	that.logger.Debug("move accepted", "method", "handleMakeMove", "connID", c.ID(),
		"gameID", gameID, "mark", payload.Player, "position", *payload.Position)

	return nil
}

// announceMove runs while the session is locked, so events keep commit order.
func (that *Server) announceMove(game *entity.Game, result entity.MoveResult) {
	log := that.logger.With("method", "announceMove", "gameID", game.ID)

	if err := that.rooms.Broadcast(game.ID, actionUpdateGame, newUpdateGamePayload(game)); err != nil {
		log.Error("failed to broadcast game", "error", err)
	}

	if result.Terminal() {
		ended := GameEndedPayload{Winner: entity.WinnerDraw}
		if result.Outcome.Kind == entity.Won {
			ended = GameEndedPayload{Winner: string(result.Outcome.Mark), WinnerID: result.WinnerID}
		}

		if err := that.rooms.Broadcast(game.ID, actionGameEnded, ended); err != nil {
			log.Error("failed to broadcast game end", "error", err)
		}

		log.Info("game ended", "winner", ended.Winner, "winnerID", ended.WinnerID)
	}

	if err := that.rooms.Broadcast(game.ID, actionPlayerMove, PlayerMovePayload{Player: result.Mark, Position: result.Cell}); err != nil {
		log.Error("failed to broadcast move", "error", err)
	}
}

func (that *Server) handleRestartGame(ctx context.Context, c *client, msg *realtime.Message) error {
	var payload RestartPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: invalid restart payload: %w", apperror.ErrValidation, err)
	}

	gameID := normalizeID(payload.GameID)
	if gameID == "" {
		return apperror.ErrMissingGame
	}

	_, err := that.gameUseCase.RestartGame(ctx, gameID, func(game *entity.Game) {
		if err := that.rooms.Broadcast(game.ID, actionUpdateGame, newUpdateGamePayload(game)); err != nil {
			that.logger.Error("failed to broadcast restart", "gameID", game.ID, "error", err)
		}
	})
	if err != nil {
		return err
	}

	that.logger.Info("game restarted", "method", "handleRestartGame", "connID", c.ID(), "gameID", gameID)

	return nil
}
