package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/usecase"
)

const maxBodySize = 4096

type gameUseCase interface {
	CreateGame(ctx context.Context, creatorID string) (*entity.Game, error)
	GetGame(ctx context.Context, gameID string) (*entity.Game, error)
	UpdateGame(ctx context.Context, action usecase.Action, gameID string, req usecase.UpdateRequest) (*entity.Game, error)
	RetireGame(ctx context.Context, gameID string) error
}

type CreateGameRequest struct {
	UserID string `json:"userId"`
}

type CreateGameResponse struct {
	GameID string `json:"gameId"`
}

type UpdateGameRequest struct {
	UserID string `json:"userId"`
	Score  *int   `json:"score,omitempty"`
	Winner string `json:"winner,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	logger      *slog.Logger
	gameUseCase gameUseCase
}

func newHandlers(logger *slog.Logger, gameUseCase gameUseCase) *handlers {
	return &handlers{
		logger:      logger,
		gameUseCase: gameUseCase,
	}
}

// CreateGame - POST /game.
func (that *handlers) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := decode(w, r, &req); err != nil {
		that.writeError(w, err)
		return
	}

	game, err := that.gameUseCase.CreateGame(r.Context(), req.UserID)
	if err != nil {
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, http.StatusCreated, CreateGameResponse{GameID: game.ID})
}

// GetGame - GET /game/{gameId}.
func (that *handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	game, err := that.gameUseCase.GetGame(r.Context(), r.PathValue("gameId"))
	if err != nil {
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, http.StatusOK, game)
}

// UpdateGame - PATCH /game/{action}/{gameId}, action is join or finish.
func (that *handlers) UpdateGame(w http.ResponseWriter, r *http.Request) {
	var req UpdateGameRequest
	if err := decode(w, r, &req); err != nil {
		that.writeError(w, err)
		return
	}

	action := usecase.Action(r.PathValue("action"))

	game, err := that.gameUseCase.UpdateGame(r.Context(), action, r.PathValue("gameId"), usecase.UpdateRequest{
		UserID: req.UserID,
		Score:  req.Score,
		Winner: req.Winner,
	})
	if err != nil {
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, http.StatusOK, game)
}

// RetireGame - DELETE /game/{gameId}.
func (that *handlers) RetireGame(w http.ResponseWriter, r *http.Request) {
	if err := that.gameUseCase.RetireGame(r.Context(), r.PathValue("gameId")); err != nil {
		that.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", apperror.ErrValidation, err)
	}

	return nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrInvalidState), errors.Is(err, apperror.ErrIllegalMove):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (that *handlers) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		that.logger.Error("request failed", "error", err)
		message = http.StatusText(status)
	} else {
		that.logger.Info("request rejected", "status", status, "error", err)
	}

	that.writeJSON(w, status, ErrorResponse{Error: message})
}

func (that *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}
