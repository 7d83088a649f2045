package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

const gameKeyPrefix = "game:"

type GameRepository interface {
	CreateOrUpdate(ctx context.Context, game *entity.Game) error
	GetByID(ctx context.Context, id string) (*entity.Game, error)
	DeleteByID(ctx context.Context, id string) error
}

type dbGame struct {
	client    *redis.Client
	retention time.Duration
}

// NewGameRepository stores games as JSON. Finished games expire after
// retention; zero keeps them forever.
func NewGameRepository(client *redis.Client, retention time.Duration) GameRepository {
	return &dbGame{
		client:    client,
		retention: retention,
	}
}

func (that *dbGame) CreateOrUpdate(ctx context.Context, game *entity.Game) error {
	gameJSON, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("could not marshal game: %w", err)
	}

	// SET without KEEPTTL drops any expiry left from a previous finish.
	var ttl time.Duration
	if game.IsFinished() {
		ttl = that.retention
	}

	if err = that.client.Set(ctx, gameKey(game.ID), gameJSON, ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to set game: %w", apperror.ErrPersistence, err)
	}

	return nil
}

func (that *dbGame) GetByID(ctx context.Context, id string) (*entity.Game, error) {
	response, err := that.client.Get(ctx, gameKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrGameNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to get game by id: %w", apperror.ErrPersistence, err)
	}

	var existingGame entity.Game
	if err = json.Unmarshal([]byte(response), &existingGame); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal game: %w", apperror.ErrPersistence, err)
	}

	return &existingGame, nil
}

func (that *dbGame) DeleteByID(ctx context.Context, id string) error {
	deleted, err := that.client.Del(ctx, gameKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to delete game by id: %w", apperror.ErrPersistence, err)
	}

	if deleted == 0 {
		return apperror.ErrGameNotFound
	}

	return nil
}

func gameKey(id string) string {
	return gameKeyPrefix + id
}
