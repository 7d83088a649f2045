package repository

import (
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const retention = time.Hour

func TestGameRepository_CreateOrUpdate(t *testing.T) {
	t.Run("Stores a running game without expiry", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		// Given: an active game with one move
		game := entity.NewGame("123", "U1")
		require.NoError(t, game.Join("U2"))
		_, err := game.Move("U1", 4)
		require.NoError(t, err)

		// When: CreateOrUpdate is called
		err = gameRepo.CreateOrUpdate(ctx, game)

		// Then: the key exists and never expires
		require.NoError(t, err)
		ttl, err := st.Storage.TTL(ctx, "game:123").Result()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(-1), ttl)
	})

	t.Run("Finished game expires after retention", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		game := entity.NewGame("123", "U1")
		require.NoError(t, game.Finish("U1", 3))

		require.NoError(t, gameRepo.CreateOrUpdate(ctx, game))

		ttl, err := st.Storage.TTL(ctx, "game:123").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, retention)
	})

	t.Run("Restarted game loses the expiry again", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		game := entity.NewGame("123", "U1")
		require.NoError(t, game.Join("U2"))
		require.NoError(t, game.Finish("U1", 3))
		require.NoError(t, gameRepo.CreateOrUpdate(ctx, game))

		require.NoError(t, game.Restart())
		require.NoError(t, gameRepo.CreateOrUpdate(ctx, game))

		ttl, err := st.Storage.TTL(ctx, "game:123").Result()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(-1), ttl)
	})
}

func TestGameRepository_GetByID(t *testing.T) {
	t.Run("GetByID_Success", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		// Given: a stored game with a mark on the board and a score
		game := entity.NewGame("123", "U1")
		require.NoError(t, game.Join("U2"))
		_, err := game.Move("U1", 0)
		require.NoError(t, err)
		require.NoError(t, game.Finish("U2", 12))
		require.NoError(t, gameRepo.CreateOrUpdate(ctx, game))

		// When: GetByID is called with existing ID
		retrievedGame, err := gameRepo.GetByID(ctx, game.ID)

		// Then: the retrieved game matches the saved one
		require.NoError(t, err)
		assert.Equal(t, game, retrievedGame)
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		// When: GetByID is called with non-existent ID
		retrievedGame, err := gameRepo.GetByID(ctx, "9999999")

		// Then: an ErrGameNotFound error should be returned
		require.ErrorIs(t, err, apperror.ErrGameNotFound)
		assert.Nil(t, retrievedGame)
	})

	t.Run("GetByID_Corrupted", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		require.NoError(t, st.Storage.Set(ctx, "game:bad", "{not json", 0).Err())

		_, err := gameRepo.GetByID(ctx, "bad")

		require.ErrorIs(t, err, apperror.ErrPersistence)
	})
}

func TestGameRepository_DeleteByID(t *testing.T) {
	t.Run("DeleteByID_Success", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		// Given: a stored game
		game := entity.NewGame("123", "U1")
		require.NoError(t, gameRepo.CreateOrUpdate(ctx, game))

		// When: DeleteByID is called with existing ID
		err := gameRepo.DeleteByID(ctx, game.ID)

		// Then: the game is gone
		require.NoError(t, err)
		_, err = gameRepo.GetByID(ctx, game.ID)
		require.ErrorIs(t, err, apperror.ErrGameNotFound)
	})

	t.Run("DeleteByID_NotFound", func(t *testing.T) {
		ctx, st := suite.New(t)
		gameRepo := NewGameRepository(st.Storage, retention)

		err := gameRepo.DeleteByID(ctx, "9999999")

		require.ErrorIs(t, err, apperror.ErrGameNotFound)
	})
}
