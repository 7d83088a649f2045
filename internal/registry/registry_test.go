package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("redis down")

type mockGameRepo struct {
	mock.Mock
}

func (that *mockGameRepo) CreateOrUpdate(ctx context.Context, game *entity.Game) error {
	args := that.Called(ctx, game)
	return args.Error(0)
}

func (that *mockGameRepo) GetByID(ctx context.Context, id string) (*entity.Game, error) {
	args := that.Called(ctx, id)
	game, _ := args.Get(0).(*entity.Game)
	return game, args.Error(1)
}

func (that *mockGameRepo) DeleteByID(ctx context.Context, id string) error {
	args := that.Called(ctx, id)
	return args.Error(0)
}

// memoryRepo is a thread safe in-memory gameRepo.
type memoryRepo struct {
	mu    sync.Mutex
	games map[string]*entity.Game
	saves int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{games: make(map[string]*entity.Game)}
}

func (that *memoryRepo) CreateOrUpdate(_ context.Context, game *entity.Game) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.games[game.ID] = game.Clone()
	that.saves++

	return nil
}

func (that *memoryRepo) GetByID(_ context.Context, id string) (*entity.Game, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	game, ok := that.games[id]
	if !ok {
		return nil, apperror.ErrGameNotFound
	}

	return game.Clone(), nil
}

func (that *memoryRepo) DeleteByID(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.games[id]; !ok {
		return apperror.ErrGameNotFound
	}
	delete(that.games, id)

	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fixedID(id string) Option {
	return WithIDGenerator(func() string { return id })
}

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates a pending game with a fresh id", func(t *testing.T) {
		// Given: an empty registry
		repo := newMemoryRepo()
		reg := New(newLogger(), repo, time.Hour)

		// When: two games are created
		first, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		second, err := reg.Create(ctx, "U1")
		require.NoError(t, err)

		// Then: both are pending, stored and have distinct ids
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, entity.StatusPending, first.Status)
		assert.Equal(t, "U1", first.Creator)
		assert.Len(t, repo.games, 2)
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("Missing creator is a validation error", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)

		_, err := reg.Create(ctx, "")

		require.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("Save failure is reported and nothing is cached", func(t *testing.T) {
		repo := &mockGameRepo{}
		repo.On("CreateOrUpdate", mock.Anything, mock.AnythingOfType("*entity.Game")).Return(errRedisDown).Once()
		reg := New(newLogger(), repo, time.Hour, fixedID("g1"))

		_, err := reg.Create(ctx, "U1")

		require.ErrorIs(t, err, errRedisDown)
		assert.Equal(t, 0, reg.Len())
		repo.AssertExpectations(t)
	})
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown id is NotFound", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)

		_, err := reg.Get(ctx, "nope")

		require.ErrorIs(t, err, apperror.ErrNotFound)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("Empty id is a validation error", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)

		_, err := reg.Get(ctx, "")

		require.ErrorIs(t, err, apperror.ErrMissingGame)
	})

	t.Run("Loads a stored game after a restart of the process", func(t *testing.T) {
		// Given: a game saved by a previous registry
		repo := newMemoryRepo()
		stored := entity.NewGame("g1", "U1")
		require.NoError(t, repo.CreateOrUpdate(ctx, stored))

		// When: a new registry looks it up
		reg := New(newLogger(), repo, time.Hour)
		game, err := reg.Get(ctx, "g1")

		// Then: the stored game is returned and cached
		require.NoError(t, err)
		assert.Equal(t, stored, game)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("Snapshots cannot change the session", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)
		created, err := reg.Create(ctx, "U1")
		require.NoError(t, err)

		snapshot, err := reg.Get(ctx, created.ID)
		require.NoError(t, err)
		snapshot.Board[0] = entity.PlayerX

		again, err := reg.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, again.Board.IsEmpty())
	})

	t.Run("Storage failure is a persistence error", func(t *testing.T) {
		repo := &mockGameRepo{}
		repo.On("GetByID", mock.Anything, "g1").Return(nil, apperror.ErrPersistence).Once()
		reg := New(newLogger(), repo, time.Hour)

		_, err := reg.Get(ctx, "g1")

		require.ErrorIs(t, err, apperror.ErrPersistence)
		repo.AssertExpectations(t)
	})

	t.Run("Failed loads leave nothing behind", func(t *testing.T) {
		// Given: storage is down
		repo := &mockGameRepo{}
		repo.On("GetByID", mock.Anything, mock.Anything).Return(nil, errRedisDown).Times(3)
		reg := New(newLogger(), repo, 0)

		// When: unknown ids are looked up
		for _, id := range []string{"a", "b", "c"} {
			_, err := reg.Get(ctx, id)
			require.ErrorIs(t, err, errRedisDown)
		}

		// Then: no empty entries are kept
		assert.Equal(t, 0, reg.Len())
		repo.AssertExpectations(t)
	})

	t.Run("Storage recovers on the next lookup", func(t *testing.T) {
		repo := &mockGameRepo{}
		stored := entity.NewGame("g1", "U1")
		repo.On("GetByID", mock.Anything, "g1").Return(nil, errRedisDown).Once()
		repo.On("GetByID", mock.Anything, "g1").Return(stored, nil).Once()
		reg := New(newLogger(), repo, time.Hour)

		_, err := reg.Get(ctx, "g1")
		require.Error(t, err)

		game, err := reg.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "U1", game.Creator)
		repo.AssertExpectations(t)
	})
}

func TestRegistry_View(t *testing.T) {
	ctx := context.Background()

	t.Run("Updates wait until the view returns", func(t *testing.T) {
		// Given: an active game
		reg := New(newLogger(), newMemoryRepo(), time.Hour, fixedID("g1"))
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Update(ctx, "g1", func(game *entity.Game) error { return game.Join("U2") })
		require.NoError(t, err)

		var mu sync.Mutex
		var order []string
		record := func(step string) {
			mu.Lock()
			order = append(order, step)
			mu.Unlock()
		}

		// When: a move is attempted while a view is running
		done := make(chan struct{})
		err = reg.View(ctx, "g1", func(game *entity.Game) {
			go func() {
				defer close(done)
				_, _ = reg.Update(ctx, "g1", func(game *entity.Game) error {
					_, err := game.MoveMark(entity.PlayerX, 0)
					return err
				}, func(*entity.Game) { record("move") })
			}()

			time.Sleep(50 * time.Millisecond)
			assert.True(t, game.Board.IsEmpty())
			record("view")
		})
		require.NoError(t, err)
		<-done

		// Then: the move committed after the view
		assert.Equal(t, []string{"view", "move"}, order)
	})

	t.Run("Unknown game", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)
		called := false

		err := reg.View(ctx, "nope", func(*entity.Game) { called = true })

		require.ErrorIs(t, err, apperror.ErrGameNotFound)
		assert.False(t, called)
	})
}

func TestRegistry_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("Saves before committing", func(t *testing.T) {
		// Given: an active game
		repo := newMemoryRepo()
		reg := New(newLogger(), repo, time.Hour, fixedID("g1"))
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Update(ctx, "g1", func(game *entity.Game) error { return game.Join("U2") })
		require.NoError(t, err)

		// When: a move is applied with a commit hook
		var committed *entity.Game
		var storedAtCommit *entity.Game
		updated, err := reg.Update(ctx, "g1", func(game *entity.Game) error {
			_, err := game.Move("U1", 4)
			return err
		}, func(game *entity.Game) {
			committed = game
			storedAtCommit, _ = repo.GetByID(ctx, "g1")
		})

		// Then: the hook sees the state that was already persisted
		require.NoError(t, err)
		require.NotNil(t, committed)
		assert.Equal(t, entity.PlayerX, committed.Board[4])
		assert.Equal(t, committed, storedAtCommit)
		assert.Equal(t, updated, committed)
	})

	t.Run("Rejected mutation leaves the session and storage untouched", func(t *testing.T) {
		repo := newMemoryRepo()
		reg := New(newLogger(), repo, time.Hour, fixedID("g1"))
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		savesBefore := repo.saves

		commitCalled := false
		_, err = reg.Update(ctx, "g1", func(game *entity.Game) error {
			game.Board[0] = entity.PlayerO
			return apperror.ErrNotYourTurn
		}, func(*entity.Game) { commitCalled = true })

		require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		assert.False(t, commitCalled)
		assert.Equal(t, savesBefore, repo.saves)
		game, err := reg.Get(ctx, "g1")
		require.NoError(t, err)
		assert.True(t, game.Board.IsEmpty())
	})

	t.Run("Save failure keeps the previous state", func(t *testing.T) {
		// Given: a cached active game whose next save fails
		repo := &mockGameRepo{}
		active := entity.NewGame("g1", "U1")
		require.NoError(t, active.Join("U2"))
		repo.On("GetByID", mock.Anything, "g1").Return(active, nil).Once()
		repo.On("CreateOrUpdate", mock.Anything, mock.AnythingOfType("*entity.Game")).Return(apperror.ErrPersistence).Once()
		reg := New(newLogger(), repo, time.Hour)

		// When: a move is applied
		commitCalled := false
		_, err := reg.Update(ctx, "g1", func(game *entity.Game) error {
			_, err := game.Move("U1", 0)
			return err
		}, func(*entity.Game) { commitCalled = true })

		// Then: the error surfaces, no commit runs and the cached board is empty
		require.ErrorIs(t, err, apperror.ErrPersistence)
		assert.False(t, commitCalled)
		game, err := reg.Get(ctx, "g1")
		require.NoError(t, err)
		assert.True(t, game.Board.IsEmpty())
		assert.Equal(t, entity.PlayerX, game.Turn)
		repo.AssertExpectations(t)
	})

	t.Run("Unknown session", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)

		_, err := reg.Update(ctx, "nope", func(*entity.Game) error { return nil })

		require.ErrorIs(t, err, apperror.ErrGameNotFound)
	})

	t.Run("Concurrent moves for the same turn accept exactly one", func(t *testing.T) {
		// Given: an active game with X to play
		reg := New(newLogger(), newMemoryRepo(), time.Hour, fixedID("g1"))
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Update(ctx, "g1", func(game *entity.Game) error { return game.Join("U2") })
		require.NoError(t, err)

		// When: many X moves race for different cells
		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := 0
		for cell := 0; cell < entity.BoardSize; cell++ {
			wg.Add(1)
			go func(cell int) {
				defer wg.Done()
				_, err := reg.Update(ctx, "g1", func(game *entity.Game) error {
					_, err := game.MoveMark(entity.PlayerX, cell)
					return err
				})
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(cell)
		}
		wg.Wait()

		// Then: only one X is on the board and it is O's turn
		assert.Equal(t, 1, accepted)
		game, err := reg.Get(ctx, "g1")
		require.NoError(t, err)
		marks := 0
		for _, cell := range game.Board {
			if cell != entity.EmptyCell {
				marks++
			}
		}
		assert.Equal(t, 1, marks)
		assert.Equal(t, entity.PlayerO, game.Turn)
	})

	t.Run("Commits run in the order moves were applied", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour, fixedID("g1"))
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Update(ctx, "g1", func(game *entity.Game) error { return game.Join("U2") })
		require.NoError(t, err)

		var mu sync.Mutex
		var seen []entity.Mark
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(cell int) {
				defer wg.Done()
				_, _ = reg.Update(ctx, "g1", func(game *entity.Game) error {
					_, err := game.MoveMark(game.Turn, cell)
					return err
				}, func(game *entity.Game) {
					mu.Lock()
					seen = append(seen, game.Turn)
					mu.Unlock()
				})
			}(i + 4)
		}
		wg.Wait()

		// turns observed by commits must alternate O, X, O, X
		require.Len(t, seen, 4)
		for i, turn := range seen {
			if i%2 == 0 {
				assert.Equal(t, entity.PlayerO, turn)
			} else {
				assert.Equal(t, entity.PlayerX, turn)
			}
		}
	})
}

func TestRegistry_Retire(t *testing.T) {
	ctx := context.Background()

	t.Run("Removes the game from memory and storage", func(t *testing.T) {
		repo := newMemoryRepo()
		reg := New(newLogger(), repo, time.Hour, fixedID("g1"))
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)

		require.NoError(t, reg.Retire(ctx, "g1"))

		assert.Equal(t, 0, reg.Len())
		assert.Empty(t, repo.games)
		_, err = reg.Get(ctx, "g1")
		require.ErrorIs(t, err, apperror.ErrGameNotFound)
	})

	t.Run("Unknown game", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), time.Hour)

		err := reg.Retire(ctx, "nope")

		require.ErrorIs(t, err, apperror.ErrGameNotFound)
	})
}

func TestRegistry_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("Evicts finished games older than retention only", func(t *testing.T) {
		// Given: a finished and a pending game, both touched at t0
		t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		ids := []string{"finished", "pending"}
		repo := newMemoryRepo()
		reg := New(newLogger(), repo, time.Hour,
			WithClock(func() time.Time { return t0 }),
			WithIDGenerator(func() string {
				id := ids[0]
				ids = ids[1:]
				return id
			}),
		)
		_, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Update(ctx, "finished", func(game *entity.Game) error { return game.Finish("U1", 1) })
		require.NoError(t, err)

		// When: sweeping before and after the retention window
		assert.Equal(t, 0, reg.Sweep(t0.Add(30*time.Minute)))
		evicted := reg.Sweep(t0.Add(2 * time.Hour))

		// Then: only the finished game leaves memory, storage still has it
		assert.Equal(t, 1, evicted)
		assert.Equal(t, 1, reg.Len())
		game, err := reg.Get(ctx, "finished")
		require.NoError(t, err)
		assert.True(t, game.IsFinished())
	})

	t.Run("Zero retention disables eviction", func(t *testing.T) {
		reg := New(newLogger(), newMemoryRepo(), 0)
		created, err := reg.Create(ctx, "U1")
		require.NoError(t, err)
		_, err = reg.Update(ctx, created.ID, func(game *entity.Game) error { return game.Finish("U1", 1) })
		require.NoError(t, err)

		assert.Equal(t, 0, reg.Sweep(time.Now().Add(1000*time.Hour)))
		assert.Equal(t, 1, reg.Len())
	})
}
