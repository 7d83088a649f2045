package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

type gameRepo interface {
	CreateOrUpdate(ctx context.Context, game *entity.Game) error
	GetByID(ctx context.Context, id string) (*entity.Game, error)
	DeleteByID(ctx context.Context, id string) error
}

// Mutation changes a private copy of the game. Returning an error discards the copy.
type Mutation func(game *entity.Game) error

// Commit runs after the mutated game is saved, still inside the session lock.
type Commit func(game *entity.Game)

// entry guards one session. evicted is set under mu when the entry leaves
// the map, so a goroutine that raced the eviction retries with a new entry.
type entry struct {
	mu      sync.Mutex
	game    *entity.Game
	touched time.Time
	evicted bool
}

// Registry owns every live session of the process.
type Registry struct {
	logger    *slog.Logger
	gameRepo  gameRepo
	retention time.Duration
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(that *Registry) {
		that.now = now
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(that *Registry) {
		that.newID = newID
	}
}

// New creates a registry. Finished sessions idle longer than retention are
// dropped from memory by Sweep; zero disables eviction.
func New(logger *slog.Logger, gameRepo gameRepo, retention time.Duration, opts ...Option) *Registry {
	that := &Registry{
		logger:    logger.With("component", "registry"),
		gameRepo:  gameRepo,
		retention: retention,
		now:       time.Now,
		newID:     uuid.NewString,
		entries:   make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(that)
	}

	return that
}

// Create stores a new pending game owned by creatorID.
func (that *Registry) Create(ctx context.Context, creatorID string) (*entity.Game, error) {
	if creatorID == "" {
		return nil, apperror.ErrMissingPlayer
	}

	game := entity.NewGame(that.newID(), creatorID)
	game.UpdatedAt = that.now()

	if err := that.gameRepo.CreateOrUpdate(ctx, game); err != nil {
		return nil, fmt.Errorf("failed to save game: %w", err)
	}

	that.mu.Lock()
	that.entries[game.ID] = &entry{game: game, touched: game.UpdatedAt}
	that.mu.Unlock()

	that.logger.Info("game created", "gameID", game.ID, "creator", creatorID)

	return game.Clone(), nil
}

// Get returns a snapshot of the game.
func (that *Registry) Get(ctx context.Context, id string) (*entity.Game, error) {
	var game *entity.Game

	err := that.withEntry(ctx, id, func(e *entry) error {
		game = e.game.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return game, nil
}

// View runs fn on a snapshot of the game while holding the session lock, so
// no update of the same game commits before fn returns.
func (that *Registry) View(ctx context.Context, id string, fn func(game *entity.Game)) error {
	return that.withEntry(ctx, id, func(e *entry) error {
		fn(e.game.Clone())
		return nil
	})
}

// Update applies mutate to a copy of the game, saves it and only then makes
// it the current state. Commits observe the saved state in commit order.
func (that *Registry) Update(ctx context.Context, id string, mutate Mutation, commits ...Commit) (*entity.Game, error) {
	var updated *entity.Game

	err := that.withEntry(ctx, id, func(e *entry) error {
		next := e.game.Clone()
		if err := mutate(next); err != nil {
			return err
		}

		next.UpdatedAt = that.now()

		if err := that.gameRepo.CreateOrUpdate(ctx, next); err != nil {
			return fmt.Errorf("failed to save game: %w", err)
		}

		e.game = next
		e.touched = next.UpdatedAt

		for _, commit := range commits {
			commit(next.Clone())
		}

		updated = next.Clone()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Retire removes the game from memory and storage for good.
func (that *Registry) Retire(ctx context.Context, id string) error {
	return that.withEntry(ctx, id, func(e *entry) error {
		if err := that.gameRepo.DeleteByID(ctx, id); err != nil && !errors.Is(err, apperror.ErrGameNotFound) {
			return fmt.Errorf("failed to delete game: %w", err)
		}

		that.evict(id, e)
		that.logger.Info("game retired", "gameID", id)

		return nil
	})
}

// Sweep evicts finished sessions idle since before now-retention and returns
// how many were dropped. Busy sessions are left for the next sweep.
func (that *Registry) Sweep(now time.Time) int {
	if that.retention <= 0 {
		return 0
	}

	cutoff := now.Add(-that.retention)

	that.mu.Lock()
	defer that.mu.Unlock()

	evicted := 0
	for id, e := range that.entries {
		if !e.mu.TryLock() {
			continue
		}

		if e.game == nil || (e.game.IsFinished() && e.touched.Before(cutoff)) {
			e.evicted = true
			delete(that.entries, id)
			evicted++
		}

		e.mu.Unlock()
	}

	if evicted > 0 {
		that.logger.Info("evicted finished games", "count", evicted)
	}

	return evicted
}

// Run sweeps every interval until ctx is done.
func (that *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || that.retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			that.Sweep(that.now())
		}
	}
}

// Len reports how many sessions are held in memory.
func (that *Registry) Len() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.entries)
}

// withEntry runs fn holding the session lock, loading the game from storage
// when it is not in memory.
func (that *Registry) withEntry(ctx context.Context, id string, fn func(e *entry) error) error {
	if id == "" {
		return apperror.ErrMissingGame
	}

	for {
		e := that.lookup(id)

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}

		err := that.load(ctx, id, e)
		if err == nil {
			err = fn(e)
		}

		e.mu.Unlock()

		return err
	}
}

func (that *Registry) lookup(id string) *entry {
	that.mu.Lock()
	defer that.mu.Unlock()

	e, ok := that.entries[id]
	if !ok {
		e = &entry{}
		that.entries[id] = e
	}

	return e
}

// load must be called with e.mu held.
func (that *Registry) load(ctx context.Context, id string, e *entry) error {
	if e.game != nil {
		return nil
	}

	game, err := that.gameRepo.GetByID(ctx, id)
	if err != nil {
		// an empty entry must not outlive a failed load
		that.evict(id, e)

		if errors.Is(err, apperror.ErrGameNotFound) {
			return fmt.Errorf("%w: %s", apperror.ErrGameNotFound, id)
		}

		return fmt.Errorf("failed to load game: %w", err)
	}

	e.game = game
	e.touched = that.now()

	return nil
}

// evict must be called with e.mu held.
func (that *Registry) evict(id string, e *entry) {
	e.evicted = true

	that.mu.Lock()
	if that.entries[id] == e {
		delete(that.entries, id)
	}
	that.mu.Unlock()
}
