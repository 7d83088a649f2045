package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-live/internal/config"
	"github.com/rocketscienceinc/tictactoe-live/internal/events"
	"github.com/rocketscienceinc/tictactoe-live/internal/realtime"
	"github.com/rocketscienceinc/tictactoe-live/internal/registry"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-live/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-live/transport/rest"
	"github.com/rocketscienceinc/tictactoe-live/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application until ctx is done or a termination signal arrives.
func RunApp(ctx context.Context, logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if conf.Redis.Host == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, storage.Options{
		Addr:     conf.Redis.GetRedisAddr(),
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	gameRepo := repository.NewGameRepository(redisStorage, conf.Session.Retention)
	sessions := registry.New(logger, gameRepo, conf.Session.Retention)
	go sessions.Run(ctx, conf.Session.SweepInterval)

	var publisher events.Publisher = events.Nop{}
	if conf.NATS.URL != "" {
		natsPublisher, natsErr := events.Connect(logger, conf.NATS.URL)
		if natsErr != nil {
			return fmt.Errorf("could not connect to event broker: %w", natsErr)
		}
		defer natsPublisher.Close()

		publisher = natsPublisher
		log.Info("Publishing game events", "url", conf.NATS.URL)
	}

	gameUseCase := usecase.NewGameManager(logger, sessions, publisher)
	hub := realtime.NewHub(logger)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.New(logger, gameUseCase).Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	// wsDone receives once every websocket connection is closed
	wsDone := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsErr := websocket.New(logger, gameUseCase, hub).Start(ctx, conf.SocketPort)
		if wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
		}
		wsDone <- wsErr
	}()

	select {
	case err = <-httpErrCh:
		cancel()
		<-wsDone
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsDone:
		if err != nil {
			return fmt.Errorf("WebSocket server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		if err = <-wsDone; err != nil {
			return fmt.Errorf("WebSocket server error: %w", err)
		}
		return nil
	}
}
