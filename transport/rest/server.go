package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Server struct {
	logger   *slog.Logger
	handlers *handlers
}

func New(logger *slog.Logger, gameUseCase gameUseCase) *Server {
	logger = logger.With("component", "rest")

	return &Server{
		logger:   logger,
		handlers: newHandlers(logger, gameUseCase),
	}
}

func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", pingHandler)

	mux.HandleFunc("POST /game", that.handlers.CreateGame)
	mux.HandleFunc("GET /game/{gameId}", that.handlers.GetGame)
	mux.HandleFunc("PATCH /game/{action}/{gameId}", that.handlers.UpdateGame)
	mux.HandleFunc("DELETE /game/{gameId}", that.handlers.RetireGame)

	return mux
}

// Start - serves HTTP on port until ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      that.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
