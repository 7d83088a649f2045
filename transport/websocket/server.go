package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

type gameUseCase interface {
	JoinGame(ctx context.Context, gameID string, notify func(*entity.Game)) error
	MakeMove(ctx context.Context, gameID string, mark entity.Mark, cell int, notify func(*entity.Game, entity.MoveResult)) (*entity.Game, entity.MoveResult, error)
	RestartGame(ctx context.Context, gameID string, notify func(*entity.Game)) (*entity.Game, error)
}

type rooms interface {
	JoinRoom(roomID string, client realtime.Client)
	Leave(client realtime.Client)
	Broadcast(roomID, action string, payload any) error
	EmitTo(client realtime.Client, action string, payload any) error
	EmitToOthers(roomID string, sender realtime.Client, action string, payload any) error
}

type handlerFunc func(ctx context.Context, conn *client, msg *realtime.Message) error

type Server struct {
	logger      *slog.Logger
	gameUseCase gameUseCase
	rooms       rooms
	upgrader    websocket.Upgrader

	handlers map[string]handlerFunc

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func New(logger *slog.Logger, gameUseCase gameUseCase, rooms rooms) *Server {
	server := &Server{
		logger:      logger.With("component", "websocket"),
		gameUseCase: gameUseCase,
		rooms:       rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},

		handlers: make(map[string]handlerFunc),
		clients:  make(map[*client]struct{}),
	}

	server.handlers[actionJoin] = server.handleJoin
	server.handlers[actionMakeMove] = server.handleMakeMove
	server.handlers[actionRestartGame] = server.handleRestartGame

	return server
}

// Handler returns the HTTP handler serving websocket upgrades on /ws. Every
// connection it accepted is closed once ctx is done.
func (that *Server) Handler(ctx context.Context) http.Handler {
	go func() {
		<-ctx.Done()
		that.closeClients()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.serveWS(ctx, w, r)
	})

	return mux
}

// Start - starts WebSocket server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	err := srv.ListenAndServe()

	// every read loop has exited once Start returns
	that.closeClients()
	that.wg.Wait()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// serveWS - upgrades the connection and processes its messages until it closes.
func (that *Server) serveWS(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "serveWS")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	c := newClient(conn)
	if !that.track(c) {
		c.close()
		return
	}
	defer that.untrack(c)

	log.Info("WebSocket connection established", "connID", c.ID())

	go c.writePump(that.logger)

	that.readPump(ctx, c)
	that.handleDisconnect(c)
}

// track registers c; it reports false once the server is shutting down.
func (that *Server) track(c *client) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return false
	}
	that.clients[c] = struct{}{}
	that.wg.Add(1)

	return true
}

func (that *Server) untrack(c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.clients, c)
	that.wg.Done()
}

// closeClients closes every open connection. Hijacked connections are not
// closed by http.Server.Shutdown.
func (that *Server) closeClients() {
	that.mu.Lock()
	that.closed = true
	clients := make([]*client, 0, len(that.clients))
	for c := range that.clients {
		clients = append(clients, c)
	}
	that.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	if len(clients) > 0 {
		that.logger.Info("closed websocket connections", "method", "closeClients", "count", len(clients))
	}
}

// readPump - reads and dispatches messages one at a time, in arrival order.
func (that *Server) readPump(ctx context.Context, c *client) {
	log := that.logger.With("method", "readPump", "connID", c.ID())

	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("error reading message", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var message realtime.Message
		if err = json.Unmarshal(data, &message); err != nil {
			log.Warn("failed to unmarshal message", "error", err)
			continue
		}

		that.dispatch(ctx, c, &message)
	}
}

// dispatch runs the handler for msg. Failures are logged and never answered.
func (that *Server) dispatch(ctx context.Context, c *client, msg *realtime.Message) {
	log := that.logger.With("method", "dispatch", "connID", c.ID(), "action", msg.Action)

	handler, ok := that.handlers[msg.Action]
	if !ok {
		log.Warn("dropped message", "error", apperror.ErrUnknownAction)
		return
	}

	err := handler(ctx, c, msg)

	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrValidation),
		errors.Is(err, apperror.ErrNotFound),
		errors.Is(err, apperror.ErrInvalidState),
		errors.Is(err, apperror.ErrIllegalMove):
		log.Info("dropped event", "reason", err)
	default:
		log.Error("error processing message", "error", err)
	}
}

func (that *Server) handleDisconnect(c *client) {
	that.rooms.Leave(c)

	that.logger.Info("player disconnected", "method", "handleDisconnect", "connID", c.ID(), "playerID", c.PlayerID())
}
