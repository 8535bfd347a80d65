package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
)

// ConnectionHandler runs one downstream client. HandleNewConnection blocks
// for the lifetime of the session.
type ConnectionHandler interface {
	HandleNewConnection(ctx context.Context, s *Socket)
}

// Listener accepts voxel clients over websocket on "/" and "/ws".
type Listener struct {
	cfg      *config.Config
	handler  ConnectionHandler
	registry *SocketRegistry
	upgrader websocket.Upgrader

	mu       sync.Mutex
	ctx      context.Context
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewListener creates a websocket listener feeding handler.
func NewListener(cfg *config.Config, handler ConnectionHandler, registry *SocketRegistry) *Listener {
	return &Listener{
		cfg:      cfg,
		handler:  handler,
		registry: registry,
		ctx:      context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start binds the configured address and serves until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	addr := l.cfg.ListenAddr()

	ln, err := Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to start websocket listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", l)
	mux.Handle("/ws", l)

	l.mu.Lock()
	l.ctx = ctx
	l.listener = ln
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := l.server
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("websocket listener started")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket listener failed: %w", err)
	}

	log.Info().Msg("websocket listener stopping")
	l.registry.CloseAll()
	l.wg.Wait()
	return nil
}

// ServeHTTP upgrades a request and hands the socket to the handler.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s := NewSocket(uuid.NewString(), conn)
	l.registry.Register(s)

	log.Debug().
		Str("session", s.ID()).
		Str("remote", s.RemoteAddr()).
		Msg("new downstream connection")

	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.registry.Unregister(s.ID())
		defer s.Close()

		l.handler.HandleNewConnection(ctx, s)
	}()
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}
