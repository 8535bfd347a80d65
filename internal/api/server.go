package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/db"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	intnet "github.com/VoxelSrv/VoxelCraftProxy/internal/network"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

// SessionManager is the view of the session manager the API serves.
type SessionManager interface {
	Snapshot() []session.Info
	Count() int
	LoggedInCount() int
	Kick(idOrPrefix, reason string) (string, error)
	Slots() *server.Slots
}

// HistorySource reads closed and open sessions from the ledger.
type HistorySource interface {
	History(limit int) ([]db.SessionRecord, error)
}

// UsageSource returns the most recent resource sample.
type UsageSource interface {
	LastUsage() (util.ResourceUsage, time.Time)
}

// Deps are the components the API reads from. Ledger, Metrics and Usage
// may be nil.
type Deps struct {
	Sessions SessionManager
	Ledger   HistorySource
	Registry *registry.Registry
	Metrics  http.Handler
	Usage    UsageSource
}

// Server is the REST status and control API for the proxy.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	deps     Deps

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, deps Deps) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		deps:     deps,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the API port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ln, err := intnet.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	// ClientIP must come from the socket so loopback checks cannot be
	// spoofed with forwarding headers.
	router.SetTrustedProxies(nil)

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleGetServerInfo)
		public.GET("/blocks", s.handleGetBlocks)
		public.GET("/blocks/:name", s.handleGetBlock)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/sessions/history", s.handleGetHistory)
		monitor.GET("/slots", s.handleGetSlots)
		monitor.GET("/usage", s.handleGetUsage)
		monitor.GET("/log_entries", s.handleGetLogEntries)
	}

	control := protected.Group("/control")
	{
		control.POST("/kick/:id", s.handleKick)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/set", s.handleSetConfig)
	}

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("%s API is running", util.AppName),
		})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
