package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crypdick/pynchy/pkg/version"
)

// Deps bundles the Server's collaborators, wired once at startup. Every closure field may be
// nil; GET /status simply omits that section.
type Deps struct {
	Store      WorkspaceStore
	Queue      QueueHealth
	Hub        *EventHub
	StartedAt  time.Time
	Channels   StatusSection
	Gateway    StatusSection
	Repos      StatusSection
	Tasks      StatusSection
	HostJobs   StatusSection
	Sessions   SessionCounter
	ShuttingDown func() bool
}

// Server is the HTTP status/control API of spec.md §6, bound to localhost only.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger())

	s := &Server{engine: e, deps: deps, logger: slog.Default().With("component", "api")}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/api/groups", s.handleGroups)
	s.engine.GET("/api/messages", s.handleMessages)
	s.engine.POST("/api/send", s.handleSend)
	s.engine.GET("/api/events", s.handleEvents)
	s.engine.GET("/debug/ws", s.handleDebugWebsocket)
}

// Start binds to addr (expected to be a localhost address, per spec's minimal-auth note) and
// serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	s.logger.Info("api: listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger mirrors the teacher's structured-logging style (slog, not gin's default
// text logger) for every request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("api: request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration_ms", time.Since(start).Milliseconds(),
			"version", version.Full())
	}
}
