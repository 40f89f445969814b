// Package api exposes sessions over HTTP and websocket: snapshots for
// observers and validated operator commands.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"crt-trading-engine/internal/auth"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/session"
)

// Sessions is the registry the server reads from
type Sessions interface {
	Get(key string) (*session.Session, error)
	Snapshots() []session.Snapshot
}

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	AllowedOrigins []string // "*" allows any origin
	CommandRate    int      // commands per minute per client, 0 disables limiting
	CommandTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	sessions    Sessions
	eventBus    *events.EventBus
	hub         *WSHub
	tokens      *auth.TokenManager
	config      ServerConfig
	rateLimiter *RateLimiter
	logger      *logging.Logger
}

// NewServer creates a new API server. tokens may be nil to disable auth.
func NewServer(config ServerConfig, sessions Sessions, eventBus *events.EventBus, tokens *auth.TokenManager) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 15 * time.Second
	}
	if tokens == nil {
		tokens = auth.NewTokenManager("", 0)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors.New(corsConfig(config.AllowedOrigins)))

	s := &Server{
		router:   router,
		sessions: sessions,
		eventBus: eventBus,
		tokens:   tokens,
		config:   config,
		logger:   logging.WithComponent("api"),
	}
	if config.CommandRate > 0 {
		s.rateLimiter = NewRateLimiter(config.CommandRate, time.Minute)
	}
	s.hub = NewWSHub(sessions, eventBus, config.CommandTimeout)
	s.setupRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.ExposeHeaders = []string{"Content-Length"}
	return cfg
}

func requestLogger() gin.HandlerFunc {
	logger := logging.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start).String())
	}
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler { return s.router }

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub { return s.hub }

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:pair/snapshot", s.handleSnapshot)
		api.POST("/sessions/:pair/commands",
			auth.Middleware(s.tokens), auth.RequireCommands(s.tokens), s.rateLimitMiddleware(), s.handleCommand)
	}

	s.router.GET("/ws", auth.Middleware(s.tokens), s.handleWebSocket)
}

// rateLimitMiddleware limits command requests per client
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}
		key := c.GetString(auth.ContextKeyOperator)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.rateLimiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "Too many commands. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

// Run starts the hub and serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("API server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": len(s.sessions.Snapshots()),
		"clients":  s.hub.GetClientCount(),
		"time":     time.Now().UTC(),
	})
}

// sessionSummary is the list view of a session
type sessionSummary struct {
	Session     string  `json:"session"`
	Pair        string  `json:"pair"`
	Interval    string  `json:"interval"`
	Mode        string  `json:"mode"`
	Connection  string  `json:"connection"`
	State       string  `json:"state"`
	AutoTrading bool    `json:"autoTrading"`
	Balance     float64 `json:"balance"`
	HasPosition bool    `json:"hasPosition"`
	LastError   string  `json:"lastError,omitempty"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	snaps := s.sessions.Snapshots()
	out := make([]sessionSummary, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, sessionSummary{
			Session:     snap.Session,
			Pair:        snap.Pair,
			Interval:    snap.Interval,
			Mode:        string(snap.Mode),
			Connection:  string(snap.Connection),
			State:       string(snap.State),
			AutoTrading: snap.AutoTrading,
			Balance:     snap.Balance,
			HasPosition: snap.Position != nil,
			LastError:   snap.LastError,
		})
	}
	successResponse(c, out)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("pair"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	successResponse(c, sess.Snapshot())
}

func (s *Server) handleCommand(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("pair"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}

	var cmd session.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid command: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.CommandTimeout)
	defer cancel()
	res, err := sess.Execute(ctx, cmd)
	if err != nil {
		errorResponse(c, commandStatus(err), err.Error())
		return
	}
	s.logger.Info("Command applied", "session", sess.ID(), "type", string(cmd.Type),
		"operator", c.GetString(auth.ContextKeyOperator), "ok", res.OK, "changed", res.Changed)
	if !res.OK {
		c.JSON(http.StatusConflict, gin.H{"error": true, "message": res.Error, "data": res})
		return
	}
	successResponse(c, res)
}

func commandStatus(err error) int {
	var ce *errs.ConfigError
	switch {
	case errors.Is(err, errs.ErrInvalidCommand), errors.As(err, &ce):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
