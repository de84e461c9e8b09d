package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/auth"
	"pyramid-trading-bot/internal/backtest"
	"pyramid-trading-bot/internal/circuit"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/events"
	"pyramid-trading-bot/internal/live"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/swingstore"
)

// Repository is the persistence the API reads from and saves runs to
type Repository interface {
	HealthCheck(ctx context.Context) error
	ListClosedTrades(ctx context.Context, f database.TradeFilter) ([]database.StoredTrade, error)
	ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]database.BacktestRun, error)
	backtest.RunRepository
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ProductionMode bool
}

// BacktestDefaults are applied to backtest requests that omit them
type BacktestDefaults struct {
	StartingCapital float64
	Pyramid         pyramid.Config
	Market          pyramid.MarketParams
}

// Dependencies wires the server to the rest of the process. Every field is
// optional; routes whose collaborator is missing answer 503.
type Dependencies struct {
	Engine     *live.Engine
	Repo       Repository
	Source     swingstore.Source
	Breaker    *circuit.Breaker
	EventBus   *events.EventBus
	JWTManager *auth.JWTManager
	Accounts   auth.Accounts
	Metrics    http.Handler
	Backtest   BacktestDefaults
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Dependencies
	hub        *WSHub
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Dependencies, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	logger = logger.With().Str("component", "api").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Trace-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}

	if deps.EventBus != nil {
		s.hub = NewWSHub(s.logger)
		go s.hub.Run()
		deps.EventBus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/backtest", s.handleRunBacktest)
		api.GET("/backtest/runs", s.handleGetBacktestRuns)
		api.GET("/positions", s.handleGetPositions)
		api.GET("/ledger", s.handleGetLedger)
		api.GET("/trades", s.handleGetTrades)
		api.GET("/circuit-breaker", s.handleGetCircuitBreaker)
		api.POST("/auth/login", s.handleLogin)
	}

	operator := api.Group("")
	if s.deps.JWTManager != nil {
		operator.Use(auth.Middleware(s.deps.JWTManager), auth.RequireOperator())
	} else {
		s.logger.Warn().Msg("Auth disabled, operator routes are unprotected")
	}
	{
		operator.POST("/live/events", s.handleSubmitEvents)
		operator.POST("/live/:symbol/emergency-close", s.handleEmergencyClose)
		operator.POST("/circuit-breaker/reset", s.handleResetCircuitBreaker)
	}

	s.router.GET("/ws", s.handleWebSocket)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	resp := gin.H{
		"error":   true,
		"message": message,
	}
	if id := logging.TraceID(c.Request.Context()); id != "" {
		resp["trace_id"] = id
	}
	c.JSON(statusCode, resp)
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
