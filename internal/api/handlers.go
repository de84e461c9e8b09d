package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pyramid-trading-bot/internal/auth"
	"pyramid-trading-bot/internal/backtest"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/live"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/swing"
	"pyramid-trading-bot/internal/swingstore"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Engine != nil {
		resp["engine_running"] = s.deps.Engine.Running()
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.GetClientCount()
	}

	if s.deps.Repo != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Repo.HealthCheck(ctx); err != nil {
			resp["status"] = "unhealthy"
			resp["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "healthy"
	}
	c.JSON(http.StatusOK, resp)
}

type backtestRequest struct {
	Symbol          string               `json:"symbol" binding:"required"`
	From            time.Time            `json:"from"`
	To              time.Time            `json:"to"`
	StartingCapital float64              `json:"starting_capital"`
	Pyramid         pyramid.Config       `json:"pyramid"`
	Market          pyramid.MarketParams `json:"market"`
	Events          []swing.Event        `json:"events"`
	Save            bool                 `json:"save"`
}

// handleRunBacktest replays swing events through the simulator
// POST /api/backtest
// Body: {"symbol": "BTCUSDT", "from": "...", "to": "...", "events": [...], "save": true}
// Omitted pyramid/market fields keep the server defaults.
func (s *Server) handleRunBacktest(c *gin.Context) {
	d := s.deps.Backtest
	req := backtestRequest{
		StartingCapital: d.StartingCapital,
		Pyramid:         d.Pyramid.Clone(),
		Market:          d.Market,
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var source swingstore.Source
	switch {
	case len(req.Events) > 0:
		source = swingstore.Static(req.Events)
	case s.deps.Source != nil:
		source = s.deps.Source
	default:
		errorResponse(c, http.StatusBadRequest, "no events supplied and no swing source configured")
		return
	}

	var repo backtest.RunRepository
	if req.Save {
		if s.deps.Repo == nil {
			errorResponse(c, http.StatusServiceUnavailable, "database not configured, cannot save run")
			return
		}
		repo = s.deps.Repo
	}

	logger := logging.FromContext(c.Request.Context())
	runner := backtest.NewBacktest(source, repo, logger)
	report, err := runner.Run(c.Request.Context(), backtest.Config{
		Symbol:          req.Symbol,
		From:            req.From,
		To:              req.To,
		StartingCapital: req.StartingCapital,
		Pyramid:         req.Pyramid,
		Market:          req.Market,
	})
	if err != nil && report == nil {
		switch {
		case errors.Is(err, pyramid.ErrInvalidConfig):
			errorResponse(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, backtest.ErrNoEvents):
			errorResponse(c, http.StatusNotFound, err.Error())
		default:
			logger.Error().Err(err).Str("symbol", req.Symbol).Msg("Backtest failed")
			errorResponse(c, http.StatusInternalServerError, "Backtest failed: "+err.Error())
		}
		return
	}

	resp := gin.H{"report": report}
	if err != nil {
		logger.Error().Err(err).Str("run_id", report.RunID).Msg("Backtest finished but was not saved")
		resp["save_error"] = err.Error()
		if s.deps.EventBus != nil {
			s.deps.EventBus.PublishError("backtest", "run "+report.RunID+" not saved", err)
		}
	}
	if s.deps.EventBus != nil {
		r := report.Result
		s.deps.EventBus.PublishBacktestFinished(report.RunID, r.Symbol, len(r.Trades), r.FinalCapital, r.Stats.ROI)
	}
	successResponse(c, resp)
}

// handleGetBacktestRuns lists saved runs
// GET /api/backtest/runs?symbol=BTCUSDT&limit=20
func (s *Server) handleGetBacktestRuns(c *gin.Context) {
	if s.deps.Repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "database not configured")
		return
	}
	limit := parseLimit(c.Query("limit"), 20, 200)
	runs, err := s.deps.Repo.ListBacktestRuns(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch backtest runs")
		return
	}
	successResponse(c, runs)
}

// handleGetPositions returns every open live position
func (s *Server) handleGetPositions(c *gin.Context) {
	if s.deps.Engine == nil {
		errorResponse(c, http.StatusServiceUnavailable, "live engine not configured")
		return
	}
	successResponse(c, gin.H{
		"engine_id": s.deps.Engine.EngineID(),
		"running":   s.deps.Engine.Running(),
		"symbols":   s.deps.Engine.Symbols(),
		"positions": s.deps.Engine.Positions(),
	})
}

// handleGetLedger returns the live capital account
func (s *Server) handleGetLedger(c *gin.Context) {
	if s.deps.Engine == nil {
		errorResponse(c, http.StatusServiceUnavailable, "live engine not configured")
		return
	}
	successResponse(c, s.deps.Engine.Ledger())
}

// handleGetTrades returns closed trades newest first
// GET /api/trades?symbol=BTCUSDT&source=live&run_id=...&since=RFC3339&limit=100
func (s *Server) handleGetTrades(c *gin.Context) {
	if s.deps.Repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "database not configured")
		return
	}

	f := database.TradeFilter{
		Symbol: c.Query("symbol"),
		Source: c.Query("source"),
		RunID:  c.Query("run_id"),
		Limit:  parseLimit(c.Query("limit"), defaultTradeLimit, maxTradeLimit),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid since (use RFC3339)")
			return
		}
		f.Since = t
	}

	trades, err := s.deps.Repo.ListClosedTrades(c.Request.Context(), f)
	if err != nil {
		log := logging.FromContext(c.Request.Context())
		log.Error().Err(err).Msg("Failed to list trades")
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch trades")
		return
	}
	successResponse(c, trades)
}

type submitRequest struct {
	Events []swing.Event `json:"events" binding:"required,min=1"`
}

type submitResult struct {
	EventID string        `json:"event_id"`
	Symbol  string        `json:"symbol"`
	Outcome *live.Outcome `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// handleSubmitEvents feeds swing events to the live engine in order
// POST /api/live/events
func (s *Server) handleSubmitEvents(c *gin.Context) {
	if s.deps.Engine == nil {
		errorResponse(c, http.StatusServiceUnavailable, "live engine not configured")
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	results := make([]submitResult, 0, len(req.Events))
	for _, ev := range req.Events {
		r := submitResult{EventID: ev.ID, Symbol: ev.Symbol}
		out, err := s.deps.Engine.Submit(ctx, ev)
		if err != nil {
			if errors.Is(err, live.ErrEngineStopped) {
				errorResponse(c, http.StatusServiceUnavailable, err.Error())
				return
			}
			r.Error = err.Error()
		} else {
			r.Outcome = &out
		}
		results = append(results, r)
	}
	successResponse(c, results)
}

type emergencyCloseRequest struct {
	Price float64 `json:"price" binding:"required"`
}

// handleEmergencyClose flattens one symbol at the operator-supplied price
// POST /api/live/:symbol/emergency-close
func (s *Server) handleEmergencyClose(c *gin.Context) {
	if s.deps.Engine == nil {
		errorResponse(c, http.StatusServiceUnavailable, "live engine not configured")
		return
	}
	symbol := c.Param("symbol")
	var req emergencyCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	logger := logging.FromContext(c.Request.Context()).With().
		Str("symbol", symbol).
		Str("operator", auth.GetOperator(c)).
		Logger()

	trade, err := s.deps.Engine.EmergencyClose(c.Request.Context(), symbol, req.Price)
	if err != nil {
		logger.Warn().Err(err).Msg("Emergency close rejected")
		errorResponse(c, emergencyCloseStatus(err), err.Error())
		return
	}
	logger.Warn().Str("trade_id", trade.ID).Float64("pnl", trade.PnL).Msg("Emergency close executed")
	successResponse(c, trade)
}

func emergencyCloseStatus(err error) int {
	switch {
	case errors.Is(err, live.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, pyramid.ErrNoPosition):
		return http.StatusConflict
	case errors.Is(err, pyramid.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, live.ErrExecutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleGetCircuitBreaker returns breaker state and counters
func (s *Server) handleGetCircuitBreaker(c *gin.Context) {
	if s.deps.Breaker == nil {
		errorResponse(c, http.StatusServiceUnavailable, "circuit breaker not configured")
		return
	}
	successResponse(c, s.deps.Breaker.Stats())
}

type loginRequest struct {
	Operator string `json:"operator" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges operator credentials for an access token
func (s *Server) handleLogin(c *gin.Context) {
	if s.deps.JWTManager == nil || len(s.deps.Accounts) == 0 {
		errorResponse(c, http.StatusServiceUnavailable, "password login not configured")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	claims, err := s.deps.Accounts.Authenticate(req.Operator, req.Password)
	if err != nil {
		log := logging.FromContext(c.Request.Context())
		log.Warn().
			Str("operator", req.Operator).
			Str("client_ip", c.ClientIP()).
			Msg("Failed operator login")
		errorResponse(c, http.StatusUnauthorized, err.Error())
		return
	}
	token, err := s.deps.JWTManager.IssueToken(claims)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, token)
}

// handleResetCircuitBreaker closes the breaker immediately
func (s *Server) handleResetCircuitBreaker(c *gin.Context) {
	if s.deps.Breaker == nil {
		errorResponse(c, http.StatusServiceUnavailable, "circuit breaker not configured")
		return
	}
	s.deps.Breaker.Reset()
	log := logging.FromContext(c.Request.Context())
	log.Warn().
		Str("operator", auth.GetOperator(c)).
		Msg("Circuit breaker reset by operator")
	successResponse(c, s.deps.Breaker.Stats())
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
