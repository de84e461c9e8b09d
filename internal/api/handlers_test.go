package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"pyramid-trading-bot/internal/auth"
	"pyramid-trading-bot/internal/backtest"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/events"
	"pyramid-trading-bot/internal/live"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/swing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func testDefaults() BacktestDefaults {
	return BacktestDefaults{
		StartingCapital: 10000,
		Pyramid: pyramid.Config{
			Leverage:                 10,
			BaseRiskPercent:          0.3,
			MaxPyramidLevels:         4,
			ConfluenceThresholds:     []int{15, 20, 25, 30},
			SizeMultipliers:          []float64{1.0, 0.75, 0.5, 0.35},
			InitialStopPercent:       2,
			TrailingStopPercent:      1.5,
			TakeProfitPercent:        6,
			MinConfluenceToEnter:     15,
			MinConfluenceToAdd:       20,
			FundingRateThreshold:     0.0005,
			LiquidationBufferPercent: 3,
		},
		Market: pyramid.MarketParams{MaintenanceMarginRate: 0.005, FeeRate: 0.0004, FundingRateAvg: 0.0001, FundingIntervalHours: 8},
	}
}

func strong() swing.Snapshot {
	return swing.Snapshot{
		swing.RSI14:          swing.Number(22),
		swing.EMA6AboveEMA50: swing.Bool(true),
		swing.LondonOpen:     swing.Bool(true),
	}
}

func ev(id string, side swing.Side, price float64, hours int, f swing.Snapshot) swing.Event {
	return swing.Event{ID: id, Symbol: "BTCUSDT", Side: side, OpenTime: t0.Add(time.Duration(hours) * time.Hour), Price: price, Features: f}
}

type fakeRepo struct {
	mu         sync.Mutex
	healthErr  error
	saveErr    error
	trades     []database.StoredTrade
	lastFilter database.TradeFilter
	runs       []*database.BacktestRun
	runTrades  int
}

func (f *fakeRepo) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeRepo) ListClosedTrades(ctx context.Context, filter database.TradeFilter) ([]database.StoredTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.trades, nil
}

func (f *fakeRepo) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]database.BacktestRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]database.BacktestRun, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRepo) SaveBacktestRun(ctx context.Context, run *database.BacktestRun, trades []pyramid.ClosedTrade) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	f.runTrades += len(trades)
	return nil
}

func newLiveEngine(t *testing.T) *live.Engine {
	t.Helper()
	d := testDefaults()
	e, err := live.NewEngine(live.Config{
		EngineID:        "api-test",
		Symbols:         []string{"BTCUSDT"},
		StartingCapital: 10000,
		Pyramid:         d.Pyramid,
		Market:          d.Market,
	}, live.NewPaperExecutor(zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return e
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(ServerConfig{}, Dependencies{}, zerolog.Nop())
	w := doJSON(t, s, http.MethodGet, "/api/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", resp["status"])
	}
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("Expected trace id header")
	}

	s = NewServer(ServerConfig{}, Dependencies{Repo: &fakeRepo{healthErr: errors.New("down")}}, zerolog.Nop())
	w = doJSON(t, s, http.MethodGet, "/api/health", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with failing database, got %d", w.Code)
	}
}

func TestRunBacktestInline(t *testing.T) {
	repo := &fakeRepo{}
	s := NewServer(ServerConfig{}, Dependencies{Repo: repo, Backtest: testDefaults()}, zerolog.Nop())

	body := map[string]interface{}{
		"symbol": "BTCUSDT",
		"save":   true,
		"events": []swing.Event{
			ev("e1", swing.Low, 100, 0, strong()),
			ev("e2", swing.High, 107, 3, nil),
		},
	}
	w := doJSON(t, s, http.MethodPost, "/api/backtest", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Report backtest.Report `json:"report"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	r := resp.Data.Report
	if !r.Saved || r.RunID == "" {
		t.Errorf("Expected saved run, got %+v", r)
	}
	if len(r.Result.Trades) != 1 || r.Result.Trades[0].ExitReason != pyramid.ExitTarget {
		t.Fatalf("Expected one target exit, got %+v", r.Result.Trades)
	}
	if math.Abs(r.Result.FinalCapital-10017.976) > 1e-6 {
		t.Errorf("Expected final capital 10017.976, got %v", r.Result.FinalCapital)
	}
	if len(repo.runs) != 1 || repo.runTrades != 1 {
		t.Errorf("Expected run persisted with its trade, got %d runs %d trades", len(repo.runs), repo.runTrades)
	}
}

func TestRunBacktestErrors(t *testing.T) {
	events := []swing.Event{ev("e1", swing.Low, 100, 0, strong())}

	tests := []struct {
		name string
		deps Dependencies
		body map[string]interface{}
		want int
	}{
		{"missing symbol", Dependencies{Backtest: testDefaults()}, map[string]interface{}{"events": events}, http.StatusBadRequest},
		{"no source", Dependencies{Backtest: testDefaults()}, map[string]interface{}{"symbol": "BTCUSDT"}, http.StatusBadRequest},
		{"invalid leverage", Dependencies{Backtest: testDefaults()}, map[string]interface{}{
			"symbol": "BTCUSDT", "events": events, "pyramid": map[string]interface{}{"leverage": 0},
		}, http.StatusBadRequest},
		{"no matching events", Dependencies{Backtest: testDefaults()}, map[string]interface{}{"symbol": "ETHUSDT", "events": events}, http.StatusNotFound},
		{"save without database", Dependencies{Backtest: testDefaults()}, map[string]interface{}{"symbol": "BTCUSDT", "events": events, "save": true}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{}, tt.deps, zerolog.Nop())
			w := doJSON(t, s, http.MethodPost, "/api/backtest", tt.body, "")
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRunBacktestSaveFailureStillReports(t *testing.T) {
	repo := &fakeRepo{saveErr: errors.New("disk full")}
	bus := events.NewEventBus()
	errs := make(chan events.Event, 1)
	bus.Subscribe(events.EventError, func(e events.Event) { errs <- e })
	s := NewServer(ServerConfig{}, Dependencies{Repo: repo, EventBus: bus, Backtest: testDefaults()}, zerolog.Nop())
	defer s.Shutdown(context.Background())
	w := doJSON(t, s, http.MethodPost, "/api/backtest", map[string]interface{}{
		"symbol": "BTCUSDT", "save": true,
		"events": []swing.Event{ev("e1", swing.Low, 100, 0, strong())},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Data struct {
			Report    backtest.Report `json:"report"`
			SaveError string          `json:"save_error"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Data.Report.Saved || resp.Data.SaveError == "" {
		t.Errorf("Expected unsaved report with save_error, got %+v", resp.Data)
	}
	if resp.Data.Report.Result.OpenPosition == nil {
		t.Error("Expected the open position to be reported")
	}
	select {
	case e := <-errs:
		if e.Data["source"] != "backtest" || e.Data["error"] == "" {
			t.Errorf("unexpected error event %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Error("Expected an ERROR event on the bus")
	}
}

func TestGetTradesFilter(t *testing.T) {
	repo := &fakeRepo{trades: []database.StoredTrade{{Source: database.SourceLive}}}
	s := NewServer(ServerConfig{}, Dependencies{Repo: repo}, zerolog.Nop())

	w := doJSON(t, s, http.MethodGet, "/api/trades?symbol=BTCUSDT&source=live&limit=5000&since=2024-05-01T00:00:00Z", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	f := repo.lastFilter
	if f.Symbol != "BTCUSDT" || f.Source != "live" || f.Limit != maxTradeLimit || !f.Since.Equal(t0) {
		t.Errorf("unexpected filter %+v", f)
	}

	w = doJSON(t, s, http.MethodGet, "/api/trades?since=yesterday", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad since, got %d", w.Code)
	}
}

func TestMissingCollaborators(t *testing.T) {
	s := NewServer(ServerConfig{}, Dependencies{}, zerolog.Nop())
	for _, path := range []string{"/api/positions", "/api/ledger", "/api/trades", "/api/backtest/runs", "/api/circuit-breaker", "/ws"} {
		w := doJSON(t, s, http.MethodGet, path, nil, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}

	w := doJSON(t, s, http.MethodGet, "/api/positions", nil, "")
	var resp map[string]interface{}
	decode(t, w, &resp)
	if resp["trace_id"] != w.Header().Get("X-Trace-ID") {
		t.Errorf("Expected trace id %q in error body, got %v", w.Header().Get("X-Trace-ID"), resp["trace_id"])
	}
}

func TestOperatorRoutesRequireOperatorRole(t *testing.T) {
	jwtManager := auth.NewJWTManager(testSecret, time.Hour)
	s := NewServer(ServerConfig{}, Dependencies{Engine: newLiveEngine(t), JWTManager: jwtManager}, zerolog.Nop())

	viewer, _ := jwtManager.GenerateAccessToken(auth.OperatorClaims{Operator: "alice", Role: auth.RoleViewer})
	operator, _ := jwtManager.GenerateAccessToken(auth.OperatorClaims{Operator: "bob", Role: auth.RoleOperator})
	body := map[string]interface{}{"events": []swing.Event{ev("e1", swing.Low, 100, 0, strong())}}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"viewer", viewer, http.StatusForbidden},
		{"operator", operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/live/events", body, tt.token)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	// read-only routes stay open
	if w := doJSON(t, s, http.MethodGet, "/api/positions", nil, ""); w.Code != http.StatusOK {
		t.Errorf("Expected positions to be public, got %d", w.Code)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	hash, err := auth.HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := auth.ParseAccounts("bob:operator:" + hash)
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(ServerConfig{}, Dependencies{
		Engine:     newLiveEngine(t),
		JWTManager: auth.NewJWTManager(testSecret, time.Hour),
		Accounts:   accounts,
	}, zerolog.Nop())

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing password", map[string]string{"operator": "bob"}, http.StatusBadRequest},
		{"wrong password", map[string]string{"operator": "bob", "password": "nope"}, http.StatusUnauthorized},
		{"unknown operator", map[string]string{"operator": "eve", "password": "correct horse"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doJSON(t, s, http.MethodPost, "/api/auth/login", tt.body, ""); w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := doJSON(t, s, http.MethodPost, "/api/auth/login", map[string]string{"operator": "bob", "password": "correct horse"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data auth.TokenResponse `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Data.AccessToken == "" || resp.Data.TokenType != "Bearer" {
		t.Fatalf("unexpected token response %+v", resp.Data)
	}

	body := map[string]interface{}{"events": []swing.Event{ev("e1", swing.Low, 100, 0, strong())}}
	if w := doJSON(t, s, http.MethodPost, "/api/live/events", body, resp.Data.AccessToken); w.Code != http.StatusOK {
		t.Errorf("Expected issued token to pass operator routes, got %d", w.Code)
	}

	// no accounts configured
	s = NewServer(ServerConfig{}, Dependencies{JWTManager: auth.NewJWTManager(testSecret, time.Hour)}, zerolog.Nop())
	if w := doJSON(t, s, http.MethodPost, "/api/auth/login", map[string]string{"operator": "bob", "password": "x"}, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestSubmitAndEmergencyClose(t *testing.T) {
	engine := newLiveEngine(t)
	s := NewServer(ServerConfig{}, Dependencies{Engine: engine}, zerolog.Nop())

	w := doJSON(t, s, http.MethodPost, "/api/live/BTCUSDT/emergency-close", map[string]float64{"price": 100}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 when flat, got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/live/events", map[string]interface{}{
		"events": []swing.Event{
			ev("e1", swing.Low, 100, 0, strong()),
			{ID: "e2", Symbol: "DOGEUSDT", Side: swing.Low, OpenTime: t0, Price: 1},
		},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var submitted struct {
		Data []submitResult `json:"data"`
	}
	decode(t, w, &submitted)
	if len(submitted.Data) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(submitted.Data))
	}
	if out := submitted.Data[0].Outcome; out == nil || len(out.Applied) != 1 {
		t.Errorf("Expected the first event to open, got %+v", submitted.Data[0])
	}
	if submitted.Data[1].Error == "" {
		t.Error("Expected an error for the unmanaged symbol")
	}

	w = doJSON(t, s, http.MethodGet, "/api/ledger", nil, "")
	var ledger struct {
		Data struct {
			LockedMargin float64 `json:"locked_margin"`
		} `json:"data"`
	}
	decode(t, w, &ledger)
	if ledger.Data.LockedMargin != 30 {
		t.Errorf("Expected 30 locked, got %v", ledger.Data.LockedMargin)
	}

	tests := []struct {
		path string
		body interface{}
		want int
	}{
		{"/api/live/DOGEUSDT/emergency-close", map[string]float64{"price": 1}, http.StatusNotFound},
		{"/api/live/BTCUSDT/emergency-close", map[string]float64{"price": -5}, http.StatusBadRequest},
		{"/api/live/BTCUSDT/emergency-close", map[string]string{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := doJSON(t, s, http.MethodPost, tt.path, tt.body, ""); w.Code != tt.want {
			t.Errorf("%s %v: expected %d, got %d", tt.path, tt.body, tt.want, w.Code)
		}
	}

	w = doJSON(t, s, http.MethodPost, "/api/live/BTCUSDT/emergency-close", map[string]float64{"price": 99}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var closed struct {
		Data pyramid.ClosedTrade `json:"data"`
	}
	decode(t, w, &closed)
	if closed.Data.ExitReason != pyramid.ExitEmergency || closed.Data.ExitPrice != 99 {
		t.Errorf("unexpected trade %+v", closed.Data)
	}
	if len(engine.Positions()) != 0 {
		t.Error("Expected flat after emergency close")
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 100},
		{"abc", 100},
		{"-3", 100},
		{"50", 50},
		{"5000", 1000},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.raw, 100, 1000); got != tt.want {
			t.Errorf("parseLimit(%q): expected %d, got %d", tt.raw, tt.want, got)
		}
	}
}
