package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceID returns the request trace ID stored in ctx, if any
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// PositionContext scopes l to one symbol's position
func PositionContext(l zerolog.Logger, symbol, side string) zerolog.Logger {
	return l.With().
		Str("symbol", symbol).
		Str("side", side).
		Logger()
}

// SignalContext scopes l to a scored swing event
func SignalContext(l zerolog.Logger, symbol, eventID string, score int) zerolog.Logger {
	return l.With().
		Str("symbol", symbol).
		Str("event_id", eventID).
		Int("confluence", score).
		Logger()
}

// BacktestContext scopes l to a backtest run
func BacktestContext(l zerolog.Logger, symbol string, from, to time.Time) zerolog.Logger {
	c := l.With().Str("symbol", symbol)
	if !from.IsZero() {
		c = c.Str("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		c = c.Str("to", to.Format("2006-01-02"))
	}
	return c.Logger()
}

// APIContext scopes l to an HTTP request
func APIContext(l zerolog.Logger, method, path string) zerolog.Logger {
	return l.With().
		Str("method", method).
		Str("path", path).
		Logger()
}

// GinMiddleware attaches a request-scoped logger and trace ID to the
// request context and logs completion
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		l := APIContext(base, c.Request.Method, c.Request.URL.Path).With().Str("trace_id", traceID).Logger()
		ctx := NewContext(c.Request.Context(), l)
		ctx = context.WithValue(ctx, traceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", traceID)

		c.Next()

		l.Info().
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", c.ClientIP()).
			Msg("Request completed")
	}
}
