package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format"`
}

// ParseLevel converts a string to a zerolog level. Unknown values are INFO.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *zerolog.Logger
)

// New creates a logger from cfg. A file output that cannot be opened falls
// back to stdout.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = &Config{}
	}

	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	} else if cfg.Output != "" && cfg.Output != "stdout" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Default returns the package logger
func Default() zerolog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return *l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		created := New(&Config{Level: "INFO", Output: "stdout", Component: "app", JSONFormat: true})
		defaultLogger = &created
	}
	return *defaultLogger
}

// SetDefault replaces the package logger
func SetDefault(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = &l
}

// WithComponent returns the default logger scoped to component
func WithComponent(component string) zerolog.Logger {
	return Default().With().Str("component", component).Logger()
}
