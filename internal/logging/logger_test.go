package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := New(&Config{Level: "WARN", Output: path, Component: "live", JSONFormat: true})

	l.Info().Msg("dropped")
	l.Warn().Str("symbol", "BTCUSDT").Msg("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Error("info line written below WARN level")
	}
	if !strings.Contains(out, `"component":"live"`) || !strings.Contains(out, `"symbol":"BTCUSDT"`) {
		t.Errorf("unexpected log output %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	l := New(&Config{Output: path, JSONFormat: true}).With().Str("trace_id", "abc").Logger()

	ctx := NewContext(context.Background(), l)
	from := FromContext(ctx)
	from.Info().Msg("hello")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"trace_id":"abc"`) {
		t.Errorf("logger from context lost its fields: %s", data)
	}
	if TraceID(context.Background()) != "" {
		t.Error("Expected empty trace id")
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	path := filepath.Join(t.TempDir(), "default.log")
	SetDefault(New(&Config{Output: path, JSONFormat: true}))
	l := PositionContext(WithComponent("position"), "ETHUSDT", "short")
	l.Info().Msg("opened")

	data, _ := os.ReadFile(path)
	out := string(data)
	if !strings.Contains(out, `"component":"position"`) || !strings.Contains(out, `"side":"short"`) {
		t.Errorf("unexpected output %s", out)
	}
}
