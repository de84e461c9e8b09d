package live

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/signal"
)

// Executor places the exchange-side orders for a decision. The engine
// applies the transition to its own state only after Execute returns nil,
// so a failed order never changes the tracked position.
type Executor interface {
	Execute(ctx context.Context, d signal.Decision) error
}

// PaperExecutor accepts every decision without touching an exchange
type PaperExecutor struct {
	mu     sync.Mutex
	fills  []signal.Decision
	logger zerolog.Logger
}

// NewPaperExecutor creates a dry-run executor
func NewPaperExecutor(logger zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{logger: logger.With().Str("component", "paper_executor").Logger()}
}

func (p *PaperExecutor) Execute(ctx context.Context, d signal.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.fills = append(p.fills, d)
	p.mu.Unlock()

	p.logger.Info().Str("decision", d.String()).Msg("Paper fill")
	return nil
}

// Fills returns every decision executed so far
func (p *PaperExecutor) Fills() []signal.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]signal.Decision, len(p.fills))
	copy(out, p.fills)
	return out
}
