package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tracklog/internal/types"
)

// Attempt describes one step of the acquisition plan: which provider to
// ask, how long to wait for it, and how stale an already-resolved position
// it may serve. Fast coarse providers get short timeouts and loose
// staleness budgets; slow precise providers get longer timeouts and tight
// ones.
type Attempt struct {
	Provider types.ProviderKind
	Timeout  time.Duration
	MaxAge   time.Duration
}

// DefaultPlan returns the built-in attempt order: network first (fast,
// coarse), GPS second (slow, precise), then an unconstrained request as
// the last resort. The ordered-fallback trades a small latency cost for
// materially higher per-cycle fix availability over any single provider.
func DefaultPlan() []Attempt {
	return []Attempt{
		{Provider: types.ProviderNetwork, Timeout: 6 * time.Second, MaxAge: 10 * time.Second},
		{Provider: types.ProviderGPS, Timeout: 12 * time.Second, MaxAge: 2 * time.Second},
		{Provider: types.ProviderNone, Timeout: 8 * time.Second, MaxAge: 5 * time.Second},
	}
}

// Acquirer abstracts the provider gateway from the strategy's perspective.
type Acquirer interface {
	Acquire(ctx context.Context, kind types.ProviderKind, timeout, maxAge time.Duration) (*types.Fix, error)
}

// Strategy tries the plan's providers in order and short-circuits on the
// first success.
type Strategy struct {
	gateway Acquirer
	plan    []Attempt
	logger  *slog.Logger
}

// StrategyConfig holds the configuration for creating a Strategy.
type StrategyConfig struct {
	Gateway Acquirer
	// Plan is the ordered attempt list. Nil means DefaultPlan().
	Plan   []Attempt
	Logger *slog.Logger
}

// NewStrategy creates a Strategy with the given configuration.
func NewStrategy(cfg StrategyConfig) *Strategy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	plan := cfg.Plan
	if len(plan) == 0 {
		plan = DefaultPlan()
	}
	return &Strategy{
		gateway: cfg.Gateway,
		plan:    plan,
		logger:  logger,
	}
}

// Plan returns the attempt list the strategy runs. Exposed for the status
// endpoint and startup logging.
func (s *Strategy) Plan() []Attempt {
	return s.plan
}

// TryFix attempts each provider in plan order until one yields a fix. When
// every attempt fails it returns an acquisition_exhausted error carrying
// the per-provider reasons for diagnostics.
func (s *Strategy) TryFix(ctx context.Context) (*types.Fix, error) {
	var reasons []string
	for _, attempt := range s.plan {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fix, err := s.gateway.Acquire(ctx, attempt.Provider, attempt.Timeout, attempt.MaxAge)
		if err == nil {
			return fix, nil
		}

		code := types.CodeOf(err)
		s.logger.DebugContext(ctx, "provider attempt failed",
			"provider", string(attempt.Provider),
			"code", string(code),
			"error", err,
		)
		reasons = append(reasons, fmt.Sprintf("%s=%s", attempt.Provider, code))
	}

	return nil, types.NewAppError(types.ErrCodeAcquisitionExhausted,
		"all providers failed this cycle", nil).
		WithDetails(map[string]any{"attempts": strings.Join(reasons, ",")})
}
