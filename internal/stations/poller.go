package stations

import (
	"context"
	"log/slog"
	"time"

	"tracklog/internal/types"
)

// Feed abstracts the external station-availability source the poller reads.
type Feed interface {
	// FetchStations returns the complete current station set.
	FetchStations(ctx context.Context) ([]types.Station, error)
}

// StationSink abstracts the best-effort remote forwarding of station
// snapshots.
type StationSink interface {
	PublishStations(ctx context.Context, list []types.Station) error
}

// Poller fetches the station feed on its own schedule, decoupled from the
// acquisition cadence, and atomically replaces the shared snapshot on each
// successful cycle. On fetch failure the existing snapshot stays in place
// (stale-but-available beats empty) and the poller simply waits for the
// next tick; there is no retry inside a cycle.
type Poller struct {
	feed     Feed
	ref      *SnapshotRef
	sink     StationSink // optional; nil disables forwarding
	interval time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time
}

// PollerConfig holds the configuration for creating a Poller.
type PollerConfig struct {
	Feed     Feed
	Ref      *SnapshotRef
	Sink     StationSink
	Interval time.Duration
	Logger   *slog.Logger
}

// PollerOption is a functional option for configuring a Poller.
type PollerOption func(*Poller)

// WithPollerNowFunc overrides the poller clock. Intended for tests.
func WithPollerNowFunc(fn func() time.Time) PollerOption {
	return func(p *Poller) { p.nowFn = fn }
}

// NewPoller creates a Poller with the given configuration.
func NewPoller(cfg PollerConfig, opts ...PollerOption) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		feed:     cfg.Feed,
		ref:      cfg.Ref,
		sink:     cfg.Sink,
		interval: cfg.Interval,
		logger:   logger,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls immediately, then once per interval, until the context is
// cancelled. Always returns nil; feed failures are absorbed per cycle.
func (p *Poller) Run(ctx context.Context) error {
	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single fetch-normalize-swap cycle.
func (p *Poller) PollOnce(ctx context.Context) {
	list, err := p.feed.FetchStations(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "station feed fetch failed; keeping last snapshot",
			"code", string(types.CodeOf(err)),
			"error", err,
		)
		return
	}

	snap := NewSnapshot(list, p.nowFn())
	p.ref.Store(snap)
	p.logger.InfoContext(ctx, "station snapshot replaced",
		"stations", len(list),
	)

	if p.sink != nil {
		if err := p.sink.PublishStations(ctx, list); err != nil {
			p.logger.WarnContext(ctx, "station forward failed",
				"code", string(types.CodeOf(err)),
				"error", err,
			)
		}
	}
}
