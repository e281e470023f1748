package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracklog/internal/location"
	"tracklog/internal/stations"
	"tracklog/internal/types"
)

// FixSource abstracts the fix acquisition strategy from the loop's
// perspective.
type FixSource interface {
	TryFix(ctx context.Context) (*types.Fix, error)
}

// SeriesWriter abstracts the persisted series.
type SeriesWriter interface {
	Append(rec types.EmittedRecord) error
	Close() error
}

// RecordSink is a best-effort remote destination for emitted records.
// Publishes are dispatched asynchronously; their latency and failure never
// block the next acquisition cycle.
type RecordSink interface {
	PublishRecord(ctx context.Context, rec types.EmittedRecord) error
}

// sinkDispatchTimeout bounds each asynchronous sink publish, including the
// final ones allowed to drain during shutdown.
const sinkDispatchTimeout = 10 * time.Second

// Counters are the session's diagnostic counts. ConsecutiveMisses has no
// upper bound; it resets on every emitted record backed by a live fix.
type Counters struct {
	Emitted           int64 `json:"emitted"`
	Live              int64 `json:"live"`
	Reused            int64 `json:"reused"`
	Missed            int64 `json:"missed"`
	ConsecutiveMisses int64 `json:"consecutive_misses"`
}

// Status is a point-in-time view of the session for the status API.
type Status struct {
	SessionID   string                    `json:"session_id"`
	StartedAt   time.Time                 `json:"started_at"`
	Interval    time.Duration             `json:"interval_ns"`
	ReuseMaxAge time.Duration             `json:"reuse_max_age_ns"`
	Counters    Counters                  `json:"counters"`
	LastRecord  *types.EmittedRecord      `json:"last_record,omitempty"`
	Nearest     *stations.StationDistance `json:"nearest_station,omitempty"`
}

// Session drives the pacing loop: one acquisition cycle per tick, with the
// sleep computed from time spent acquiring so the cadence target is the
// time between cycle starts, not an additive delay on top of provider
// latency.
type Session struct {
	id          string
	source      FixSource
	cache       *location.ContinuityCache
	writer      SeriesWriter
	sinks       []RecordSink
	snapshots   *stations.SnapshotRef
	interval    time.Duration
	reuseMaxAge time.Duration
	logger      *slog.Logger

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration)
	idFn    func() string

	// onRecord, when set, observes every emitted record with its resolved
	// nearest station. Used by the live stream hub.
	onRecord func(rec types.EmittedRecord, nearest *stations.StationDistance)

	// dispatches tracks in-flight sink publishes so Run can drain them
	// before closing the series.
	dispatches sync.WaitGroup

	mu         sync.RWMutex
	startedAt  time.Time
	counters   Counters
	lastRecord *types.EmittedRecord
	lastNear   *stations.StationDistance
}

// SessionConfig holds the configuration for creating a Session.
type SessionConfig struct {
	SessionID   string
	Source      FixSource
	Cache       *location.ContinuityCache
	Writer      SeriesWriter
	Sinks       []RecordSink
	Snapshots   *stations.SnapshotRef
	Interval    time.Duration
	ReuseMaxAge time.Duration
	Logger      *slog.Logger

	// OnRecord observes every emitted record. Optional.
	OnRecord func(rec types.EmittedRecord, nearest *stations.StationDistance)
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*Session)

// WithClock overrides the clock and sleep used by the loop. Intended for
// tests exercising the pacing and reuse-bound logic.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) SessionOption {
	return func(s *Session) {
		s.nowFn = now
		s.sleepFn = sleep
	}
}

// WithRecordIDFunc overrides record id generation. Intended for tests.
func WithRecordIDFunc(fn func() string) SessionOption {
	return func(s *Session) { s.idFn = fn }
}

// NewSession creates a Session with the given configuration.
func NewSession(cfg SessionConfig, opts ...SessionOption) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:          cfg.SessionID,
		source:      cfg.Source,
		cache:       cfg.Cache,
		writer:      cfg.Writer,
		sinks:       cfg.Sinks,
		snapshots:   cfg.Snapshots,
		interval:    cfg.Interval,
		reuseMaxAge: cfg.ReuseMaxAge,
		logger:      logger,
		nowFn:       time.Now,
		sleepFn:     sleepContext,
		idFn:        uuid.NewString,
		onRecord:    cfg.OnRecord,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns a point-in-time view of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		SessionID:   s.id,
		StartedAt:   s.startedAt,
		Interval:    s.interval,
		ReuseMaxAge: s.reuseMaxAge,
		Counters:    s.counters,
		LastRecord:  s.lastRecord,
		Nearest:     s.lastNear,
	}
}

// Run executes acquisition cycles until the context is cancelled, then
// drains in-flight sink publishes and closes the series writer. The
// returned error comes only from the final writer close; per-cycle
// failures are absorbed by the reuse-or-gap policy.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.nowFn()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session started",
		"session_id", s.id,
		"interval", s.interval,
		"reuse_max_age", s.reuseMaxAge,
	)

	for ctx.Err() == nil {
		cycleStart := s.nowFn()
		s.runCycle(ctx, cycleStart)

		elapsed := s.nowFn().Sub(cycleStart)
		if wait := s.interval - elapsed; wait > 0 {
			s.sleepFn(ctx, wait)
		}
	}

	s.dispatches.Wait()

	err := s.writer.Close()
	s.logger.Info("session stopped",
		"session_id", s.id,
		"emitted", s.Status().Counters.Emitted,
	)
	return err
}

// runCycle performs one acquisition attempt and applies the
// emit / reuse / gap policy.
func (s *Session) runCycle(ctx context.Context, cycleStart time.Time) {
	fix, err := s.source.TryFix(ctx)
	if err == nil {
		s.cache.Record(fix, s.nowFn())
		s.emit(ctx, s.buildRecord(fix, false, types.SourceLive))
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.logger.WarnContext(ctx, "acquisition failed",
		"code", string(types.CodeOf(err)),
		"error", err,
	)

	if cand := s.cache.ReuseCandidate(s.nowFn(), s.reuseMaxAge); cand != nil {
		// The reused record keeps the cached fix's original capture
		// timestamp; downstream consumers rely on the timestamp naming
		// the observation, not the emission.
		s.emit(ctx, s.buildRecord(cand, true, types.SourceCachedLast))
		return
	}

	s.mu.Lock()
	s.counters.Missed++
	s.counters.ConsecutiveMisses++
	misses := s.counters.ConsecutiveMisses
	s.mu.Unlock()

	s.logger.WarnContext(ctx, "no fix emitted",
		"consecutive_misses", misses,
		"cycle_start", cycleStart.UTC().Format(time.RFC3339),
	)
}

// buildRecord assembles an EmittedRecord around a fix.
func (s *Session) buildRecord(fix *types.Fix, reused bool, source types.RecordSource) types.EmittedRecord {
	return types.EmittedRecord{
		RecordID:  s.idFn(),
		SessionID: s.id,
		Fix:       *fix,
		Reused:    reused,
		Source:    source,
		EmittedAt: s.nowFn(),
	}
}

// emit persists the record, resolves the nearest station against the
// current context snapshot, updates session state, dispatches sink
// publishes, and notifies the record observer.
func (s *Session) emit(ctx context.Context, rec types.EmittedRecord) {
	if err := s.writer.Append(rec); err != nil {
		// The series write failing is serious but still not fatal: the
		// loop keeps cycling and remote sinks may still receive copies.
		s.logger.ErrorContext(ctx, "series append failed", "error", err)
	}

	var nearest *stations.StationDistance
	if snap := s.snapshots.Load(); snap != nil {
		nearest = stations.Nearest(rec.Fix.Latitude, rec.Fix.Longitude, snap)
	}

	s.mu.Lock()
	s.counters.Emitted++
	if rec.Reused {
		s.counters.Reused++
	} else {
		s.counters.Live++
		s.counters.ConsecutiveMisses = 0
	}
	recCopy := rec
	s.lastRecord = &recCopy
	s.lastNear = nearest
	s.mu.Unlock()

	if nearest != nil {
		s.logger.DebugContext(ctx, "record emitted",
			"lat", rec.Fix.Latitude,
			"lon", rec.Fix.Longitude,
			"reused", rec.Reused,
			"nearest_station", nearest.Station.Name,
			"nearest_distance_m", nearest.DistanceM,
		)
	} else {
		s.logger.DebugContext(ctx, "record emitted",
			"lat", rec.Fix.Latitude,
			"lon", rec.Fix.Longitude,
			"reused", rec.Reused,
		)
	}

	s.dispatch(ctx, rec)

	if s.onRecord != nil {
		s.onRecord(rec, nearest)
	}
}

// dispatch fans the record out to every sink on its own goroutine. The
// publish context survives loop cancellation (bounded by its own timeout)
// so a record emitted in the final cycle still reaches the sinks during
// shutdown.
func (s *Session) dispatch(ctx context.Context, rec types.EmittedRecord) {
	for _, snk := range s.sinks {
		s.dispatches.Add(1)
		go func(snk RecordSink) {
			defer s.dispatches.Done()
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkDispatchTimeout)
			defer cancel()
			if err := snk.PublishRecord(pubCtx, rec); err != nil {
				s.logger.Warn("sink publish failed",
					"code", string(types.CodeOf(err)),
					"record_id", rec.RecordID,
					"error", err,
				)
			}
		}(snk)
	}
}
