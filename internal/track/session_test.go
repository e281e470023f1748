package track

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracklog/internal/location"
	"tracklog/internal/stations"
	"tracklog/internal/types"
)

// fakeClock drives the session's pacing deterministically. Sleep advances
// the clock instead of waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) {
	// Mirrors the production sleep: a cancelled context returns
	// immediately, so nothing is recorded for it.
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// scriptStep is one scripted acquisition cycle: the clock advances by
// latency, then the step's fix or error is returned.
type scriptStep struct {
	latency time.Duration
	fix     *types.Fix
	err     error
}

// scriptedSource plays scriptSteps in order and cancels the loop once the
// script runs out.
type scriptedSource struct {
	clock  *fakeClock
	steps  []scriptStep
	idx    int
	cancel context.CancelFunc
}

func (s *scriptedSource) TryFix(ctx context.Context) (*types.Fix, error) {
	if s.idx >= len(s.steps) {
		s.cancel()
		return nil, ctx.Err()
	}
	step := s.steps[s.idx]
	s.idx++
	s.clock.Advance(step.latency)
	if step.err != nil {
		return nil, step.err
	}
	return step.fix, nil
}

// memoryWriter collects appended records in place of the CSV file.
type memoryWriter struct {
	mu      sync.Mutex
	records []types.EmittedRecord
	closed  bool
}

func (w *memoryWriter) Append(rec types.EmittedRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, rec)
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []types.EmittedRecord
}

func (s *recordingSink) PublishRecord(_ context.Context, rec types.EmittedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func liveFix(lat, lon float64, capturedAt time.Time) *types.Fix {
	return &types.Fix{
		CapturedAtMS:      capturedAt.UnixMilli(),
		Latitude:          lat,
		Longitude:         lon,
		ProviderRequested: types.ProviderNetwork,
		ProviderReported:  "network",
	}
}

func exhaustedErr() error {
	return types.NewAppError(types.ErrCodeAcquisitionExhausted, "all providers failed this cycle", nil)
}

// runScript wires a session around the scripted source and runs it to
// completion.
func runScript(t *testing.T, clock *fakeClock, steps []scriptStep, interval, reuseMaxAge time.Duration, cfgFn func(*SessionConfig)) (*Session, *memoryWriter) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &scriptedSource{clock: clock, steps: steps, cancel: cancel}
	writer := &memoryWriter{}

	cfg := SessionConfig{
		SessionID:   "20250601T120000Z",
		Source:      source,
		Cache:       location.NewContinuityCache(),
		Writer:      writer,
		Snapshots:   stations.NewSnapshotRef(),
		Interval:    interval,
		ReuseMaxAge: reuseMaxAge,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfgFn != nil {
		cfgFn(&cfg)
	}

	nextID := 0
	session := NewSession(cfg,
		WithClock(clock.Now, clock.Sleep),
		WithRecordIDFunc(func() string {
			nextID++
			return "rec-" + strconv.Itoa(nextID)
		}),
	)

	require.NoError(t, session.Run(ctx))
	return session, writer
}

func TestSession_LiveFixEmitsRecord(t *testing.T) {
	clock := newFakeClock()
	fix := liveFix(53.349, -6.260, clock.Now())

	session, writer := runScript(t, clock,
		[]scriptStep{{latency: 300 * time.Millisecond, fix: fix}},
		time.Second, 10*time.Second, nil)

	require.Len(t, writer.records, 1)
	rec := writer.records[0]
	assert.Equal(t, "20250601T120000Z", rec.SessionID)
	assert.Equal(t, 53.349, rec.Fix.Latitude)
	assert.False(t, rec.Reused)
	assert.Equal(t, types.SourceLive, rec.Source)
	assert.True(t, writer.closed)

	counters := session.Status().Counters
	assert.Equal(t, int64(1), counters.Emitted)
	assert.Equal(t, int64(1), counters.Live)
	assert.Equal(t, int64(0), counters.Reused)
	assert.Equal(t, int64(0), counters.Missed)
}

func TestSession_ReuseWithinBoundKeepsCoordinatesAndTimestamp(t *testing.T) {
	clock := newFakeClock()
	captured := clock.Now()
	fix := liveFix(53.349, -6.260, captured)

	_, writer := runScript(t, clock,
		[]scriptStep{
			{latency: time.Second, fix: fix},
			{latency: time.Second, err: exhaustedErr()},
		},
		2*time.Second, 3*time.Second, nil)

	require.Len(t, writer.records, 2)

	reused := writer.records[1]
	assert.True(t, reused.Reused)
	assert.Equal(t, types.SourceCachedLast, reused.Source)
	assert.Equal(t, writer.records[0].Fix.Latitude, reused.Fix.Latitude)
	assert.Equal(t, writer.records[0].Fix.Longitude, reused.Fix.Longitude)
	// The reused record carries the cached fix's original capture
	// timestamp, not a fresh stamp.
	assert.Equal(t, captured.UnixMilli(), reused.Fix.CapturedAtMS)
	assert.NotEqual(t, reused.EmittedAt.UnixMilli(), reused.Fix.CapturedAtMS)
}

func TestSession_GapAfterReuseBoundExpires(t *testing.T) {
	clock := newFakeClock()
	fix := liveFix(53.349, -6.260, clock.Now())

	// interval 2s, reuse bound 3s, per-cycle latency 1s:
	//   cycle 1 succeeds (fix recorded at t=1s)
	//   cycle 2 fails at t=3s, 2s after record  -> reuse
	//   cycle 3 fails at t=5s, 4s after record  -> gap
	session, writer := runScript(t, clock,
		[]scriptStep{
			{latency: time.Second, fix: fix},
			{latency: time.Second, err: exhaustedErr()},
			{latency: time.Second, err: exhaustedErr()},
		},
		2*time.Second, 3*time.Second, nil)

	require.Len(t, writer.records, 2)
	assert.False(t, writer.records[0].Reused)
	assert.True(t, writer.records[1].Reused)

	counters := session.Status().Counters
	assert.Equal(t, int64(2), counters.Emitted)
	assert.Equal(t, int64(1), counters.Missed)
	assert.Equal(t, int64(1), counters.ConsecutiveMisses)
}

func TestSession_ReuseTwiceThenGapAtElevenSeconds(t *testing.T) {
	clock := newFakeClock()
	fix := liveFix(53.349, -6.260, clock.Now())

	// interval 4s, reuse bound 10s, per-cycle latency 1s:
	//   cycle 1 succeeds, fix recorded at t=1s
	//   cycle 2 fails at t=5s  (4s after success)  -> reuse
	//   cycle 3 fails at t=9s  (8s after success)  -> reuse
	//   cycle 4 starts at t=12s, fails at t=13s    -> gap
	session, writer := runScript(t, clock,
		[]scriptStep{
			{latency: time.Second, fix: fix},
			{latency: time.Second, err: exhaustedErr()},
			{latency: time.Second, err: exhaustedErr()},
			{latency: time.Second, err: exhaustedErr()},
		},
		4*time.Second, 10*time.Second, nil)

	require.Len(t, writer.records, 3)
	assert.False(t, writer.records[0].Reused)
	for _, rec := range writer.records[1:] {
		assert.True(t, rec.Reused)
		assert.Equal(t, writer.records[0].Fix.Latitude, rec.Fix.Latitude)
		assert.Equal(t, writer.records[0].Fix.Longitude, rec.Fix.Longitude)
		assert.Equal(t, writer.records[0].Fix.CapturedAtMS, rec.Fix.CapturedAtMS)
	}

	counters := session.Status().Counters
	assert.Equal(t, int64(3), counters.Emitted)
	assert.Equal(t, int64(2), counters.Reused)
	assert.Equal(t, int64(1), counters.Missed)
}

func TestSession_ConsecutiveMissesResetOnlyOnLiveFix(t *testing.T) {
	clock := newFakeClock()
	first := liveFix(53.349, -6.260, clock.Now())
	second := liveFix(53.350, -6.261, clock.Now())

	// No reuse bound: every failure is a miss. Two misses accumulate,
	// then a live fix resets the streak.
	session, _ := runScript(t, clock,
		[]scriptStep{
			{latency: time.Second, fix: first},
			{latency: time.Second, err: exhaustedErr()},
			{latency: time.Second, err: exhaustedErr()},
			{latency: time.Second, fix: second},
		},
		2*time.Second, 0, nil)

	counters := session.Status().Counters
	assert.Equal(t, int64(2), counters.Missed)
	assert.Equal(t, int64(0), counters.ConsecutiveMisses)
	assert.Equal(t, int64(2), counters.Live)
}

func TestSession_PacingSubtractsCycleLatency(t *testing.T) {
	clock := newFakeClock()

	var steps []scriptStep
	for i := 0; i < 3; i++ {
		steps = append(steps, scriptStep{
			latency: 300 * time.Millisecond,
			fix:     liveFix(53.349, -6.260, clock.Now()),
		})
	}

	runScript(t, clock, steps, time.Second, 10*time.Second, nil)

	// Each cycle spent 300ms acquiring, so each sleep is the 700ms
	// remainder: cycle starts land one full interval apart.
	require.Len(t, clock.sleeps, 3)
	for _, d := range clock.sleeps {
		assert.Equal(t, 700*time.Millisecond, d)
	}
}

func TestSession_NoSleepWhenCycleOverrunsInterval(t *testing.T) {
	clock := newFakeClock()

	runScript(t, clock,
		[]scriptStep{{latency: 2500 * time.Millisecond, fix: liveFix(53.349, -6.260, clock.Now())}},
		time.Second, 10*time.Second, nil)

	assert.Empty(t, clock.sleeps)
}

func TestSession_SinksReceiveEveryRecordBeforeClose(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}

	_, writer := runScript(t, clock,
		[]scriptStep{
			{latency: 100 * time.Millisecond, fix: liveFix(53.349, -6.260, clock.Now())},
			{latency: 100 * time.Millisecond, fix: liveFix(53.350, -6.261, clock.Now())},
		},
		time.Second, 10*time.Second,
		func(cfg *SessionConfig) { cfg.Sinks = []RecordSink{sink} })

	// Run drains in-flight publishes before closing the writer, so by the
	// time it returns the sink holds every emitted record.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.records, 2)
	assert.True(t, writer.closed)
}

func TestSession_NearestStationResolvedAgainstSnapshot(t *testing.T) {
	clock := newFakeClock()
	ref := stations.NewSnapshotRef()
	ref.Store(stations.NewSnapshot([]types.Station{
		{ID: "30", Name: "PARNELL SQUARE NORTH", Latitude: 53.353462, Longitude: -6.265305},
		{ID: "54", Name: "CLONMEL STREET", Latitude: 53.336021, Longitude: -6.26298},
	}, clock.Now()))

	var observedNearest *stations.StationDistance
	session, _ := runScript(t, clock,
		[]scriptStep{{latency: 100 * time.Millisecond, fix: liveFix(53.3534, -6.2652, clock.Now())}},
		time.Second, 10*time.Second,
		func(cfg *SessionConfig) {
			cfg.Snapshots = ref
			cfg.OnRecord = func(_ types.EmittedRecord, nearest *stations.StationDistance) {
				observedNearest = nearest
			}
		})

	require.NotNil(t, observedNearest)
	assert.Equal(t, "30", observedNearest.Station.ID)

	status := session.Status()
	require.NotNil(t, status.Nearest)
	assert.Equal(t, "30", status.Nearest.Station.ID)
}

func TestSession_StatusReflectsConfiguration(t *testing.T) {
	clock := newFakeClock()

	session, _ := runScript(t, clock,
		[]scriptStep{{latency: 100 * time.Millisecond, fix: liveFix(53.349, -6.260, clock.Now())}},
		time.Second, 10*time.Second, nil)

	status := session.Status()
	assert.Equal(t, "20250601T120000Z", status.SessionID)
	assert.Equal(t, time.Second, status.Interval)
	assert.Equal(t, 10*time.Second, status.ReuseMaxAge)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), status.StartedAt)
	require.NotNil(t, status.LastRecord)
	assert.Equal(t, 53.349, status.LastRecord.Fix.Latitude)
}
