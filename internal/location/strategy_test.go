package location

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracklog/internal/types"
)

// scriptedAcquirer answers each provider from a fixed script and records the
// order it was asked in.
type scriptedAcquirer struct {
	results map[types.ProviderKind]scriptedResult
	asked   []types.ProviderKind
}

type scriptedResult struct {
	fix *types.Fix
	err error
}

func (a *scriptedAcquirer) Acquire(_ context.Context, kind types.ProviderKind, _, _ time.Duration) (*types.Fix, error) {
	a.asked = append(a.asked, kind)
	res, ok := a.results[kind]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeProviderDevice,
			fmt.Sprintf("unscripted provider %s", kind), nil)
	}
	return res.fix, res.err
}

func TestStrategy_FallsBackToGPSAfterNetworkTimeout(t *testing.T) {
	wantFix := &types.Fix{
		CapturedAtMS:      1748779200000,
		Latitude:          53.349,
		Longitude:         -6.260,
		ProviderRequested: types.ProviderGPS,
		ProviderReported:  "gps",
	}
	acq := &scriptedAcquirer{results: map[types.ProviderKind]scriptedResult{
		types.ProviderNetwork: {err: types.NewAppError(types.ErrCodeProviderTimeout, "network timed out", nil)},
		types.ProviderGPS:     {fix: wantFix},
	}}

	s := NewStrategy(StrategyConfig{Gateway: acq, Logger: discardLogger()})

	fix, err := s.TryFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wantFix, fix)
	assert.Equal(t, 53.349, fix.Latitude)
	assert.Equal(t, -6.260, fix.Longitude)
	assert.Equal(t, types.ProviderGPS, fix.ProviderRequested)
	assert.Equal(t, []types.ProviderKind{types.ProviderNetwork, types.ProviderGPS}, acq.asked)
}

func TestStrategy_ShortCircuitsOnFirstSuccess(t *testing.T) {
	acq := &scriptedAcquirer{results: map[types.ProviderKind]scriptedResult{
		types.ProviderNetwork: {fix: &types.Fix{Latitude: 53.0, Longitude: -6.0, ProviderRequested: types.ProviderNetwork}},
	}}

	s := NewStrategy(StrategyConfig{Gateway: acq, Logger: discardLogger()})

	fix, err := s.TryFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ProviderNetwork, fix.ProviderRequested)
	assert.Equal(t, []types.ProviderKind{types.ProviderNetwork}, acq.asked)
}

func TestStrategy_ExhaustedCarriesPerProviderReasons(t *testing.T) {
	acq := &scriptedAcquirer{results: map[types.ProviderKind]scriptedResult{
		types.ProviderNetwork: {err: types.NewAppError(types.ErrCodeProviderTimeout, "timed out", nil)},
		types.ProviderGPS:     {err: types.NewAppError(types.ErrCodeProviderDevice, "gps disabled", nil)},
		types.ProviderNone:    {err: types.NewAppError(types.ErrCodeProviderParse, "garbage", nil)},
	}}

	s := NewStrategy(StrategyConfig{Gateway: acq, Logger: discardLogger()})

	fix, err := s.TryFix(context.Background())
	require.Error(t, err)
	assert.Nil(t, fix)
	assert.Equal(t, types.ErrCodeAcquisitionExhausted, types.CodeOf(err))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t,
		"network=provider_timeout,gps=provider_device_error,none=provider_parse_error",
		appErr.Details["attempts"])
}

func TestStrategy_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acq := &scriptedAcquirer{}
	s := NewStrategy(StrategyConfig{Gateway: acq, Logger: discardLogger()})

	_, err := s.TryFix(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, acq.asked)
}

func TestStrategy_DefaultPlanOrder(t *testing.T) {
	s := NewStrategy(StrategyConfig{Gateway: &scriptedAcquirer{}, Logger: discardLogger()})

	plan := s.Plan()
	require.Len(t, plan, 3)
	assert.Equal(t, types.ProviderNetwork, plan[0].Provider)
	assert.Equal(t, types.ProviderGPS, plan[1].Provider)
	assert.Equal(t, types.ProviderNone, plan[2].Provider)
	assert.Less(t, plan[0].Timeout, plan[1].Timeout)
}
