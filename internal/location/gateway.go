// Package location implements the fix-acquisition side of the logger: the
// provider gateway that invokes the device location command, the ordered
// fallback strategy that drives it, and the single-slot continuity cache
// that bridges cycles when acquisition fails.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"tracklog/internal/types"
)

// commandRunner executes the device location command and returns its
// stdout. Injected in tests to avoid spawning real processes.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand is the production runner. exec.CommandContext kills the
// spawned process when the context deadline expires, so a hung device call
// cannot leak across cycles.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// devicePayload is the JSON document the location command prints on
// success. Latitude and longitude are pointers so a payload that omits
// them is distinguishable from one at coordinate zero.
type devicePayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Speed     *float64 `json:"speed"`
	Bearing   *float64 `json:"bearing"`
	Altitude  *float64 `json:"altitude"`
	TimeMS    *int64   `json:"time"`
	Provider  string   `json:"provider"`
}

// Gateway invokes the external device location command with a bounded
// timeout and classifies the outcome. It holds no shared state; every
// Acquire call is independent.
type Gateway struct {
	command string
	runner  commandRunner
	nowFn   func() time.Time
	logger  *slog.Logger
}

// GatewayConfig holds the configuration for creating a Gateway.
type GatewayConfig struct {
	// Command is the location executable, e.g. "termux-location".
	Command string
	Logger  *slog.Logger
}

// GatewayOption is a functional option for configuring a Gateway.
type GatewayOption func(*Gateway)

// WithRunner overrides the command runner. Intended for tests.
func WithRunner(fn commandRunner) GatewayOption {
	return func(g *Gateway) { g.runner = fn }
}

// WithNowFunc overrides the clock used to stamp payloads that carry no
// device capture time. Intended for tests.
func WithNowFunc(fn func() time.Time) GatewayOption {
	return func(g *Gateway) { g.nowFn = fn }
}

// NewGateway creates a Gateway for the given device command.
func NewGateway(cfg GatewayConfig, opts ...GatewayOption) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		command: cfg.Command,
		runner:  runCommand,
		nowFn:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire requests one fix from the given provider with a hard wall-clock
// timeout. maxAge is forwarded to the device as the acceptable age of an
// already-resolved position, letting fast providers serve a slightly stale
// answer instead of blocking.
//
// Failure classification:
//   - deadline expiry (process killed)  -> provider_timeout
//   - non-zero exit / device refusal    -> provider_device_error
//   - malformed JSON or missing lat/lon -> provider_parse_error
func (g *Gateway) Acquire(ctx context.Context, kind types.ProviderKind, timeout, maxAge time.Duration) (*types.Fix, error) {
	args := []string{"-r", "once"}
	if maxAge > 0 {
		args = append(args, "-d", strconv.FormatInt(maxAge.Milliseconds(), 10))
	}
	// ProviderNone and ProviderFused both mean "let the device choose";
	// the command's default mode is its fused pipeline.
	if kind == types.ProviderNetwork || kind == types.ProviderGPS {
		args = append(args, "-p", string(kind))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := g.runner(ctx, g.command, args...)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewAppError(types.ErrCodeProviderTimeout,
				fmt.Sprintf("%s did not answer within %s", string(kind), timeout), err)
		}
		return nil, types.NewAppError(types.ErrCodeProviderDevice,
			fmt.Sprintf("%s request failed", string(kind)), err)
	}

	return g.parsePayload(out, kind)
}

// parsePayload decodes the device JSON document into a Fix.
func (g *Gateway) parsePayload(out []byte, kind types.ProviderKind) (*types.Fix, error) {
	var payload devicePayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeProviderParse,
			"device returned malformed JSON", err)
	}
	if payload.Latitude == nil || payload.Longitude == nil {
		return nil, types.NewAppError(types.ErrCodeProviderParse,
			"device payload has no latitude/longitude", nil)
	}

	capturedAt := g.nowFn().UnixMilli()
	if payload.TimeMS != nil && *payload.TimeMS > 0 {
		capturedAt = *payload.TimeMS
	}

	reported := payload.Provider
	if reported == "" {
		reported = "unknown"
	}

	return &types.Fix{
		CapturedAtMS:      capturedAt,
		Latitude:          *payload.Latitude,
		Longitude:         *payload.Longitude,
		AccuracyM:         payload.Accuracy,
		SpeedMPS:          payload.Speed,
		BearingDeg:        payload.Bearing,
		AltitudeM:         payload.Altitude,
		ProviderRequested: kind,
		ProviderReported:  reported,
	}, nil
}
