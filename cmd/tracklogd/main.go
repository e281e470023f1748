// Package main is the entrypoint for tracklogd, the continuous GPS track
// logger. It acquires position fixes from the device location service on a
// fixed cadence, persists them to an append-only CSV series, optionally
// streams them to Firebase and MQTT, and correlates each fix against a
// periodically polled bike-share station feed.
//
// This file handles configuration and dependency wiring only; all logic
// lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tracklog/internal/config"
	"tracklog/internal/feed"
	"tracklog/internal/location"
	"tracklog/internal/sink"
	"tracklog/internal/stations"
	"tracklog/internal/track"
	"tracklog/internal/types"
	"tracklog/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "tracklogd [output.csv] [interval-seconds]",
		Short: "Continuous GPS track logger with bike-share context",
		Long: `tracklogd logs one position fix per interval to an append-only CSV
series, reusing the last good fix for up to TRACK_REUSE_MAX_AGE when the
device cannot produce a fresh one. Configuration comes from the
environment (optionally seeded by a .env file); the two positional
arguments override TRACK_OUTPUT and TRACK_INTERVAL. The process runs
until interrupted and exits 0 after a clean flush.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, envFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "explicit dotenv file to load before reading the environment")
	return cmd
}

// run wires the components and supervises them until interruption.
func run(args []string, envFile string) error {
	var cfg *config.Config
	var err error
	if envFile != "" {
		cfg, err = config.LoadConfigFromFile(envFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return err
	}
	if err := applyArgs(cfg, args); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	sessionID := config.SessionIDFor(cfg, time.Now())
	logger.Info("tracklogd starting",
		"session_id", sessionID,
		"output", cfg.Track.OutputPath,
		"interval", cfg.Track.Interval,
	)

	// Acquisition plan: strategy file when configured, built-in order
	// otherwise.
	plan := location.DefaultPlan()
	if cfg.Location.StrategyFile != "" {
		plan, err = location.LoadPlan(cfg.Location.StrategyFile)
		if err != nil {
			return err
		}
	}

	gateway := location.NewGateway(location.GatewayConfig{
		Command: cfg.Location.Command,
		Logger:  logger,
	})
	strategy := location.NewStrategy(location.StrategyConfig{
		Gateway: gateway,
		Plan:    plan,
		Logger:  logger,
	})
	cache := location.NewContinuityCache()

	writer, err := track.NewWriter(cfg.Track.OutputPath)
	if err != nil {
		return err
	}

	// Remote sinks are best-effort and individually optional.
	var sinks []track.RecordSink
	var firebase *sink.FirebaseSink
	if cfg.Sink.DatabaseURL != "" {
		firebase = sink.NewFirebaseSink(
			&http.Client{Timeout: cfg.Sink.Timeout},
			sink.FirebaseConfig{
				DatabaseURL: cfg.Sink.DatabaseURL,
				AuthToken:   cfg.Sink.AuthToken,
				Logger:      logger,
			},
		)
		sinks = append(sinks, firebase)
	} else {
		logger.Info("FIREBASE_DB_URL not set; cloud streaming disabled (CSV only)")
	}

	if cfg.MQTT.BrokerURL != "" {
		mq, err := sink.NewMQTTSink(sink.MQTTSinkConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("mqtt sink unavailable; continuing without it", "error", err)
		} else {
			defer mq.Close()
			sinks = append(sinks, mq)
		}
	}

	snapshots := stations.NewSnapshotRef()

	var hub *web.Hub
	var onRecord func(rec types.EmittedRecord, nearest *stations.StationDistance)
	if cfg.Server.Enabled {
		hub = web.NewHub(logger)
		onRecord = hub.Broadcast
	}

	session := track.NewSession(track.SessionConfig{
		SessionID:   sessionID,
		Source:      strategy,
		Cache:       cache,
		Writer:      writer,
		Sinks:       sinks,
		Snapshots:   snapshots,
		Interval:    cfg.Track.Interval,
		ReuseMaxAge: cfg.Track.ReuseMaxAge,
		Logger:      logger,
		OnRecord:    onRecord,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })

	if cfg.Feed.APIKey.IsSet() {
		feedClient := feed.NewJCDecauxClient(
			&http.Client{Timeout: cfg.Feed.Timeout},
			feed.JCDecauxConfig{
				BaseURL:  cfg.Feed.BaseURL,
				Contract: cfg.Feed.Contract,
				APIKey:   cfg.Feed.APIKey,
				Logger:   logger,
			},
		)
		var stationSink stations.StationSink
		if firebase != nil {
			stationSink = firebase
		}
		poller := stations.NewPoller(stations.PollerConfig{
			Feed:     feedClient,
			Ref:      snapshots,
			Sink:     stationSink,
			Interval: cfg.Feed.Interval,
			Logger:   logger,
		})
		g.Go(func() error { return poller.Run(ctx) })
	} else {
		logger.Info("JCDECAUX_API_KEY not set; station poller disabled")
	}

	if cfg.Server.Enabled {
		server := web.NewServer(web.ServerConfig{
			Session:    session,
			Snapshots:  snapshots,
			Hub:        hub,
			ListenAddr: cfg.Server.ListenAddr,
			Logger:     logger,
		})
		g.Go(func() error { return server.Run(ctx) })
	}

	err = g.Wait()
	logger.Info("tracklogd stopped", "session_id", sessionID)
	return err
}

// applyArgs overlays the CLI positional arguments onto the loaded config:
// output path first, polling interval in (possibly fractional) seconds
// second.
func applyArgs(cfg *config.Config, args []string) error {
	if len(args) >= 1 && args[0] != "" {
		cfg.Track.OutputPath = args[0]
	}
	if len(args) >= 2 {
		seconds, err := strconv.ParseFloat(args[1], 64)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("interval must be a positive number of seconds, got %q", args[1])
		}
		cfg.Track.Interval = time.Duration(seconds * float64(time.Second))
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
