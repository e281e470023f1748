// Package config defines the configuration structure for the tracklog
// logger. Configuration is loaded once at process start and is immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, optionally seeded by a .env file. Components receive only
// the specific config subsets they require.
package config

import (
	"time"

	"tracklog/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for the station-feed API key and the Firebase auth token.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the logger process.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Track    TrackConfig
	Location LocationConfig
	Feed     FeedConfig
	Sink     SinkConfig
	MQTT     MQTTConfig
	Server   ServerConfig
}

// TrackConfig holds the pacing-loop and persistence settings. OutputPath
// and Interval may be overridden by the CLI positional arguments.
type TrackConfig struct {
	OutputPath string `envconfig:"TRACK_OUTPUT" default:"gps_log.csv" validate:"required"`

	// Interval is the target time between cycle starts, not an additive
	// delay on top of acquisition latency.
	Interval time.Duration `envconfig:"TRACK_INTERVAL" default:"1s" validate:"gt=0"`

	// ReuseMaxAge bounds how old the last good fix may be and still be
	// re-emitted when a cycle fails to acquire a new one.
	ReuseMaxAge time.Duration `envconfig:"TRACK_REUSE_MAX_AGE" default:"10s" validate:"gte=0"`

	// SessionID overrides the generated session identifier. Empty means
	// derive one from the startup time (UTC, 20060102T150405Z).
	SessionID string `envconfig:"TRACK_SESSION_ID"`
}

// LocationConfig holds provider-gateway settings.
type LocationConfig struct {
	// Command is the device location executable. The gateway appends the
	// provider selector and request arguments.
	Command string `envconfig:"LOCATION_COMMAND" default:"termux-location" validate:"required"`

	// StrategyFile optionally points to a YAML file describing the
	// ordered provider attempts (provider, timeout, max_age per step).
	// Empty means the built-in default plan.
	StrategyFile string `envconfig:"LOCATION_STRATEGY_FILE"`
}

// FeedConfig holds the JCDecaux station-availability feed settings.
// The poller is disabled entirely when APIKey is unset.
type FeedConfig struct {
	APIKey   SecretString  `envconfig:"JCDECAUX_API_KEY"`
	Contract string        `envconfig:"JCDECAUX_CONTRACT" default:"dublin"`
	BaseURL  string        `envconfig:"JCDECAUX_BASE_URL" default:"https://api.jcdecaux.com/vls/v1" validate:"url"`
	Interval time.Duration `envconfig:"FEED_INTERVAL" default:"1m" validate:"gt=0"`
	Timeout  time.Duration `envconfig:"FEED_TIMEOUT" default:"10s" validate:"gt=0"`
}

// SinkConfig holds the Firebase Realtime Database streaming settings.
// Streaming is disabled when DatabaseURL is unset (CSV only).
type SinkConfig struct {
	DatabaseURL string        `envconfig:"FIREBASE_DB_URL" validate:"omitempty,url"`
	AuthToken   SecretString  `envconfig:"FIREBASE_AUTH"`
	Timeout     time.Duration `envconfig:"SINK_TIMEOUT" default:"5s" validate:"gt=0"`
}

// MQTTConfig holds the optional MQTT record-stream settings. Publishing is
// disabled when BrokerURL is unset.
type MQTTConfig struct {
	BrokerURL   string `envconfig:"MQTT_BROKER_URL"`
	TopicPrefix string `envconfig:"MQTT_TOPIC_PREFIX" default:"tracklog"`
	ClientID    string `envconfig:"MQTT_CLIENT_ID" default:"tracklog-logger"`
}

// ServerConfig holds the local status/observability HTTP server settings.
type ServerConfig struct {
	Enabled    bool   `envconfig:"SERVER_ENABLED" default:"false"`
	ListenAddr string `envconfig:"SERVER_ADDR" default:"127.0.0.1:8077" validate:"required"`
}
