// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in the emitted series.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tracklog/internal/types"
)

// LoadConfig loads and validates the logger configuration from the
// environment. A .env file in the working directory is honored but never
// overrides variables already set in the environment.
func LoadConfig() (*Config, error) {
	return loadConfigWithEnvFile("")
}

// LoadConfigFromFile is LoadConfig with an explicit dotenv path, used by
// tests and the --env-file CLI flag.
func LoadConfigFromFile(envFile string) (*Config, error) {
	return loadConfigWithEnvFile(envFile)
}

func loadConfigWithEnvFile(envFile string) (*Config, error) {
	// Step 1: Enforce UTC so CSV timestamps and session ids never depend
	// on the device timezone.
	time.Local = time.UTC

	// Step 2: Seed the environment from a dotenv file. godotenv silently
	// succeeds when the file is absent and never overrides existing
	// variables.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, types.NewAppError(types.ErrCodeConfigInvalid,
				fmt.Sprintf("failed to load env file %s", envFile), err)
		}
	} else {
		_ = godotenv.Load()
	}

	// Step 3: Process envconfig tags. The empty prefix means the exact
	// tag values are read (envconfig:"TRACK_OUTPUT" reads TRACK_OUTPUT).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			"failed to process environment configuration", err)
	}

	// Step 4: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			"configuration validation failed", err)
	}

	return &cfg, nil
}

// SessionIDFor returns the session identifier to use: the configured
// override when present, otherwise the start time formatted as the
// compact UTC timestamp the series format has always used.
func SessionIDFor(cfg *Config, start time.Time) string {
	if cfg.Track.SessionID != "" {
		return cfg.Track.SessionID
	}
	return start.UTC().Format("20060102T150405Z")
}
