// Package sink implements the best-effort remote stores the logger streams
// to: the Firebase Realtime Database REST sink and an optional MQTT
// publisher. Sink failures are logged and swallowed by callers; they never
// gate the acquisition cadence.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"tracklog/internal/httpx"
	"tracklog/internal/types"
)

// pointDoc is the JSON document streamed per emitted record. The field set
// mirrors what the series writer persists so a remote consumer can
// reconstruct the CSV exactly.
type pointDoc struct {
	RecordID     string   `json:"record_id"`
	TimestampMS  int64    `json:"timestamp_ms"`
	TimestampISO string   `json:"timestamp_iso"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	AccuracyM    *float64 `json:"accuracy_m"`
	SpeedMPS     *float64 `json:"speed_mps"`
	BearingDeg   *float64 `json:"bearing_deg"`
	AltitudeM    *float64 `json:"altitude_m"`
	Provider     string   `json:"provider"`
	RawProvider  string   `json:"raw_provider"`
	Source       string   `json:"source"`
	Reused       bool     `json:"reused"`
	SourceType   string   `json:"source_type"`
}

// FirebaseSink streams emitted records and station snapshots to a Firebase
// Realtime Database over its REST interface. Records POST under
// sessions/{session}/points (auto-id children); station snapshots PATCH
// into stations/ keyed by station id.
type FirebaseSink struct {
	base   *httpx.Client
	dbURL  string
	auth   types.SecretString
	logger *slog.Logger
}

// FirebaseConfig holds the configuration for creating a FirebaseSink.
type FirebaseConfig struct {
	// DatabaseURL is the database root, e.g.
	// https://example-default-rtdb.europe-west1.firebasedatabase.app
	DatabaseURL string
	// AuthToken is appended as the auth query parameter when set.
	AuthToken types.SecretString
	Logger    *slog.Logger
}

// NewFirebaseSink creates a sink for the given database.
func NewFirebaseSink(httpClient *http.Client, cfg FirebaseConfig) *FirebaseSink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := httpx.NewClient(httpClient, "firebase", httpx.ErrorCodes{
		Unavailable: types.ErrCodeSinkUnavailable,
		RateLimited: types.ErrCodeSinkRateLimited,
	})
	return &FirebaseSink{
		base:   base,
		dbURL:  strings.TrimSuffix(cfg.DatabaseURL, "/"),
		auth:   cfg.AuthToken,
		logger: logger,
	}
}

// NewFirebaseSinkWithBase creates a FirebaseSink around a pre-configured
// httpx.Client. Intended for tests.
func NewFirebaseSinkWithBase(base *httpx.Client, cfg FirebaseConfig) *FirebaseSink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FirebaseSink{
		base:   base,
		dbURL:  strings.TrimSuffix(cfg.DatabaseURL, "/"),
		auth:   cfg.AuthToken,
		logger: logger,
	}
}

// docURL builds the REST URL for a database path, appending the auth token
// when one is configured.
func (s *FirebaseSink) docURL(path string) string {
	u := fmt.Sprintf("%s/%s.json", s.dbURL, strings.TrimPrefix(path, "/"))
	if s.auth.IsSet() {
		q := url.Values{}
		q.Set("auth", s.auth.Unmask())
		u = u + "?" + q.Encode()
	}
	return u
}

// PublishRecord streams one emitted record under the record's session.
func (s *FirebaseSink) PublishRecord(ctx context.Context, rec types.EmittedRecord) error {
	doc := pointDoc{
		RecordID:     rec.RecordID,
		TimestampMS:  rec.Fix.CapturedAtMS,
		TimestampISO: rec.Fix.CapturedAt().Format("2006-01-02T15:04:05.000Z07:00"),
		Lat:          rec.Fix.Latitude,
		Lon:          rec.Fix.Longitude,
		AccuracyM:    rec.Fix.AccuracyM,
		SpeedMPS:     rec.Fix.SpeedMPS,
		BearingDeg:   rec.Fix.BearingDeg,
		AltitudeM:    rec.Fix.AltitudeM,
		Provider:     string(rec.Fix.ProviderRequested),
		RawProvider:  rec.Fix.ProviderReported,
		Source:       string(rec.Source),
		Reused:       rec.Reused,
		SourceType:   "device",
	}

	path := fmt.Sprintf("sessions/%s/points", rec.SessionID)
	return s.send(ctx, http.MethodPost, path, doc)
}

// PublishStations replaces the remote station mirror with the latest
// snapshot in a single PATCH keyed by station id.
func (s *FirebaseSink) PublishStations(ctx context.Context, list []types.Station) error {
	byID := make(map[string]types.Station, len(list))
	for _, st := range list {
		byID[st.ID] = st
	}
	return s.send(ctx, http.MethodPatch, "stations", byID)
}

func (s *FirebaseSink) send(ctx context.Context, method, path string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize sink document", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.docURL(path), bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build sink request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeSinkUnavailable,
			fmt.Sprintf("sink returned %d for %s", resp.StatusCode, path), nil)
	}
	return nil
}
