// Package types defines the shared domain model for the tracklog logger:
// position fixes, emitted records, bike-share stations, and the application
// error taxonomy. Types here carry no behavior beyond construction and
// formatting; all acquisition and polling logic lives in the internal
// packages that consume them.
package types

import (
	"time"
)

// ProviderKind identifies the location provider a fix was requested from.
type ProviderKind string

const (
	// ProviderNetwork is the fast, coarse cell/wifi-based provider.
	ProviderNetwork ProviderKind = "network"
	// ProviderGPS is the slow, precise satellite-based provider.
	ProviderGPS ProviderKind = "gps"
	// ProviderFused is the device's fused/combined provider.
	ProviderFused ProviderKind = "fused"
	// ProviderNone marks an unconstrained request where no specific
	// provider was asked for; the device picks.
	ProviderNone ProviderKind = "none"
)

// RecordSource identifies how an emitted record was produced.
type RecordSource string

const (
	// SourceLive marks a record built from a fix acquired this cycle.
	SourceLive RecordSource = "live"
	// SourceCachedLast marks a record built by reusing the last good fix
	// after the current cycle failed to acquire a new one.
	SourceCachedLast RecordSource = "cached-last"
)

// Fix is a single resolved geographic position observation. It is immutable
// once constructed; the continuity cache shares a read-only copy between the
// acquisition loop and concurrent readers.
type Fix struct {
	// CapturedAtMS is the device-reported capture time in epoch
	// milliseconds. When the device omits it, the gateway stamps wall
	// clock at parse time.
	CapturedAtMS int64 `json:"timestamp_ms"`

	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`

	// Optional fields; nil when the device did not report them.
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	SpeedMPS   *float64 `json:"speed_mps,omitempty"`
	BearingDeg *float64 `json:"bearing_deg,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`

	// ProviderRequested is the provider the gateway asked for
	// (ProviderNone for an unconstrained request). ProviderReported is
	// whatever the device claims actually served the fix; the two may
	// legitimately differ.
	ProviderRequested ProviderKind `json:"provider"`
	ProviderReported  string       `json:"raw_provider"`
}

// CapturedAt returns the capture time as a UTC time.Time.
func (f *Fix) CapturedAt() time.Time {
	return time.UnixMilli(f.CapturedAtMS).UTC()
}

// EmittedRecord is a Fix annotated with session and provenance metadata.
// This is the unit that crosses the persistence and streaming boundary;
// one record is emitted per successful (or reused) cycle.
type EmittedRecord struct {
	RecordID  string `json:"record_id"`
	SessionID string `json:"session_id"`

	Fix Fix `json:"fix"`

	// Reused is true when Fix came from the continuity cache rather than
	// this cycle's acquisition. A reused record keeps the fix's original
	// capture timestamp; it is not re-stamped at emission time.
	Reused bool         `json:"reused"`
	Source RecordSource `json:"source"`

	// EmittedAt is the wall-clock time the record was built, independent
	// of the fix's capture time.
	EmittedAt time.Time `json:"emitted_at"`
}

// Station is one bike-share station as reported by the external feed.
// Station sets are replaced wholesale on every successful poll; entries are
// never mutated in place.
type Station struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Latitude        float64   `json:"lat"`
	Longitude       float64   `json:"lon"`
	AvailableBikes  int       `json:"available_bikes"`
	AvailableStands int       `json:"available_stands"`
	Status          string    `json:"status"`
	ReportedAt      time.Time `json:"reported_at"`
}
