// Package track implements the foreground acquisition loop and the
// append-only CSV series it persists. The CSV file is the authoritative
// record of what actually happened; remote sinks are best-effort copies.
package track

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"tracklog/internal/types"
)

// isoTimestampLayout is the ISO-8601 layout used for the human-readable
// timestamp column, millisecond precision.
const isoTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// seriesColumns is the fixed header. Column order is part of the format
// contract with downstream consumers; never reorder.
var seriesColumns = []string{
	"session_id", "timestamp_ms", "timestamp_iso",
	"latitude", "longitude", "accuracy_m", "speed_mps",
	"bearing_deg", "altitude_m", "provider", "raw_provider",
	"source", "reused",
}

// Writer appends emitted records to a CSV file. The header row is written
// exactly once, iff the file is new or empty, so a restarted session can
// keep appending to an existing series. Every append is flushed so a kill
// mid-run loses at most the row being written.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewWriter opens (or creates) the series file at path in append mode and
// writes the header when the file is empty.
func NewWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening series file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat series file %s: %w", path, err)
	}

	w := &Writer{
		file: file,
		csv:  csv.NewWriter(file),
	}

	if info.Size() == 0 {
		if err := w.csv.Write(seriesColumns); err != nil {
			file.Close()
			return nil, fmt.Errorf("writing series header: %w", err)
		}
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("flushing series header: %w", err)
		}
	}

	return w, nil
}

// Append writes one record row and flushes it.
func (w *Writer) Append(rec types.EmittedRecord) error {
	row := []string{
		rec.SessionID,
		strconv.FormatInt(rec.Fix.CapturedAtMS, 10),
		rec.Fix.CapturedAt().Format(isoTimestampLayout),
		formatCoord(rec.Fix.Latitude),
		formatCoord(rec.Fix.Longitude),
		formatOptional(rec.Fix.AccuracyM),
		formatOptional(rec.Fix.SpeedMPS),
		formatOptional(rec.Fix.BearingDeg),
		formatOptional(rec.Fix.AltitudeM),
		string(rec.Fix.ProviderRequested),
		rec.Fix.ProviderReported,
		string(rec.Source),
		formatBool(rec.Reused),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("writing series row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flushing series row: %w", err)
	}
	return nil
}

// Close flushes buffered rows and closes the file. Safe to call once the
// loop has fully stopped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flushing series on close: %w", flushErr)
	}
	return closeErr
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatOptional renders a nil optional as an empty cell, matching how the
// series has always encoded device fields that were not reported.
func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// formatBool renders the reused flag as 0/1 for spreadsheet friendliness.
func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
