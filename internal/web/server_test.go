package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracklog/internal/location"
	"tracklog/internal/stations"
	"tracklog/internal/track"
	"tracklog/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, ref *stations.SnapshotRef) *Server {
	t.Helper()
	if ref == nil {
		ref = stations.NewSnapshotRef()
	}
	session := track.NewSession(track.SessionConfig{
		SessionID:   "20250601T120000Z",
		Cache:       location.NewContinuityCache(),
		Snapshots:   ref,
		Interval:    time.Second,
		ReuseMaxAge: 10 * time.Second,
		Logger:      discardLogger(),
	})
	return NewServer(ServerConfig{
		Session:    session,
		Snapshots:  ref,
		Hub:        NewHub(discardLogger()),
		ListenAddr: "127.0.0.1:0",
		Logger:     discardLogger(),
	})
}

func doGet(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	rec := doGet(t, newTestServer(t, nil).Handler(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	ref := stations.NewSnapshotRef()
	capturedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ref.Store(stations.NewSnapshot([]types.Station{
		{ID: "30", Name: "PARNELL SQUARE NORTH", Latitude: 53.353462, Longitude: -6.265305},
	}, capturedAt))

	rec := doGet(t, newTestServer(t, ref).Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID        string `json:"session_id"`
		StreamClients    int    `json:"stream_clients"`
		SnapshotStations int    `json:"snapshot_stations"`
		SnapshotAt       string `json:"snapshot_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "20250601T120000Z", resp.SessionID)
	assert.Equal(t, 0, resp.StreamClients)
	assert.Equal(t, 1, resp.SnapshotStations)
	assert.NotEmpty(t, resp.SnapshotAt)
}

func TestServer_StatusBeforeFirstPoll(t *testing.T) {
	rec := doGet(t, newTestServer(t, nil).Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SnapshotStations int     `json:"snapshot_stations"`
		SnapshotAt       *string `json:"snapshot_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.SnapshotStations)
	assert.Nil(t, resp.SnapshotAt)
}

func TestServer_NearbyStations(t *testing.T) {
	ref := stations.NewSnapshotRef()
	ref.Store(stations.NewSnapshot([]types.Station{
		{ID: "30", Name: "PARNELL SQUARE NORTH", Latitude: 53.353462, Longitude: -6.265305},
		{ID: "54", Name: "CLONMEL STREET", Latitude: 53.336021, Longitude: -6.26298},
	}, time.Now()))
	handler := newTestServer(t, ref).Handler()

	rec := doGet(t, handler, "/api/stations/nearby?lat=53.3534&lon=-6.2652&radius=300")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stations []stations.StationDistance `json:"stations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stations, 1)
	assert.Equal(t, "30", resp.Stations[0].Station.ID)
	assert.Less(t, resp.Stations[0].DistanceM, 300.0)

	// A wider radius picks up both, nearest first.
	rec = doGet(t, handler, "/api/stations/nearby?lat=53.3534&lon=-6.2652&radius=3000")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stations, 2)
	assert.Equal(t, "30", resp.Stations[0].Station.ID)
}

func TestServer_NearbyValidation(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	tests := []struct {
		name string
		path string
	}{
		{name: "missing coordinates", path: "/api/stations/nearby"},
		{name: "bad latitude", path: "/api/stations/nearby?lat=abc&lon=-6.26"},
		{name: "latitude out of range", path: "/api/stations/nearby?lat=91&lon=-6.26"},
		{name: "longitude out of range", path: "/api/stations/nearby?lat=53.35&lon=181"},
		{name: "negative radius", path: "/api/stations/nearby?lat=53.35&lon=-6.26&radius=-5"},
		{name: "zero radius", path: "/api/stations/nearby?lat=53.35&lon=-6.26&radius=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, handler, tt.path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_NearbyBeforeFirstPoll(t *testing.T) {
	rec := doGet(t, newTestServer(t, nil).Handler(), "/api/stations/nearby?lat=53.35&lon=-6.26")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stations":[]}`, rec.Body.String())
}
