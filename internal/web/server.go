package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tracklog/internal/stations"
	"tracklog/internal/track"
)

// defaultNearbyRadiusM is the radius used by the nearby-stations query
// when the caller does not supply one.
const defaultNearbyRadiusM = 500.0

// Server exposes the logger's runtime state over a small local HTTP
// surface. It observes the session and the shared station snapshot; it
// never mutates either.
type Server struct {
	session *track.Session
	snaps   *stations.SnapshotRef
	hub     *Hub
	listen  string
	logger  *slog.Logger
	router  *chi.Mux
}

// ServerConfig holds the configuration for creating a Server.
type ServerConfig struct {
	Session    *track.Session
	Snapshots  *stations.SnapshotRef
	Hub        *Hub
	ListenAddr string
	Logger     *slog.Logger
}

// NewServer creates the status server and mounts its routes.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		session: cfg.Session,
		snaps:   cfg.Snapshots,
		hub:     cfg.Hub,
		listen:  cfg.ListenAddr,
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mountRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stations/nearby", s.handleNearby)
	})
	s.router.Get("/ws", s.hub.HandleWS)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	s.logger.Info("status server listening", "addr", s.listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse augments the session status with context-poller state.
type statusResponse struct {
	track.Status
	StreamClients    int        `json:"stream_clients"`
	SnapshotStations int        `json:"snapshot_stations"`
	SnapshotAt       *time.Time `json:"snapshot_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:        s.session.Status(),
		StreamClients: s.hub.ClientCount(),
	}
	if snap := s.snaps.Load(); snap != nil {
		resp.SnapshotStations = len(snap.Stations)
		at := snap.CapturedAt
		resp.SnapshotAt = &at
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "lat and lon are required coordinates"})
		return
	}

	radius := defaultNearbyRadiusM
	if raw := q.Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest,
				map[string]string{"error": "radius must be a positive number of meters"})
			return
		}
		radius = parsed
	}

	snap := s.snaps.Load()
	if snap.Empty() {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"stations": []stations.StationDistance{},
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"stations": snap.Within(lat, lon, radius),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
