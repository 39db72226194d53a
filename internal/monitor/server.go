package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_wheeler/internal/storage"
)

// Server exposes the latest run outputs and alert history over HTTP.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage storage.Interface
	engine  *Engine
	logger  *logrus.Logger
	addr    string
}

// NewServer builds the HTTP surface over the given store and alert engine.
func NewServer(addr string, store storage.Interface, engine *Engine, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:  chi.NewRouter(),
		storage: store,
		engine:  engine,
		logger:  logger,
		addr:    addr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/snapshot", s.handleSnapshot)
	s.router.Get("/api/rankings", s.handleRankings)
	s.router.Get("/api/recommendations", s.handleRecommendations)
	s.router.Get("/api/alerts", s.handleAlerts)
	s.router.Get("/api/history", s.handleHistory)
}

// Handler returns the router, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting monitor server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.storage.LatestSnapshot()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load snapshot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleRankings(w http.ResponseWriter, _ *http.Request) {
	r, err := s.storage.LatestRankings()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load rankings")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if r == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, r)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	recs, err := s.storage.LatestRecommendations()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load recommendations")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, recs)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.engine.Recent(50)
	if alerts == nil {
		alerts = []Alert{}
	}
	s.writeJSON(w, alerts)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	values, err := s.storage.RecentAccountValues(100)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load value history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if values == nil {
		values = []storage.ValueEntry{}
	}
	s.writeJSON(w, values)
}
