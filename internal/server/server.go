// Package server exposes the shrinkage engine over a small HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/engine"
	"github.com/seastock/shrinkage-cli/internal/store"
)

// Server is the shrinkage HTTP API server. The store is optional; without
// one, ad-hoc forecasts are computed but not persisted.
type Server struct {
	engine  *engine.Engine
	store   store.Store
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server around an engine and an optional store.
func New(eng *engine.Engine, st store.Store, version string) *Server {
	s := &Server{
		engine:  eng,
		store:   st,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/forecast", s.handleForecast)
		r.Get("/forecasts", s.handleListForecasts)
		r.Get("/states", s.handleStates)
		r.Get("/batches", s.handleListBatches)
		r.Get("/batches/{batchID}", s.handleGetBatch)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"states":  len(s.engine.Estimator().Snapshot()),
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
