// Package server exposes map view sessions over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/choropleth"
	"github.com/sells-group/healthmap/internal/geo"
	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/monitoring"
)

// Options configures the HTTP surface.
type Options struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// RequestTimeout bounds each request. Zero disables it.
	RequestTimeout time.Duration
	// DefaultMode applies when a create request names no mode. Empty means lazy.
	DefaultMode choropleth.Mode
}

// Server routes map API requests to the session manager.
type Server struct {
	sessions *choropleth.Manager
	metrics  *monitoring.Collector
	opts     Options
	log      *zap.Logger
}

// New creates a Server. metrics may be nil.
func New(sessions *choropleth.Manager, metrics *monitoring.Collector, opts Options) *Server {
	return &Server{
		sessions: sessions,
		metrics:  metrics,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "server")),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(monitoring.Middleware(s.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/map", s.handleMap)
			r.Get("/boroughs/{name}", s.handleBorough)
			r.Put("/filters", s.handlePutFilters)
			r.Post("/filters/{indicator}/toggle", s.handleToggle)
		})
	})
	return r
}

type createSessionRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sesiones": s.sessions.IDs()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Mode) == "" {
		req.Mode = string(s.opts.DefaultMode)
	}
	mode, err := choropleth.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.sessions.Create(r.Context(), mode)
	if err != nil {
		s.log.Error("create session failed", zap.String("mode", string(mode)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMap writes the boundary collection with each feature's code, status,
// level and color merged into its properties.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	regions := sess.Regions()

	w.Header().Set("Content-Type", "application/geo+json")
	err := geo.EncodeGeoJSON(w, sess.Geometry(), func(i int, _ geo.Feature) map[string]any {
		reg := regions[i]
		props := map[string]any{
			"estado": reg.Status.String(),
			"nivel":  reg.Level,
			"color":  reg.Color,
		}
		if reg.Code != 0 {
			props["codigo"] = reg.Code
		}
		return props
	})
	if err != nil {
		s.log.Warn("encode map failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

type boroughResponse struct {
	Region choropleth.Region `json:"region"`
	Panel  choropleth.Panel  `json:"panel"`
}

// handleBorough is the hover/click endpoint. The borough is fetched on first
// use when the session has not resolved it yet.
func (s *Server) handleBorough(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid borough name")
		return
	}

	region, panel, err := sess.Interact(r.Context(), name)
	if err != nil {
		// The caller went away or timed out; the fetch keeps running.
		s.log.Debug("interaction ended before fetch resolved", zap.String("borough", name), zap.Error(err))
		writeJSON(w, http.StatusAccepted, boroughResponse{Region: region, Panel: panel})
		return
	}
	writeJSON(w, http.StatusOK, boroughResponse{Region: region, Panel: panel})
}

type filtersResponse struct {
	Filters model.FilterState   `json:"filtros"`
	Regions []choropleth.Region `json:"regiones"`
}

func (s *Server) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var patch choropleth.FilterPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	filters := sess.PatchFilters(patch)
	writeJSON(w, http.StatusOK, filtersResponse{Filters: filters, Regions: sess.Regions()})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ind, err := model.ParseIndicator(chi.URLParam(r, "indicator"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters := sess.Toggle(ind)
	writeJSON(w, http.StatusOK, filtersResponse{Filters: filters, Regions: sess.Regions()})
}

// session resolves {id} or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*choropleth.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
