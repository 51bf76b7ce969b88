// Package datasource serves the disease-count API that the map consumes:
// per-borough lookups on /api/datos, a full listing on /api/bd and a
// filterable case table on /api/casos.
package datasource

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/diseaseapi"
	"github.com/sells-group/healthmap/internal/monitoring"
	"github.com/sells-group/healthmap/internal/store"
)

const (
	// MsgNoData accompanies a null record when no borough matches.
	MsgNoData = "Sin datos para esa alcaldía"
	// MsgStoreUnavailable is returned with a 500 when the store fails.
	MsgStoreUnavailable = "Base de datos no disponible"
)

// Handler answers data-source requests from a Store.
type Handler struct {
	store store.Store
	cases []Case
	log   *zap.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCases serves cases on /api/casos.
func WithCases(cases []Case) HandlerOption {
	return func(h *Handler) {
		h.cases = cases
	}
}

// NewHandler creates a Handler over s.
func NewHandler(s store.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store: s,
		log:   zap.L().With(zap.String("component", "datasource")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router mounts the data-source routes with CORS open to any origin.
func (h *Handler) Router(m *monitoring.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(monitoring.Middleware(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/datos", h.handleDatos)
	r.Get("/api/bd", h.handleBD)
	r.Get("/api/casos", h.handleCasos)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	return r
}

// handleDatos looks up one borough by ?codigo= when given, else by ?alcaldia=.
// Names match ignoring accents and case.
func (h *Handler) handleDatos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		entry *store.Entry
		err   error
	)
	if raw := strings.TrimSpace(q.Get("codigo")); raw != "" {
		code, convErr := strconv.Atoi(raw)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "codigo inválido")
			return
		}
		entry, err = h.store.FindByCode(r.Context(), code)
	} else {
		entry, err = h.store.FindByName(r.Context(), q.Get("alcaldia"))
	}
	if err != nil {
		h.log.Error("lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, MsgStoreUnavailable)
		return
	}

	if entry == nil {
		writeJSON(w, http.StatusOK, diseaseapi.Response{Mensaje: MsgNoData})
		return
	}
	writeJSON(w, http.StatusOK, diseaseapi.Response{Enfermedades: entry.Enfermedades})
}

func (h *Handler) handleBD(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error("list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, MsgStoreUnavailable)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCasos filters the case table by ?enfermedad=, ?estado= and ?anio=.
func (h *Handler) handleCasos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, FilterCases(h.cases, CaseFilter{
		Disease: q.Get("enfermedad"),
		State:   q.Get("estado"),
		Year:    q.Get("anio"),
	}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("datasource: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
