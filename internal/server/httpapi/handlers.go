// Package httpapi serves the read-only ops endpoint of the replica server.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	Router   chi.Router
	replicas *services.ReplicaService
	logger   logging.Logger
}

// NewHandler builds the router:
//
//	GET /healthz
//	GET /api/collections
//	GET /api/collections/{collection}
//	GET /api/collections/{collection}/{id}
func NewHandler(rs *services.ReplicaService, logger logging.Logger) *Handler {
	h := &Handler{replicas: rs, logger: logger.With("module", "http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.withLogging)

	r.Get("/healthz", h.Health)
	r.Route("/api/collections", func(r chi.Router) {
		r.Get("/", h.Collections)
		r.Get("/{collection}", h.Records)
		r.Get("/{collection}/{id}", h.Record)
	})

	h.Router = r
	return h
}

func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug(r.Context(), "http request",
			"method", r.Method, "uri", r.RequestURI, "status", ww.Status(), "duration", time.Since(start))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn(r.Context(), "write response", "error", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	names, err := h.replicas.Collections(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "list collections", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, r, http.StatusOK, names)
}

func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	recs, err := h.replicas.PullAll(r.Context(), collection)
	if err != nil {
		h.logger.Error(r.Context(), "list records", "collection", collection, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	h.writeJSON(w, r, http.StatusOK, recs)
}

// recordView is one replica row as served over HTTP, tombstones included.
type recordView struct {
	Collection   string         `json:"collection"`
	ID           string         `json:"id"`
	LastModified time.Time      `json:"lastModified"`
	Deleted      bool           `json:"deleted"`
	DeviceID     string         `json:"deviceId,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")

	row, err := h.replicas.Get(r.Context(), collection, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error(r.Context(), "get record", "collection", collection, "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	rec, err := row.Record()
	if err != nil {
		http.Error(w, "corrupt record", http.StatusInternalServerError)
		return
	}
	view := recordView{
		Collection:   row.Collection,
		ID:           row.ID,
		LastModified: rec.LastModified,
		Deleted:      row.Deleted,
		DeviceID:     row.DeviceID,
	}
	if !row.Deleted {
		view.Fields = rec.Fields
	}
	h.writeJSON(w, r, http.StatusOK, view)
}
