package media

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Handler exposes the media registry over HTTP for the console frontends.
type Handler struct {
	store *Store
}

// NewHandler creates a handler around a store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// HandleList handles GET /api/media.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list media")
		http.Error(w, "Failed to list media", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []Item{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(items); err != nil {
		log.Error().Err(err).Msg("failed to encode media list")
	}
}

// HandleUsage handles GET /api/media/usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	usage, err := h.store.Usage(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to compute media usage")
		http.Error(w, "Failed to compute usage", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"usage": usage,
		"quota": h.store.Quota(),
	})
}

// HandleDelete handles DELETE /api/media/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/media/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid media id", http.StatusBadRequest)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		log.Error().Err(err).Int64("id", id).Msg("failed to delete media")
		http.Error(w, "Failed to delete media", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers media routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/media", h.HandleList)
	mux.HandleFunc("/api/media/usage", h.HandleUsage)
	mux.HandleFunc("/api/media/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/media/usage" {
			h.HandleUsage(w, r)
			return
		}
		h.HandleDelete(w, r)
	})
}
