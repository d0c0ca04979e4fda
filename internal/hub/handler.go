package hub

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WSHandler exposes the hub's WebSocket endpoint over HTTP.
type WSHandler struct {
	cm *ConnectionManager
}

// NewWSHandler creates a handler bound to a connection manager.
func NewWSHandler(cm *ConnectionManager) *WSHandler {
	return &WSHandler{cm: cm}
}

// HandleWS upgrades a console connection.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := h.cm.Upgrade(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleStats returns counts about active connections.
func (h *WSHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.cm.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
