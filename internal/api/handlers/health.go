// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/room-relay/room-relay/internal/api/middleware"
	"github.com/room-relay/room-relay/internal/storage"
	"github.com/room-relay/room-relay/internal/storage/models"
	"github.com/room-relay/room-relay/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		})
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	ActiveRooms        int                   `json:"active_rooms"`
	ActiveParticipants int                   `json:"active_participants"`
	Ledger             *models.SessionTotals `json:"ledger,omitempty"`
}

// Status returns a handler that reports live occupancy and, when a ledger is
// configured, its totals.
func Status(registry *websocket.Registry, sessions *storage.SessionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			ActiveRooms:        registry.RoomCount(),
			ActiveParticipants: registry.Total(),
		}

		if sessions != nil {
			totals, err := sessions.Totals(r.Context())
			if err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query session ledger")
				return
			}
			resp.Ledger = &totals
		}

		writeJSON(w, resp)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
