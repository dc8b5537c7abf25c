package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/room-relay/room-relay/internal/api/middleware"
	"github.com/room-relay/room-relay/internal/storage"
	"github.com/room-relay/room-relay/internal/storage/models"
	"github.com/room-relay/room-relay/internal/websocket"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RoomsResponse lists occupied rooms.
type RoomsResponse struct {
	Rooms []websocket.RoomSummary `json:"rooms"`
}

// ListRooms returns every room with at least one participant.
func ListRooms(registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := registry.Rooms()
		if rooms == nil {
			rooms = []websocket.RoomSummary{}
		}
		writeJSON(w, RoomsResponse{Rooms: rooms})
	}
}

// ParticipantsResponse lists the display names in a room in join order.
type ParticipantsResponse struct {
	Room         string   `json:"room"`
	Count        int      `json:"count"`
	Participants []string `json:"participants"`
}

// GetRoomParticipants returns the current participants of a room. Unknown
// rooms are reported as empty.
func GetRoomParticipants(registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := mux.Vars(r)["room"]
		names := registry.Names(room)

		writeJSON(w, ParticipantsResponse{
			Room:         room,
			Count:        len(names),
			Participants: names,
		})
	}
}

// GetRoomSessions returns the most recent ledger sessions of a room.
func GetRoomSessions(sessions *storage.SessionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		list, err := sessions.ListByRoom(r.Context(), mux.Vars(r)["room"], limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query sessions")
			return
		}
		if list == nil {
			list = []models.Session{}
		}
		writeJSON(w, list)
	}
}

// ListRejections returns the most recent admission rejections.
func ListRejections(rejections *storage.RejectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		list, err := rejections.ListRecent(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query rejections")
			return
		}
		if list == nil {
			list = []models.Rejection{}
		}
		writeJSON(w, list)
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "limit must be an integer")
		return 0, false
	}
	if limit <= 0 || limit > maxListLimit {
		middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation,
			"limit out of range", map[string]int{"max": maxListLimit})
		return 0, false
	}
	return limit, true
}

// NotFound answers unknown API paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "No such endpoint")
}
