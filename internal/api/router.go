// Package api provides HTTP routing for the room relay.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/room-relay/room-relay/internal/api/handlers"
	"github.com/room-relay/room-relay/internal/api/middleware"
	"github.com/room-relay/room-relay/internal/metrics"
	"github.com/room-relay/room-relay/internal/storage"
)

// RouterConfig carries what the router mounts.
type RouterConfig struct {
	DB        *storage.DB
	Socket    handlers.RoomSocketConfig
	CORSAllow []string
}

// NewRouter creates the HTTP router. Every WebSocket upgrade, whatever its
// path, joins a room. Plain requests reach the read-only JSON endpoints under
// /api and /metrics, and any other path answers that it is not a room client.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	// Room names are taken verbatim, still percent-encoded, from the path
	r.SkipClean(true)
	r.UseEncodedPath()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	roomSocket := handlers.RoomSocket(cfg.Socket)

	// Upgrades first, so no API path shadows a room
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(req)
	}).Handler(roomSocket)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()
	api.Use(c.Handler)

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(cfg.DB)).Methods("GET", "OPTIONS")
	api.HandleFunc("/status", handlers.Status(cfg.Socket.Registry, cfg.Socket.Sessions)).Methods("GET", "OPTIONS")

	// Room endpoints
	api.HandleFunc("/rooms", handlers.ListRooms(cfg.Socket.Registry)).Methods("GET", "OPTIONS")
	api.HandleFunc("/rooms/{room:.+}/participants", handlers.GetRoomParticipants(cfg.Socket.Registry)).Methods("GET", "OPTIONS")

	// Ledger endpoints
	if cfg.Socket.Sessions != nil {
		api.HandleFunc("/rooms/{room:.+}/sessions", handlers.GetRoomSessions(cfg.Socket.Sessions)).Methods("GET", "OPTIONS")
	}
	if cfg.Socket.Rejections != nil {
		api.HandleFunc("/rejections", handlers.ListRejections(cfg.Socket.Rejections)).Methods("GET", "OPTIONS")
	}

	// Keep unknown API paths out of the room namespace
	api.PathPrefix("/").HandlerFunc(handlers.NotFound)

	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Plain requests on room paths
	r.PathPrefix("/").Handler(roomSocket)

	return r
}
