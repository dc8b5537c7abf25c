package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room-relay/room-relay/internal/api/middleware"
	"github.com/room-relay/room-relay/internal/metrics"
	"github.com/room-relay/room-relay/internal/storage"
	"github.com/room-relay/room-relay/internal/storage/models"
	ws "github.com/room-relay/room-relay/internal/websocket"
)

// WrongPlaceMessage is the body returned to plain HTTP requests on room paths.
const WrongPlaceMessage = "Hi, you are in the wrong place."

// ledgerTimeout bounds session ledger writes on the connection path.
const ledgerTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Rooms are open to any origin
		return true
	},
}

// RoomSocketConfig wires the room socket handler.
type RoomSocketConfig struct {
	Registry    *ws.Registry
	Admitter    *ws.Admitter
	Broadcaster *ws.Broadcaster

	// Sessions and Rejections record the ledger. Either may be nil.
	Sessions   *storage.SessionRepository
	Rejections *storage.RejectionRepository

	// Relays, when set, counts connections from before the upgrade until
	// their ledger row is closed. Wait on it after http.Server.Shutdown,
	// which does not track upgraded connections.
	Relays *sync.WaitGroup

	ReadLimit    int64
	PongWait     time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration
}

// RoomSocket returns a handler that admits a connection attempt into the room
// named by the request path, upgrades it to WebSocket and relays it until it
// closes. Rejections are answered before the upgrade.
func RoomSocket(cfg RoomSocketConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			middleware.WriteText(w, http.StatusUpgradeRequired, WrongPlaceMessage)
			return
		}

		admission, err := cfg.Admitter.Admit(r)
		var rejection *ws.Rejection
		if errors.As(err, &rejection) {
			log.Printf("Rejected connection from %s: %s", r.RemoteAddr, rejection.Message)
			metrics.Admissions.WithLabelValues(metrics.AdmissionRejected).Inc()
			recordRejection(cfg.Rejections, rejection, r.RemoteAddr)
			middleware.WriteText(w, rejection.Status, rejection.Message)
			return
		}
		if err != nil {
			log.Printf("Admission error for %s: %v", r.RemoteAddr, err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Admission failed")
			return
		}

		// Counted before the upgrade: until then Shutdown still waits for
		// this request, so no Add can race the final Wait.
		if cfg.Relays != nil {
			cfg.Relays.Add(1)
			defer cfg.Relays.Done()
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the HTTP error response
			admission.Release()
			metrics.Admissions.WithLabelValues(metrics.AdmissionFailed).Inc()
			log.Printf("WebSocket upgrade error from %s: %v", r.RemoteAddr, err)
			return
		}
		metrics.Admissions.WithLabelValues(metrics.AdmissionAccepted).Inc()

		conn.SetReadLimit(cfg.ReadLimit)
		if cfg.PongWait > 0 {
			conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
			})
		}

		relay := ws.NewRelay(cfg.Registry, cfg.Broadcaster, admission, conn, ws.NewConnectionID(), ws.RelayConfig{
			WriteWait:    cfg.WriteWait,
			PingInterval: cfg.PingInterval,
		})
		p := relay.Participant()
		p.RemoteAddr = r.RemoteAddr

		log.Printf("%s joined room %q as %q", r.RemoteAddr, p.Room, p.Name)
		session := openSession(cfg.Sessions, p)

		stats, err := relay.Run(r.Context())
		if err != nil {
			log.Printf("Relay for %s could not start: %v", r.RemoteAddr, err)
		}

		reason := models.EndReasonDisconnected
		if r.Context().Err() != nil {
			reason = models.EndReasonShutdown
		}
		closeSession(cfg.Sessions, session, stats, reason)
		metrics.RelayDuration.Observe(stats.Duration.Seconds())

		log.Printf("%s left room %q (%d received, %d sent): %v",
			r.RemoteAddr, p.Room, stats.Received, stats.Sent, stats.Cause)
	}
}

func recordRejection(repo *storage.RejectionRepository, rej *ws.Rejection, remoteAddr string) {
	if repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	err := repo.Create(ctx, &models.Rejection{
		Room:        rej.Room,
		DisplayName: rej.Name,
		Code:        string(rej.Code),
		Reason:      rej.Message,
		RemoteAddr:  remoteAddr,
	})
	if err != nil {
		log.Printf("Failed to record rejection: %v", err)
	}
}

func openSession(repo *storage.SessionRepository, p *ws.Participant) *models.Session {
	if repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	s := &models.Session{
		ConnectionID: string(p.ID),
		Room:         p.Room,
		DisplayName:  p.Name,
		TranslateTo:  p.Locale.TranslateTo,
		TranscribeTo: p.Locale.TranscribeTo,
		RemoteAddr:   p.RemoteAddr,
		JoinedAt:     p.JoinedAt,
	}
	if err := repo.Open(ctx, s); err != nil {
		log.Printf("Failed to record session for %s: %v", p.ID, err)
		return nil
	}
	return s
}

func closeSession(repo *storage.SessionRepository, s *models.Session, stats ws.Stats, reason string) {
	if repo == nil || s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	if err := repo.Close(ctx, s.ID, stats.Received, stats.Sent, reason); err != nil {
		log.Printf("Failed to close session %s: %v", s.ID, err)
	}
}
