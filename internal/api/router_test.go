package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/room-relay/room-relay/internal/api/handlers"
	"github.com/room-relay/room-relay/internal/storage"
	"github.com/room-relay/room-relay/internal/storage/models"
	ws "github.com/room-relay/room-relay/internal/websocket"
)

type testServer struct {
	*httptest.Server
	registry *ws.Registry
	sessions *storage.SessionRepository
	relays   *sync.WaitGroup

	// shutdown cancels the context every request runs under.
	shutdown context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = storage.RunMigrations(context.Background(), db)
	require.NoError(t, err)

	registry := ws.NewRegistry()
	sessions := storage.NewSessionRepository(db)
	relays := &sync.WaitGroup{}
	router := NewRouter(RouterConfig{
		DB: db,
		Socket: handlers.RoomSocketConfig{
			Registry:     registry,
			Admitter:     ws.NewAdmitter(registry),
			Broadcaster:  ws.NewBroadcaster(registry),
			Sessions:     sessions,
			Rejections:   storage.NewRejectionRepository(db),
			Relays:       relays,
			ReadLimit:    1 << 16,
			PongWait:     time.Minute,
			PingInterval: 30 * time.Second,
			WriteWait:    10 * time.Second,
		},
		CORSAllow: []string{"*"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewUnstartedServer(router)
	srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	srv.Start()
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, registry: registry, sessions: sessions, relays: relays, shutdown: cancel}
}

func (s *testServer) dial(t *testing.T, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestRoomSocket_Relays_Between_Clients(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	// Given Ann in the lobby
	ann, _, err := srv.dial(t, "/lobby?name=Ann")
	req.NoError(err)
	welcome := readJSON(t, ann)
	req.Equal("ws_handshake_status", welcome["type"])
	req.Equal("connected", welcome["status"])
	req.Equal("You joined the room 'lobby'", welcome["message"])
	_, err = time.Parse(time.RFC3339Nano, welcome["timestamp"].(string))
	req.NoError(err)
	req.Equal(map[string]any{"type": "count", "count": float64(1)}, readJSON(t, ann))
	req.Equal(map[string]any{"type": "participants", "participants": []any{"Ann"}}, readJSON(t, ann))

	// When Bob joins
	bob, _, err := srv.dial(t, "/lobby?name=Bob")
	req.NoError(err)
	for i := 0; i < 3; i++ {
		readJSON(t, bob)
	}
	req.Equal("Bob joined the room", readJSON(t, ann)["message"])
	readJSON(t, ann)
	readJSON(t, ann)

	// And Ann writes
	req.NoError(ann.WriteMessage(websocket.TextMessage, []byte("hi")))

	// Then Bob receives the same bytes
	req.NoError(bob.SetReadDeadline(time.Now().Add(2 * time.Second)))
	mt, data, err := bob.ReadMessage()
	req.NoError(err)
	req.Equal(websocket.TextMessage, mt)
	req.Equal("hi", string(data))

	// When Bob closes
	bob.Close()

	// Then Ann is told
	req.Equal("Bob left the room", readJSON(t, ann)["message"])
	req.Equal(map[string]any{"type": "count", "count": float64(1)}, readJSON(t, ann))
	req.Equal(map[string]any{"type": "participants", "participants": []any{"Ann"}}, readJSON(t, ann))
}

func TestRoomSocket_Rejects_Duplicate_Name(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	ann, _, err := srv.dial(t, "/lobby?name=Ann")
	req.NoError(err)
	readJSON(t, ann)

	// When a second Ann tries the same room
	_, resp, err := srv.dial(t, "/lobby?name=Ann")

	// Then the handshake is refused with 409 and the exact reason
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.NotNil(resp)
	req.Equal(http.StatusConflict, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Equal("Name 'Ann' is already in use", string(body))

	// And the room still has one member
	req.Equal(1, srv.registry.Count("lobby"))

	var rejections []models.Rejection
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rejections", &rejections))
	req.Len(rejections, 1)
	req.Equal("Ann", rejections[0].DisplayName)
}

func TestRoomSocket_Plain_HTTP_Is_Wrong_Place(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/lobby")
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusUpgradeRequired, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Equal(handlers.WrongPlaceMessage, string(body))
}

func TestAPI_Rooms_And_Participants(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	for _, path := range []string{"/lobby?name=Ann", "/lobby?name=Bob", "/floor/2?name=Cy"} {
		conn, _, err := srv.dial(t, path)
		req.NoError(err)
		readJSON(t, conn)
	}

	var rooms handlers.RoomsResponse
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rooms", &rooms))
	req.Equal([]ws.RoomSummary{{Name: "floor/2", Count: 1}, {Name: "lobby", Count: 2}}, rooms.Rooms)

	var participants handlers.ParticipantsResponse
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rooms/lobby/participants", &participants))
	req.Equal(handlers.ParticipantsResponse{Room: "lobby", Count: 2, Participants: []string{"Ann", "Bob"}}, participants)

	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rooms/floor/2/participants", &participants))
	req.Equal([]string{"Cy"}, participants.Participants)

	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rooms/empty/participants", &participants))
	req.Equal(0, participants.Count)
	req.Empty(participants.Participants)

	var status handlers.StatusResponse
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/status", &status))
	req.Equal(2, status.ActiveRooms)
	req.Equal(3, status.ActiveParticipants)
	req.NotNil(status.Ledger)
	req.Equal(3, status.Ledger.Total)
	req.Equal(3, status.Ledger.Open)
}

func TestAPI_Session_Ledger(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	ann, _, err := srv.dial(t, "/lobby?name=Ann&translate_to=fr")
	req.NoError(err)
	readJSON(t, ann)
	req.NoError(ann.WriteMessage(websocket.TextMessage, []byte("hello")))
	ann.Close()

	// Then the session is closed once the relay ends
	var sessions []models.Session
	req.Eventually(func() bool {
		sessions = nil
		getJSON(t, srv.URL+"/api/rooms/lobby/sessions", &sessions)
		return len(sessions) == 1 && !sessions[0].Open()
	}, 2*time.Second, 20*time.Millisecond)

	req.Equal("Ann", sessions[0].DisplayName)
	req.Equal("fr", sessions[0].TranslateTo)
	req.Equal("jp", sessions[0].TranscribeTo)
	req.Equal(models.EndReasonDisconnected, *sessions[0].EndReason)
	req.Zero(srv.registry.Total())
}

func TestAPI_Health_NotFound_And_Limits(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	var health handlers.HealthResponse
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/health", &health))
	req.Equal(handlers.HealthResponse{Status: "healthy", DBConnected: true}, health)

	var apiErr map[string]any
	req.Equal(http.StatusNotFound, getJSON(t, srv.URL+"/api/nope", &apiErr))
	req.Equal("not_found", apiErr["error"])

	req.Equal(http.StatusBadRequest, getJSON(t, srv.URL+"/api/rejections?limit=abc", &apiErr))
	req.Equal("bad_request", apiErr["error"])

	req.Equal(http.StatusBadRequest, getJSON(t, srv.URL+"/api/rejections?limit=0", &apiErr))
	req.Equal("validation_error", apiErr["error"])
}

func TestAPI_CORS_Preflight(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	preflight, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/rooms", nil)
	req.NoError(err)
	preflight.Header.Set("Origin", "https://dashboard.example")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(preflight)
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetrics_Endpoint(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Contains(string(body), "room_relay_messages_relayed_total")
}

func TestRoomSocket_API_Paths_Are_Rooms_For_Upgrades(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	for _, tc := range []struct{ path, room string }{
		{path: "/metrics?name=Ann", room: "metrics"},
		{path: "/api/chat?name=Ann", room: "api/chat"},
		{path: "/api/rooms?name=Ann", room: "api/rooms"},
	} {
		conn, _, err := srv.dial(t, tc.path)
		req.NoError(err, tc.path)
		req.Equal("You joined the room '"+tc.room+"'", readJSON(t, conn)["message"])
		req.Equal(1, srv.registry.Count(tc.room))
	}

	// Plain requests still reach the API
	var rooms handlers.RoomsResponse
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rooms", &rooms))
	req.Len(rooms.Rooms, 3)

	resp, err := http.Get(srv.URL + "/metrics")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestRoomSocket_Room_Keeps_Percent_Encoding(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	conn, _, err := srv.dial(t, "/my%20room?name=Ann")
	req.NoError(err)
	req.Equal("You joined the room 'my%20room'", readJSON(t, conn)["message"])
	req.Equal(1, srv.registry.Count("my%20room"))
	req.Zero(srv.registry.Count("my room"))

	var participants handlers.ParticipantsResponse
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/api/rooms/my%20room/participants", &participants))
	req.Equal("my%20room", participants.Room)
	req.Equal([]string{"Ann"}, participants.Participants)
}

func TestRoomSocket_Shutdown_Closes_Sessions(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	conn, _, err := srv.dial(t, "/lobby?name=Ann")
	req.NoError(err)
	readJSON(t, conn)

	// When the server context is cancelled
	srv.shutdown()

	// Then every relay finishes, ledger write included
	done := make(chan struct{})
	go func() {
		srv.relays.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("relays did not finish after shutdown")
	}

	list, err := srv.sessions.ListByRoom(context.Background(), "lobby", 10)
	req.NoError(err)
	req.Len(list, 1)
	req.False(list[0].Open())
	req.Equal(models.EndReasonShutdown, *list[0].EndReason)
	req.Zero(srv.registry.Total())
}
