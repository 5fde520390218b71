package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrigin = "http://localhost:8080"

type testRoom struct {
	hub    *Hub
	server *httptest.Server
	wsURL  string
}

// newTestRoom starts a hub behind a real HTTP server. Everything is torn down
// when the test ends.
func newTestRoom(t *testing.T, opts ...func(*Config)) *testRoom {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	for _, opt := range opts {
		opt(cfg)
	}
	log := zap.NewNop()

	hub := NewHub(*cfg, log)
	go hub.Run()

	ts := httptest.NewServer(SetupRoutes(NewHandlers(hub, *cfg, log), log))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testRoom{
		hub:    hub,
		server: ts,
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// connect dials the room and consumes the connect event, returning the
// connection and the id the server assigned to it.
func (r *testRoom) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(r.wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var connected Connected
	readEvent(t, conn, EventConnect, &connected)
	require.NotEmpty(t, connected.ID)
	return conn, connected.ID
}

func (r *testRoom) postMessage(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(r.server.URL+"/message", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := encodeEvent(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readEvent reads the next frame, checks its event name and decodes its data.
func readEvent(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, event, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// expectNoEvent fails if anything arrives within timeout.
func expectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, frame, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", frame)
}

func TestRoom_Presence_Scenario(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(t)

	// Alice connects and joins
	alice, aliceID := room.connect(t)
	emit(t, alice, EventNewUser, PresenceSubmission{ID: aliceID, Name: "Alice"})
	var roster Roster
	readEvent(t, alice, EventNewConnection, &roster)
	req.Equal([]Participant{{ID: aliceID, Name: "Alice"}}, roster.Participants)

	// Bob connects and joins: both receive the full roster
	bob, bobID := room.connect(t)
	emit(t, bob, EventNewUser, PresenceSubmission{ID: bobID, Name: "Bob"})
	want := []Participant{{ID: aliceID, Name: "Alice"}, {ID: bobID, Name: "Bob"}}
	for _, conn := range []*websocket.Conn{alice, bob} {
		var got Roster
		readEvent(t, conn, EventNewConnection, &got)
		req.Equal(want, got.Participants)
	}

	// Alice renames: both receive the change
	emit(t, alice, EventNameChange, PresenceSubmission{ID: aliceID, Name: "Alicia"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		var changed NameChanged
		readEvent(t, conn, EventNameChanged, &changed)
		req.Equal(NameChanged{ID: aliceID, Name: "Alicia"}, changed)
	}

	// Bob disconnects: Alice is told, the roster only holds her
	req.NoError(bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	var gone ParticipantDisconnected
	readEvent(t, alice, EventUserDisconnected, &gone)
	req.Equal(ParticipantDisconnected{ID: bobID, Sender: "system"}, gone)
	req.Equal([]Participant{{ID: aliceID, Name: "Alicia"}}, room.hub.Snapshot())
}

func TestRoom_Rename_Cannot_Target_Another_Participant(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(t)

	alice, aliceID := room.connect(t)
	emit(t, alice, EventNewUser, PresenceSubmission{Name: "Alice"})
	var roster Roster
	readEvent(t, alice, EventNewConnection, &roster)

	mallory, _ := room.connect(t)

	// A rename naming Alice's id from a connection that never joined is dropped
	emit(t, mallory, EventNameChange, PresenceSubmission{ID: aliceID, Name: "pwned"})
	expectNoEvent(t, alice, 200*time.Millisecond)
	req.Equal([]Participant{{ID: aliceID, Name: "Alice"}}, room.hub.Snapshot())
}

func TestPostMessage_Broadcasts_To_Everyone(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(t)
	alice, _ := room.connect(t)
	bob, _ := room.connect(t)

	resp := room.postMessage(t, `{"message":"hi","name":"Alice"}`)
	req.Equal(http.StatusOK, resp.StatusCode)

	var body map[string]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Equal("Message received!", body["message"])

	for _, conn := range []*websocket.Conn{alice, bob} {
		var msg ChatMessage
		readEvent(t, conn, EventIncomingMessage, &msg)
		req.Equal(ChatMessage{Message: "hi", Name: "Alice"}, msg)
	}
}

func TestPostMessage_Rejects_Invalid_Submissions(t *testing.T) {
	room := newTestRoom(t)
	listener, _ := room.connect(t)

	for name, body := range map[string]string{
		"empty":     `{"message":"","name":"Alice"}`,
		"blank":     `{"message":"   ","name":"Alice"}`,
		"absent":    `{"name":"Alice"}`,
		"malformed": `{"message":`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := room.postMessage(t, body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var payload map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			require.Equal(t, "Message is invalid", payload["error"])
		})
	}

	expectNoEvent(t, listener, 200*time.Millisecond)
}

func TestPostMessage_Rejects_Oversized_Body(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(t, func(cfg *Config) { cfg.MaxBodySize = 1024 })
	listener, _ := room.connect(t)

	// Just under the limit is still relayed
	fits := `{"message":"` + strings.Repeat("x", 900) + `","name":"Alice"}`
	req.Equal(http.StatusOK, room.postMessage(t, fits).StatusCode)
	var msg ChatMessage
	readEvent(t, listener, EventIncomingMessage, &msg)
	req.Len(msg.Message, 900)

	big := `{"message":"` + strings.Repeat("x", 4096) + `","name":"Alice"}`
	resp := room.postMessage(t, big)
	req.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)

	var payload map[string]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&payload))
	req.Equal("Message is too large", payload["error"])

	expectNoEvent(t, listener, 200*time.Millisecond)
}

func TestHealth(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(t)

	alice, _ := room.connect(t)
	emit(t, alice, EventNewUser, PresenceSubmission{Name: "Alice"})
	var roster Roster
	readEvent(t, alice, EventNewConnection, &roster)

	resp, err := http.Get(room.server.URL + "/health")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("1", resp.Header.Get("X-Participants"))
}

func TestWebSocket_Rejects_Disallowed_Origin(t *testing.T) {
	room := newTestRoom(t)

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(room.wsURL, headers)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIndex_Serves_Client(t *testing.T) {
	req := require.New(t)
	room := newTestRoom(t)

	resp, err := http.Get(room.server.URL + "/")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Contains(resp.Header.Get("Content-Type"), "text/html")
}
