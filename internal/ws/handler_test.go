package ws

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bken/signaling/internal/core"
	"bken/signaling/internal/hub"
	"bken/signaling/internal/protocol"
	"bken/signaling/internal/router"
	"bken/signaling/internal/schedule"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	h := hub.New(16, nil)
	reg := core.NewRegistry(core.NewMemStore(), schedule.New(nil), h, core.DefaultOptions(), nil)
	r := router.New(reg, h, nil, nil)

	e := echo.New()
	NewHandler(r, h, DefaultOptions(), nil).Register(e)
	httpServer := httptest.NewServer(e)
	t.Cleanup(httpServer.Close)

	return "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func dial(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.WriteJSON(protocol.MustNew(event, payload)))
}

// readUntil returns the first message with the given event. A read deadline
// error leaves a gorilla conn unusable, so one deadline covers the whole wait.
func readUntil(t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(4*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			if into != nil {
				require.NoError(t, msg.Decode(into))
			}
			return
		}
	}
}

func TestConnectIssuesSessionToken(t *testing.T) {
	wsURL := startTestServer(t)
	conn := dial(t, wsURL, "")

	var created protocol.SessionCreated
	readUntil(t, conn, protocol.EventSessionCreated, &created)
	assert.NotEmpty(t, created.Token)
}

func TestCreateJoinAndSignal(t *testing.T) {
	wsURL := startTestServer(t)
	alice := dial(t, wsURL, "")
	bob := dial(t, wsURL, "")
	readUntil(t, alice, protocol.EventSessionCreated, nil)
	readUntil(t, bob, protocol.EventSessionCreated, nil)

	send(t, alice, protocol.EventCreateRoom, protocol.CreateRoom{Category: "chess"})
	var room protocol.RoomCreated
	readUntil(t, alice, protocol.EventRoomCreated, &room)
	require.NotEmpty(t, room.RoomID)

	send(t, bob, protocol.EventListRooms, protocol.ListRooms{Category: "chess"})
	var list protocol.RoomList
	readUntil(t, bob, protocol.EventRoomList, &list)
	require.Len(t, list.Rooms, 1)

	send(t, bob, protocol.EventJoinRoom, protocol.RoomRef{RoomID: room.RoomID})
	var joined protocol.RoomJoined
	readUntil(t, bob, protocol.EventRoomJoined, &joined)
	require.Len(t, joined.Peers, 2)

	var arrival protocol.PeerEvent
	readUntil(t, alice, protocol.EventPeerJoined, &arrival)

	send(t, alice, protocol.EventSignal, protocol.SignalIn{
		PeerID: arrival.PeerID,
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	var sig protocol.SignalOut
	readUntil(t, bob, protocol.EventSignal, &sig)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Signal))
	assert.NotEqual(t, arrival.PeerID, sig.PeerID)
}

func TestReconnectWithTokenRestoresHost(t *testing.T) {
	wsURL := startTestServer(t)
	alice := dial(t, wsURL, "")
	bob := dial(t, wsURL, "")

	var session protocol.SessionCreated
	readUntil(t, alice, protocol.EventSessionCreated, &session)
	readUntil(t, bob, protocol.EventSessionCreated, nil)

	send(t, alice, protocol.EventCreateRoom, protocol.CreateRoom{Category: "chess"})
	var room protocol.RoomCreated
	readUntil(t, alice, protocol.EventRoomCreated, &room)
	send(t, bob, protocol.EventJoinRoom, protocol.RoomRef{RoomID: room.RoomID})
	readUntil(t, bob, protocol.EventRoomJoined, nil)

	require.NoError(t, alice.Close())
	readUntil(t, bob, protocol.EventPeerDisconnected, nil)

	again := dial(t, wsURL, session.Token)
	var offer protocol.ReconnectionPossible
	readUntil(t, again, protocol.EventReconnectionPossible, &offer)
	assert.Equal(t, room.RoomID, offer.RoomID)

	send(t, again, protocol.EventRejoinRoom, protocol.RoomRef{RoomID: offer.RoomID})
	var joined protocol.RoomJoined
	readUntil(t, again, protocol.EventRoomJoined, &joined)
	assert.True(t, joined.IsHost)

	var rejoined protocol.PeerRejoined
	readUntil(t, bob, protocol.EventPeerRejoined, &rejoined)
	assert.NotEmpty(t, rejoined.PreviousID)
	assert.Len(t, rejoined.Peers, 2)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	wsURL := startTestServer(t)
	conn := dial(t, wsURL, "")
	readUntil(t, conn, protocol.EventSessionCreated, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var failure protocol.Error
	readUntil(t, conn, protocol.EventError, &failure)
	assert.Equal(t, string(core.CodeInvalidInput), failure.Code)

	send(t, conn, protocol.EventPing, nil)
	readUntil(t, conn, protocol.EventPong, nil)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, nil, Options{AllowedOrigin: "https://game.example"}, nil)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://game.example")
	assert.True(t, h.checkOrigin(req))
}
