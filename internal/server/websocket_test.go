package server

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/assetray/realtime/internal/auth"
	"github.com/assetray/realtime/internal/handler"
	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func newTestStack(t *testing.T) (hub.Registry, string) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	hubMetrics := metrics.New(prometheus.NewRegistry())
	registry := hub.NewInMemoryRegistry(logger, hubMetrics)
	authenticator := auth.NewAuthenticator("test-secret", nil)
	channelValidator := handler.NewChannelValidator()

	router := NewRouter(
		logger,
		hubMetrics,
		handler.NewAuthenticateHandler(authenticator),
		handler.NewSubscribeHandler(channelValidator, registry),
		handler.NewUnsubscribeHandler(channelValidator, registry),
		handler.NewHeartbeatHandler(),
		handler.NewRelayHandler(registry),
		handler.NewCollaborationHandler(registry),
	)

	websocketServer := NewWebSocketServer(logger, &websocket.Upgrader{}, registry, router, 65536, 16)

	mainRouter := mux.NewRouter()
	websocketServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"

	return registry, u.String()
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(time.Second))

	var frame testFrame
	require.NoError(t, conn.ReadJSON(&frame))

	return frame
}

// expectSilence must be the last read on conn; a deadline error poisons
// the websocket for further reads.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))

	var frame testFrame
	assert.Error(t, conn.ReadJSON(&frame))
}

func dial(t *testing.T, wsURL string) (*websocket.Conn, string) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frame := readFrame(t, conn)
	require.Equal(t, hub.EventConnected, frame.Type)
	require.False(t, frame.Timestamp.IsZero())

	var ack ConnectedAck
	require.NoError(t, json.Unmarshal(frame.Data, &ack))
	require.NotEmpty(t, ack.ConnectionId)

	return conn, ack.ConnectionId
}

func send(t *testing.T, conn *websocket.Conn, messageType string, data string) {
	t.Helper()

	frame := `{"type":"` + messageType + `"`
	if data != "" {
		frame += `,"data":` + data
	}
	frame += `}`

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestWebSocketServer_AuthenticateAndSubscribe(t *testing.T) {
	registry, wsURL := newTestStack(t)

	conn, connectionId := dial(t, wsURL)

	send(t, conn, hub.TypeAuthenticate, `{"userId":"u1"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, hub.EventAuthenticated, frame.Type)
	assert.JSONEq(t, `{"success":true,"userId":"u1"}`, string(frame.Data))

	send(t, conn, hub.TypeSubscribe, `{"channel":"tasks"}`)

	frame = readFrame(t, conn)
	assert.Equal(t, hub.EventSubscribed, frame.Type)
	assert.JSONEq(t, `{"channel":"tasks"}`, string(frame.Data))

	assert.Contains(t, registry.SubscribersOf("tasks"), connectionId)
}

func TestWebSocketServer_BroadcastTargeting(t *testing.T) {
	_, wsURL := newTestStack(t)

	taskClient, _ := dial(t, wsURL)
	assetClient, _ := dial(t, wsURL)
	producer, _ := dial(t, wsURL)

	send(t, taskClient, hub.TypeSubscribe, `{"channel":"tasks"}`)
	readFrame(t, taskClient)
	send(t, assetClient, hub.TypeSubscribe, `{"channel":"assets"}`)
	readFrame(t, assetClient)

	send(t, producer, hub.TypeTaskUpdate, `{"id":"t1","title":"repaint"}`)

	frame := readFrame(t, taskClient)
	assert.Equal(t, hub.EventTaskUpdated, frame.Type)
	assert.JSONEq(t, `{"id":"t1","title":"repaint"}`, string(frame.Data))

	expectSilence(t, assetClient)
}

func TestWebSocketServer_UnsubscribeStopsDelivery(t *testing.T) {
	_, wsURL := newTestStack(t)

	client, _ := dial(t, wsURL)
	producer, _ := dial(t, wsURL)

	send(t, client, hub.TypeSubscribe, `{"channel":"assets"}`)
	readFrame(t, client)
	send(t, client, hub.TypeUnsubscribe, `{"channel":"assets"}`)

	frame := readFrame(t, client)
	assert.Equal(t, hub.EventUnsubscribed, frame.Type)

	send(t, producer, hub.TypeAssetUpdate, `{"id":"a1"}`)

	// A heartbeat reply arriving first proves the update never did.
	send(t, client, hub.TypeHeartbeat, "")
	frame = readFrame(t, client)
	assert.Equal(t, hub.EventHeartbeat, frame.Type)
}

func TestWebSocketServer_MalformedFrame(t *testing.T) {
	_, wsURL := newTestStack(t)

	conn, _ := dial(t, wsURL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-json")))

	frame := readFrame(t, conn)
	assert.Equal(t, hub.EventError, frame.Type)

	// The connection stays open and usable.
	send(t, conn, hub.TypeHeartbeat, "")
	frame = readFrame(t, conn)
	assert.Equal(t, hub.EventHeartbeat, frame.Type)
}

func TestWebSocketServer_MalformedPayload(t *testing.T) {
	registry, wsURL := newTestStack(t)

	conn, connectionId := dial(t, wsURL)

	send(t, conn, hub.TypeSubscribe, `"not-an-object"`)

	frame := readFrame(t, conn)
	assert.Equal(t, hub.EventError, frame.Type)
	assert.Contains(t, string(frame.Data), "InvalidArgument")

	// No state mutation happened.
	assert.Empty(t, registry.Subscriptions(connectionId))
}

func TestWebSocketServer_UnknownTypeIgnored(t *testing.T) {
	_, wsURL := newTestStack(t)

	conn, _ := dial(t, wsURL)

	send(t, conn, "telepathy", `{"thought":"hello"}`)
	send(t, conn, hub.TypeHeartbeat, "")

	// The heartbeat reply is the next frame; the unknown type produced
	// neither a reply nor an error.
	frame := readFrame(t, conn)
	assert.Equal(t, hub.EventHeartbeat, frame.Type)
}

func TestWebSocketServer_HeartbeatAck(t *testing.T) {
	registry, wsURL := newTestStack(t)

	conn, connectionId := dial(t, wsURL)

	connection, ok := registry.Get(connectionId)
	require.True(t, ok)
	before := connection.LastHeartbeatAt()

	send(t, conn, hub.TypeHeartbeatAck, "")

	require.Eventually(t, func() bool {
		return connection.LastHeartbeatAt().After(before)
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_DisconnectCleansUp(t *testing.T) {
	registry, wsURL := newTestStack(t)

	conn, connectionId := dial(t, wsURL)

	send(t, conn, hub.TypeSubscribe, `{"channel":"tasks"}`)
	readFrame(t, conn)

	conn.Close()

	require.Eventually(t, func() bool {
		_, ok := registry.Get(connectionId)
		return !ok
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, registry.SubscribersOf("tasks"))
}

func TestWebSocketServer_CollaborationFlow(t *testing.T) {
	_, wsURL := newTestStack(t)

	clientA, _ := dial(t, wsURL)
	clientB, _ := dial(t, wsURL)

	send(t, clientA, hub.TypeAuthenticate, `{"userId":"u1"}`)
	readFrame(t, clientA)
	send(t, clientB, hub.TypeAuthenticate, `{"userId":"u2"}`)
	readFrame(t, clientB)

	send(t, clientA, hub.TypeJoinCollaboration, `{"sessionId":"s1"}`)

	frame := readFrame(t, clientA)
	assert.Equal(t, hub.EventCollaborationUpdate, frame.Type)
	assert.JSONEq(t, `{"action":"user_joined","sessionId":"s1","userId":"u1"}`, string(frame.Data))

	send(t, clientB, hub.TypeJoinCollaboration, `{"sessionId":"s1"}`)

	// A sees B's join, B sees its own.
	frame = readFrame(t, clientA)
	assert.JSONEq(t, `{"action":"user_joined","sessionId":"s1","userId":"u2"}`, string(frame.Data))
	frame = readFrame(t, clientB)
	assert.JSONEq(t, `{"action":"user_joined","sessionId":"s1","userId":"u2"}`, string(frame.Data))

	send(t, clientA, hub.TypeCollaborationUpdate, `{"sessionId":"s1","foo":"bar"}`)

	frame = readFrame(t, clientB)
	assert.Equal(t, hub.EventCollaborationUpdate, frame.Type)
	assert.JSONEq(t, `{"sessionId":"s1","foo":"bar"}`, string(frame.Data))

	// The sender does not receive its own update; the next frame it
	// sees is the heartbeat reply.
	send(t, clientA, hub.TypeHeartbeat, "")
	frame = readFrame(t, clientA)
	assert.Equal(t, hub.EventHeartbeat, frame.Type)

	send(t, clientA, hub.TypeLeaveCollaboration, `{"sessionId":"s1"}`)

	frame = readFrame(t, clientB)
	assert.JSONEq(t, `{"action":"user_left","sessionId":"s1","userId":"u1"}`, string(frame.Data))
}
