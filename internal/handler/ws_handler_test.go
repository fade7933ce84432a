package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecomstack/gateway-api/internal/models"
	"github.com/ecomstack/gateway-api/internal/service"
	"github.com/ecomstack/gateway-api/internal/ws"
	"github.com/ecomstack/gateway-api/pkg/config"
)

func newWSServer(t *testing.T) (*httptest.Server, *ws.Hub, *service.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := service.NewTokenService(service.TokenConfig{Secret: "secret", Issuer: "gateway-test", Expiration: time.Hour})
	hub := ws.NewHub(zap.NewNop())
	authorizer := ws.NewSubscriptionAuthorizer(service.NewMetricsService(), zap.NewNop())
	wsh := NewWSHandler(tokens, hub, authorizer, config.WSConfig{WriteTimeout: time.Second}, zap.NewNop())

	r := gin.New()
	r.GET("/ws", wsh.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, tokens
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame *ws.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame.Marshal()))
}

func readFrame(t *testing.T, conn *websocket.Conn) *ws.Frame {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := ws.Parse(raw)
	require.NoError(t, err)
	return frame
}

func accessTokenFor(t *testing.T, tokens *service.TokenService, username string, role models.UserRole) string {
	t.Helper()
	signed, _, err := tokens.IssueAccessToken(&models.User{ID: "u-" + username, Username: username, Role: role})
	require.NoError(t, err)
	return signed
}

// waitForDelivery publishes until the hub reaches the expected fan-out,
// covering the window before the server processes the SUBSCRIBE frame.
func waitForDelivery(t *testing.T, hub *ws.Hub, destination string, body []byte, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Publish(destination, body) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("destination %s never reached %d subscribers", destination, want)
}

func TestWSSubscribeAndReceive(t *testing.T) {
	srv, hub, tokens := newWSServer(t)

	conn := dialWS(t, srv, accessTokenFor(t, tokens, "alice", models.RoleCustomer))

	sendFrame(t, conn, ws.NewFrame(ws.CommandConnect, map[string]string{"accept-version": "1.2"}))
	connected := readFrame(t, conn)
	assert.Equal(t, ws.CommandConnected, connected.Command)

	sendFrame(t, conn, ws.NewFrame(ws.CommandSubscribe, map[string]string{
		"id":          "sub-0",
		"destination": "/topic/orders/alice",
	}))

	waitForDelivery(t, hub, "/topic/orders/alice", []byte(`{"orderId":"o-1","status":"SHIPPED"}`), 1)

	message := readFrame(t, conn)
	assert.Equal(t, ws.CommandMessage, message.Command)
	assert.Equal(t, "/topic/orders/alice", message.Header("destination"))
	assert.Equal(t, "sub-0", message.Header("subscription"))
	assert.Contains(t, string(message.Body), "SHIPPED")
}

func TestWSDeniedSubscriptionIsSilentlyDropped(t *testing.T) {
	srv, hub, tokens := newWSServer(t)

	conn := dialWS(t, srv, accessTokenFor(t, tokens, "bob", models.RoleCustomer))

	sendFrame(t, conn, ws.NewFrame(ws.CommandConnect, nil))
	readFrame(t, conn)

	// Bob tries to watch Alice's orders, then subscribes somewhere legal.
	// Frames are processed in order, so once the inventory subscription is
	// live the denied one has been evaluated too.
	sendFrame(t, conn, ws.NewFrame(ws.CommandSubscribe, map[string]string{
		"id":          "sub-0",
		"destination": "/topic/orders/alice",
	}))
	sendFrame(t, conn, ws.NewFrame(ws.CommandSubscribe, map[string]string{
		"id":          "sub-1",
		"destination": "/topic/inventory",
	}))

	waitForDelivery(t, hub, "/topic/inventory", []byte(`{}`), 1)
	assert.Equal(t, 0, hub.Publish("/topic/orders/alice", []byte(`{}`)))

	// The only frames on the wire are for the inventory subscription.
	frame := readFrame(t, conn)
	assert.Equal(t, "/topic/inventory", frame.Header("destination"))
}

func TestWSHandshakeNeverRejects(t *testing.T) {
	srv, hub, _ := newWSServer(t)

	// A garbage token still upgrades; the session is just anonymous.
	conn := dialWS(t, srv, "garbage")

	sendFrame(t, conn, ws.NewFrame(ws.CommandConnect, nil))
	assert.Equal(t, ws.CommandConnected, readFrame(t, conn).Command)

	// Anonymous clients can watch the shared inventory feed.
	sendFrame(t, conn, ws.NewFrame(ws.CommandSubscribe, map[string]string{
		"id":          "sub-0",
		"destination": "/topic/inventory",
	}))
	waitForDelivery(t, hub, "/topic/inventory", []byte(`{"sku":"A-1"}`), 1)
	assert.Equal(t, "/topic/inventory", readFrame(t, conn).Header("destination"))

	// But not anyone's private topics.
	sendFrame(t, conn, ws.NewFrame(ws.CommandSubscribe, map[string]string{
		"id":          "sub-1",
		"destination": "/topic/notifications/alice",
	}))
	waitForDelivery(t, hub, "/topic/inventory", []byte(`{}`), 1)
	assert.Equal(t, 0, hub.Publish("/topic/notifications/alice", nil))
}

func TestWSAdminBroadcastOverSend(t *testing.T) {
	srv, hub, tokens := newWSServer(t)

	admin := dialWS(t, srv, accessTokenFor(t, tokens, "root", models.RoleAdmin))
	sendFrame(t, admin, ws.NewFrame(ws.CommandConnect, nil))
	readFrame(t, admin)

	viewer := dialWS(t, srv, "")
	sendFrame(t, viewer, ws.NewFrame(ws.CommandConnect, nil))
	readFrame(t, viewer)
	sendFrame(t, viewer, ws.NewFrame(ws.CommandSubscribe, map[string]string{
		"id":          "sub-0",
		"destination": "/topic/inventory",
	}))
	waitForDelivery(t, hub, "/topic/inventory", []byte(`{}`), 1)
	readFrame(t, viewer) // drain the sync publish

	send := ws.NewFrame(ws.CommandSend, map[string]string{"destination": "/topic/inventory"})
	send.Body = []byte(`{"sku":"B-2","stock":0}`)
	sendFrame(t, admin, send)

	message := readFrame(t, viewer)
	assert.Equal(t, ws.CommandMessage, message.Command)
	assert.Contains(t, string(message.Body), "B-2")
}
