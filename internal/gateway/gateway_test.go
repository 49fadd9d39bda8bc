// ABOUTME: End-to-end tests for the gateway over httptest and an in-memory gRPC listener
// ABOUTME: Covers health endpoints, REST presence and unread counts, chat relay, and call teardown on leave

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/chat"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/config"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/session"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/signaling"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

const testConfig = `
server:
  http_addr: "127.0.0.1:0"
database:
  path: ":memory:"
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  bcrypt_cost: 4
`

type testGateway struct {
	gw    *Gateway
	srv   *httptest.Server
	store *store.MockStore
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	cfg, err := config.Parse(".yaml", []byte(testConfig))
	require.NoError(t, err)

	st := store.NewMockStore()
	st.AddUser("1", "alice")
	st.AddUser("2", "bob")

	gw := NewWithStore(cfg, st, slog.Default())
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return &testGateway{gw: gw, srv: srv, store: st}
}

func (tg *testGateway) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := tg.gw.tokens.Generate(userID, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func (tg *testGateway) dial(t *testing.T, namespace, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/" + namespace + "?token=" + tg.token(t, userID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (tg *testGateway) get(t *testing.T, path, userID string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, tg.srv.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tg.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func read(t *testing.T, ws *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	frame, err := realtime.Decode(raw)
	require.NoError(t, err)
	return frame
}

func write(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := realtime.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func TestHealthEndpoints(t *testing.T) {
	tg := newTestGateway(t)

	status, body := tg.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, _ = tg.get(t, "/health/ready", "")
	assert.Equal(t, http.StatusOK, status)

	tg.store.SetFailure(store.OpPing, store.ErrInjected)
	status, _ = tg.get(t, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestOnlineEndpoint(t *testing.T) {
	tg := newTestGateway(t)

	status, _ := tg.get(t, "/api/online", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	alice := tg.dial(t, NamespaceChat, "1")
	assert.Equal(t, session.EventOnlineUsers, read(t, alice).Event)

	status, body := tg.get(t, "/api/online", "2")
	require.Equal(t, http.StatusOK, status)
	var chatRoster OnlineResponse
	require.NoError(t, json.Unmarshal([]byte(body), &chatRoster))
	assert.Equal(t, NamespaceChat, chatRoster.Namespace)
	require.Len(t, chatRoster.Users, 1)
	assert.Equal(t, "alice", chatRoster.Users[0].Username)

	// Namespaces track presence independently.
	status, body = tg.get(t, "/api/online?namespace=webrtc", "2")
	require.Equal(t, http.StatusOK, status)
	var rtcRoster OnlineResponse
	require.NoError(t, json.Unmarshal([]byte(body), &rtcRoster))
	assert.Empty(t, rtcRoster.Users)

	status, _ = tg.get(t, "/api/online?namespace=video", "2")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestChatRelayAndUnreadCount(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, NamespaceChat, "1")
	read(t, alice) // online_users
	bob := tg.dial(t, NamespaceChat, "2")
	read(t, bob) // online_users
	assert.Equal(t, session.EventUserConnected, read(t, alice).Event)

	write(t, alice, chat.EventSendMessage, map[string]any{"content": "hi", "receiverId": 2})

	got := read(t, bob)
	require.Equal(t, chat.EventNewMessage, got.Event)
	var msg chat.MessageView
	require.NoError(t, got.DecodeData(&msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "alice", msg.Sender.Username)
	assert.Equal(t, chat.EventNewMessage, read(t, alice).Event)

	status, body := tg.get(t, "/api/messages/unread", "2")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"userId":"2","unread":1}`, body)
}

func TestShutdownMarksUsersOfflineBeforeClosingStore(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, NamespaceChat, "1")
	read(t, alice) // online_users
	bob := tg.dial(t, NamespaceWebRTC, "2")
	read(t, bob) // online_users

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tg.gw.Shutdown(ctx))

	last := map[string]bool{}
	for _, c := range tg.store.OnlineCalls() {
		last[c.UserID] = c.Online
	}
	assert.Equal(t, map[string]bool{"1": false, "2": false}, last)
}

func TestLeavingWebRTCEndsCall(t *testing.T) {
	tg := newTestGateway(t)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	_, err = pc.CreateDataChannel("call", nil)
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)

	alice := tg.dial(t, NamespaceWebRTC, "1")
	read(t, alice) // online_users
	bob := tg.dial(t, NamespaceWebRTC, "2")
	read(t, bob)   // online_users
	read(t, alice) // user_connected

	write(t, alice, signaling.EventCallUser, map[string]any{"to": "2", "offer": offer})
	assert.Equal(t, signaling.EventIncomingCall, read(t, bob).Event)
	require.Len(t, tg.gw.coordinator.Attempts(), 1)

	require.NoError(t, alice.Close())

	assert.Equal(t, session.EventUserDisconnected, read(t, bob).Event)
	assert.Equal(t, signaling.EventCallEnded, read(t, bob).Event)
	assert.Empty(t, tg.gw.coordinator.Attempts())
}

func TestGRPCHealthFollowsStore(t *testing.T) {
	tg := newTestGateway(t)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = tg.gw.grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	tg.store.SetFailure(store.OpPing, store.ErrInjected)
	tg.gw.checkStore(ctx)

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/rtc")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rtc", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, "rtc-chat/tailscale"))
}
