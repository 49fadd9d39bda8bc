// ABOUTME: End-to-end tests for the websocket endpoint over a real httptest server
// ABOUTME: Verifies handshake authentication, roster delivery, dispatch, and leave on disconnect

package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/auth"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/presence"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!"

// echoDispatcher answers every frame with an "echo" event carrying the same data.
type echoDispatcher struct{ hub *realtime.Hub }

func (d echoDispatcher) HandleFrame(ctx context.Context, connID string, f realtime.Frame) {
	d.hub.Emit(connID, "echo", f.Data)
}

type endpointFixture struct {
	srv      *httptest.Server
	registry *presence.Registry
	store    *store.MockStore
	tokens   *auth.JWTVerifier
	endpoint *Endpoint
}

func newEndpointFixture(t *testing.T) *endpointFixture {
	t.Helper()
	st := store.NewMockStore()
	st.AddUser("1", "alice")
	st.AddUser("2", "bob")

	verifier := auth.NewJWTVerifier([]byte(testSecret))
	reg := presence.NewRegistry("chat", presence.Options{Supersede: true}, slog.Default())
	hub := realtime.NewHub("chat", slog.Default())
	mgr := NewManager(reg, hub, hub, verifier, st, slog.Default())
	ep := NewEndpoint(mgr, hub, echoDispatcher{hub: hub}, realtime.NewUpgrader(nil), realtime.DefaultConnOptions(), slog.Default())

	srv := httptest.NewServer(ep)
	t.Cleanup(srv.Close)
	return &endpointFixture{srv: srv, registry: reg, store: st, tokens: verifier, endpoint: ep}
}

func (f *endpointFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (f *endpointFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.tokens.Generate(userID, "", time.Hour)
	require.NoError(t, err)
	return tok
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

func TestEndpoint_RejectsMissingAndInvalidCredentials(t *testing.T) {
	f := newEndpointFixture(t)

	for _, token := range []string{"", "not-a-jwt"} {
		ws := f.dial(t, token)
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := ws.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, "token %q", token)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	}
	assert.Equal(t, 0, f.registry.Count())
}

func TestEndpoint_JoinDispatchAndLeave(t *testing.T) {
	f := newEndpointFixture(t)

	alice := f.dial(t, f.token(t, "1"))
	assert.Equal(t, EventOnlineUsers, read(t, alice).Event)

	// Browsers pass the token in the query string.
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "?token=" + f.token(t, "2")
	bob, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, EventOnlineUsers, read(t, bob).Event)
	assert.Equal(t, EventUserConnected, read(t, alice).Event)

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"event":"anything","data":{"n":1}}`)))
	echo := read(t, bob)
	assert.Equal(t, "echo", echo.Event)
	assert.JSONEq(t, `{"n":1}`, string(echo.Data))

	require.NoError(t, bob.Close())
	left := read(t, alice)
	assert.Equal(t, EventUserDisconnected, left.Event)

	require.Eventually(t, func() bool { return f.registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	u, err := f.store.FindUserByID(context.Background(), "2")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func TestEndpoint_NewerConnectionReplacesOlder(t *testing.T) {
	f := newEndpointFixture(t)

	first := f.dial(t, f.token(t, "1"))
	read(t, first)
	second := f.dial(t, f.token(t, "1"))
	read(t, second)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	var closeErr *websocket.CloseError
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			require.ErrorAs(t, err, &closeErr)
			break
		}
	}
	assert.Equal(t, CloseSuperseded, closeErr.Code)
	assert.Equal(t, 1, f.registry.Count())
}

func TestEndpoint_DrainWaitsForLeave(t *testing.T) {
	f := newEndpointFixture(t)

	alice := f.dial(t, f.token(t, "1"))
	read(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.endpoint.Drain(ctx))

	// Drain returns only after the offline status was written.
	calls := f.store.OnlineCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, store.OnlineCall{UserID: "1", Online: false}, calls[len(calls)-1])
	assert.Equal(t, 0, f.registry.Count())

	var closeErr *websocket.CloseError
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestEndpoint_RefusesConnectionsWhileDraining(t *testing.T) {
	f := newEndpointFixture(t)
	require.NoError(t, f.endpoint.Drain(context.Background()))

	ws := f.dial(t, f.token(t, "1"))
	var closeErr *websocket.CloseError
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Empty(t, f.store.OnlineCalls())
}
