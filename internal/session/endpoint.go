// ABOUTME: Websocket endpoint that upgrades a request and drives one connection through its session
// ABOUTME: Authentication happens on the handshake; inbound frames go to the namespace dispatcher

package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/auth"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
)

// Dispatcher handles the inbound frames of authenticated connections.
type Dispatcher interface {
	HandleFrame(ctx context.Context, connID string, frame realtime.Frame)
}

// Endpoint serves one namespace's websocket path.
type Endpoint struct {
	manager    *Manager
	hub        *realtime.Hub
	dispatcher Dispatcher
	upgrader   *websocket.Upgrader
	connOpts   realtime.ConnOptions
	logger     *slog.Logger

	active   sync.WaitGroup
	draining atomic.Bool
}

// NewEndpoint creates the http.Handler for a namespace.
func NewEndpoint(manager *Manager, hub *realtime.Hub, dispatcher Dispatcher, upgrader *websocket.Upgrader, connOpts realtime.ConnOptions, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		manager:    manager,
		hub:        hub,
		dispatcher: dispatcher,
		upgrader:   upgrader,
		connOpts:   connOpts,
		logger:     logger.With("component", "endpoint", "namespace", manager.Registry().Name()),
	}
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade hijacks the connection, while http.Server
	// still tracks the request.
	e.active.Add(1)
	defer e.active.Done()

	// Read the credential before upgrading; a missing one is handled below
	// so that every failure closes the socket the same way.
	token, _ := auth.CredentialFromRequest(r)

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := realtime.NewConn(ws, e.connOpts, e.logger)
	ctx := r.Context()

	// Tracked before Open so the roster sent on join can reach it. Fan-out
	// targets come from the registry, so an unauthenticated socket receives nothing.
	e.hub.Add(conn)
	if e.draining.Load() {
		e.hub.Remove(conn.ID())
		conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	if _, err := e.manager.Open(ctx, conn.ID(), token); err != nil {
		e.hub.Remove(conn.ID())
		code, reason := closeCodeFor(err)
		conn.Close(code, reason)
		return
	}

	defer func() {
		e.hub.Remove(conn.ID())
		// The request context is already cancelled by now; leaving must still
		// reach the store.
		e.manager.Close(context.WithoutCancel(ctx), conn.ID())
	}()

	err = conn.Run(ctx, func(ctx context.Context, c *realtime.Conn, frame realtime.Frame) {
		e.dispatcher.HandleFrame(ctx, c.ID(), frame)
	})
	if err != nil {
		e.logger.Debug("connection ended with error", "conn_id", conn.ID(), "error", err)
	}
}

// Drain closes every connection of the namespace and waits until each one has
// finished leaving, so their offline status reaches the store. It gives up
// when ctx ends.
func (e *Endpoint) Drain(ctx context.Context) error {
	e.draining.Store(true)
	e.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		e.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
