// ABOUTME: REST handlers for presence snapshots, unread counts, and health checks
// ABOUTME: The websocket namespaces and account routes are mounted in gateway.go

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/auth"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/presence"
)

// OnlineResponse is the JSON response for GET /api/online.
type OnlineResponse struct {
	Namespace string              `json:"namespace"`
	Users     []presence.Identity `json:"users"`
}

// UnreadResponse is the JSON response for GET /api/messages/unread.
type UnreadResponse struct {
	UserID string `json:"userId"`
	Unread int    `json:"unread"`
}

// handleOnline handles GET /api/online, returning the roster of one namespace.
// The namespace defaults to chat and is chosen with ?namespace=.
func (g *Gateway) handleOnline(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("namespace")
	if name == "" {
		name = NamespaceChat
	}

	registry, ok := g.Registry(name)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown namespace")
		return
	}

	g.sendJSON(w, http.StatusOK, OnlineResponse{Namespace: name, Users: registry.Roster()})
}

// handleUnread handles GET /api/messages/unread for the authenticated user.
func (g *Gateway) handleUnread(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	if claims == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := g.store.CountUnread(r.Context(), claims.UserID)
	if err != nil {
		g.logger.Error("failed to count unread messages", "user_id", claims.UserID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, UnreadResponse{UserID: claims.UserID, Unread: n})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response with the given status code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
