// ABOUTME: Websocket upgrader with an origin allow-list
// ABOUTME: An empty list accepts any origin; requests without an Origin header are always allowed

package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// NewUpgrader returns an upgrader that accepts the given origins.
// "*" or an empty list allows every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Native clients don't send an Origin header.
			if origin == "" || allowAll {
				return true
			}
			return allowed[strings.TrimRight(strings.ToLower(origin), "/")]
		},
	}
}
