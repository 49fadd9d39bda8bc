// Package gateway wires the realtime chat and call-signaling services into a
// running server.
//
// # Architecture
//
// The gateway owns one presence registry and one websocket hub per namespace:
//
//   - /chat carries messaging (send, history, delivery receipts, typing)
//   - /webrtc carries call negotiation (offer, answer, ICE relay, hang-up)
//
// Each namespace has its own session manager, so a user is tracked separately
// in each. Leaving the webrtc namespace ends that user's calls.
//
// Alongside the websocket endpoints the HTTP mux serves account registration
// and login (/auth/register, /auth/login), presence snapshots (/api/online),
// unread counts (/api/messages/unread), and health checks (/health,
// /health/ready).
//
// # Listeners
//
// By default the gateway listens on the configured TCP addresses. When
// tailscale is enabled it joins the tailnet with tsnet instead and serves HTTP
// on :80 (or :443 with tailnet certificates) and gRPC on :50051. The gRPC
// server carries only the standard health service, whose status follows a
// periodic store ping.
//
// # Lifecycle
//
// Run blocks until its context is canceled, then Shutdown closes every live
// websocket with 1001 (going away), stops pending call timers, and closes the
// store.
package gateway
