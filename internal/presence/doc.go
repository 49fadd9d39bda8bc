// Package presence tracks which authenticated users hold a live connection.
//
// A Registry maps connection ids to identities and back. Each websocket
// namespace owns its own Registry, so presence on the chat channel is
// independent of presence on the call-signaling channel.
//
// When a user registers a second connection in the same namespace, the
// Supersede option decides what happens: with it enabled the earlier
// connections are dropped from the registry and returned for closing; without
// it both stay and lookups resolve to the most recent one.
package presence
