// Package realtime is the websocket transport shared by the chat and call
// signaling namespaces.
//
// Frames are JSON objects of the form {"event": "...", "data": {...}}. Each
// Conn runs one reader goroutine that hands frames to a handler in arrival
// order, and one writer goroutine that drains a bounded queue and sends
// keepalive pings. Sending never blocks: a full queue drops the frame for that
// client only, and sending to a closed connection does nothing.
//
// A Hub tracks the connections of one namespace and implements Emitter for
// unicast and targeted fan-out. Recorder is an in-memory Emitter for tests.
package realtime
