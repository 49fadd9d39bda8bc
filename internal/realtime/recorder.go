// ABOUTME: In-memory Emitter that records delivered events
// ABOUTME: Lets relay, signaling, and session tests assert on who received what without sockets

package realtime

import (
	"encoding/json"
	"sync"

	"github.com/samber/lo"
)

// Recorded is one event delivered to one connection.
type Recorded struct {
	ConnID  string
	Event   string
	Payload json.RawMessage
}

// Recorder is an Emitter backed by memory. Only connections added with
// Connect receive events, mirroring a Hub.
type Recorder struct {
	mu     sync.Mutex
	conns  []string
	events []Recorded
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Connect marks connID as live.
func (r *Recorder) Connect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !lo.Contains(r.conns, connID) {
		r.conns = append(r.conns, connID)
	}
}

// Disconnect marks connID as gone.
func (r *Recorder) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = lo.Without(r.conns, connID)
}

// Emit records the event if connID is live.
func (r *Recorder) Emit(connID, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !lo.Contains(r.conns, connID) {
		return false
	}
	r.record(connID, event, payload)
	return true
}

// EmitMany records the event for each listed connection that is live.
func (r *Recorder) EmitMany(connIDs []string, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range connIDs {
		if lo.Contains(r.conns, id) {
			r.record(id, event, payload)
		}
	}
}

func (r *Recorder) record(connID, event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		raw = data
	}
	r.events = append(r.events, Recorded{ConnID: connID, Event: event, Payload: raw})
}

// Events returns everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// For returns the events delivered to connID.
func (r *Recorder) For(connID string) []Recorded {
	return lo.Filter(r.Events(), func(e Recorded, _ int) bool { return e.ConnID == connID })
}

// Named returns the events with the given name, across all connections.
func (r *Recorder) Named(event string) []Recorded {
	return lo.Filter(r.Events(), func(e Recorded, _ int) bool { return e.Event == event })
}

// Reset forgets recorded events but keeps live connections.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ Emitter = (*Recorder)(nil)
var _ Emitter = (*Hub)(nil)
