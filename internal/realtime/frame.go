// ABOUTME: JSON frame format exchanged over websocket namespaces
// ABOUTME: Every frame is {"event": name, "data": payload}; error frames carry a message and timestamp

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrEmptyEvent is returned when a frame has no event name.
var ErrEmptyEvent = errors.New("frame has no event name")

// Frame is one message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventError is the outbound event used to report failures to a client.
const EventError = "error"

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewErrorPayload builds an error payload stamped with the current time.
func NewErrorPayload(msg string) ErrorPayload {
	return ErrorPayload{Message: msg, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// Encode marshals event and payload into a frame. A nil payload omits data.
func Encode(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// Decode parses a raw websocket message into a frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, ErrEmptyEvent
	}
	return f, nil
}

// DecodeData unmarshals the frame payload into v. An absent payload leaves v untouched.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", f.Event, err)
	}
	return nil
}

// UserRef is a user id in an inbound payload. Clients send ids either as
// strings or as JSON numbers; both decode to the same string.
type UserRef string

// UnmarshalJSON accepts a string, an integer, or null.
func (u *UserRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*u = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*u = UserRef(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or an integer: %s", b)
	}
	*u = UserRef(strconv.FormatInt(n, 10))
	return nil
}

// String returns the id.
func (u UserRef) String() string {
	return string(u)
}
