// ABOUTME: Inbound and outbound call signaling events
// ABOUTME: Offers and answers are checked with pion's SDP parser before they are relayed

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
)

// Inbound events.
const (
	EventCallUser     = "call_user"
	EventAcceptCall   = "accept_call"
	EventRejectCall   = "reject_call"
	EventICECandidate = "ice_candidate"
	EventEndCall      = "end_call"
)

// Outbound events. ice_candidate is relayed under its inbound name.
const (
	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"
	EventCallFailed   = "call_failed"
)

// call_failed messages.
const (
	MsgNotOnline      = "User is not online"
	MsgCallerNotFound = "Caller not found"
	MsgInProgress     = "Call already in progress"
	MsgBusy           = "User is busy"
	MsgNoAnswer       = "No answer"
	MsgNoPendingCall  = "No pending call from this user"
)

// Command is one decoded inbound signaling event.
type Command interface {
	signalingCommand()
}

// CallUser asks to call another user. From and FromUsername are accepted for
// older clients but ignored; the caller is always the connection's identity.
type CallUser struct {
	To           realtime.UserRef `json:"to" validate:"required"`
	Offer        json.RawMessage  `json:"offer" validate:"required"`
	From         realtime.UserRef `json:"from"`
	FromUsername string           `json:"fromUsername"`
}

// AcceptCall answers a ringing call from To.
type AcceptCall struct {
	To     realtime.UserRef `json:"to" validate:"required"`
	Answer json.RawMessage  `json:"answer" validate:"required"`
}

// RejectCall declines a ringing call from To.
type RejectCall struct {
	To realtime.UserRef `json:"to" validate:"required"`
}

// ICECandidate carries one trickled candidate for To.
type ICECandidate struct {
	To        realtime.UserRef `json:"to" validate:"required"`
	Candidate json.RawMessage  `json:"candidate" validate:"required"`
}

// EndCall hangs up the call with To.
type EndCall struct {
	To realtime.UserRef `json:"to" validate:"required"`
}

func (CallUser) signalingCommand()     {}
func (AcceptCall) signalingCommand()   {}
func (RejectCall) signalingCommand()   {}
func (ICECandidate) signalingCommand() {}
func (EndCall) signalingCommand()      {}

// IncomingCall is sent to the callee.
type IncomingCall struct {
	From         string          `json:"from"`
	FromUsername string          `json:"fromUsername"`
	Offer        json.RawMessage `json:"offer"`
}

// CallAccepted is sent to the caller.
type CallAccepted struct {
	Answer json.RawMessage `json:"answer"`
}

// CandidateRelay is the outbound ice_candidate payload.
type CandidateRelay struct {
	Candidate json.RawMessage `json:"candidate"`
}

// CallFailed explains why a call could not proceed.
type CallFailed struct {
	Message string `json:"message"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}()

// ParseCommand decodes and validates an inbound signaling frame.
func ParseCommand(f realtime.Frame) (Command, error) {
	switch f.Event {
	case EventCallUser:
		var c CallUser
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		if err := checkDescription(c.Offer, webrtc.SDPTypeOffer); err != nil {
			return nil, err
		}
		return c, nil
	case EventAcceptCall:
		var c AcceptCall
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		if err := checkDescription(c.Answer, webrtc.SDPTypeAnswer); err != nil {
			return nil, err
		}
		return c, nil
	case EventRejectCall:
		var c RejectCall
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		return c, nil
	case EventICECandidate:
		var c ICECandidate
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(c.Candidate, &init); err != nil {
			return nil, violation("malformed ice candidate")
		}
		return c, nil
	case EventEndCall:
		var c EndCall
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, violation("unknown event " + f.Event)
	}
}

func decode(f realtime.Frame, v any) error {
	if err := f.DecodeData(v); err != nil {
		return violation("malformed " + f.Event + " payload")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return violation("invalid fields: " + strings.Join(fields, ", "))
		}
		return violation(err.Error())
	}
	return nil
}

// checkDescription verifies raw is a session description of the wanted type
// with an SDP body pion can parse. The payload is relayed as sent.
func checkDescription(raw json.RawMessage, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return violation("malformed " + want.String())
	}
	if desc.Type != want {
		return violation(fmt.Sprintf("expected %s, got %s", want, desc.Type))
	}
	if _, err := desc.Unmarshal(); err != nil {
		return violation("invalid " + want.String() + " sdp")
	}
	return nil
}

type protocolError struct {
	detail string
}

func violation(detail string) error {
	return &protocolError{detail: detail}
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProtocolViolation, e.detail)
}

func (e *protocolError) Unwrap() error {
	return ErrProtocolViolation
}
