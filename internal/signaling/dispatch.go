// ABOUTME: Frame dispatch for the signaling namespace
// ABOUTME: Runs decoded commands and reports protocol and internal failures as error events

package signaling

import (
	"context"
	"errors"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
)

// HandleFrame runs one inbound signaling frame for connID.
func (c *Coordinator) HandleFrame(ctx context.Context, connID string, frame realtime.Frame) {
	cmd, err := ParseCommand(frame)
	if err == nil {
		switch v := cmd.(type) {
		case CallUser:
			err = c.Initiate(ctx, connID, v)
		case AcceptCall:
			err = c.Accept(ctx, connID, v)
		case RejectCall:
			err = c.Reject(ctx, connID, v)
		case ICECandidate:
			err = c.RelayICECandidate(ctx, connID, v)
		case EndCall:
			err = c.End(ctx, connID, v)
		}
	}

	var perr *protocolError
	switch {
	case err == nil:
	case errors.Is(err, ErrTargetOffline), errors.Is(err, ErrBusy), errors.Is(err, ErrNoAttempt):
		// Already reported to the client as call_failed.
	case errors.As(err, &perr):
		c.emitter.Emit(connID, realtime.EventError, realtime.NewErrorPayload(perr.detail))
	case errors.Is(err, ErrUnknownSender):
		c.logger.Warn("frame from unregistered connection", "conn_id", connID, "event", frame.Event)
		c.emitter.Emit(connID, realtime.EventError, realtime.NewErrorPayload("User not found"))
	default:
		c.logger.Error("unexpected signaling failure", "conn_id", connID, "event", frame.Event, "error", err)
		c.emitter.Emit(connID, realtime.EventError, realtime.NewErrorPayload("An error occurred"))
	}
}
