// ABOUTME: Frame dispatch for the chat namespace
// ABOUTME: Decodes each frame into a command, runs it, and reports failures as error events

package chat

import (
	"context"
	"errors"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
)

// HandleFrame runs one inbound chat frame for connID. Failures are reported
// to that connection only; the connection stays open.
func (r *Relay) HandleFrame(ctx context.Context, connID string, frame realtime.Frame) {
	cmd, err := ParseCommand(frame)
	if err != nil {
		r.fail(connID, frame.Event, err)
		return
	}

	switch c := cmd.(type) {
	case SendMessage:
		_, err = r.Send(ctx, connID, c)
	case GetHistory:
		_, err = r.History(ctx, connID, c)
	case MessageDelivered:
		err = r.MarkDelivered(ctx, connID, c.MessageID)
	case Typing:
		err = r.Typing(ctx, connID, c)
	}
	if err != nil {
		r.fail(connID, frame.Event, err)
	}
}

// fail sends a client-safe error event. Store and internal errors never leak detail.
func (r *Relay) fail(connID, event string, err error) {
	var perr *protocolError
	var msg string
	switch {
	case errors.As(err, &perr):
		msg = perr.detail
	case errors.Is(err, ErrPersistence):
		msg = failureMessage(event)
	case errors.Is(err, ErrUnknownSender):
		r.logger.Warn("frame from unregistered connection", "conn_id", connID, "event", event)
		msg = "User not found"
	default:
		r.logger.Error("unexpected chat failure", "conn_id", connID, "event", event, "error", err)
		msg = "An error occurred"
	}
	r.emitter.Emit(connID, realtime.EventError, realtime.NewErrorPayload(msg))
}

func failureMessage(event string) string {
	switch event {
	case EventSendMessage:
		return "Failed to send message"
	case EventGetChatHistory:
		return "Failed to load chat history"
	default:
		return "An error occurred"
	}
}
