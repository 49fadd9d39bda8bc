// ABOUTME: Message relay for the chat namespace: send, history, read receipts, typing
// ABOUTME: Every recipient is resolved through the presence registry at the moment of emitting

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/dedupe"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/presence"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

// Relay errors
var (
	ErrUnknownSender     = errors.New("sender is not registered on this connection")
	ErrPersistence       = errors.New("message store failure")
	ErrProtocolViolation = errors.New("protocol violation")
)

// MessageStore is the part of the store the relay uses.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetDirectHistory(ctx context.Context, userID, otherID string, limit int) ([]*store.Message, error)
	GetGroupHistory(ctx context.Context, limit int) ([]*store.Message, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Options tunes a Relay.
type Options struct {
	// HistoryLimit caps history responses to the most recent messages; 0 means no cap.
	HistoryLimit int
	// Dedupe, when set, drops a send whose client message id was already accepted.
	Dedupe *dedupe.Cache
}

// Relay routes chat traffic between the connections of one namespace.
type Relay struct {
	registry *presence.Registry
	emitter  realtime.Emitter
	messages MessageStore
	opts     Options
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(registry *presence.Registry, emitter realtime.Emitter, messages MessageStore, opts Options, logger *slog.Logger) *Relay {
	return &Relay{
		registry: registry,
		emitter:  emitter,
		messages: messages,
		opts:     opts,
		logger:   logger.With("component", "relay", "namespace", registry.Name()),
	}
}

// Send persists a message from connID and delivers it. Group messages go to
// every connection in the namespace. Direct messages go to the recipient when
// online and are always echoed to the sender. Nothing is delivered if the
// store fails. A resend with an already accepted client message id is not
// stored again; the accepted copy is echoed back to connID only. While the
// first send is still being stored a resend returns (nil, nil).
func (r *Relay) Send(ctx context.Context, connID string, cmd SendMessage) (*MessageView, error) {
	sender, ok := r.registry.LookupByConnection(connID)
	if !ok {
		return nil, ErrUnknownSender
	}

	kind := normalizeType(cmd.Type)
	receiverID := cmd.ReceiverID.String()
	switch kind {
	case store.MessageTypeDirect:
		if receiverID == "" {
			return nil, violation("receiverId is required for direct messages")
		}
	case store.MessageTypeGroup:
		receiverID = ""
	}

	var dedupeKey string
	if cmd.ClientMessageID != "" && r.opts.Dedupe != nil {
		dedupeKey = sender.UserID + ":" + cmd.ClientMessageID
		if r.opts.Dedupe.CheckAndMark(dedupeKey) {
			if stored, ok := r.opts.Dedupe.Value(dedupeKey); ok {
				if view, ok := stored.(MessageView); ok {
					r.emitter.Emit(connID, EventNewMessage, view)
					r.logger.Debug("echoed resent message", "user_id", sender.UserID, "client_message_id", cmd.ClientMessageID)
					return &view, nil
				}
			}
			r.logger.Debug("dropped resent message", "user_id", sender.UserID, "client_message_id", cmd.ClientMessageID)
			return nil, nil
		}
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		Content:    cmd.Content,
		SenderID:   sender.UserID,
		ReceiverID: receiverID,
		Type:       kind,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.messages.CreateMessage(ctx, msg); err != nil {
		if dedupeKey != "" {
			r.opts.Dedupe.Forget(dedupeKey)
		}
		r.logger.Error("failed to persist message", "user_id", sender.UserID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	view := viewOf(msg, sender.Username)
	view.ClientMessageID = cmd.ClientMessageID
	if dedupeKey != "" {
		r.opts.Dedupe.Remember(dedupeKey, view)
	}

	if kind == store.MessageTypeGroup {
		r.emitter.EmitMany(r.registry.ConnIDs(), EventNewMessage, view)
		r.logger.Debug("group message relayed", "message_id", msg.ID, "recipients", r.registry.Count())
		return &view, nil
	}

	delivered := false
	if target, ok := r.registry.LookupByIdentity(receiverID); ok && target != connID {
		delivered = r.emitter.Emit(target, EventNewMessage, view)
	}
	r.emitter.Emit(connID, EventNewMessage, view)

	r.logger.Debug("direct message relayed", "message_id", msg.ID, "receiver_id", receiverID, "delivered", delivered)
	return &view, nil
}

// History sends the requested transcript, oldest first, to connID only.
func (r *Relay) History(ctx context.Context, connID string, cmd GetHistory) ([]MessageView, error) {
	requester, ok := r.registry.LookupByConnection(connID)
	if !ok {
		return nil, ErrUnknownSender
	}

	var (
		msgs []*store.Message
		err  error
	)
	switch normalizeType(cmd.Type) {
	case store.MessageTypeGroup:
		msgs, err = r.messages.GetGroupHistory(ctx, r.opts.HistoryLimit)
	default:
		if cmd.OtherUserID == "" {
			return nil, violation("otherUserId is required for direct history")
		}
		msgs, err = r.messages.GetDirectHistory(ctx, requester.UserID, cmd.OtherUserID.String(), r.opts.HistoryLimit)
	}
	if err != nil {
		r.logger.Error("failed to load history", "user_id", requester.UserID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, viewOf(m, ""))
	}
	r.emitter.Emit(connID, EventChatHistory, views)
	return views, nil
}

// MarkDelivered flags a message as read and acknowledges to connID. Marking is
// best effort: store failures, including unknown ids, are logged only.
func (r *Relay) MarkDelivered(ctx context.Context, connID, messageID string) error {
	if _, ok := r.registry.LookupByConnection(connID); !ok {
		return ErrUnknownSender
	}

	if err := r.messages.MarkRead(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("read receipt for unknown message", "message_id", messageID)
		} else {
			r.logger.Warn("failed to mark message read", "message_id", messageID, "error", err)
		}
		return nil
	}

	r.emitter.Emit(connID, EventMessageMarkedRead, MarkedRead{MessageID: messageID})
	return nil
}

// Typing forwards a typing indicator to the recipient if they are online.
// It is never persisted and an offline recipient makes it a no-op.
func (r *Relay) Typing(ctx context.Context, connID string, cmd Typing) error {
	sender, ok := r.registry.LookupByConnection(connID)
	if !ok {
		return ErrUnknownSender
	}
	if cmd.ReceiverID == "" {
		return nil
	}
	target, ok := r.registry.LookupByIdentity(cmd.ReceiverID.String())
	if !ok {
		return nil
	}

	if cmd.Stopped {
		r.emitter.Emit(target, EventUserStoppedTyping, TypingNotice{UserID: sender.UserID})
	} else {
		r.emitter.Emit(target, EventUserTyping, TypingNotice{UserID: sender.UserID, Username: sender.Username})
	}
	return nil
}
