// ABOUTME: Inbound and outbound chat events and their payloads
// ABOUTME: ParseCommand turns a frame into one of a closed set of validated command types

package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

// Inbound events.
const (
	EventSendMessage      = "send_message"
	EventGetChatHistory   = "get_chat_history"
	EventMessageDelivered = "message_delivered"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
)

// Outbound events.
const (
	EventNewMessage        = "new_message"
	EventChatHistory       = "chat_history"
	EventMessageMarkedRead = "message_marked_read"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
)

// typePrivate is the legacy client name for a direct message.
const typePrivate = "private"

// Command is one decoded inbound chat event.
type Command interface {
	chatCommand()
}

// SendMessage is the payload of send_message.
type SendMessage struct {
	Content    string           `json:"content" validate:"required,max=4000"`
	ReceiverID realtime.UserRef `json:"receiverId"`
	Type       string           `json:"type" validate:"omitempty,oneof=direct private group"`
	// ClientMessageID lets a client resend after a reconnect without creating a duplicate.
	ClientMessageID string `json:"clientMessageId" validate:"omitempty,max=128"`
}

// GetHistory is the payload of get_chat_history.
type GetHistory struct {
	OtherUserID realtime.UserRef `json:"otherUserId"`
	Type        string           `json:"type" validate:"omitempty,oneof=direct private group"`
}

// MessageDelivered is the payload of message_delivered.
type MessageDelivered struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
}

// Typing is the payload of typing_start and typing_stop.
type Typing struct {
	ReceiverID realtime.UserRef `json:"receiverId"`
	Stopped    bool             `json:"-"`
}

func (SendMessage) chatCommand()      {}
func (GetHistory) chatCommand()       {}
func (MessageDelivered) chatCommand() {}
func (Typing) chatCommand()           {}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseCommand decodes and validates an inbound frame. Malformed payloads and
// unknown events return an error wrapping ErrProtocolViolation.
func ParseCommand(f realtime.Frame) (Command, error) {
	var cmd Command
	switch f.Event {
	case EventSendMessage:
		var c SendMessage
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		c.Type = normalizeType(c.Type)
		cmd = c
	case EventGetChatHistory:
		var c GetHistory
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		c.Type = normalizeType(c.Type)
		cmd = c
	case EventMessageDelivered:
		var c MessageDelivered
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventTypingStart, EventTypingStop:
		var c Typing
		if err := decode(f, &c); err != nil {
			return nil, err
		}
		c.Stopped = f.Event == EventTypingStop
		cmd = c
	default:
		return nil, violation("unknown event " + f.Event)
	}
	return cmd, nil
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

// normalizeType maps the accepted spellings onto the stored message types.
func normalizeType(t string) string {
	switch t {
	case "", typePrivate, store.MessageTypeDirect:
		return store.MessageTypeDirect
	default:
		return t
	}
}

// Sender identifies who sent a message.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MessageView is the wire form of a message in new_message and chat_history.
type MessageView struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Sender          Sender    `json:"sender"`
	ReceiverID      string    `json:"receiverId,omitempty"`
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	IsRead          bool      `json:"isRead"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

func viewOf(m *store.Message, senderName string) MessageView {
	if senderName == "" {
		senderName = m.SenderName
	}
	return MessageView{
		ID:         m.ID,
		Content:    m.Content,
		Sender:     Sender{ID: m.SenderID, Username: senderName},
		ReceiverID: m.ReceiverID,
		Type:       m.Type,
		Timestamp:  m.CreatedAt,
		IsRead:     m.IsRead,
	}
}

// MarkedRead is the payload of message_marked_read.
type MarkedRead struct {
	MessageID string `json:"messageId"`
}

// TypingNotice is the payload of user_typing and user_stopped_typing.
type TypingNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// protocolError carries a client-safe description of a bad request.
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
