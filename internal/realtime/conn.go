// ABOUTME: Websocket connection wrapper with a buffered write pump and keepalive pings
// ABOUTME: Frames are handled one at a time in arrival order; sends never block the caller

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxDecodeFailures is how many undecodable frames in a row close the connection.
const maxDecodeFailures = 5

// ConnOptions holds per-connection transport limits.
type ConnOptions struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// DefaultConnOptions returns the limits used when none are configured.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		PingInterval:    25 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      64,
		MaxMessageBytes: 64 * 1024,
	}
}

// FrameHandler processes one decoded inbound frame.
type FrameHandler func(ctx context.Context, conn *Conn, frame Frame)

// Conn is one live websocket connection.
type Conn struct {
	id     string
	ws     *websocket.Conn
	opts   ConnOptions
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket and assigns it a unique id.
func NewConn(ws *websocket.Conn, opts ConnOptions, logger *slog.Logger) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultConnOptions().SendBuffer
	}
	id := uuid.New().String()
	return &Conn{
		id:     id,
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues an event for the client. It returns false if the connection is
// closed or its queue is full; the frame is dropped in both cases.
func (c *Conn) Send(event string, payload any) bool {
	data, err := Encode(event, payload)
	if err != nil {
		c.logger.Error("failed to encode frame", "event", event, "error", err)
		return false
	}
	return c.SendRaw(data)
}

// SendRaw queues an already encoded frame.
func (c *Conn) SendRaw(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("dropped frame for slow client")
		return false
	}
}

// Close sends a close frame with code and reason and tears the connection down.
// Safe to call more than once and from any goroutine.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.writeTimeout())
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeTimeout() time.Duration {
	if c.opts.WriteTimeout > 0 {
		return c.opts.WriteTimeout
	}
	return DefaultConnOptions().WriteTimeout
}

// Run pumps frames until the client disconnects, ctx ends, or Close is called.
// handle runs on the calling goroutine, so frames from one client are processed in order.
func (c *Conn) Run(ctx context.Context, handle FrameHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	go func() {
		select {
		case <-ctx.Done():
			c.Close(websocket.CloseGoingAway, "server shutting down")
		case <-c.done:
		}
	}()

	err := c.readLoop(ctx, handle)
	c.Close(websocket.CloseNormalClosure, "")
	return err
}

func (c *Conn) readLoop(ctx context.Context, handle FrameHandler) error {
	if c.opts.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	}
	if c.opts.PongTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		})
	}

	failures := 0
	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame, err := Decode(raw)
		if err != nil {
			failures++
			c.logger.Debug("undecodable frame", "error", err, "consecutive", failures)
			c.Send(EventError, NewErrorPayload("malformed frame"))
			if failures >= maxDecodeFailures {
				c.Close(websocket.CloseUnsupportedData, "too many malformed frames")
				return errors.New("too many malformed frames")
			}
			continue
		}
		failures = 0

		handle(ctx, c, frame)
	}
}

func (c *Conn) writePump(ctx context.Context) {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close(websocket.CloseGoingAway, "")
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout())); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}
