// ABOUTME: Call signaling coordinator tracking call attempts between two identities
// ABOUTME: Drives Ringing -> Connected -> ended, relays SDP and ICE, and expires unanswered calls

package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/presence"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
)

// Signaling errors
var (
	ErrUnknownSender     = errors.New("sender is not registered on this connection")
	ErrTargetOffline     = errors.New("target is not online")
	ErrBusy              = errors.New("participant already in a call")
	ErrNoAttempt         = errors.New("no matching call attempt")
	ErrProtocolViolation = errors.New("protocol violation")
)

// State is the state of a tracked call attempt.
type State int

// Attempt states. Ended attempts are removed rather than kept in a terminal state.
const (
	StateRinging State = iota + 1
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Attempt is one call between a caller and a callee.
type Attempt struct {
	Caller    presence.Identity
	Callee    presence.Identity
	State     State
	StartedAt time.Time

	timer *time.Timer
}

func (a *Attempt) involves(userID string) bool {
	return a.Caller.UserID == userID || a.Callee.UserID == userID
}

func (a *Attempt) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
	}
}

// Coordinator owns the call attempts of the signaling namespace. A user takes
// part in at most one attempt at a time, as caller or callee.
type Coordinator struct {
	registry    *presence.Registry
	emitter     realtime.Emitter
	ringTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	attempts map[string]*Attempt // keyed by caller user id
}

// NewCoordinator creates a Coordinator. A ringTimeout of zero lets a call ring
// until it is answered, rejected, or ended.
func NewCoordinator(registry *presence.Registry, emitter realtime.Emitter, ringTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:    registry,
		emitter:     emitter,
		ringTimeout: ringTimeout,
		logger:      logger.With("component", "signaling", "namespace", registry.Name()),
		attempts:    make(map[string]*Attempt),
	}
}

// Initiate starts a call from the identity on connID to cmd.To.
func (c *Coordinator) Initiate(ctx context.Context, connID string, cmd CallUser) error {
	caller, ok := c.registry.LookupByConnection(connID)
	if !ok {
		return ErrUnknownSender
	}
	calleeID := cmd.To.String()
	if calleeID == caller.UserID {
		return violation("cannot call yourself")
	}

	callee, ok := c.registry.Resolve(calleeID)
	if !ok {
		c.logger.Debug("callee offline", "caller_id", caller.UserID, "callee_id", calleeID)
		c.emitter.Emit(connID, EventCallFailed, CallFailed{Message: MsgNotOnline})
		return ErrTargetOffline
	}

	c.mu.Lock()
	if msg := c.busyLocked(caller.UserID, calleeID); msg != "" {
		c.mu.Unlock()
		c.emitter.Emit(connID, EventCallFailed, CallFailed{Message: msg})
		return ErrBusy
	}
	attempt := &Attempt{Caller: caller, Callee: callee.Identity, State: StateRinging, StartedAt: time.Now()}
	if c.ringTimeout > 0 {
		attempt.timer = time.AfterFunc(c.ringTimeout, func() { c.expire(attempt) })
	}
	c.attempts[caller.UserID] = attempt
	c.mu.Unlock()

	c.emitter.Emit(callee.ConnID, EventIncomingCall, IncomingCall{
		From:         caller.UserID,
		FromUsername: caller.Username,
		Offer:        cmd.Offer,
	})
	c.logger.Info("call ringing", "caller_id", caller.UserID, "callee_id", calleeID)
	return nil
}

// busyLocked returns the call_failed message when either side is already in a call.
func (c *Coordinator) busyLocked(callerID, calleeID string) string {
	for _, a := range c.attempts {
		if a.involves(callerID) {
			return MsgInProgress
		}
		if a.involves(calleeID) {
			return MsgBusy
		}
	}
	return ""
}

// Accept answers the ringing call from cmd.To on behalf of the identity on connID.
func (c *Coordinator) Accept(ctx context.Context, connID string, cmd AcceptCall) error {
	accepter, ok := c.registry.LookupByConnection(connID)
	if !ok {
		return ErrUnknownSender
	}
	callerID := cmd.To.String()

	callerConn, ok := c.registry.LookupByIdentity(callerID)
	if !ok {
		c.discard(callerID, accepter.UserID)
		c.emitter.Emit(connID, EventCallFailed, CallFailed{Message: MsgCallerNotFound})
		return ErrTargetOffline
	}

	c.mu.Lock()
	attempt, ok := c.attempts[callerID]
	if !ok || attempt.Callee.UserID != accepter.UserID || attempt.State != StateRinging {
		c.mu.Unlock()
		c.emitter.Emit(connID, EventCallFailed, CallFailed{Message: MsgNoPendingCall})
		return ErrNoAttempt
	}
	attempt.stopTimer()
	attempt.State = StateConnected
	c.mu.Unlock()

	c.emitter.Emit(callerConn, EventCallAccepted, CallAccepted{Answer: cmd.Answer})
	c.logger.Info("call connected", "caller_id", callerID, "callee_id", accepter.UserID)
	return nil
}

// Reject declines the call from cmd.To. The caller is told if online whether
// or not an attempt existed, matching End. Only an attempt from cmd.To to the
// rejecter is discarded, so a third party cannot drop someone else's call.
func (c *Coordinator) Reject(ctx context.Context, connID string, cmd RejectCall) error {
	rejecter, ok := c.registry.LookupByConnection(connID)
	if !ok {
		return ErrUnknownSender
	}
	callerID := cmd.To.String()

	c.discard(callerID, rejecter.UserID)
	if callerConn, ok := c.registry.LookupByIdentity(callerID); ok {
		c.emitter.Emit(callerConn, EventCallRejected, nil)
	}
	c.logger.Info("call rejected", "caller_id", callerID, "callee_id", rejecter.UserID)
	return nil
}

// discard removes the attempt from callerID to calleeID, if any.
func (c *Coordinator) discard(callerID, calleeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.attempts[callerID]; ok && a.Callee.UserID == calleeID {
		a.stopTimer()
		delete(c.attempts, callerID)
	}
}

// RelayICECandidate forwards a candidate verbatim. Candidates for offline
// users are dropped without telling the sender.
func (c *Coordinator) RelayICECandidate(ctx context.Context, connID string, cmd ICECandidate) error {
	if _, ok := c.registry.LookupByConnection(connID); !ok {
		return ErrUnknownSender
	}
	if target, ok := c.registry.LookupByIdentity(cmd.To.String()); ok {
		c.emitter.Emit(target, EventICECandidate, CandidateRelay{Candidate: cmd.Candidate})
	}
	return nil
}

// End hangs up on cmd.To. The other side is told if online, and every
// attempt involving cmd.To is dropped, whoever placed it. Repeating end_call
// only repeats the notice.
func (c *Coordinator) End(ctx context.Context, connID string, cmd EndCall) error {
	ender, ok := c.registry.LookupByConnection(connID)
	if !ok {
		return ErrUnknownSender
	}
	otherID := cmd.To.String()

	if target, ok := c.registry.LookupByIdentity(otherID); ok {
		c.emitter.Emit(target, EventCallEnded, nil)
	}
	purged := c.purgeWhere(func(a *Attempt) bool { return a.involves(otherID) })

	c.logger.Info("call ended", "user_id", ender.UserID, "other_id", otherID, "attempts", len(purged))
	return nil
}

// purgeWhere removes every attempt matching match and returns them.
func (c *Coordinator) purgeWhere(match func(*Attempt) bool) []*Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []*Attempt
	for key, a := range c.attempts {
		if match(a) {
			a.stopTimer()
			delete(c.attempts, key)
			removed = append(removed, a)
		}
	}
	return removed
}

// expire ends an attempt that rang for the full timeout without an answer.
func (c *Coordinator) expire(attempt *Attempt) {
	c.mu.Lock()
	current, ok := c.attempts[attempt.Caller.UserID]
	if !ok || current != attempt || attempt.State != StateRinging {
		c.mu.Unlock()
		return
	}
	delete(c.attempts, attempt.Caller.UserID)
	c.mu.Unlock()

	if conn, ok := c.registry.LookupByIdentity(attempt.Caller.UserID); ok {
		c.emitter.Emit(conn, EventCallFailed, CallFailed{Message: MsgNoAnswer})
	}
	if conn, ok := c.registry.LookupByIdentity(attempt.Callee.UserID); ok {
		c.emitter.Emit(conn, EventCallEnded, nil)
	}
	c.logger.Info("call unanswered", "caller_id", attempt.Caller.UserID, "callee_id", attempt.Callee.UserID)
}

// Leave drops the calls of an identity that left the namespace and tells the
// other party. It is a no-op while the identity still has a live connection.
func (c *Coordinator) Leave(ctx context.Context, left presence.Entry) {
	if _, ok := c.registry.LookupByIdentity(left.UserID); ok {
		return
	}
	gone := func(a *Attempt) bool { return a.involves(left.UserID) }
	for _, a := range c.purgeWhere(gone) {
		other := a.Callee.UserID
		if other == left.UserID {
			other = a.Caller.UserID
		}
		if conn, ok := c.registry.LookupByIdentity(other); ok {
			c.emitter.Emit(conn, EventCallEnded, nil)
		}
		c.logger.Info("call dropped on disconnect", "user_id", left.UserID, "other_id", other)
	}
}

// Attempts returns a snapshot of the tracked attempts.
func (c *Coordinator) Attempts() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Attempt, 0, len(c.attempts))
	for _, a := range c.attempts {
		snapshot := *a
		snapshot.timer = nil
		out = append(out, snapshot)
	}
	return out
}

// Close stops every ring timer. Attempts are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, a := range c.attempts {
		a.stopTimer()
		delete(c.attempts, key)
	}
}
