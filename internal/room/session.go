package room

import (
	"context"

	"roomcast/internal/quota"
	"roomcast/internal/websocket"
)

// State is the per-session position in the connection lifecycle. A session
// moves Connecting -> Unnamed at registration, Unnamed -> Named on the
// identity handshake, and any state -> Closed exactly once.
type State int

const (
	StateConnecting State = iota
	StateUnnamed
	StateNamed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnnamed:
		return "unnamed"
	case StateNamed:
		return "named"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport surface a room needs from a live connection. The
// websocket package provides the production implementation; tests substitute
// in-memory fakes.
type Conn interface {
	ID() string
	Context() context.Context
	WriteFrame(data []byte) error
	WriteJSON(v interface{}) error
	ReadFrame() ([]byte, error)
	SetMeta(meta websocket.Meta)
	Meta() (websocket.Meta, bool)
	CloseWithStatus(code int, reason string) error
	Close() error
}

// Session is the server-side state for one live connection within a room.
// Name is empty until the handshake completes and immutable afterwards.
// backlog buffers encoded outbound frames only while the session is unnamed,
// so an identifying client observes no ordering gaps.
type Session struct {
	conn     Conn
	name     string
	quotaKey string
	state    State
	backlog  [][]byte
	limiter  *quota.Limiter

	// ctx bounds work tied to this session (quota flights); cancelled on
	// close so abandoned cooldown sleeps never resume state for a dead
	// session.
	ctx    context.Context
	cancel context.CancelFunc
}

// Name returns the frozen display name, empty while unnamed.
func (s *Session) Name() string {
	return s.name
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}
