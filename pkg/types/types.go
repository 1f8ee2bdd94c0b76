package types

// Protocol limits shared by every component that validates client input.
const (
	MaxNameLength    = 32  // display names and human-chosen room names
	MaxMessageLength = 256 // chat text, measured in runes
	HistoryLimit     = 100 // most recent messages replayed to a late joiner
)

// ClientFrame is one JSON object received from a client over the socket.
// Pointer fields distinguish an absent key from an empty string: the first
// frame carrying Name completes the identity handshake, frames carrying
// Message are chat text.
type ClientFrame struct {
	Name    *string `json:"name,omitempty"`
	Message *string `json:"message,omitempty"`
}

// Message is one chat message as persisted and broadcast. Timestamps are
// milliseconds since epoch and strictly increasing within a room.
type Message struct {
	Name      string `json:"name"`
	Text      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// JoinedFrame announces a member becoming visible to the room. It is also
// used to pre-seed the backlog of a not-yet-identified session with the
// current membership.
type JoinedFrame struct {
	Joined string `json:"joined"`
}

// QuitFrame announces an identified member leaving the room.
type QuitFrame struct {
	Quit string `json:"quit"`
}

// ReadyFrame acknowledges a completed identity handshake.
type ReadyFrame struct {
	Ready bool `json:"ready"`
}

// ErrorFrame carries an inline diagnostic without closing the connection,
// and is also the single frame delivered before an abnormal close when
// request handling fails after upgrade.
type ErrorFrame struct {
	Error string `json:"error"`
}
