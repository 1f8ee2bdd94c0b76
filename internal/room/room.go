package room

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"

	"roomcast/internal/quota"
	"roomcast/internal/websocket"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Options control per-room policy.
type Options struct {
	// BroadcastSelfJoin includes the newly-identified session itself in the
	// audience of its own joined notice.
	BroadcastSelfJoin bool
	// HistoryLimit caps how many persisted messages are replayed to a late
	// joiner. Defaults to types.HistoryLimit.
	HistoryLimit int
	// Now is the room clock, overridable in tests.
	Now func() time.Time
}

// Room owns the live connection set for one room: membership, the identity
// handshake, message validation, broadcast, and durable history. All state
// transitions run on a single event loop goroutine, so the sessions map and
// timestamp counter need no locks.
type Room struct {
	id      string
	log     interfaces.MessageLog
	consume quota.ConsumeFunc
	opts    Options

	events        chan event
	sessions      map[string]*Session
	lastTimestamp int64

	sessionCount atomic.Int64

	running  bool
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
}

type eventKind int

const (
	eventJoin eventKind = iota
	eventResume
	eventFrame
	eventClose
	eventQuotaFailure
)

// event is one unit of work for the room loop. Frame, close, and error
// events reference an existing session by connection ID; join and resume
// carry the connection itself.
type event struct {
	kind      eventKind
	conn      Conn
	sessionID string
	quotaKey  string
	data      []byte
	err       error
	done      chan struct{}
}

// NewRoom creates a room. The caller starts the event loop with Start.
func NewRoom(id string, messageLog interfaces.MessageLog, consume quota.ConsumeFunc, opts Options) *Room {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = types.HistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Room{
		id:       id,
		log:      messageLog,
		consume:  consume,
		opts:     opts,
		events:   make(chan event, 64),
		sessions: make(map[string]*Session),
		stopped:  make(chan struct{}),
	}
}

// ID returns the room key this instance was created for.
func (r *Room) ID() string {
	return r.id
}

// Start begins the room event loop.
func (r *Room) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRoomAlreadyRunning
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	go r.run()
	return nil
}

// Stop shuts the loop down and closes every live connection.
func (r *Room) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRoomNotRunning
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.stopped
	return nil
}

// SessionCount reports the current number of registered sessions.
func (r *Room) SessionCount() int {
	return int(r.sessionCount.Load())
}

// HandleConnection registers conn with the room and pumps its inbound frames
// into the event loop until the connection dies. It blocks for the life of
// the connection. quotaKey identifies the client for admission control and
// is derived from its network identity by the caller.
//
// A connection carrying a metadata blob belongs to a session that identified
// before the hosting instance was reconstructed; it is re-registered from
// the blob instead of re-running the handshake.
func (r *Room) HandleConnection(conn Conn, quotaKey string) {
	done := make(chan struct{})

	ev := event{kind: eventJoin, conn: conn, quotaKey: quotaKey, done: done}
	if meta, ok := conn.Meta(); ok {
		ev.kind = eventResume
		ev.quotaKey = meta.QuotaKey
	}

	if !r.enqueue(ev) {
		_ = conn.Close()
		return
	}
	select {
	case <-done:
	case <-r.ctx.Done():
		_ = conn.Close()
		return
	}

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			r.enqueue(event{kind: eventClose, sessionID: conn.ID(), err: err})
			return
		}
		r.enqueue(event{kind: eventFrame, sessionID: conn.ID(), data: data})
	}
}

// enqueue submits an event, reporting false once the room has stopped.
func (r *Room) enqueue(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// run is the room event loop: the only goroutine that touches the sessions
// map and the timestamp counter.
func (r *Room) run() {
	defer close(r.stopped)

	for {
		select {
		case ev := <-r.events:
			switch ev.kind {
			case eventJoin:
				r.handleJoin(ev.conn, ev.quotaKey, false)
			case eventResume:
				r.handleJoin(ev.conn, ev.quotaKey, true)
			case eventFrame:
				r.handleFrame(ev.sessionID, ev.data)
			case eventClose:
				r.handleClose(ev.sessionID)
			case eventQuotaFailure:
				r.handleQuotaFailure(ev.sessionID, ev.err)
			}
			if ev.done != nil {
				close(ev.done)
			}

		case <-r.ctx.Done():
			r.drainSessions()
			return
		}
	}
}

// handleJoin registers a session. Fresh connections enter Unnamed with a
// backlog pre-seeded with the current membership and recent history; resumed
// connections re-enter Named directly from their metadata blob.
func (r *Room) handleJoin(conn Conn, quotaKey string, resume bool) {
	sess := &Session{
		conn:     conn,
		quotaKey: quotaKey,
		state:    StateConnecting,
	}
	sess.ctx, sess.cancel = context.WithCancel(conn.Context())

	sessionID := conn.ID()
	sess.limiter = quota.NewLimiter(quotaKey, r.consume, func(err error) {
		r.enqueue(event{kind: eventQuotaFailure, sessionID: sessionID, err: err})
	})

	if resume {
		meta, _ := conn.Meta()
		sess.name = meta.Name
		sess.state = StateNamed
		r.sessions[sessionID] = sess
		r.sessionCount.Store(int64(len(r.sessions)))
		return
	}

	sess.state = StateUnnamed

	// Seed the backlog: a presence notice per identified member, then up to
	// HistoryLimit persisted messages oldest-first. The client replays room
	// state from this queue before it can send anything of its own.
	for _, other := range r.sessions {
		if other.state == StateNamed {
			sess.backlog = append(sess.backlog, encodeFrame(types.JoinedFrame{Joined: other.name}))
		}
	}

	history, err := r.log.RecentMessages(r.ctx, r.id, r.opts.HistoryLimit)
	if err != nil {
		log.Printf("Room %s: history replay unavailable: %v", r.id, err)
		sess.backlog = append(sess.backlog, encodeFrame(types.ErrorFrame{Error: "history unavailable"}))
	}
	for _, msg := range history {
		sess.backlog = append(sess.backlog, encodeFrame(msg))
	}

	r.sessions[sessionID] = sess
	r.sessionCount.Store(int64(len(r.sessions)))
}

// handleFrame validates and dispatches one inbound frame according to the
// session state machine.
func (r *Room) handleFrame(sessionID string, data []byte) {
	sess, ok := r.sessions[sessionID]
	if !ok || sess.state == StateClosed {
		return
	}

	var frame types.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Malformed frames get an inline diagnostic; the connection stays
		// open. Applied uniformly in both states.
		_ = sess.conn.WriteJSON(types.ErrorFrame{Error: "malformed frame"})
		return
	}

	switch sess.state {
	case StateUnnamed:
		if frame.Name == nil {
			// Chat-shaped frame before identity: no state change, no error.
			return
		}
		r.completeHandshake(sess, *frame.Name)

	case StateNamed:
		if frame.Message == nil {
			// Identity claims are honored on the first frame only.
			return
		}
		r.handleChat(sess, *frame.Message)
	}
}

// completeHandshake freezes the name, flushes the backlog in original order,
// announces the member, and acknowledges readiness.
func (r *Room) completeHandshake(sess *Session, rawName string) {
	sess.name = types.TruncateName(rawName)

	// Flush while still unnamed: if delivery fails here the member was never
	// announced, so the drop stays silent.
	for _, buffered := range sess.backlog {
		if err := sess.conn.WriteFrame(buffered); err != nil {
			r.dropSession(sess)
			return
		}
	}
	sess.backlog = nil
	sess.state = StateNamed

	// Attach the resume blob now: identity is the minimal state a
	// reconstructed instance needs to rebuild this session.
	sess.conn.SetMeta(websocket.Meta{
		Version:  websocket.MetaVersion,
		Name:     sess.name,
		QuotaKey: sess.quotaKey,
	})

	exclude := sess.conn.ID()
	if r.opts.BroadcastSelfJoin {
		exclude = ""
	}
	r.broadcastFrame(encodeFrame(types.JoinedFrame{Joined: sess.name}), exclude)

	if err := sess.conn.WriteJSON(types.ReadyFrame{Ready: true}); err != nil {
		r.dropSession(sess)
	}
}

// handleChat admits, validates, stamps, persists, and broadcasts one chat
// message from a named session.
func (r *Room) handleChat(sess *Session, text string) {
	if !sess.limiter.Check(sess.ctx) {
		_ = sess.conn.WriteJSON(types.ErrorFrame{
			Error: "your IP is being rate-limited, please try again later",
		})
		return
	}

	msg := &types.Message{
		Name:      sess.name,
		Text:      types.TruncateText(text),
		Timestamp: r.stampTimestamp(),
	}

	// Persist before broadcast so replay order always matches send order.
	if err := r.log.AppendMessage(r.ctx, r.id, msg); err != nil {
		log.Printf("Room %s: failed to persist message: %v", r.id, err)
		_ = sess.conn.WriteJSON(types.ErrorFrame{Error: "message not delivered"})
		return
	}

	r.broadcastFrame(encodeFrame(msg), "")
}

// stampTimestamp returns the next message timestamp: wall clock time, forced
// strictly past the previous stamp so timestamps are unique and increasing.
func (r *Room) stampTimestamp() int64 {
	ts := r.opts.Now().UnixMilli()
	if ts <= r.lastTimestamp {
		ts = r.lastTimestamp + 1
	}
	r.lastTimestamp = ts
	return ts
}

// broadcastFrame delivers an encoded frame to every named session except
// excludeID and appends it to the backlog of every unnamed session. A
// delivery failure is the same as that session disconnecting and never
// interrupts delivery to the rest.
func (r *Room) broadcastFrame(data []byte, excludeID string) {
	var failed []*Session
	for id, sess := range r.sessions {
		if id == excludeID {
			continue
		}
		switch sess.state {
		case StateNamed:
			if err := sess.conn.WriteFrame(data); err != nil {
				failed = append(failed, sess)
			}
		case StateUnnamed:
			sess.backlog = append(sess.backlog, data)
		}
	}

	for _, sess := range failed {
		r.dropSession(sess)
	}
}

// handleClose removes a session after its connection closed or errored.
func (r *Room) handleClose(sessionID string) {
	if sess, ok := r.sessions[sessionID]; ok {
		r.dropSession(sess)
	}
}

// handleQuotaFailure terminates a session whose quota round-trip failed.
// Fatal for this connection only: a diagnostic frame, then an abnormal
// close. The read pump surfaces the close as a regular close event.
func (r *Room) handleQuotaFailure(sessionID string, err error) {
	sess, ok := r.sessions[sessionID]
	if !ok || sess.state == StateClosed {
		return
	}

	log.Printf("Room %s: quota service failure for session %s: %v", r.id, sessionID, err)
	_ = sess.conn.WriteJSON(types.ErrorFrame{Error: "quota service unavailable"})
	_ = sess.conn.CloseWithStatus(gws.CloseInternalServerErr, "quota service unavailable")
	r.dropSession(sess)
}

// dropSession removes a session unconditionally, closing its connection and
// cancelling any in-flight quota work. Named departures are announced once.
func (r *Room) dropSession(sess *Session) {
	id := sess.conn.ID()
	if current, ok := r.sessions[id]; !ok || current != sess {
		return
	}
	delete(r.sessions, id)
	r.sessionCount.Store(int64(len(r.sessions)))

	wasNamed := sess.state == StateNamed
	sess.state = StateClosed
	sess.cancel()
	_ = sess.conn.Close()

	if wasNamed {
		r.broadcastFrame(encodeFrame(types.QuitFrame{Quit: sess.name}), "")
	}
}

// drainSessions closes everything when the room stops.
func (r *Room) drainSessions() {
	for id, sess := range r.sessions {
		delete(r.sessions, id)
		sess.state = StateClosed
		sess.cancel()
		_ = sess.conn.Close()
	}
	r.sessionCount.Store(0)
}

// encodeFrame marshals one of the protocol frame structs. These types
// cannot fail to marshal; a failure here is a programming error.
func encodeFrame(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode frame %T: %v", v, err)
		return []byte(`{"error":"internal encoding failure"}`)
	}
	return data
}
