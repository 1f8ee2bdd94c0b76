package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeBufferSize = 100
	writeTimeout    = 5 * time.Second
)

// Connection wraps a gorilla websocket with a single writer goroutine so
// frames can be queued from any goroutine without racing on the socket.
// It also carries the small versioned metadata blob used to rebuild a
// session after the hosting room instance is reconstructed.
type Connection struct {
	conn    *websocket.Conn
	writeCh chan []byte

	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.RWMutex
	meta    Meta
	hasMeta bool
}

// NewConnection wraps an upgraded websocket and starts its write loop.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, writeBufferSize),
		id:      uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Context is cancelled when the connection closes; in-flight work tied to
// the connection should select on it.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteFrame queues an already-encoded frame for delivery. It returns an
// error when the connection is closed or the outbound buffer stays full past
// the write timeout; callers treat either as a dead peer.
func (c *Connection) WriteFrame(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteJSON encodes v and queues it for delivery.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.WriteFrame(data)
}

// ReadFrame blocks for the next inbound text frame. Binary and control
// frames are skipped; a transport error ends the read side for good.
func (c *Connection) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// SetMeta attaches the resume metadata blob to the connection.
func (c *Connection) SetMeta(meta Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta = meta
	c.hasMeta = true
}

// Meta returns the attached metadata blob, if any.
func (c *Connection) Meta() (Meta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta, c.hasMeta
}

// CloseWithStatus sends a close control frame with the given code and reason
// before tearing the connection down. Used by the failure boundary to make
// abnormal closes distinguishable from normal ones.
func (c *Connection) CloseWithStatus(code int, reason string) error {
	deadline := time.Now().Add(writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return c.Close()
}

// Close tears down the connection and cancels its context. Safe to call
// more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
