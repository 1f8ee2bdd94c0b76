package room

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"roomcast/internal/quota"
	"roomcast/pkg/interfaces"
)

// Manager maps room keys to live room instances, creating them lazily on
// first access. A key is either a generated opaque identifier or a short
// human-chosen name; both resolve to the same instance when issued
// consistently. Rooms are fully independent of each other.
type Manager struct {
	messageLog interfaces.MessageLog
	consume    quota.ConsumeFunc
	opts       Options

	mu     sync.RWMutex
	rooms  map[string]*Room
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewManager creates a room manager. Rooms it creates inherit ctx, opts,
// the message log, and the quota consume path.
func NewManager(ctx context.Context, messageLog interfaces.MessageLog, consume quota.ConsumeFunc, opts Options) *Manager {
	mctx, cancel := context.WithCancel(ctx)
	return &Manager{
		messageLog: messageLog,
		consume:    consume,
		opts:       opts,
		rooms:      make(map[string]*Room),
		ctx:        mctx,
		cancel:     cancel,
	}
}

// NewRoomID mints an opaque, collision-resistant room identifier. No room
// state is created until the first connection references it.
func (m *Manager) NewRoomID() string {
	return uuid.NewString()
}

// GetOrCreate resolves a room key to its instance, creating and starting
// the room on first access.
func (m *Manager) GetOrCreate(key string) (*Room, error) {
	m.mu.RLock()
	if r, ok := m.rooms[key]; ok {
		m.mu.RUnlock()
		return r, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if r, ok := m.rooms[key]; ok {
		return r, nil
	}

	r := NewRoom(key, m.messageLog, m.consume, m.opts)
	if err := r.Start(m.ctx); err != nil {
		return nil, err
	}
	m.rooms[key] = r
	log.Printf("Room created: %s", key)
	return r, nil
}

// Stats reports room and session counts for the health endpoint.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, r := range m.rooms {
		total += r.SessionCount()
	}
	return map[string]int{
		"rooms":    len(m.rooms),
		"sessions": total,
	}
}

// Shutdown stops every room and refuses further creation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		if err := r.Stop(); err != nil {
			log.Printf("Room %s shutdown error: %v", r.ID(), err)
		}
	}
	m.cancel()
}
