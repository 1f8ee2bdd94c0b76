package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"roomcast/internal/room"
	"roomcast/pkg/types"
)

type memoryLog struct {
	mu       sync.Mutex
	messages map[string][]*types.Message
}

func (l *memoryLog) AppendMessage(_ context.Context, roomID string, msg *types.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *msg
	l.messages[roomID] = append(l.messages[roomID], &copied)
	return nil
}

func (l *memoryLog) RecentMessages(_ context.Context, roomID string, limit int) ([]*types.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

type okHealth struct{ err error }

func (h okHealth) HealthCheck(context.Context) error { return h.err }

func newTestServer(t *testing.T, health HealthChecker, quotaHandler http.Handler) *httptest.Server {
	t.Helper()
	manager := room.NewManager(context.Background(),
		&memoryLog{messages: make(map[string][]*types.Message)},
		func(context.Context, string) (time.Duration, error) { return 0, nil },
		room.Options{})
	t.Cleanup(manager.Shutdown)

	if quotaHandler == nil {
		quotaHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("0"))
		})
	}

	server := httptest.NewServer(NewServer(manager, health, quotaHandler))
	t.Cleanup(server.Close)
	return server
}

func TestServer_CreateRoomReturnsOpaqueID(t *testing.T) {
	server := newTestServer(t, okHealth{}, nil)

	resp, err := http.Post(server.URL+"/api/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/rooms failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, err := uuid.Parse(body.ID); err != nil {
		t.Errorf("Expected UUID room ID, got %q", body.ID)
	}
}

func TestServer_CreateRoomRejectsGet(t *testing.T) {
	server := newTestServer(t, okHealth{}, nil)

	resp, err := http.Get(server.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("GET /api/rooms failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestServer_RoomKeyValidation(t *testing.T) {
	server := newTestServer(t, okHealth{}, nil)

	cases := []struct {
		name string
		path string
		code int
	}{
		{"oversized name", "/api/rooms/" + strings.Repeat("a", 33) + "/websocket", http.StatusNotFound},
		{"bad characters", "/api/rooms/bad%20name/websocket", http.StatusNotFound},
		{"missing websocket suffix", "/api/rooms/lobby", http.StatusNotFound},
		{"no upgrade intent", "/api/rooms/lobby/websocket", http.StatusUpgradeRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tc.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tc.path, err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tc.code {
				t.Errorf("Expected %d for %s, got %d", tc.code, tc.path, resp.StatusCode)
			}
			// Errors are always well-formed JSON envelopes.
			var envelope errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				t.Errorf("Error response not a JSON envelope: %v", err)
			}
		})
	}
}

func TestServer_WebSocketUpgradeAndHandshake(t *testing.T) {
	server := newTestServer(t, okHealth{}, nil)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/rooms/lobby/websocket"
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.WriteJSON(map[string]string{"name": "alice"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if frame["ready"] != true {
		t.Errorf("Expected ready acknowledgment, got %v", frame)
	}
}

func TestServer_HealthStates(t *testing.T) {
	healthy := newTestServer(t, okHealth{}, nil)
	resp, err := http.Get(healthy.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 when healthy, got %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("Expected healthy status, got %q", body.Status)
	}

	unhealthy := newTestServer(t, okHealth{err: errors.New("disk gone")}, nil)
	resp2, err := http.Get(unhealthy.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when store is down, got %d", resp2.StatusCode)
	}
}

func TestServer_PanicBecomesJSONError(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("quota handler exploded")
	})
	server := newTestServer(t, okHealth{}, panicking)

	resp, err := http.Get(server.URL + "/api/quota/1.2.3.4")
	if err != nil {
		t.Fatalf("GET /api/quota failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", resp.StatusCode)
	}
	var envelope errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Errorf("Panic response should be a JSON envelope: %v", err)
	}
	if !strings.Contains(envelope.Message, "internal error") {
		t.Errorf("Expected diagnostic message, got %q", envelope.Message)
	}
}

func TestClientKey_Derivation(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := clientKey(r); got != "10.1.2.3" {
		t.Errorf("Expected host from RemoteAddr, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientKey(r); got != "203.0.113.9" {
		t.Errorf("Expected first forwarded address, got %q", got)
	}
}
