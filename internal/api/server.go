package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"

	"roomcast/internal/room"
	"roomcast/internal/websocket"
	"roomcast/pkg/types"
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Rooms are unlisted capabilities; possession of the key grants
		// access, so origins are not restricted here.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HealthChecker reports backing-store connectivity for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface: room creation, room socket upgrade, the quota
// service endpoint, and health. It contains no broadcast logic; everything
// it does is translate HTTP to the room and quota components and convert
// internal failures into well-formed external responses.
type Server struct {
	rooms        *room.Manager
	store        HealthChecker
	quotaHandler http.Handler
	router       *http.ServeMux
}

// NewServer wires the HTTP routes.
func NewServer(rooms *room.Manager, store HealthChecker, quotaHandler http.Handler) *Server {
	s := &Server{
		rooms:        rooms,
		store:        store,
		quotaHandler: quotaHandler,
		router:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms", s.recovered(http.HandlerFunc(s.handleRooms)))
	s.router.Handle("/api/rooms/", http.HandlerFunc(s.handleRoomPath))
	s.router.Handle("/api/quota/", s.recovered(s.quotaHandler))
	s.router.Handle("/health", s.recovered(http.HandlerFunc(s.healthCheck)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createRoomResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRooms mints an opaque room identifier. No room state exists until
// the first connection references the ID.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createRoomResponse{ID: s.rooms.NewRoomID()})
}

// handleRoomPath routes /api/rooms/{key}/websocket.
func (s *Server) handleRoomPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "websocket" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}

	key := parts[0]
	if !types.IsValidRoomKey(key) {
		// Malformed or oversized keys never reach a room instance.
		s.sendError(w, types.ErrInvalidRoomKey.Error(), http.StatusNotFound)
		return
	}

	s.serveRoomSocket(w, r, key)
}

// serveRoomSocket upgrades the connection and hands it to the room. The
// failure boundary lives here: any internal fault after upgrade still
// produces a single error frame and a distinguishable abnormal close, and
// a fault before upgrade on an upgrade-intent request is answered the same
// way, so the caller always gets a response shaped like what it asked for.
func (s *Server) serveRoomSocket(w http.ResponseWriter, r *http.Request, key string) {
	if !gws.IsWebSocketUpgrade(r) {
		s.sendError(w, "expected a WebSocket upgrade request", http.StatusUpgradeRequired)
		return
	}

	var wsConn *websocket.Connection
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		log.Printf("Room socket fault for %s: %v", key, rec)
		if wsConn == nil {
			// The fault hit before the upgrade. The caller asked for a
			// socket, so it gets one: upgrade, one diagnostic frame, then
			// an abnormal close.
			raw, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			wsConn = websocket.NewConnection(raw)
		}
		_ = wsConn.WriteJSON(types.ErrorFrame{Error: fmt.Sprintf("internal error: %v", rec)})
		_ = wsConn.CloseWithStatus(gws.CloseInternalServerErr, "internal error")
	}()

	roomInstance, err := s.rooms.GetOrCreate(key)
	if err != nil {
		s.sendError(w, "room unavailable", http.StatusServiceUnavailable)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own HTTP error.
		log.Printf("WebSocket upgrade failed for room %s: %v", key, err)
		return
	}
	wsConn = websocket.NewConnection(raw)

	quotaKey := clientKey(r)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Connection fault in room %s: %v", key, rec)
				_ = wsConn.WriteJSON(types.ErrorFrame{Error: fmt.Sprintf("internal error: %v", rec)})
				_ = wsConn.CloseWithStatus(gws.CloseInternalServerErr, "internal error")
			}
		}()
		roomInstance.HandleConnection(wsConn, quotaKey)
	}()
}

// clientKey derives the quota identity from the caller's network identity.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "healthy"
	if err := s.store.HealthCheck(r.Context()); err != nil {
		status = "unhealthy"
		storeStatus = fmt.Sprintf("error: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Store:       storeStatus,
		Connections: s.rooms.Stats(),
	})
}

// recovered converts any panic on a plain HTTP route into a JSON 500
// envelope instead of a hung or half-written response.
func (s *Server) recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Request fault on %s: %v", r.URL.Path, rec)
				s.sendError(w, fmt.Sprintf("internal error: %v", rec), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
