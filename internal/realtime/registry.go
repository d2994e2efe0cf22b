// Package realtime is the realtime session layer: a per-user WebSocket
// registry plus the inbound message dispatch that drives the ride lifecycle
// from driver/rider actions. Connections are keyed by identity rather than
// by ride, so a displaced reconnect always wins over the stale socket.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// Verifier authenticates the token presented on connect and derives the
// identity the registry keys the channel by. Implemented by
// auth.InMemoryStore.
type Verifier interface {
	Lookup(token string) (dispatch.Identity, bool)
}

// Registry tracks at most one live WebSocket connection per user and lets
// the rest of the system address messages by user ID instead of by raw
// connection. Connecting while a channel is already open for that user
// displaces the old one: the previous socket is closed with a
// policy-violation code before the new one is registered.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*websocket.Conn
	register    chan subscription
	unregister  chan subscription
	Verifier    Verifier
	IdleTimeout time.Duration
}

type subscription struct {
	userID string
	conn   *websocket.Conn
}

// NewRegistry builds an empty Registry. Run must be started in its own
// goroutine before Connect is used.
func NewRegistry(verifier Verifier, idleTimeout time.Duration) *Registry {
	return &Registry{
		conns:       make(map[string]*websocket.Conn),
		register:    make(chan subscription),
		unregister:  make(chan subscription),
		Verifier:    verifier,
		IdleTimeout: idleTimeout,
	}
}

// Run processes register/unregister events for the life of the process.
func (r *Registry) Run() {
	for {
		select {
		case sub := <-r.register:
			r.mu.Lock()
			if prev, ok := r.conns[sub.userID]; ok && prev != sub.conn {
				_ = prev.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "displaced by new connection"),
					time.Now().Add(time.Second))
				prev.Close()
			}
			r.conns[sub.userID] = sub.conn
			r.mu.Unlock()
		case sub := <-r.unregister:
			r.mu.Lock()
			if current, ok := r.conns[sub.userID]; ok && current == sub.conn {
				delete(r.conns, sub.userID)
			}
			r.mu.Unlock()
			sub.conn.Close()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Connect validates the bearer token, upgrades the request to a WebSocket,
// registers it under the resolved identity (displacing any existing channel
// for that user), and starts the inbound read loop that feeds dispatcher.
// An invalid or missing token is rejected before the upgrade, since a
// pre-upgrade HTTP response is the closest equivalent to a policy-violation
// close code.
func (r *Registry) Connect(w http.ResponseWriter, req *http.Request, token string, dispatcher func(userID string, msg InboundMessage)) error {
	identity, ok := r.Verifier.Lookup(token)
	if !ok {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return dispatch.NewError(dispatch.KindValidation, "invalid realtime auth token", nil)
	}
	userID := identity.ID

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}
	r.register <- subscription{userID: userID, conn: conn}
	_ = conn.WriteJSON(newOutbound("connection_established", map[string]string{"userId": userID}))

	if r.IdleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.IdleTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(r.IdleTimeout))
			return nil
		})
	}

	go func() {
		defer func() { r.unregister <- subscription{userID: userID, conn: conn} }()
		for {
			var msg InboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if r.IdleTimeout > 0 {
				conn.SetReadDeadline(time.Now().Add(r.IdleTimeout))
			}
			if msg.Type == TypePing {
				_ = conn.WriteJSON(newOutbound(TypePong, json.RawMessage(msg.Payload)))
				continue
			}
			dispatcher(userID, msg)
		}
	}()
	return nil
}

// SendTo delivers an event to the connection registered for userID, if any.
// It implements dispatch.Notifier; a missing connection is not an error, it
// is simply a no-op delivery.
func (r *Registry) SendTo(userID string, event string, payload any) error {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	out := newOutbound(event, payload)
	if err := conn.WriteJSON(out); err != nil {
		log.Printf(`{"component":"realtime","event":"send_failed","user_id":%q,"error":%q}`, userID, err.Error())
		r.unregister <- subscription{userID: userID, conn: conn}
		return err
	}
	return nil
}

// Broadcast delivers an event to every user in userIDs, returning how many
// deliveries actually reached a live connection.
func (r *Registry) Broadcast(userIDs []string, event string, payload any) int {
	delivered := 0
	for _, userID := range userIDs {
		if !r.IsConnected(userID) {
			continue
		}
		if err := r.SendTo(userID, event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// IsConnected reports whether userID has a live connection. Other
// components use this as a non-blocking "is_connected" probe after a
// removal.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ConnectionCount returns the number of connected users, for the /metrics
// endpoint.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
