package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turbodriver/dispatch-core/internal/auth"
	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

func newTestServer(t *testing.T, registry *Registry, dispatcher func(string, InboundMessage)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if err := registry.Connect(w, r, token, dispatcher); err != nil {
			return
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func dialTestWS(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRegistry_ConnectRejectsInvalidToken(t *testing.T) {
	store := auth.NewInMemoryStore()
	registry := NewRegistry(store, 0)
	go registry.Run()

	server := newTestServer(t, registry, func(string, InboundMessage) {})

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for invalid token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestRegistry_SendToDeliversToConnectedUser(t *testing.T) {
	store := auth.NewInMemoryStore()
	registry := NewRegistry(store, 0)
	go registry.Run()

	identity, err := store.Register(dispatch.RoleRider, time.Hour)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	server := newTestServer(t, registry, func(string, InboundMessage) {})
	conn := dialTestWS(t, server, identity.Token)

	var established OutboundMessage
	if err := conn.ReadJSON(&established); err != nil {
		t.Fatalf("expected connection_established message: %v", err)
	}
	if established.Type != "connection_established" {
		t.Fatalf("Type = %s, want connection_established", established.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !registry.IsConnected(identity.ID) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !registry.IsConnected(identity.ID) {
		t.Fatal("expected registry to report user as connected")
	}

	if err := registry.SendTo(identity.ID, "ride_matched", map[string]string{"rideId": "ride_1"}); err != nil {
		t.Fatalf("SendTo error: %v", err)
	}

	var msg OutboundMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("expected to receive pushed message: %v", err)
	}
	if msg.Type != "ride_matched" {
		t.Errorf("Type = %s, want ride_matched", msg.Type)
	}
}

func TestRegistry_SendToUnknownUserIsNoop(t *testing.T) {
	store := auth.NewInMemoryStore()
	registry := NewRegistry(store, 0)
	go registry.Run()

	if err := registry.SendTo("nobody", "ping", nil); err != nil {
		t.Fatalf("expected no error for unknown user, got %v", err)
	}
}

func TestRegistry_NewConnectionDisplacesOld(t *testing.T) {
	store := auth.NewInMemoryStore()
	registry := NewRegistry(store, 0)
	go registry.Run()

	identity, _ := store.Register(dispatch.RoleDriver, time.Hour)
	server := newTestServer(t, registry, func(string, InboundMessage) {})

	first := dialTestWS(t, server, identity.Token)
	var msg OutboundMessage
	_ = first.ReadJSON(&msg)

	second := dialTestWS(t, server, identity.Token)
	_ = second.ReadJSON(&msg)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Error("expected the displaced connection to be closed")
	}
}

func TestRegistry_DispatchesInboundMessages(t *testing.T) {
	store := auth.NewInMemoryStore()
	registry := NewRegistry(store, 0)
	go registry.Run()

	identity, _ := store.Register(dispatch.RoleDriver, time.Hour)

	var mu sync.Mutex
	var received []InboundMessage
	dispatcher := func(userID string, msg InboundMessage) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	}

	server := newTestServer(t, registry, dispatcher)
	conn := dialTestWS(t, server, identity.Token)

	var established OutboundMessage
	_ = conn.ReadJSON(&established)

	_ = conn.WriteJSON(InboundMessage{Type: TypeRideAccept, Payload: []byte(`{"rideId":"ride_1"}`)})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Type != TypeRideAccept {
		t.Fatalf("expected 1 dispatched ride_accept message, got %+v", received)
	}
}
