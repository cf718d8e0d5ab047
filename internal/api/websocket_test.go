package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-session/internal/transport"
)

// dialWS opens a WebSocket to the test server and subscribes to channels.
func dialWS(t *testing.T, baseURL string, channels ...string) *websocket.Conn {
	t.Helper()
	return dialWSFilter(t, baseURL, WSFilterPayload{Channels: channels})
}

func dialWSFilter(t *testing.T, baseURL string, filter WSFilterPayload) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status = %d, want 101", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })

	err = conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: filter,
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	ack := readWS(t, conn)
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v", ack)
	}
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

// waitForClients waits until the hub has registered n clients.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// =============================================================================
// Event stream
// =============================================================================

func TestWebSocket_SessionEvents(t *testing.T) {
	srv, ts := testServer(t, newFakeSession())
	conn := dialWS(t, ts.URL, ChannelConnect, ChannelDisconnect)
	waitForClients(t, srv.Hub(), 1)

	srv.Hub().ConnectResult("dev1", transport.ResultSuccess)
	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelConnect {
		t.Fatalf("event = %+v, want %s", msg, ChannelConnect)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["client_id"] != "dev1" || payload["code"] != float64(0) {
		t.Errorf("payload = %v", payload)
	}

	// Not subscribed to session.message: skipped.
	srv.Hub().MessageReceived("dev1", "a/b", 3)
	srv.Hub().DisconnectResult("dev1", transport.ResultNetworkError, true)

	msg = readWS(t, conn)
	if msg.EventType != ChannelDisconnect {
		t.Fatalf("event = %+v, want %s", msg, ChannelDisconnect)
	}
	payload, _ = msg.Payload.(map[string]any)
	if payload["reconnecting"] != true || payload["code"] != float64(254) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_RelaysSubscriptionPayloads(t *testing.T) {
	sess := newFakeSession()
	srv, ts := testServer(t, sess)
	conn := dialWS(t, ts.URL, ChannelMessage)
	waitForClients(t, srv.Hub(), 1)

	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/api/v1/subscriptions", `{"topic":"home/kitchen/temp","qos":0}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}

	sub, ok := sess.registry.Lookup("home/kitchen/temp")
	if !ok {
		t.Fatal("subscription not registered")
	}
	if err := sub.Handler("21.5"); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	msg := readWS(t, conn)
	if msg.EventType != ChannelMessage {
		t.Fatalf("event = %+v, want %s", msg, ChannelMessage)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["topic"] != "home/kitchen/temp" || payload["payload"] != "21.5" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	_, ts := testServer(t, newFakeSession())
	conn := dialWS(t, ts.URL, ChannelConnect)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v, want pong p1", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError || msg.ID != "b1" {
		t.Errorf("bogus reply = %+v, want error b1", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v, want error", msg)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, logging.Discard())
	client := newWSClient(hub, nil)
	hub.register(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel still open")
	}

	// Late unregister must not double close.
	hub.unregister(client)
	client.enqueue([]byte("late"))
}

func TestHub_RegisterAfterRun(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	client := newWSClient(hub, nil)
	hub.register(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel still open after late register")
	}

	// Events after shutdown reach nobody and do not panic.
	hub.MessageReceived("dev1", "home/kitchen/temp", 4)
	hub.unregister(client)
}

// =============================================================================
// Filters
// =============================================================================

func TestWebSocket_TopicFilters(t *testing.T) {
	srv, ts := testServer(t, newFakeSession())
	conn := dialWSFilter(t, ts.URL, WSFilterPayload{
		Channels: []string{ChannelReceived},
		Topics:   []string{"home/+/temp"},
	})
	waitForClients(t, srv.Hub(), 1)

	srv.Hub().MessageReceived("dev1", "home/kitchen/humidity", 2)
	srv.Hub().MessageReceived("dev1", "home/kitchen/temp", 4)

	msg := readWS(t, conn)
	payload, _ := msg.Payload.(map[string]any)
	if msg.EventType != ChannelReceived || payload["topic"] != "home/kitchen/temp" {
		t.Errorf("event = %+v, want session.message for home/kitchen/temp", msg)
	}
}

func TestWebSocket_FilterErrors(t *testing.T) {
	_, ts := testServer(t, newFakeSession())
	conn := dialWS(t, ts.URL, ChannelConnect)

	tests := []struct {
		name   string
		filter WSFilterPayload
	}{
		{"unknown channel", WSFilterPayload{Channels: []string{"session.bogus"}}},
		{"invalid topic", WSFilterPayload{Topics: []string{"a/#/b"}}},
		{"empty", WSFilterPayload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: tt.name, Payload: tt.filter}); err != nil {
				t.Fatalf("WriteJSON() error = %v", err)
			}
			if msg := readWS(t, conn); msg.Type != WSTypeError || msg.ID != tt.name {
				t.Errorf("reply = %+v, want error %s", msg, tt.name)
			}
		})
	}
}

func TestWSClient_Wants(t *testing.T) {
	c := newWSClient(NewHub(testAPIConfig().WebSocket, logging.Discard()), nil)
	c.channels[ChannelReceived] = struct{}{}

	if !c.wants(ChannelReceived, "a/b") {
		t.Error("wants() = false with no topic filters")
	}
	if c.wants(ChannelConnect, "") {
		t.Error("wants() = true for unsubscribed channel")
	}

	c.topics["a/#"] = struct{}{}
	tests := []struct {
		topic string
		want  bool
	}{
		{"a/b", true},
		{"a", true},
		{"b/a", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := c.wants(ChannelReceived, tt.topic); got != tt.want {
			t.Errorf("wants(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}
