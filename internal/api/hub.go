package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-session/internal/session"
)

// Event channels a WebSocket client can subscribe to.
const (
	// ChannelConnect carries every connect result.
	ChannelConnect = "session.connect"

	// ChannelDisconnect carries every disconnect, with the reconnect decision.
	ChannelDisconnect = "session.disconnect"

	// ChannelReceived carries the topic and size of every inbound message.
	ChannelReceived = "session.message"

	// ChannelMessage carries payloads of subscriptions created through the API.
	ChannelMessage = "message"
)

var knownChannels = map[string]struct{}{
	ChannelConnect:    {},
	ChannelDisconnect: {},
	ChannelReceived:   {},
	ChannelMessage:    {},
}

// Hub fans session events out to WebSocket clients. It implements
// session.Observer. Publishing never blocks: a client whose buffer is full
// misses the event.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

var _ session.Observer = (*Hub)(nil)

// NewHub creates a hub. Run it with Run.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client. Clients
// registering afterwards are closed immediately.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister removes c and closes it. Only the caller that removes c from
// the map closes it, so Run and a read error cannot both close.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Publish sends an event on channel to every subscribed client. A non-empty
// topic is checked against each client's topic filters.
func (h *Hub) Publish(channel, topic string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, topic) {
			c.enqueue(data)
		}
	}
}

// ConnectResult implements session.Observer.
func (h *Hub) ConnectResult(clientID string, code session.ResultCode) {
	h.Publish(ChannelConnect, "", map[string]any{
		"client_id": clientID,
		"code":      uint8(code),
		"reason":    code.String(),
	})
}

// DisconnectResult implements session.Observer.
func (h *Hub) DisconnectResult(clientID string, code session.ResultCode, reconnecting bool) {
	h.Publish(ChannelDisconnect, "", map[string]any{
		"client_id":    clientID,
		"code":         uint8(code),
		"reason":       code.String(),
		"reconnecting": reconnecting,
	})
}

// MessageReceived implements session.Observer.
func (h *Hub) MessageReceived(clientID, topic string, size int) {
	h.Publish(ChannelReceived, topic, map[string]any{
		"client_id": clientID,
		"topic":     topic,
		"bytes":     size,
	})
}
