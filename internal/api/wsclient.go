package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-session/internal/subscription"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const wsSendBuffer = 256

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSFilterPayload selects what a client receives. Channels name event
// channels. Topics are MQTT topic filters, wildcards allowed, that narrow
// the message channels; with no topics every message is delivered.
type WSFilterPayload struct {
	Channels []string `json:"channels,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClient is one event stream connection. The hub owns its lifetime:
// close is called exactly once through Hub.unregister or Hub.Run.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	closed   bool
	channels map[string]struct{}
	topics   map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		channels: make(map[string]struct{}),
		topics:   make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestIDFrom(r.Context()))
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.register(c)

	go c.writeLoop(s.hub.cfg)
	go c.readLoop(s.hub.cfg)
}

// enqueue queues data without blocking. Dropped when the buffer is full or
// the client is closed.
func (c *wsClient) enqueue(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}

// wants reports whether an event on channel about topic should be sent.
func (c *wsClient) wants(channel, topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if topic == "" || len(c.topics) == 0 {
		return true
	}
	for filter := range c.topics {
		if subscription.Match(filter, topic) {
			return true
		}
	}
	return false
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer c.hub.unregister(c)

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	}

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // deadline errors surface on the next read
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // deadline errors surface on the next read
		extend("")
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	defer c.conn.Close()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		//nolint:errcheck // write errors are checked below
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame.
func (c *wsClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.applyFilter(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// applyFilter adds or removes channels and topic filters. The whole request
// is rejected if any channel is unknown or any topic filter is invalid.
func (c *wsClient) applyFilter(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid payload"))
		return
	}
	var f WSFilterPayload
	if err := json.Unmarshal(raw, &f); err != nil || len(f.Channels)+len(f.Topics) == 0 {
		c.reply(msg.ID, WSTypeError, errorPayload("payload must list channels or topics"))
		return
	}

	for _, ch := range f.Channels {
		if _, ok := knownChannels[ch]; !ok {
			c.reply(msg.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
	}
	for _, topic := range f.Topics {
		if err := subscription.ValidateTopic(topic); err != nil {
			c.reply(msg.ID, WSTypeError, errorPayload(fmt.Sprintf("topic %q: %v", topic, err)))
			return
		}
	}

	add := msg.Type == WSTypeSubscribe

	c.mu.Lock()
	for _, ch := range f.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	for _, topic := range f.Topics {
		if add {
			c.topics[topic] = struct{}{}
		} else {
			delete(c.topics, topic)
		}
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{
		msg.Type + "d": f,
	})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
