package session

import (
	"fmt"
	"time"
)

// OnConnectResult implements transport.EventHandler.
//
// The state becomes Connected only for a successful result. After a success
// every registry entry is re-subscribed before the connect callback runs.
func (s *Session) OnConnectResult(code ResultCode) {
	ok := code.OK()

	s.connMu.Lock()
	s.lastResult = code
	if ok {
		s.state = StateConnected
		s.connectedAt = time.Now()
	} else {
		s.state = StateDisconnected
	}
	s.connMu.Unlock()

	if ok {
		s.connects.Add(1)
		s.logger.Info("connected to MQTT broker", "client_id", s.cfg.ClientID, "broker", s.cfg.BrokerAddress())
		s.replaySubscriptions()
	} else {
		s.failedAttempts.Add(1)
		s.logger.Warn("MQTT connection refused or failed",
			"client_id", s.cfg.ClientID,
			"code", uint8(code),
			"reason", code.String(),
		)
	}

	for _, o := range s.observers {
		o.ConnectResult(s.cfg.ClientID, code)
	}

	s.callbackMu.RLock()
	fn := s.onConnect
	s.callbackMu.RUnlock()
	if fn != nil {
		s.safeCall("on_connect", func() { fn(code) })
	}
}

// OnDisconnectResult implements transport.EventHandler.
//
// The disconnect callback runs before the reconnect decision, so a callback
// that calls Disconnect prevents the reconnect.
func (s *Session) OnDisconnectResult(code ResultCode) {
	s.connMu.Lock()
	s.state = StateDisconnected
	s.lastResult = code
	s.connMu.Unlock()

	s.disconnects.Add(1)
	s.logger.Info("disconnected from MQTT broker", "client_id", s.cfg.ClientID, "reason", code.String())

	s.callbackMu.RLock()
	fn := s.onDisconnect
	s.callbackMu.RUnlock()
	if fn != nil {
		s.safeCall("on_disconnect", func() { fn(code) })
	}

	s.connMu.Lock()
	reconnect := s.autoReconnect && s.running && !s.stopSent
	if reconnect {
		s.state = StateConnecting
	}
	s.connMu.Unlock()

	for _, o := range s.observers {
		o.DisconnectResult(s.cfg.ClientID, code, reconnect)
	}

	if !reconnect {
		if err := s.stopTransport(); err != nil {
			s.logger.Warn("stopping transport failed", "error", err)
		}
		return
	}

	s.reconnects.Add(1)
	s.logger.Debug("reconnecting to MQTT broker", "client_id", s.cfg.ClientID)
	if err := s.transport.Reconnect(); err != nil {
		// No event will follow a failed Reconnect; end the loop instead of
		// waiting forever.
		s.logger.Error("reconnect failed", "client_id", s.cfg.ClientID, "error", err)
		s.connMu.Lock()
		s.state = StateDisconnected
		s.connMu.Unlock()
		if stopErr := s.stopTransport(); stopErr != nil {
			s.logger.Warn("stopping transport failed", "error", stopErr)
		}
	}
}

// OnMessage implements transport.EventHandler.
func (s *Session) OnMessage(topic string, payload []byte) {
	for _, o := range s.observers {
		o.MessageReceived(s.cfg.ClientID, topic, len(payload))
	}
	s.router.Route(topic, payload)
}

// replaySubscriptions sends every registry entry to the broker, in topic
// order. A failed entry is reported and does not stop the others.
func (s *Session) replaySubscriptions() {
	subs := s.registry.Snapshot()
	if len(subs) == 0 {
		return
	}

	failed := 0
	for _, sub := range subs {
		if err := s.transport.Subscribe(sub.Topic, sub.QoS); err != nil {
			failed++
			s.logger.Warn("subscription replay failed", "topic", sub.Topic, "error", err)
			s.reportError(fmt.Errorf("%w: %q: %w", ErrReplayFailed, sub.Topic, err))
		}
	}

	s.logger.Info("subscriptions replayed", "count", len(subs), "failed", failed)
}

// safeCall runs a lifecycle callback with panic recovery.
func (s *Session) safeCall(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("callback panic recovered", "callback", name, "panic", p)
			s.reportError(fmt.Errorf("%w: %s: %v", ErrCallbackPanic, name, p))
		}
	}()
	fn()
}
