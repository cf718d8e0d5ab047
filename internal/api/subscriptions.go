package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-session/internal/session"
	"github.com/nerrad567/gray-logic-session/internal/subscription"
)

// SubscriptionResponse is one registry entry.
type SubscriptionResponse struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// SubscribeRequest is the body of POST /subscriptions.
type SubscribeRequest struct {
	Topic string `json:"topic"`
	QoS   int    `json:"qos"`
}

// handleSessionStatus returns the session status.
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleListSubscriptions returns the registry in topic order.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.session.Registry().Snapshot()

	out := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubscriptionResponse{Topic: sub.Topic, QoS: sub.QoS})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": out,
		"count":         len(out),
	})
}

// handleSubscribe adds or replaces a subscription. Payloads for the topic
// are relayed to WebSocket clients on the "message" channel, subject to
// their topic filters.
//
// The registry entry stands even when the live broker subscribe fails; that
// case answers 202 and the entry is sent again on the next connect.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	if req.QoS < 0 || req.QoS > subscription.MaxQoS {
		writeValidationError(w, r, "qos must be 0, 1, or 2")
		return
	}

	topic := req.Topic
	handler := func(payload string) error {
		s.hub.Publish(ChannelMessage, topic, map[string]any{
			"topic":   topic,
			"payload": payload,
		})
		return nil
	}

	err := s.session.Subscribe(topic, byte(req.QoS), handler)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, SubscriptionResponse{Topic: topic, QoS: byte(req.QoS)})
	case errors.Is(err, session.ErrLiveSubscribe):
		s.logger.Warn("subscription registered but broker subscribe failed", "topic", topic, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"topic":   topic,
			"qos":     req.QoS,
			"warning": err.Error(),
		})
	case errors.Is(err, subscription.ErrInvalidTopic), errors.Is(err, subscription.ErrInvalidQoS):
		writeValidationError(w, r, err.Error())
	default:
		s.logger.Error("subscribe failed", "topic", topic, "error", err)
		writeInternalError(w, r, "subscribe failed")
	}
}

// handleUnsubscribe removes the subscription named by the topic query
// parameter. Topics contain slashes, so they are not path segments.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeBadRequest(w, r, "topic query parameter is required")
		return
	}

	existed, err := s.session.Unsubscribe(topic)
	if !existed {
		writeNotFound(w, r, "subscription not found")
		return
	}
	if err != nil {
		s.logger.Warn("subscription removed but broker unsubscribe failed", "topic", topic, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"topic":   topic,
			"warning": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
