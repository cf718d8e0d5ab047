// Package api implements the operations HTTP surface of the session manager.
//
// This package provides:
//   - GET    /api/v1/health         broker and component health
//   - GET    /api/v1/session        session status and counters
//   - GET    /api/v1/subscriptions  registered subscriptions
//   - POST   /api/v1/subscriptions  add or replace a subscription
//   - DELETE /api/v1/subscriptions  remove a subscription (?topic=)
//   - GET    /api/v1/ws             WebSocket stream of session events
//
// # Event stream
//
// The Hub implements session.Observer. WebSocket clients subscribe to
// channels ("session.connect", "session.disconnect", "session.message",
// "message") and receive events as JSON. Subscriptions created through the
// API relay their payloads on the "message" channel.
//
// A subscribe frame may also carry MQTT topic filters:
//
//	{"type":"subscribe","payload":{"channels":["session.message"],"topics":["home/+/temp"]}}
//
// With topic filters set, message events are delivered only for matching
// topics. Unknown channels and invalid filters are answered with an error
// frame and change nothing.
//
// # Security
//
// There is no authentication. The server binds to 127.0.0.1 by default and
// is meant for local operators and health checks.
package api
