// Package dispatch routes inbound MQTT messages to application handlers.
//
// For every message the Router:
//  1. decodes the payload as UTF-8, dropping it with ErrInvalidPayload if
//     that fails
//  2. calls the global handler, if one is set
//  3. calls the handler of the subscription registered for the topic
//
// Topic lookup is an exact string comparison against the registered filter.
// A filter such as "home/+/temp" therefore only receives messages through
// the global handler unless wildcard matching is enabled with
// WithWildcardMatching, in which case the most specific matching filter is
// used when no exact entry exists.
//
// Handler failures (returned errors and panics) are wrapped in HandlerError,
// logged and passed to the function set with SetOnError.
package dispatch
