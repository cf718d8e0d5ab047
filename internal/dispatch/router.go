package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-session/internal/subscription"
)

// MessageHandler receives every inbound message before any topic handler.
type MessageHandler func(topic, payload string) error

// ErrorHandler receives handler failures and dropped payloads.
type ErrorHandler func(err error)

// Registry is the part of the subscription registry the router reads.
// It is satisfied by *subscription.Registry.
type Registry interface {
	Lookup(topic string) (subscription.Subscription, bool)
	Match(topic string) (subscription.Subscription, bool)
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a point-in-time view of the router counters.
type Stats struct {
	Received       uint64 `json:"received"`
	Dispatched     uint64 `json:"dispatched"`
	Unmatched      uint64 `json:"unmatched"`
	InvalidPayload uint64 `json:"invalid_payload"`
	HandlerErrors  uint64 `json:"handler_errors"`
}

// Router delivers inbound messages to the global handler and then to the
// handler of the matching subscription.
//
// Each handler invocation is isolated: an error or panic in one is reported
// to the error sink and does not prevent the other from running.
//
// Thread Safety: all methods are safe for concurrent use. Route is normally
// called only from the transport's event goroutine.
type Router struct {
	registry Registry
	wildcard bool

	onMessage  MessageHandler
	onError    ErrorHandler
	callbackMu sync.RWMutex

	logger Logger

	received       atomic.Uint64
	dispatched     atomic.Uint64
	unmatched      atomic.Uint64
	invalidPayload atomic.Uint64
	handlerErrors  atomic.Uint64
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWildcardMatching enables MQTT "+"/"#" matching as a fallback when no
// subscription filter equals the topic exactly.
func WithWildcardMatching(enabled bool) Option {
	return func(r *Router) {
		r.wildcard = enabled
	}
}

// NewRouter creates a router reading from registry.
func NewRouter(registry Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnMessage sets the global message handler. The last call wins; nil
// clears it.
func (r *Router) SetOnMessage(h MessageHandler) {
	r.callbackMu.Lock()
	r.onMessage = h
	r.callbackMu.Unlock()
}

// SetOnError sets the sink for handler failures. The last call wins.
func (r *Router) SetOnError(h ErrorHandler) {
	r.callbackMu.Lock()
	r.onError = h
	r.callbackMu.Unlock()
}

// WildcardMatching reports whether wildcard fallback is enabled.
func (r *Router) WildcardMatching() bool {
	return r.wildcard
}

// Route delivers one message.
//
// The payload is decoded as UTF-8 first; invalid payloads are reported to
// the error sink and dropped. Otherwise the global handler runs, then the
// topic handler of the subscription whose filter equals topic (or, with
// wildcard matching, the most specific matching filter).
func (r *Router) Route(topic string, payload []byte) {
	r.received.Add(1)

	if !utf8.Valid(payload) {
		r.invalidPayload.Add(1)
		r.logger.Warn("dropping message with invalid UTF-8 payload", "topic", topic, "bytes", len(payload))
		r.report(fmt.Errorf("%w: topic %q", ErrInvalidPayload, topic))
		return
	}
	text := string(payload)

	r.callbackMu.RLock()
	global := r.onMessage
	r.callbackMu.RUnlock()

	if global != nil {
		r.invoke(KindGlobal, topic, "", func() error { return global(topic, text) })
	}

	sub, ok := r.resolve(topic)
	if !ok {
		r.unmatched.Add(1)
		r.logger.Debug("no subscription handler for topic", "topic", topic)
		return
	}
	if sub.Handler == nil {
		return
	}

	r.dispatched.Add(1)
	r.invoke(KindTopic, topic, sub.Topic, func() error { return sub.Handler(text) })
}

// resolve finds the subscription for a concrete topic.
func (r *Router) resolve(topic string) (subscription.Subscription, bool) {
	if r.registry == nil {
		return subscription.Subscription{}, false
	}
	if sub, ok := r.registry.Lookup(topic); ok {
		return sub, true
	}
	if r.wildcard {
		return r.registry.Match(topic)
	}
	return subscription.Subscription{}, false
}

// invoke runs fn with panic recovery and reports any failure.
func (r *Router) invoke(kind HandlerKind, topic, filter string, fn func() error) {
	var err error

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
			}
		}()
		err = fn()
	}()

	if err == nil {
		return
	}

	r.handlerErrors.Add(1)
	herr := &HandlerError{Kind: kind, Topic: topic, Filter: filter, Err: err}
	r.logger.Error("message handler failed", "kind", string(kind), "topic", topic, "error", err)
	r.report(herr)
}

// report passes err to the error sink, isolating the sink itself.
func (r *Router) report(err error) {
	r.callbackMu.RLock()
	sink := r.onError
	r.callbackMu.RUnlock()

	if sink == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("error handler panic recovered", "panic", p)
		}
	}()
	sink(err)
}

// Stats returns the current counters.
func (r *Router) Stats() Stats {
	return Stats{
		Received:       r.received.Load(),
		Dispatched:     r.dispatched.Load(),
		Unmatched:      r.unmatched.Load(),
		InvalidPayload: r.invalidPayload.Load(),
		HandlerErrors:  r.handlerErrors.Load(),
	}
}
