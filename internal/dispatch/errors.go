package dispatch

import (
	"errors"
	"fmt"
)

// Domain errors for message dispatch.
var (
	// ErrInvalidPayload is reported when a payload is not valid UTF-8.
	// The message is dropped without invoking any handler.
	ErrInvalidPayload = errors.New("dispatch: payload is not valid UTF-8")

	// ErrHandlerPanic is wrapped by HandlerError when a handler panicked.
	ErrHandlerPanic = errors.New("dispatch: handler panicked")
)

// HandlerKind identifies which handler failed.
type HandlerKind string

// Handler kinds.
const (
	KindGlobal HandlerKind = "global"
	KindTopic  HandlerKind = "topic"
)

// HandlerError describes one failed handler invocation. It is passed to the
// error sink and never propagated to the transport.
type HandlerError struct {
	Kind  HandlerKind
	Topic string

	// Filter is the subscription filter whose handler ran. Empty for the
	// global handler.
	Filter string

	Err error
}

func (e *HandlerError) Error() string {
	if e.Filter != "" && e.Filter != e.Topic {
		return fmt.Sprintf("%s handler for %q (filter %q): %v", e.Kind, e.Topic, e.Filter, e.Err)
	}
	return fmt.Sprintf("%s handler for %q: %v", e.Kind, e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
