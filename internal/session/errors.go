package session

import "errors"

// Domain errors for the session package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("session: invalid configuration")

	// ErrAlreadyRunning is returned by Connect while a previous Connect call
	// is still blocked in the transport loop.
	ErrAlreadyRunning = errors.New("session: connect already running")

	// ErrNotConnected is returned by HealthCheck when the session is not
	// connected to the broker.
	ErrNotConnected = errors.New("session: not connected")

	// ErrLiveSubscribe is returned when the registry was updated but the
	// subscribe or unsubscribe on the live connection failed. The registry
	// change stands and is replayed on the next connect.
	ErrLiveSubscribe = errors.New("session: live subscription change failed")

	// ErrReplayFailed is reported to the error sink when a registry entry
	// could not be re-subscribed after a connect.
	ErrReplayFailed = errors.New("session: subscription replay failed")

	// ErrCallbackPanic is reported to the error sink when a lifecycle
	// callback panicked.
	ErrCallbackPanic = errors.New("session: callback panicked")

	// ErrTransport wraps errors returned by the transport's Connect.
	ErrTransport = errors.New("session: transport error")
)
