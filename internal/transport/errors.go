package transport

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConfigured is returned when Connect is called before Configure.
	ErrNotConfigured = errors.New("transport: not configured")

	// ErrAlreadyRunning is returned when Connect is called while a previous
	// Connect is still blocked.
	ErrAlreadyRunning = errors.New("transport: connect loop already running")

	// ErrNotConnected is returned by Subscribe and Unsubscribe without a live connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrStopped is returned by Reconnect after Disconnect has been requested.
	ErrStopped = errors.New("transport: disconnect requested")

	// ErrUnsupportedVersion is returned for a protocol version the engine cannot speak.
	ErrUnsupportedVersion = errors.New("transport: unsupported protocol version")

	// ErrUnsupportedKind is returned for a transport kind the engine cannot use.
	ErrUnsupportedKind = errors.New("transport: unsupported transport kind")

	// ErrSubscribeFailed is returned when a subscribe request fails.
	ErrSubscribeFailed = errors.New("transport: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe request fails.
	ErrUnsubscribeFailed = errors.New("transport: unsubscribe failed")

	// ErrTimeout is returned when a broker acknowledgement does not arrive in time.
	ErrTimeout = errors.New("transport: operation timed out")
)
