package subscription

import "errors"

// Domain errors for the subscription package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, subscription.ErrInvalidTopic) {
//	    // reject the request
//	}
var (
	// ErrInvalidTopic is returned when a topic filter is empty, too long,
	// contains a NUL byte or places a wildcard incorrectly.
	ErrInvalidTopic = errors.New("subscription: invalid topic filter")

	// ErrInvalidQoS is returned when a QoS level is not 0, 1 or 2.
	ErrInvalidQoS = errors.New("subscription: invalid qos")

	// ErrStoreNotConfigured is returned by Load when no Store is set.
	ErrStoreNotConfigured = errors.New("subscription: store not configured")
)
