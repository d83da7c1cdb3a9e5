package mqtt

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these in calling code.
var (
	// ErrNotConnected is returned when attempting operations that require a
	// live broker connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidBrokerURL is returned by NewClient for an unparseable broker URL.
	ErrInvalidBrokerURL = errors.New("mqtt: invalid broker url")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when a QoS level above 2 is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when a broker round-trip times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
