package mqtt

import "errors"

// Domain-specific errors for broker link operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a
	// disconnected client. Callers treat it as a transition signal and
	// buffer or retry; it is never fatal.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrTimeout is returned when a publish, subscribe or unsubscribe
	// operation does not complete within its deadline.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrProtocolViolation is returned for messages the broker link refuses
	// to carry, such as payloads above the size cap.
	ErrProtocolViolation = errors.New("mqtt: protocol violation")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
