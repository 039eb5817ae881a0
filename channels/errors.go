package channels

import "fmt"

// ErrChannelNotFound is returned when an operation targets a channel that
// is not active.
type ErrChannelNotFound struct {
	Channel string
}

func (e *ErrChannelNotFound) Error() string {
	return fmt.Sprintf("channels: channel not found: %s", e.Channel)
}

// ErrNoPlatformFactory is returned during reload when a channel's platform
// has no registered Factory.
type ErrNoPlatformFactory struct {
	Channel  string
	Platform string
}

func (e *ErrNoPlatformFactory) Error() string {
	return fmt.Sprintf("channels: no factory for platform %q (channel %s)", e.Platform, e.Channel)
}

// ErrDeliveryFailed is returned when a report could not be delivered
// through one channel.
type ErrDeliveryFailed struct {
	Channel  string
	Platform string
	Cause    error
}

func (e *ErrDeliveryFailed) Error() string {
	return fmt.Sprintf("channels: delivery failed on %s (%s): %v", e.Channel, e.Platform, e.Cause)
}

func (e *ErrDeliveryFailed) Unwrap() error { return e.Cause }
